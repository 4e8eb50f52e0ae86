package crm

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/leadsync/internal/model"
)

func TestContactFromLead_AttributionFallbacks(t *testing.T) {
	ts := time.Date(2025, 11, 3, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		lead      model.Lead
		wantFirst model.Touch
		wantLast  model.Touch
		wantPage  string
	}{
		{
			name:      "no attribution at all",
			lead:      model.Lead{LandingPage: "/courses"},
			wantFirst: model.Touch{Source: "direct", Medium: "none", Campaign: "organic"},
			wantLast:  model.Touch{Source: "direct", Medium: "none", Campaign: "organic"},
			wantPage:  "/courses",
		},
		{
			name: "first touch falls back to last touch",
			lead: model.Lead{
				LastTouch:   model.Touch{Source: "google", Medium: "cpc", Campaign: "jan-intake"},
				CurrentPage: "/apply",
				LandingPage: "/",
			},
			wantFirst: model.Touch{Source: "google", Medium: "cpc", Campaign: "jan-intake"},
			wantLast:  model.Touch{Source: "google", Medium: "cpc", Campaign: "jan-intake"},
			wantPage:  "/apply",
		},
		{
			name: "first touch kept",
			lead: model.Lead{
				FirstTouch: model.Touch{Source: "facebook", Medium: "social", Campaign: "awareness", Timestamp: ts},
				LastTouch:  model.Touch{Source: "google", Medium: "cpc"},
			},
			wantFirst: model.Touch{Source: "facebook", Medium: "social", Campaign: "awareness", Timestamp: ts},
			wantLast:  model.Touch{Source: "google", Medium: "cpc", Campaign: "organic"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := ContactFromLead(tt.lead)
			assert.Equal(t, tt.wantFirst, c.FirstTouch)
			assert.Equal(t, tt.wantLast, c.LastTouch)
			assert.Equal(t, tt.wantPage, c.Page)
		})
	}
}

func TestContactFromLead_Fields(t *testing.T) {
	c := ContactFromLead(model.Lead{
		Email:         "  Jane.Doe@Example.COM ",
		FirstName:     "Jane",
		LastName:      "Doe",
		Phone:         "0712345678",
		Course:        "Film Production",
		Score:         17,
		Qualification: model.Qualification{Label: "Hot Lead", Priority: "High"},
		Labels: model.QualificationData{
			StudyTimeline:   "January 2026",
			ProgramType:     "Full-time Diploma",
			InvestmentRange: "Not specified",
			CareerGoals:     "Career change",
			ExperienceLevel: "Beginner",
		},
		GAClientID: "123.456",
	})

	assert.Equal(t, "jane.doe@example.com", c.Email)
	assert.Equal(t, 17, c.Score)
	assert.Equal(t, "Hot Lead", c.Qualification.Label)
	assert.Equal(t, "123.456", c.GAClientID)
	assert.Equal(t,
		"Timeline: January 2026 | Program: Full-time Diploma | Investment: Not specified | Goals: Career change | Experience: Beginner",
		c.Summary)
}

func TestDealName(t *testing.T) {
	assert.Equal(t, "Jane Doe - Film Production", DealName("jane", "DOE", "Film Production"))
	assert.Equal(t, "Amani Otieno - Music", DealName(" AMANI ", "otieno", "Music "))
}

func TestWriteError(t *testing.T) {
	cause := errors.New("status 503")
	err := error(&WriteError{Op: "create contact", Err: cause})

	assert.ErrorIs(t, err, ErrDownstreamWrite)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "crm: create contact: status 503", err.Error())
}
