package model

import "time"

// Attribution defaults applied when a visitor arrives without campaign tags.
const (
	DefaultSource   = "direct"
	DefaultMedium   = "none"
	DefaultCampaign = "organic"
)

// Touch is the campaign metadata observed on a single visit.
type Touch struct {
	Source      string    `json:"source"`
	Medium      string    `json:"medium"`
	Campaign    string    `json:"campaign"`
	Term        string    `json:"term,omitempty"`
	Content     string    `json:"content,omitempty"`
	ClickID     string    `json:"click_id,omitempty"`
	ClickIDType string    `json:"click_id_type,omitempty"` // gclid, gbraid, wbraid, fbclid, msclkid
	Timestamp   time.Time `json:"timestamp,omitempty"`
}

// Tagged reports whether any campaign tag was observed on the touch.
func (t Touch) Tagged() bool {
	return t.Source != "" || t.Medium != "" || t.Campaign != ""
}

// WithDefaults fills blank source, medium and campaign with the organic
// defaults.
func (t Touch) WithDefaults() Touch {
	if t.Source == "" {
		t.Source = DefaultSource
	}
	if t.Medium == "" {
		t.Medium = DefaultMedium
	}
	if t.Campaign == "" {
		t.Campaign = DefaultCampaign
	}
	return t
}

// AttributionSnapshot is the per-session attribution record handed to forms.
type AttributionSnapshot struct {
	FirstTouch       Touch     `json:"first_touch"`
	LastTouch        Touch     `json:"last_touch"`
	LandingPage      string    `json:"landing_page"`
	Referrer         string    `json:"referrer"`
	CurrentPage      string    `json:"current_page,omitempty"`
	PlatformClientID string    `json:"platform_client_id,omitempty"`
	FirstVisit       time.Time `json:"first_visit,omitempty"`
}

// LeadSubmission is the body of an enquiry form submit. Field names follow the
// form's JSON contract.
type LeadSubmission struct {
	FirstName       string `json:"firstName"`
	LastName        string `json:"lastName"`
	Email           string `json:"email"`
	Phone           string `json:"phone"`
	CourseName      string `json:"courseName"`
	StudyTimeline   string `json:"studyTimeline"`
	ProgramType     string `json:"programType"`
	InvestmentRange string `json:"investmentRange"`
	CareerGoals     string `json:"careerGoals"`
	ExperienceLevel string `json:"experienceLevel"`

	// Last-touch attribution.
	UTMSource   string `json:"utm_source"`
	UTMMedium   string `json:"utm_medium"`
	UTMCampaign string `json:"utm_campaign"`
	UTMTerm     string `json:"utm_term"`
	UTMContent  string `json:"utm_content"`
	LandingPage string `json:"landing_page"`
	Referrer    string `json:"referrer"`
	CurrentPage string `json:"current_page"`

	// First-touch attribution.
	FirstTouchSource    string `json:"first_touch_source"`
	FirstTouchMedium    string `json:"first_touch_medium"`
	FirstTouchCampaign  string `json:"first_touch_campaign"`
	FirstTouchTerm      string `json:"first_touch_term"`
	FirstTouchContent   string `json:"first_touch_content"`
	FirstTouchTimestamp string `json:"first_touch_timestamp"`

	GAClientID string `json:"ga_client_id"`

	// LeadScore is computed by the browser. Advisory only.
	LeadScore      int    `json:"leadScore"`
	FormType       string `json:"formType"`
	SubmissionDate string `json:"submissionDate"`
}

// ApplySnapshot fills blank attribution fields of the submission from a
// server-side snapshot. Fields the form already carries win.
func (s *LeadSubmission) ApplySnapshot(snap AttributionSnapshot) {
	fill := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	fill(&s.UTMSource, snap.LastTouch.Source)
	fill(&s.UTMMedium, snap.LastTouch.Medium)
	fill(&s.UTMCampaign, snap.LastTouch.Campaign)
	fill(&s.UTMTerm, snap.LastTouch.Term)
	fill(&s.UTMContent, snap.LastTouch.Content)
	fill(&s.LandingPage, snap.LandingPage)
	fill(&s.Referrer, snap.Referrer)
	fill(&s.CurrentPage, snap.CurrentPage)
	fill(&s.FirstTouchSource, snap.FirstTouch.Source)
	fill(&s.FirstTouchMedium, snap.FirstTouch.Medium)
	fill(&s.FirstTouchCampaign, snap.FirstTouch.Campaign)
	fill(&s.FirstTouchTerm, snap.FirstTouch.Term)
	fill(&s.FirstTouchContent, snap.FirstTouch.Content)
	if !snap.FirstTouch.Timestamp.IsZero() {
		fill(&s.FirstTouchTimestamp, snap.FirstTouch.Timestamp.UTC().Format(time.RFC3339))
	}
	fill(&s.GAClientID, snap.PlatformClientID)
}

// Qualification is the label derived from a lead score.
type Qualification struct {
	Label    string `json:"label"`    // Hot Lead, Warm Lead, Cold Lead, Unqualified
	Priority string `json:"priority"` // High, Medium, Low, Very Low
}

// QualificationData carries human-readable labels for the declared factors.
type QualificationData struct {
	StudyTimeline   string `json:"studyTimeline"`
	ProgramType     string `json:"programType"`
	InvestmentRange string `json:"investmentRange"`
	CareerGoals     string `json:"careerGoals"`
	ExperienceLevel string `json:"experienceLevel"`
}

// Lead is the canonical record produced by the intake endpoint from a
// validated, sanitized submission.
type Lead struct {
	Email           string            `json:"email"`
	FirstName       string            `json:"first_name"`
	LastName        string            `json:"last_name"`
	Phone           string            `json:"phone"`
	Course          string            `json:"course"`
	StudyTimeline   string            `json:"study_timeline"`
	ProgramType     string            `json:"program_type"`
	InvestmentRange string            `json:"investment_range"`
	Score           int               `json:"score"`
	Qualification   Qualification     `json:"qualification"`
	Labels          QualificationData `json:"labels"`
	FirstTouch      Touch             `json:"first_touch"`
	LastTouch       Touch             `json:"last_touch"`
	LandingPage     string            `json:"landing_page"`
	Referrer        string            `json:"referrer"`
	CurrentPage     string            `json:"current_page"`
	GAClientID      string            `json:"ga_client_id"`
	SubmittedAt     time.Time         `json:"submitted_at"`
}
