package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTouch_WithDefaults(t *testing.T) {
	t.Parallel()

	got := Touch{}.WithDefaults()
	assert.Equal(t, "direct", got.Source)
	assert.Equal(t, "none", got.Medium)
	assert.Equal(t, "organic", got.Campaign)

	tagged := Touch{Source: "google", Medium: "cpc"}.WithDefaults()
	assert.Equal(t, "google", tagged.Source)
	assert.Equal(t, "cpc", tagged.Medium)
	assert.Equal(t, "organic", tagged.Campaign)
}

func TestTouch_Tagged(t *testing.T) {
	t.Parallel()

	assert.False(t, Touch{}.Tagged())
	assert.False(t, Touch{Term: "x"}.Tagged())
	assert.True(t, Touch{Campaign: "spring"}.Tagged())
}

func TestLeadSubmission_ApplySnapshot(t *testing.T) {
	t.Parallel()

	ts := time.Date(2025, 10, 1, 8, 0, 0, 0, time.UTC)
	snap := AttributionSnapshot{
		FirstTouch:       Touch{Source: "facebook", Medium: "social", Campaign: "launch", Timestamp: ts},
		LastTouch:        Touch{Source: "google", Medium: "cpc", Campaign: "brand"},
		LandingPage:      "https://example.com/courses",
		Referrer:         "https://facebook.com/",
		PlatformClientID: "123.456",
	}

	sub := LeadSubmission{UTMSource: "newsletter"}
	sub.ApplySnapshot(snap)

	assert.Equal(t, "newsletter", sub.UTMSource, "form value wins")
	assert.Equal(t, "cpc", sub.UTMMedium)
	assert.Equal(t, "brand", sub.UTMCampaign)
	assert.Equal(t, "facebook", sub.FirstTouchSource)
	assert.Equal(t, "2025-10-01T08:00:00Z", sub.FirstTouchTimestamp)
	assert.Equal(t, "https://example.com/courses", sub.LandingPage)
	assert.Equal(t, "123.456", sub.GAClientID)
}

func TestNormalizeEmail(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "jane@example.com", NormalizeEmail("  Jane@Example.COM "))
}

func TestHashEmail(t *testing.T) {
	t.Parallel()
	const want = "973dfe463ec85785f5f95af5ba3906eedb2d931c24e69824a89ea65dba4e813b"
	assert.Equal(t, want, HashEmail("test@example.com"))
	assert.Equal(t, want, HashEmail("  TEST@Example.com "))
	assert.Empty(t, HashEmail("   "))
}

func TestDeal_ConvertedAt(t *testing.T) {
	t.Parallel()

	created := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	moved := time.Date(2025, 9, 5, 12, 30, 0, 0, time.UTC)

	assert.Equal(t, moved, Deal{CreatedAt: created, StageUpdatedAt: moved}.ConvertedAt())
	assert.Equal(t, created, Deal{CreatedAt: created}.ConvertedAt())
}

func TestDeal_PrimaryContactID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", Deal{}.PrimaryContactID())
	assert.Equal(t, "7", Deal{ContactIDs: []string{"7", "9"}}.PrimaryContactID())
}

func TestConversionEvent_FormattedTime(t *testing.T) {
	t.Parallel()

	nairobi := time.FixedZone("EAT", 3*3600)
	e := ConversionEvent{Time: time.Date(2025, 9, 5, 15, 30, 0, 0, nairobi)}
	assert.Equal(t, "2025-09-05 12:30:00+00:00", e.FormattedTime())
}
