package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Contact is a person record in the CRM. Email is the dedup key.
type Contact struct {
	ID            string        `json:"id"`
	Email         string        `json:"email"`
	FirstName     string        `json:"first_name"`
	LastName      string        `json:"last_name"`
	Phone         string        `json:"phone"`
	Course        string        `json:"course"`
	Score         int           `json:"score"`
	Qualification Qualification `json:"qualification"`
	FirstTouch    Touch         `json:"first_touch"`
	LastTouch     Touch         `json:"last_touch"`
	LandingPage   string        `json:"landing_page,omitempty"`
	Referrer      string        `json:"referrer,omitempty"`
	Page          string        `json:"page,omitempty"`
	GAClientID    string        `json:"ga_client_id,omitempty"`
	Summary       string        `json:"summary,omitempty"`
}

// NormalizeEmail lower-cases and trims an e-mail address so that it can be
// compared and used as a key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// HashEmail returns the hex SHA-256 of the normalized address, or "" for a
// blank one.
func HashEmail(email string) string {
	e := NormalizeEmail(email)
	if e == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(e))
	return hex.EncodeToString(sum[:])
}

// Deal is an opportunity in a CRM pipeline. Stage is moved by the sales team
// outside this system.
type Deal struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Value          float64   `json:"value"`
	PipelineID     string    `json:"pipeline_id"`
	StageID        string    `json:"stage_id"`
	Stage          Stage     `json:"stage"`
	ContactIDs     []string  `json:"contact_ids"`
	CreatedAt      time.Time `json:"created_at"`
	StageUpdatedAt time.Time `json:"stage_updated_at"`
}

// PrimaryContactID returns the first linked contact id, or "".
func (d Deal) PrimaryContactID() string {
	if len(d.ContactIDs) == 0 {
		return ""
	}
	return d.ContactIDs[0]
}

// ConvertedAt returns the time the deal entered its current stage, falling
// back to its creation time.
func (d Deal) ConvertedAt() time.Time {
	if !d.StageUpdatedAt.IsZero() {
		return d.StageUpdatedAt
	}
	return d.CreatedAt
}
