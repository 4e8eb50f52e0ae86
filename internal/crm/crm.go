// Package crm keeps contacts and deals in the CRM in step with form
// submissions. Contacts are deduplicated by normalized e-mail address.
package crm

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/leadsync/internal/model"
)

// Page selects a window of a list call.
type Page struct {
	Limit  int
	Offset int
}

// Store is the CRM as seen by leadsync. Find and Get return nil when the
// record does not exist.
type Store interface {
	FindContactByEmail(ctx context.Context, email string) (*model.Contact, error)
	CreateContact(ctx context.Context, c model.Contact) (*model.Contact, error)
	CreateDeal(ctx context.Context, d model.Deal) (*model.Deal, error)
	GetContact(ctx context.Context, id string) (*model.Contact, error)
	ListContacts(ctx context.Context, p Page) ([]model.Contact, error)
	ListDeals(ctx context.Context, p Page) ([]model.Deal, error)
}

// ErrDownstreamWrite matches every failure to reach or write to the CRM
// during a sync. Use errors.Is.
var ErrDownstreamWrite = eris.New("crm: downstream write failed")

// WriteError is a failed CRM call during a sync.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string { return fmt.Sprintf("crm: %s: %v", e.Op, e.Err) }

func (e *WriteError) Unwrap() error { return e.Err }

// Is reports ErrDownstreamWrite as matching.
func (e *WriteError) Is(target error) bool { return target == ErrDownstreamWrite }

// ContactFromLead builds the contact record for a new lead. Last-touch
// attribution defaults to direct/none/organic; first-touch falls back to
// last-touch and then to the same defaults.
func ContactFromLead(l model.Lead) model.Contact {
	last := l.LastTouch.WithDefaults()

	first := l.FirstTouch
	if first.Source == "" {
		first.Source = l.LastTouch.Source
	}
	if first.Medium == "" {
		first.Medium = l.LastTouch.Medium
	}
	if first.Campaign == "" {
		first.Campaign = l.LastTouch.Campaign
	}
	first = first.WithDefaults()

	page := l.CurrentPage
	if page == "" {
		page = l.LandingPage
	}

	return model.Contact{
		Email:         model.NormalizeEmail(l.Email),
		FirstName:     l.FirstName,
		LastName:      l.LastName,
		Phone:         l.Phone,
		Course:        l.Course,
		Score:         l.Score,
		Qualification: l.Qualification,
		FirstTouch:    first,
		LastTouch:     last,
		LandingPage:   l.LandingPage,
		Referrer:      l.Referrer,
		Page:          page,
		GAClientID:    l.GAClientID,
		Summary:       Summary(l.Labels),
	}
}

// Summary renders the pre-qualification answers as one line.
func Summary(q model.QualificationData) string {
	return fmt.Sprintf("Timeline: %s | Program: %s | Investment: %s | Goals: %s | Experience: %s",
		q.StudyTimeline, q.ProgramType, q.InvestmentRange, q.CareerGoals, q.ExperienceLevel)
}

// DealName is "<First> <Last> - <Course>" with the names title-cased.
func DealName(first, last, course string) string {
	// A Caser is stateful and must not be shared between goroutines.
	title := cases.Title(language.Und)
	name := strings.TrimSpace(title.String(strings.TrimSpace(first)) + " " + title.String(strings.TrimSpace(last)))
	return name + " - " + strings.TrimSpace(course)
}
