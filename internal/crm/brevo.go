package crm

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadsync/internal/model"
	"github.com/sells-group/leadsync/internal/routing"
	"github.com/sells-group/leadsync/pkg/brevo"
)

// Brevo contact attribute names.
const (
	attrFirstName     = "FIRSTNAME"
	attrLastName      = "LASTNAME"
	attrPhone         = "SMS"
	attrPhoneAlt      = "PHONE"
	attrWhatsApp      = "WHATSAPP"
	attrCourse        = "PREFERRED_COURSE"
	attrScore         = "SCORE"
	attrQualification = "QUALIFICATION_STATUS"
	attrPriority      = "LEAD_STATUS"
)

// BrevoStore is a Store backed by the Brevo CRM.
type BrevoStore struct {
	client  brevo.Client
	tables  *routing.Tables
	listIDs []int64
}

// NewBrevoStore creates a BrevoStore. New contacts are added to listIDs.
func NewBrevoStore(client brevo.Client, tables *routing.Tables, listIDs ...int64) *BrevoStore {
	return &BrevoStore{client: client, tables: tables, listIDs: listIDs}
}

// FindContactByEmail implements Store.
func (s *BrevoStore) FindContactByEmail(ctx context.Context, email string) (*model.Contact, error) {
	c, err := s.client.GetContact(ctx, model.NormalizeEmail(email))
	if err != nil {
		return nil, eris.Wrap(err, "crm: brevo find contact")
	}
	if c == nil {
		return nil, nil
	}
	contact := contactFromBrevo(*c)
	return &contact, nil
}

// GetContact implements Store.
func (s *BrevoStore) GetContact(ctx context.Context, id string) (*model.Contact, error) {
	c, err := s.client.GetContact(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "crm: brevo get contact %s", id)
	}
	if c == nil {
		return nil, nil
	}
	contact := contactFromBrevo(*c)
	return &contact, nil
}

// CreateContact implements Store.
func (s *BrevoStore) CreateContact(ctx context.Context, c model.Contact) (*model.Contact, error) {
	resp, err := s.client.CreateContact(ctx, brevo.CreateContactRequest{
		Email:         c.Email,
		Attributes:    contactAttributes(c),
		ListIDs:       s.listIDs,
		UpdateEnabled: true,
	})
	if err != nil {
		return nil, eris.Wrap(err, "crm: brevo create contact")
	}

	if resp.ID == 0 {
		// Brevo answers 204 without an id when it updated an existing address.
		existing, err := s.client.GetContact(ctx, c.Email)
		if err != nil {
			return nil, eris.Wrap(err, "crm: brevo read back contact")
		}
		if existing != nil {
			resp.ID = existing.ID
		}
	}

	out := c
	out.ID = strconv.FormatInt(resp.ID, 10)
	return &out, nil
}

// CreateDeal implements Store.
func (s *BrevoStore) CreateDeal(ctx context.Context, d model.Deal) (*model.Deal, error) {
	req := brevo.CreateDealRequest{
		Name: d.Name,
		Attributes: map[string]any{
			"deal_value": d.Value,
			"pipeline":   d.PipelineID,
		},
	}
	for _, id := range d.ContactIDs {
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return nil, eris.Wrapf(err, "crm: brevo contact id %q", id)
		}
		req.LinkedContactsIDs = append(req.LinkedContactsIDs, n)
	}

	resp, err := s.client.CreateDeal(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "crm: brevo create deal")
	}
	out := d
	out.ID = resp.ID
	return &out, nil
}

// ListContacts implements Store.
func (s *BrevoStore) ListContacts(ctx context.Context, p Page) ([]model.Contact, error) {
	list, err := s.client.ListContacts(ctx, p.Limit, p.Offset)
	if err != nil {
		return nil, eris.Wrapf(err, "crm: brevo list contacts offset %d", p.Offset)
	}
	out := make([]model.Contact, 0, len(list.Contacts))
	for _, c := range list.Contacts {
		out = append(out, contactFromBrevo(c))
	}
	return out, nil
}

// ListDeals implements Store.
func (s *BrevoStore) ListDeals(ctx context.Context, p Page) ([]model.Deal, error) {
	list, err := s.client.ListDeals(ctx, p.Limit, p.Offset)
	if err != nil {
		return nil, eris.Wrapf(err, "crm: brevo list deals offset %d", p.Offset)
	}
	out := make([]model.Deal, 0, len(list.Items))
	for _, d := range list.Items {
		out = append(out, s.dealFromBrevo(d))
	}
	return out, nil
}

func (s *BrevoStore) dealFromBrevo(d brevo.Deal) model.Deal {
	value := d.Float("amount")
	if value == 0 {
		value = d.Float("deal_value")
	}
	stageID := d.Attr("deal_stage")
	ids := make([]string, len(d.LinkedContactsIDs))
	for i, id := range d.LinkedContactsIDs {
		ids[i] = strconv.FormatInt(id, 10)
	}
	return model.Deal{
		ID:             d.ID,
		Name:           d.Attr("deal_name"),
		Value:          value,
		PipelineID:     d.Attr("pipeline"),
		StageID:        stageID,
		Stage:          s.tables.Stage(stageID),
		ContactIDs:     ids,
		CreatedAt:      parseBrevoTime(d.Attr("created_at")),
		StageUpdatedAt: parseBrevoTime(d.Attr("stage_updated_at")),
	}
}

func contactFromBrevo(c brevo.Contact) model.Contact {
	score, _ := strconv.Atoi(c.Attr(attrScore))
	return model.Contact{
		ID:        strconv.FormatInt(c.ID, 10),
		Email:     model.NormalizeEmail(c.Email),
		FirstName: c.Attr(attrFirstName),
		LastName:  c.Attr(attrLastName),
		Phone:     brevoPhone(c),
		Course:    c.Attr(attrCourse),
		Score:     score,
		Qualification: model.Qualification{
			Label:    c.Attr(attrQualification),
			Priority: c.Attr(attrPriority),
		},
	}
}

// brevoPhone returns the first phone attribute set on c.
func brevoPhone(c brevo.Contact) string {
	for _, attr := range []string{attrPhone, attrPhoneAlt, attrWhatsApp} {
		if v := strings.TrimSpace(c.Attr(attr)); v != "" {
			return v
		}
	}
	return ""
}

// contactAttributes maps a contact onto the Brevo attribute schema.
func contactAttributes(c model.Contact) map[string]any {
	var firstTS string
	if !c.FirstTouch.Timestamp.IsZero() {
		firstTS = c.FirstTouch.Timestamp.UTC().Format(time.RFC3339)
	}
	return map[string]any{
		attrFirstName:           c.FirstName,
		attrLastName:            c.LastName,
		attrPhone:               c.Phone,
		attrCourse:              c.Course,
		"COURSE_INTERESTED_IN":  c.Course,
		"QUALIFICATION_SCORE":   c.Score,
		attrScore:               c.Score,
		attrQualification:       c.Qualification.Label,
		attrPriority:            c.Qualification.Priority,
		"UTM_SOURCE":            c.LastTouch.Source,
		"UTM_MEDIUM":            c.LastTouch.Medium,
		"UTM_CAMPAIGN":          c.LastTouch.Campaign,
		"UTM_TERM":              c.LastTouch.Term,
		"UTM_CONTENT":           c.LastTouch.Content,
		"PAGE":                  c.Page,
		"REFERRER":              c.Referrer,
		"LANDING_PAGE":          c.LandingPage,
		"FIRST_TOUCH_SOURCE":    c.FirstTouch.Source,
		"FIRST_TOUCH_MEDIUM":    c.FirstTouch.Medium,
		"FIRST_TOUCH_CAMPAIGN":  c.FirstTouch.Campaign,
		"FIRST_TOUCH_TERM":      c.FirstTouch.Term,
		"FIRST_TOUCH_CONTENT":   c.FirstTouch.Content,
		"FIRST_TOUCH_TIMESTAMP": firstTS,
		"GA_CLIENT_ID":          c.GAClientID,
		"CONVERSATION_SUMMARY":  c.Summary,
	}
}

func parseBrevoTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
