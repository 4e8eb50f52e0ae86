package crm

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadsync/internal/model"
	"github.com/sells-group/leadsync/internal/routing"
	sf "github.com/sells-group/leadsync/pkg/salesforce"
)

// defaultOpportunityStage is used when the routing tables map no stage name
// to Unqualified.
const defaultOpportunityStage = "Prospecting"

// SalesforceStore is a Store backed by Salesforce Contacts and
// Opportunities. Deals are linked to contacts through
// OpportunityContactRole records.
type SalesforceStore struct {
	client sf.Client
	tables *routing.Tables
	// closeAfter sets the CloseDate of new opportunities relative to now.
	closeAfter time.Duration
	now        func() time.Time
}

// NewSalesforceStore creates a SalesforceStore.
func NewSalesforceStore(client sf.Client, tables *routing.Tables) *SalesforceStore {
	return &SalesforceStore{
		client:     client,
		tables:     tables,
		closeAfter: 90 * 24 * time.Hour,
		now:        time.Now,
	}
}

// FindContactByEmail implements Store.
func (s *SalesforceStore) FindContactByEmail(ctx context.Context, email string) (*model.Contact, error) {
	c, err := sf.FindContactByEmail(ctx, s.client, model.NormalizeEmail(email))
	if err != nil || c == nil {
		return nil, err
	}
	contact := contactFromSalesforce(*c)
	return &contact, nil
}

// GetContact implements Store.
func (s *SalesforceStore) GetContact(ctx context.Context, id string) (*model.Contact, error) {
	c, err := sf.FindContactByID(ctx, s.client, id)
	if err != nil || c == nil {
		return nil, err
	}
	contact := contactFromSalesforce(*c)
	return &contact, nil
}

// CreateContact implements Store.
func (s *SalesforceStore) CreateContact(ctx context.Context, c model.Contact) (*model.Contact, error) {
	fields := map[string]any{
		"FirstName":               c.FirstName,
		"LastName":                c.LastName,
		"Email":                   c.Email,
		"MobilePhone":             c.Phone,
		"LeadSource":              c.LastTouch.Source,
		"Description":             c.Summary,
		"Course__c":               c.Course,
		"Lead_Score__c":           c.Score,
		"Qualification__c":        c.Qualification.Label,
		"Lead_Priority__c":        c.Qualification.Priority,
		"UTM_Source__c":           c.LastTouch.Source,
		"UTM_Medium__c":           c.LastTouch.Medium,
		"UTM_Campaign__c":         c.LastTouch.Campaign,
		"UTM_Term__c":             c.LastTouch.Term,
		"UTM_Content__c":          c.LastTouch.Content,
		"First_Touch_Source__c":   c.FirstTouch.Source,
		"First_Touch_Medium__c":   c.FirstTouch.Medium,
		"First_Touch_Campaign__c": c.FirstTouch.Campaign,
		"Landing_Page__c":         c.LandingPage,
		"Referrer__c":             c.Referrer,
		"Page__c":                 c.Page,
		"GA_Client_ID__c":         c.GAClientID,
	}
	id, err := sf.CreateContact(ctx, s.client, fields)
	if err != nil {
		return nil, err
	}
	out := c
	out.ID = id
	return &out, nil
}

// CreateDeal implements Store. The first contact id becomes the primary
// contact role.
func (s *SalesforceStore) CreateDeal(ctx context.Context, d model.Deal) (*model.Deal, error) {
	stage := s.tables.StageID(model.StageUnqualified)
	if stage == "" {
		stage = defaultOpportunityStage
	}
	id, err := sf.CreateOpportunity(ctx, s.client, map[string]any{
		"Name":      d.Name,
		"Amount":    d.Value,
		"StageName": stage,
		"Intake__c": d.PipelineID,
		"CloseDate": s.now().Add(s.closeAfter).UTC().Format("2006-01-02"),
	})
	if err != nil {
		return nil, err
	}

	out := d
	out.ID = id
	out.StageID = stage
	out.Stage = s.tables.Stage(stage)
	for i, cid := range d.ContactIDs {
		if _, err := sf.CreateContactRole(ctx, s.client, id, cid, i == 0); err != nil {
			return &out, eris.Wrapf(err, "crm: salesforce opportunity %s created without contact role", id)
		}
	}
	return &out, nil
}

// ListContacts implements Store.
func (s *SalesforceStore) ListContacts(ctx context.Context, p Page) ([]model.Contact, error) {
	contacts, err := sf.ListContacts(ctx, s.client, p.Limit, p.Offset)
	if err != nil {
		return nil, err
	}
	out := make([]model.Contact, 0, len(contacts))
	for _, c := range contacts {
		out = append(out, contactFromSalesforce(c))
	}
	return out, nil
}

// ListDeals implements Store.
func (s *SalesforceStore) ListDeals(ctx context.Context, p Page) ([]model.Deal, error) {
	opps, err := sf.ListOpportunities(ctx, s.client, p.Limit, p.Offset)
	if err != nil {
		return nil, err
	}
	if len(opps) == 0 {
		return nil, nil
	}

	ids := make([]string, len(opps))
	for i, o := range opps {
		ids[i] = o.ID
	}
	roles, err := sf.ContactRoles(ctx, s.client, ids)
	if err != nil {
		return nil, err
	}
	contactsByOpp := make(map[string][]string, len(opps))
	for _, r := range roles {
		contactsByOpp[r.OpportunityID] = append(contactsByOpp[r.OpportunityID], r.ContactID)
	}

	out := make([]model.Deal, 0, len(opps))
	for _, o := range opps {
		out = append(out, model.Deal{
			ID:             o.ID,
			Name:           o.Name,
			Value:          o.Amount,
			PipelineID:     o.Intake,
			StageID:        o.StageName,
			Stage:          s.tables.Stage(o.StageName),
			ContactIDs:     contactsByOpp[o.ID],
			CreatedAt:      parseSalesforceTime(o.CreatedDate),
			StageUpdatedAt: parseSalesforceTime(o.LastStageChangeDate),
		})
	}
	return out, nil
}

func contactFromSalesforce(c sf.Contact) model.Contact {
	return model.Contact{
		ID:        c.ID,
		Email:     model.NormalizeEmail(c.Email),
		FirstName: c.FirstName,
		LastName:  c.LastName,
		Phone:     c.MobilePhone,
		Course:    c.Course,
	}
}

func parseSalesforceTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{sf.TimeLayout, time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
