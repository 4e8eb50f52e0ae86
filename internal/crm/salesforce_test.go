package crm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadsync/internal/model"
	"github.com/sells-group/leadsync/internal/routing"
	sf "github.com/sells-group/leadsync/pkg/salesforce"
)

// mockSF implements salesforce.Client for testing.
type mockSF struct {
	queryFn     func(ctx context.Context, soql string, out any) error
	insertOneFn func(ctx context.Context, sObjectName string, record map[string]any) (string, error)
}

func (m *mockSF) Query(ctx context.Context, soql string, out any) error {
	if m.queryFn != nil {
		return m.queryFn(ctx, soql, out)
	}
	return nil
}

func (m *mockSF) InsertOne(ctx context.Context, sObjectName string, record map[string]any) (string, error) {
	if m.insertOneFn != nil {
		return m.insertOneFn(ctx, sObjectName, record)
	}
	return "001", nil
}

const sfRoutingYAML = `
default_pipeline: jan
default_budget: 150000
stages:
  Prospecting: UNQUALIFIED
  Qualified: MQL
  Closed Won: ENROLLED
`

func sfTables(t *testing.T) *routing.Tables {
	t.Helper()
	tables, err := routing.Parse([]byte(sfRoutingYAML))
	require.NoError(t, err)
	return tables
}

func TestSalesforceStore_FindContactByEmail(t *testing.T) {
	mock := &mockSF{
		queryFn: func(_ context.Context, soql string, out any) error {
			assert.Contains(t, soql, "Email = 'jane@example.com'")
			*out.(*[]sf.Contact) = []sf.Contact{{ID: "003a", Email: "Jane@Example.com", MobilePhone: "0712"}}
			return nil
		},
	}
	s := NewSalesforceStore(mock, sfTables(t))

	c, err := s.FindContactByEmail(context.Background(), "JANE@example.com ")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "003a", c.ID)
	assert.Equal(t, "jane@example.com", c.Email)
	assert.Equal(t, "0712", c.Phone)
}

func TestSalesforceStore_GetContact_Absent(t *testing.T) {
	s := NewSalesforceStore(&mockSF{}, sfTables(t))
	c, err := s.GetContact(context.Background(), "003zz")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestSalesforceStore_CreateContact(t *testing.T) {
	mock := &mockSF{
		insertOneFn: func(_ context.Context, name string, rec map[string]any) (string, error) {
			assert.Equal(t, "Contact", name)
			assert.Equal(t, "Doe", rec["LastName"])
			assert.Equal(t, "google", rec["UTM_Source__c"])
			assert.Equal(t, "google", rec["LeadSource"])
			assert.Equal(t, 18, rec["Lead_Score__c"])
			return "003new", nil
		},
	}
	s := NewSalesforceStore(mock, sfTables(t))

	c, err := s.CreateContact(context.Background(), ContactFromLead(model.Lead{
		Email: "jane@example.com", FirstName: "Jane", LastName: "Doe", Score: 18,
		LastTouch: model.Touch{Source: "google", Medium: "cpc"},
	}))
	require.NoError(t, err)
	assert.Equal(t, "003new", c.ID)
}

func TestSalesforceStore_CreateDeal(t *testing.T) {
	var inserted []string
	mock := &mockSF{
		insertOneFn: func(_ context.Context, name string, rec map[string]any) (string, error) {
			inserted = append(inserted, name)
			switch name {
			case "Opportunity":
				assert.Equal(t, "Prospecting", rec["StageName"])
				assert.Equal(t, "2026-01-30", rec["CloseDate"])
				assert.Equal(t, "pipe", rec["Intake__c"])
				return "006new", nil
			case "OpportunityContactRole":
				assert.Equal(t, "006new", rec["OpportunityId"])
				assert.Equal(t, "003a", rec["ContactId"])
				assert.Equal(t, true, rec["IsPrimary"])
				return "00K", nil
			}
			return "", errors.New("unexpected")
		},
	}
	s := NewSalesforceStore(mock, sfTables(t))
	s.now = func() time.Time { return time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC) }

	d, err := s.CreateDeal(context.Background(), model.Deal{
		Name: "Jane Doe - Film", Value: 200000, PipelineID: "pipe", ContactIDs: []string{"003a"},
	})
	require.NoError(t, err)
	assert.Equal(t, "006new", d.ID)
	assert.Equal(t, model.StageUnqualified, d.Stage)
	assert.Equal(t, []string{"Opportunity", "OpportunityContactRole"}, inserted)
}

func TestSalesforceStore_CreateDeal_RoleFailure(t *testing.T) {
	mock := &mockSF{
		insertOneFn: func(_ context.Context, name string, _ map[string]any) (string, error) {
			if name == "OpportunityContactRole" {
				return "", errors.New("FIELD_INTEGRITY_EXCEPTION")
			}
			return "006new", nil
		},
	}
	s := NewSalesforceStore(mock, sfTables(t))

	d, err := s.CreateDeal(context.Background(), model.Deal{Name: "x", ContactIDs: []string{"003a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "without contact role")
	require.NotNil(t, d)
	assert.Equal(t, "006new", d.ID)
}

func TestSalesforceStore_ListDeals(t *testing.T) {
	mock := &mockSF{
		queryFn: func(_ context.Context, soql string, out any) error {
			switch {
			case strings.Contains(soql, "FROM Opportunity "):
				*out.(*[]sf.Opportunity) = []sf.Opportunity{
					{ID: "006a", StageName: "Closed Won", Amount: 300000, CreatedDate: "2025-09-01T08:00:00.000+0000", LastStageChangeDate: "2025-10-02T09:15:00.000+0300"},
					{ID: "006b", StageName: "Qualified"},
				}
			case strings.Contains(soql, "FROM OpportunityContactRole"):
				*out.(*[]sf.ContactRole) = []sf.ContactRole{
					{OpportunityID: "006a", ContactID: "003p", IsPrimary: true},
					{OpportunityID: "006a", ContactID: "003q"},
				}
			default:
				t.Fatalf("unexpected query %s", soql)
			}
			return nil
		},
	}
	s := NewSalesforceStore(mock, sfTables(t))

	deals, err := s.ListDeals(context.Background(), Page{Limit: 50})
	require.NoError(t, err)
	require.Len(t, deals, 2)

	assert.Equal(t, model.StageEnrolled, deals[0].Stage)
	assert.Equal(t, []string{"003p", "003q"}, deals[0].ContactIDs)
	assert.Equal(t, time.Date(2025, 10, 2, 6, 15, 0, 0, time.UTC), deals[0].StageUpdatedAt)
	assert.Equal(t, time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC), deals[0].CreatedAt)

	assert.Equal(t, model.StageMQL, deals[1].Stage)
	assert.Empty(t, deals[1].ContactIDs)
}

func TestSalesforceStore_ListDeals_Empty(t *testing.T) {
	calls := 0
	mock := &mockSF{
		queryFn: func(context.Context, string, any) error {
			calls++
			return nil
		},
	}
	s := NewSalesforceStore(mock, sfTables(t))

	deals, err := s.ListDeals(context.Background(), Page{Limit: 50, Offset: 100})
	require.NoError(t, err)
	assert.Empty(t, deals)
	assert.Equal(t, 1, calls)
}
