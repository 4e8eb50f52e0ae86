package salesforce

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// TimeLayout is the datetime layout Salesforce returns in query results.
const TimeLayout = "2006-01-02T15:04:05.000-0700"

// Contact represents a Salesforce Contact record.
type Contact struct {
	ID          string `json:"Id" salesforce:"Id"`
	FirstName   string `json:"FirstName" salesforce:"FirstName"`
	LastName    string `json:"LastName" salesforce:"LastName"`
	Email       string `json:"Email" salesforce:"Email"`
	MobilePhone string `json:"MobilePhone" salesforce:"MobilePhone"`
	Course      string `json:"Course__c" salesforce:"Course__c"`
}

var contactFields = []string{"Id", "FirstName", "LastName", "Email", "MobilePhone", "Course__c"}

// Opportunity represents a Salesforce Opportunity record.
type Opportunity struct {
	ID                  string  `json:"Id" salesforce:"Id"`
	Name                string  `json:"Name" salesforce:"Name"`
	Amount              float64 `json:"Amount" salesforce:"Amount"`
	StageName           string  `json:"StageName" salesforce:"StageName"`
	Intake              string  `json:"Intake__c" salesforce:"Intake__c"`
	CreatedDate         string  `json:"CreatedDate" salesforce:"CreatedDate"`
	LastStageChangeDate string  `json:"LastStageChangeDate" salesforce:"LastStageChangeDate"`
}

var opportunityFields = []string{"Id", "Name", "Amount", "StageName", "Intake__c", "CreatedDate", "LastStageChangeDate"}

// ContactRole links an Opportunity to a Contact.
type ContactRole struct {
	OpportunityID string `json:"OpportunityId" salesforce:"OpportunityId"`
	ContactID     string `json:"ContactId" salesforce:"ContactId"`
	IsPrimary     bool   `json:"IsPrimary" salesforce:"IsPrimary"`
}

// FindContactByEmail returns the Contact with the given e-mail address, or
// nil when none exists.
func FindContactByEmail(ctx context.Context, c Client, email string) (*Contact, error) {
	return findContact(ctx, c, "Email", email)
}

// FindContactByID returns the Contact with the given id, or nil.
func FindContactByID(ctx context.Context, c Client, id string) (*Contact, error) {
	return findContact(ctx, c, "Id", id)
}

func findContact(ctx context.Context, c Client, field, value string) (*Contact, error) {
	soql := fmt.Sprintf(
		"SELECT %s FROM Contact WHERE %s = '%s' LIMIT 1",
		strings.Join(contactFields, ", "), field, escapeSoql(value),
	)
	var contacts []Contact
	if err := c.Query(ctx, soql, &contacts); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("sf: find contact by %s", strings.ToLower(field)))
	}
	if len(contacts) == 0 {
		return nil, nil
	}
	return &contacts[0], nil
}

// ListContacts returns one page of Contacts ordered by creation date.
func ListContacts(ctx context.Context, c Client, limit, offset int) ([]Contact, error) {
	soql := fmt.Sprintf(
		"SELECT %s FROM Contact ORDER BY CreatedDate LIMIT %d OFFSET %d",
		strings.Join(contactFields, ", "), limit, offset,
	)
	var contacts []Contact
	if err := c.Query(ctx, soql, &contacts); err != nil {
		return nil, eris.Wrap(err, "sf: list contacts")
	}
	return contacts, nil
}

// ListOpportunities returns one page of Opportunities ordered by creation date.
func ListOpportunities(ctx context.Context, c Client, limit, offset int) ([]Opportunity, error) {
	soql := fmt.Sprintf(
		"SELECT %s FROM Opportunity ORDER BY CreatedDate LIMIT %d OFFSET %d",
		strings.Join(opportunityFields, ", "), limit, offset,
	)
	var opps []Opportunity
	if err := c.Query(ctx, soql, &opps); err != nil {
		return nil, eris.Wrap(err, "sf: list opportunities")
	}
	return opps, nil
}

// ContactRoles returns the contact roles of the given opportunities, primary
// roles first.
func ContactRoles(ctx context.Context, c Client, opportunityIDs []string) ([]ContactRole, error) {
	if len(opportunityIDs) == 0 {
		return nil, nil
	}
	quoted := make([]string, len(opportunityIDs))
	for i, id := range opportunityIDs {
		quoted[i] = "'" + escapeSoql(id) + "'"
	}
	soql := fmt.Sprintf(
		"SELECT OpportunityId, ContactId, IsPrimary FROM OpportunityContactRole WHERE OpportunityId IN (%s) ORDER BY IsPrimary DESC, CreatedDate",
		strings.Join(quoted, ", "),
	)
	var roles []ContactRole
	if err := c.Query(ctx, soql, &roles); err != nil {
		return nil, eris.Wrap(err, "sf: list contact roles")
	}
	return roles, nil
}
