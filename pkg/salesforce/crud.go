package salesforce

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
)

// CreateContact creates a new Contact record and returns the new Salesforce ID.
func CreateContact(ctx context.Context, c Client, fields map[string]any) (string, error) {
	if fields["LastName"] == nil || fields["LastName"] == "" {
		return "", eris.New("sf: contact LastName is required")
	}
	id, err := c.InsertOne(ctx, "Contact", fields)
	if err != nil {
		return "", eris.Wrap(err, "sf: create contact")
	}
	return id, nil
}

// CreateOpportunity creates a new Opportunity record and returns its ID.
func CreateOpportunity(ctx context.Context, c Client, fields map[string]any) (string, error) {
	for _, f := range []string{"Name", "StageName", "CloseDate"} {
		if fields[f] == nil || fields[f] == "" {
			return "", eris.New(fmt.Sprintf("sf: opportunity %s is required", f))
		}
	}
	id, err := c.InsertOne(ctx, "Opportunity", fields)
	if err != nil {
		return "", eris.Wrap(err, "sf: create opportunity")
	}
	return id, nil
}

// CreateContactRole links a Contact to an Opportunity.
func CreateContactRole(ctx context.Context, c Client, opportunityID, contactID string, primary bool) (string, error) {
	if opportunityID == "" || contactID == "" {
		return "", eris.New("sf: opportunity id and contact id are required for contact role")
	}
	id, err := c.InsertOne(ctx, "OpportunityContactRole", map[string]any{
		"OpportunityId": opportunityID,
		"ContactId":     contactID,
		"IsPrimary":     primary,
	})
	if err != nil {
		return "", eris.Wrap(err, fmt.Sprintf("sf: create contact role for opportunity %s", opportunityID))
	}
	return id, nil
}
