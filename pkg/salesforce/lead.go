package salesforce

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Lead is the subset of the Salesforce Lead sObject the mirror reads back.
type Lead struct {
	ID      string `json:"Id" salesforce:"Id"`
	Email   string `json:"Email" salesforce:"Email"`
	Company string `json:"Company" salesforce:"Company"`
	Status  string `json:"Status" salesforce:"Status"`
}

// FindOpenLeadByEmail returns the unconverted Lead with the given email, or
// nil when none exists.
func FindOpenLeadByEmail(ctx context.Context, c Client, email string) (*Lead, error) {
	soql := fmt.Sprintf(
		"SELECT Id, Email, Company, Status FROM Lead WHERE Email = '%s' AND IsConverted = false LIMIT 1",
		escapeSoql(email),
	)
	var leads []Lead
	if err := c.Query(ctx, soql, &leads); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("sf: find lead by email %s", email))
	}
	if len(leads) == 0 {
		return nil, nil
	}
	return &leads[0], nil
}

// UpsertLead updates the open Lead matching fields["Email"] or inserts a new
// one. LastName and Company are required by Salesforce on insert. Returns the
// Lead id and whether it was created.
func UpsertLead(ctx context.Context, c Client, fields map[string]any) (string, bool, error) {
	if email, _ := fields["Email"].(string); email != "" {
		existing, err := FindOpenLeadByEmail(ctx, c, email)
		if err != nil {
			return "", false, err
		}
		if existing != nil {
			update := make(map[string]any, len(fields))
			for k, v := range fields {
				// Keep the owner-facing identity the sales team may have edited.
				if k == "LastName" || k == "FirstName" || k == "Company" {
					continue
				}
				update[k] = v
			}
			if err := c.UpdateOne(ctx, "Lead", existing.ID, update); err != nil {
				return "", false, eris.Wrap(err, fmt.Sprintf("sf: update lead %s", existing.ID))
			}
			return existing.ID, false, nil
		}
	}

	if s, _ := fields["LastName"].(string); s == "" {
		return "", false, eris.New("sf: lead LastName is required")
	}
	if s, _ := fields["Company"].(string); s == "" {
		return "", false, eris.New("sf: lead Company is required")
	}
	id, err := c.InsertOne(ctx, "Lead", fields)
	if err != nil {
		return "", false, eris.Wrap(err, "sf: create lead")
	}
	return id, true, nil
}

// escapeSoql escapes single quotes in SOQL string literals to prevent injection.
func escapeSoql(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}
