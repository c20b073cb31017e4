package crm

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/portfolio-chat/internal/model"
	"github.com/sells-group/portfolio-chat/pkg/salesforce"
)

// leadSource is the Salesforce LeadSource picklist value for chat leads.
const leadSource = "Portfolio Chat"

// SalesforceSink mirrors leads into Salesforce Lead records, matching open
// leads by email.
type SalesforceSink struct {
	client salesforce.Client
}

// NewSalesforceSink creates a Salesforce sink.
func NewSalesforceSink(client salesforce.Client) *SalesforceSink {
	return &SalesforceSink{client: client}
}

// Name implements Sink.
func (s *SalesforceSink) Name() string { return "salesforce" }

// MirrorLead implements Sink.
func (s *SalesforceSink) MirrorLead(ctx context.Context, lead *model.Lead, source string) error {
	if _, _, err := salesforce.UpsertLead(ctx, s.client, sfLeadFields(lead, source)); err != nil {
		return eris.Wrap(err, "crm: salesforce upsert lead")
	}
	return nil
}

// sfLeadFields maps a lead onto Lead sObject fields. Salesforce requires
// LastName and Company, so anonymous visitors get placeholders.
func sfLeadFields(lead *model.Lead, source string) map[string]any {
	f := lead.Fields
	first, last := splitName(f.Name)
	if last == "" {
		last = displayName(f)
	}
	company := source
	if company == "" {
		company = "Unknown"
	}

	fields := map[string]any{
		"LastName":   last,
		"Company":    company,
		"LeadSource": leadSource,
		"Rating":     rating(lead.Confidence),
	}
	if first != "" {
		fields["FirstName"] = first
	}
	if f.Email != "" {
		fields["Email"] = f.Email
	}
	if f.Phone != "" {
		fields["Phone"] = f.Phone
	}
	if f.Website != "" {
		fields["Website"] = f.Website
	}

	var desc []string
	if f.ProjectDetails != "" {
		desc = append(desc, "Project: "+f.ProjectDetails)
	}
	if f.Budget != "" {
		desc = append(desc, "Budget: "+f.Budget)
	}
	if f.MeetingTime != "" {
		desc = append(desc, "Meeting: "+f.MeetingTime)
	}
	desc = append(desc, fmt.Sprintf("Chat session: %s", lead.SessionID))
	fields["Description"] = strings.Join(desc, "\n")
	return fields
}

// splitName splits "Ada King Lovelace" into ("Ada King", "Lovelace").
func splitName(name string) (first, last string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ""
	}
	i := strings.LastIndex(name, " ")
	if i < 0 {
		return "", name
	}
	return strings.TrimSpace(name[:i]), name[i+1:]
}

func rating(confidence int) string {
	switch {
	case confidence >= 85:
		return "Hot"
	case confidence >= 60:
		return "Warm"
	default:
		return "Cold"
	}
}
