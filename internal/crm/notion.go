package crm

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"

	"github.com/sells-group/portfolio-chat/internal/model"
	"github.com/sells-group/portfolio-chat/pkg/notion"
)

// Notion lead database property names.
const (
	propName       = "Name"
	propEmail      = "Email"
	propPhone      = "Phone"
	propWebsite    = "Website"
	propBudget     = "Budget"
	propProject    = "Project"
	propMeeting    = "Meeting"
	propConfidence = "Confidence"
	propSource     = "Source"
	propStatus     = "Status"
	propSessionID  = "Session ID"
)

// NotionSink writes each lead as a page in a Notion database, keyed by the
// chat session so a replayed insert refreshes the existing page.
type NotionSink struct {
	client notion.Client
	dbID   string
}

// NewNotionSink creates a sink writing to database dbID.
func NewNotionSink(client notion.Client, dbID string) *NotionSink {
	return &NotionSink{client: client, dbID: dbID}
}

// Name implements Sink.
func (s *NotionSink) Name() string { return "notion" }

// MirrorLead implements Sink.
func (s *NotionSink) MirrorLead(ctx context.Context, lead *model.Lead, source string) error {
	existing, err := notion.FindByText(ctx, s.client, s.dbID, propSessionID, lead.SessionID)
	if err != nil {
		return eris.Wrap(err, "crm: notion lookup")
	}

	props := leadProperties(lead, source)
	if existing != nil {
		if _, err := s.client.UpdatePage(ctx, string(existing.ID), &notionapi.PageUpdateRequest{Properties: props}); err != nil {
			return eris.Wrap(err, "crm: notion update lead")
		}
		return nil
	}

	props[propStatus] = notionapi.SelectProperty{
		Type:   notionapi.PropertyTypeSelect,
		Select: notionapi.Option{Name: "New"},
	}
	props[propSessionID] = notionapi.RichTextProperty{
		Type:     notionapi.PropertyTypeRichText,
		RichText: notion.Text(lead.SessionID),
	}
	_, err = s.client.CreatePage(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(s.dbID),
		},
		Properties: props,
	})
	if err != nil {
		return eris.Wrap(err, "crm: notion create lead")
	}
	return nil
}

func leadProperties(lead *model.Lead, source string) notionapi.Properties {
	f := lead.Fields
	props := notionapi.Properties{
		propName: notionapi.TitleProperty{
			Type:  notionapi.PropertyTypeTitle,
			Title: notion.Text(displayName(f)),
		},
		propConfidence: notionapi.NumberProperty{
			Type:   notionapi.PropertyTypeNumber,
			Number: float64(lead.Confidence),
		},
		propSource: notionapi.SelectProperty{
			Type:   notionapi.PropertyTypeSelect,
			Select: notionapi.Option{Name: source},
		},
	}
	if f.Email != "" {
		props[propEmail] = notionapi.EmailProperty{Type: notionapi.PropertyTypeEmail, Email: f.Email}
	}
	if f.Phone != "" {
		props[propPhone] = notionapi.PhoneNumberProperty{Type: notionapi.PropertyTypePhoneNumber, PhoneNumber: f.Phone}
	}
	if f.Website != "" {
		props[propWebsite] = notionapi.URLProperty{Type: notionapi.PropertyTypeURL, URL: f.Website}
	}
	for name, v := range map[string]string{
		propBudget:  f.Budget,
		propProject: f.ProjectDetails,
		propMeeting: f.MeetingTime,
	} {
		if v != "" {
			props[name] = notionapi.RichTextProperty{Type: notionapi.PropertyTypeRichText, RichText: notion.Text(v)}
		}
	}
	return props
}
