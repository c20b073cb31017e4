// Package notify tells portfolio owners about newly captured leads.
package notify

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/portfolio-chat/internal/model"
)

// Notifier delivers a new-lead notification to an owner address.
type Notifier interface {
	SendLeadNotification(ctx context.Context, to string, fields model.LeadFields, sourceName string) error
}

// LogNotifier logs notifications instead of sending them. It is used when
// no mail provider is configured.
type LogNotifier struct{}

func (LogNotifier) SendLeadNotification(_ context.Context, to string, fields model.LeadFields, sourceName string) error {
	zap.L().Info("notify: lead notification (log only)",
		zap.String("to", to),
		zap.String("source", sourceName),
		zap.String("lead_email", fields.Email),
		zap.String("lead_phone", fields.Phone),
	)
	return nil
}

// formatLeadEmail renders the subject and plain-text body of a notification.
func formatLeadEmail(fields model.LeadFields, sourceName string) (string, string) {
	subject := fmt.Sprintf("New lead from %s", sourceName)

	var b strings.Builder
	fmt.Fprintf(&b, "A visitor chatting with %s looks like a qualified lead.\n\n", sourceName)
	for _, row := range []struct{ label, value string }{
		{"Name", fields.Name},
		{"Email", fields.Email},
		{"Phone", fields.Phone},
		{"Website", fields.Website},
		{"Budget", fields.Budget},
		{"Project", fields.ProjectDetails},
		{"Preferred meeting time", fields.MeetingTime},
	} {
		if row.value != "" {
			fmt.Fprintf(&b, "%s: %s\n", row.label, row.value)
		}
	}
	return subject, b.String()
}

var _ Notifier = LogNotifier{}
