// Package crm mirrors newly captured leads into external CRMs.
package crm

import (
	"context"

	"github.com/sells-group/portfolio-chat/internal/model"
)

// Sink receives a lead the first time it is inserted. Sinks run as
// independent background tasks; a failing sink never affects the others.
type Sink interface {
	Name() string
	MirrorLead(ctx context.Context, lead *model.Lead, source string) error
}

// displayName returns the lead's name, or a placeholder for anonymous visitors.
func displayName(f model.LeadFields) string {
	if f.Name != "" {
		return f.Name
	}
	if f.Email != "" {
		return f.Email
	}
	return "Website visitor"
}
