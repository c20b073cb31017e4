package model

import "time"

// LeadData is the contact detail a reply generator extracted from the
// conversation. Every field is optional.
type LeadData struct {
	Name           string `json:"name,omitempty"`
	Email          string `json:"email,omitempty"`
	Budget         string `json:"budget,omitempty"`
	ProjectDetails string `json:"project_details,omitempty"`
	MeetingTime    string `json:"meeting_time,omitempty"`
}

// LeadCandidate is the reply generator's own opinion of the exchange. It is
// never persisted as-is.
type LeadCandidate struct {
	LeadDetected bool     `json:"lead_detected"`
	Confidence   int      `json:"confidence"`
	LeadData     LeadData `json:"lead_data"`
}

// LeadFields is the lead candidate data combined with channel fields parsed
// from the raw visitor message.
type LeadFields struct {
	Name           string `json:"name,omitempty"`
	Email          string `json:"email,omitempty"`
	Phone          string `json:"phone,omitempty"`
	Website        string `json:"website,omitempty"`
	Budget         string `json:"budget,omitempty"`
	ProjectDetails string `json:"project_details,omitempty"`
	MeetingTime    string `json:"meeting_time,omitempty"`
}

// Lead is a persisted sales prospect. At most one row exists per
// (agent or portfolio, session).
type Lead struct {
	ID          string     `json:"id"`
	AgentID     string     `json:"agent_id"`
	PortfolioID string     `json:"portfolio_id,omitempty"`
	SessionID   string     `json:"session_id"`
	Fields      LeadFields `json:"fields"`
	Confidence  int        `json:"confidence"`
	CaptureTurn int        `json:"capture_turn"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ScopeKey returns the dedup scope of the lead: the agent id when present,
// otherwise the portfolio id.
func (l *Lead) ScopeKey() string {
	if l.AgentID != "" {
		return "agent:" + l.AgentID
	}
	return "portfolio:" + l.PortfolioID
}

// LeadWriteResult reports whether a dedup write created or refined a lead.
type LeadWriteResult string

const (
	LeadInserted LeadWriteResult = "inserted"
	LeadUpdated  LeadWriteResult = "updated"
)
