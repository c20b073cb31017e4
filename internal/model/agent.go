package model

import (
	"slices"
	"strings"
	"time"
)

// StrategyMode controls how eagerly an agent qualifies and surfaces leads.
type StrategyMode string

const (
	StrategyPassive      StrategyMode = "passive"
	StrategyConsultative StrategyMode = "consultative"
	StrategySales        StrategyMode = "sales"
)

// ParseStrategyMode normalizes s into a StrategyMode. Unknown or empty values
// fall back to consultative, the product default.
func ParseStrategyMode(s string) StrategyMode {
	switch StrategyMode(strings.ToLower(strings.TrimSpace(s))) {
	case StrategyPassive:
		return StrategyPassive
	case StrategySales:
		return StrategySales
	default:
		return StrategyConsultative
	}
}

// WorkingHours is a daily availability window in a named time zone.
// Start and End use 24h "HH:MM" notation.
type WorkingHours struct {
	Start    string `json:"start"`
	End      string `json:"end"`
	Timezone string `json:"timezone,omitempty"`
}

// PortfolioContent is the published site copy an agent may speak to.
type PortfolioContent struct {
	Title string `json:"title"`
	About string `json:"about"`
}

// AgentContext is the merged agent and portfolio configuration a chat
// request runs against. Both the agent-id and the handle lookup paths
// produce this same shape.
type AgentContext struct {
	AgentID     string `json:"agent_id"`
	PortfolioID string `json:"portfolio_id,omitempty"`
	Handle      string `json:"handle,omitempty"`
	OwnerID     string `json:"owner_id"`

	IsEnabled    bool         `json:"is_enabled"`
	Model        string       `json:"model"`
	Temperature  float64      `json:"temperature"`
	BehaviorType string       `json:"behavior_type,omitempty"`
	StrategyMode StrategyMode `json:"strategy_mode"`
	CustomPrompt string       `json:"custom_prompt,omitempty"`

	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Intro       string `json:"intro,omitempty"`
	Role        string `json:"role,omitempty"`

	WorkingHours      *WorkingHours  `json:"working_hours,omitempty"`
	OffDays           []time.Weekday `json:"off_days,omitempty"`
	NotificationEmail string         `json:"notification_email,omitempty"`

	Portfolio   *PortfolioContent `json:"portfolio,omitempty"`
	IsPublished bool              `json:"is_published"`
}

// PortfolioBacked reports whether the agent fronts a portfolio.
func (c *AgentContext) PortfolioBacked() bool {
	return c.PortfolioID != ""
}

// SourceName returns the label used when telling an owner where a lead came from.
func (c *AgentContext) SourceName() string {
	switch {
	case c.Portfolio != nil && c.Portfolio.Title != "":
		return c.Portfolio.Title
	case c.DisplayName != "":
		return c.DisplayName
	case c.Handle != "":
		return c.Handle
	default:
		return c.AgentID
	}
}

// About returns the portfolio About copy, or "" when the agent has no portfolio.
func (c *AgentContext) About() string {
	if c.Portfolio == nil {
		return ""
	}
	return c.Portfolio.About
}

// AvailableAt reports whether t falls inside the agent's working hours and
// not on an off day. An agent without working hours is always available.
func (c *AgentContext) AvailableAt(t time.Time) bool {
	loc := time.UTC
	if c.WorkingHours != nil && c.WorkingHours.Timezone != "" {
		if l, err := time.LoadLocation(c.WorkingHours.Timezone); err == nil {
			loc = l
		}
	}
	local := t.In(loc)
	if slices.Contains(c.OffDays, local.Weekday()) {
		return false
	}
	if c.WorkingHours == nil {
		return true
	}
	start, okStart := clockMinutes(c.WorkingHours.Start)
	end, okEnd := clockMinutes(c.WorkingHours.End)
	if !okStart || !okEnd {
		return true
	}
	now := local.Hour()*60 + local.Minute()
	if start <= end {
		return now >= start && now < end
	}
	// Window wraps midnight, e.g. 22:00-06:00.
	return now >= start || now < end
}

func clockMinutes(s string) (int, bool) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}
