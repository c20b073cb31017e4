// Package store persists chat turns, leads, telemetry and analytics, and
// serves the agent/portfolio directory and credit balances the chat pipeline
// reads.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/portfolio-chat/internal/model"
)

var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = eris.New("store: not found")
	// ErrInsufficientCredits is returned when a debit would take a balance below zero.
	ErrInsufficientCredits = eris.New("store: insufficient credits")
)

// User is an account that owns portfolios and agents and holds credits.
type User struct {
	ID      string `json:"id" yaml:"id"`
	Email   string `json:"email" yaml:"email"`
	Credits int64  `json:"credits" yaml:"credits"`
}

// PortfolioRecord is a portfolio row.
type PortfolioRecord struct {
	ID                string              `json:"id" yaml:"id"`
	OwnerID           string              `json:"owner_id" yaml:"owner_id"`
	Handle            string              `json:"handle" yaml:"handle"`
	Title             string              `json:"title" yaml:"title"`
	About             string              `json:"about" yaml:"about"`
	IsPublished       bool                `json:"is_published" yaml:"is_published"`
	WorkingHours      *model.WorkingHours `json:"working_hours,omitempty" yaml:"working_hours"`
	OffDays           []time.Weekday      `json:"off_days,omitempty" yaml:"off_days"`
	NotificationEmail string              `json:"notification_email,omitempty" yaml:"notification_email"`
}

// AgentRecord is an agent row. PortfolioID is empty for standalone (embed
// only) agents. A nil WorkingHours or OffDays means "inherit from the
// portfolio".
type AgentRecord struct {
	ID                string              `json:"id" yaml:"id"`
	OwnerID           string              `json:"owner_id" yaml:"owner_id"`
	PortfolioID       string              `json:"portfolio_id,omitempty" yaml:"portfolio_id"`
	IsEnabled         bool                `json:"is_enabled" yaml:"is_enabled"`
	Model             string              `json:"model" yaml:"model"`
	Temperature       float64             `json:"temperature" yaml:"temperature"`
	BehaviorType      string              `json:"behavior_type" yaml:"behavior_type"`
	StrategyMode      string              `json:"strategy_mode" yaml:"strategy_mode"`
	CustomPrompt      string              `json:"custom_prompt" yaml:"custom_prompt"`
	DisplayName       string              `json:"display_name" yaml:"display_name"`
	AvatarURL         string              `json:"avatar_url" yaml:"avatar_url"`
	Intro             string              `json:"intro" yaml:"intro"`
	Role              string              `json:"role" yaml:"role"`
	WorkingHours      *model.WorkingHours `json:"working_hours,omitempty" yaml:"working_hours"`
	OffDays           []time.Weekday      `json:"off_days,omitempty" yaml:"off_days"`
	NotificationEmail string              `json:"notification_email,omitempty" yaml:"notification_email"`
}

// Recorder is the write side used by the chat pipeline's background fan-out.
type Recorder interface {
	SaveChatMessage(ctx context.Context, turn model.ChatTurn) error
	SaveLeadWithDedup(ctx context.Context, lead *model.Lead) (model.LeadWriteResult, error)
	LogTelemetryEvent(ctx context.Context, ev *model.TelemetryEvent) error
	TrackAnalyticsEvent(ctx context.Context, ev model.AnalyticsEvent) error
}

// Directory is the read side for agent and portfolio configuration.
type Directory interface {
	GetAgent(ctx context.Context, id string) (*AgentRecord, error)
	GetAgentByPortfolio(ctx context.Context, portfolioID string) (*AgentRecord, error)
	GetPortfolio(ctx context.Context, id string) (*PortfolioRecord, error)
	GetPortfolioByHandle(ctx context.Context, handle string) (*PortfolioRecord, error)
	GetUserEmail(ctx context.Context, userID string) (string, error)
}

// CreditLedger holds per-user usage balances.
type CreditLedger interface {
	GetCredits(ctx context.Context, userID string) (int64, error)
	// ConsumeCredits atomically debits amount and returns the new balance.
	// It fails with ErrInsufficientCredits rather than going negative.
	ConsumeCredits(ctx context.Context, userID string, amount int64) (int64, error)
}

// Store defines the full persistence interface.
type Store interface {
	Recorder
	Directory
	CreditLedger

	// ListChatTurns returns the most recent turns of a session, oldest first.
	ListChatTurns(ctx context.Context, agentID, sessionID string, limit int) ([]model.ChatTurn, error)
	GetLead(ctx context.Context, scopeKey, sessionID string) (*model.Lead, error)
	AnalyticsCount(ctx context.Context, portfolioID string, day time.Time, typ model.AnalyticsEventType) (int64, error)

	// Seeding, used by the seed command and tests.
	SaveUser(ctx context.Context, u User) error
	SavePortfolio(ctx context.Context, p PortfolioRecord) error
	SaveAgent(ctx context.Context, a AgentRecord) error

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// leadResult maps the revision returned by the dedup upsert.
func leadResult(revision int) model.LeadWriteResult {
	if revision == 0 {
		return model.LeadInserted
	}
	return model.LeadUpdated
}

// dayKey truncates t to the UTC calendar day used by analytics counters.
func dayKey(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func marshalOptional(v any, present bool) ([]byte, error) {
	if !present {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal")
	}
	return b, nil
}

func unmarshalHours(b []byte) (*model.WorkingHours, error) {
	if len(b) == 0 || string(b) == "null" {
		return nil, nil
	}
	var wh model.WorkingHours
	if err := json.Unmarshal(b, &wh); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal working hours")
	}
	return &wh, nil
}

func unmarshalOffDays(b []byte) ([]time.Weekday, error) {
	if len(b) == 0 || string(b) == "null" {
		return nil, nil
	}
	days := []time.Weekday{}
	if err := json.Unmarshal(b, &days); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal off days")
	}
	return days, nil
}
