package model

import "time"

// Outcome classifies how a chat request ended.
type Outcome string

const (
	OutcomeSuccess         Outcome = "success"
	OutcomeGenerationError Outcome = "generation_error"
	OutcomeMisconfigured   Outcome = "misconfigured"
	OutcomeUnavailable     Outcome = "unavailable"
	OutcomeInternalError   Outcome = "internal_error"
)

// ErrorType classifies a reply generation failure.
type ErrorType string

const (
	ErrorTypeNone      ErrorType = ""
	ErrorTypeTimeout   ErrorType = "timeout"
	ErrorTypeTransient ErrorType = "transient"
	ErrorTypeUpstream  ErrorType = "upstream_error"
	ErrorTypeMalformed ErrorType = "malformed_output"
	ErrorTypeInternal  ErrorType = "internal"
)

// FallbackReason names why a request did not get a generated reply.
type FallbackReason string

const (
	FallbackNone                     FallbackReason = ""
	FallbackModelMisconfigured       FallbackReason = "AgentModelMisconfigured"
	FallbackTemperatureMisconfigured FallbackReason = "AgentTemperatureMisconfigured"
	FallbackAgentUnavailable         FallbackReason = "AgentUnavailable"
	FallbackGenerationFailed         FallbackReason = "ReplyGenerationFailed"
	FallbackInternalError            FallbackReason = "InternalError"
)

// TelemetryEvent is the audit record written once per chat request.
type TelemetryEvent struct {
	ID               string         `json:"id"`
	Handle           string         `json:"handle"`
	AgentID          string         `json:"agent_id,omitempty"`
	SessionID        string         `json:"session_id"`
	Model            string         `json:"model,omitempty"`
	StrategyMode     StrategyMode   `json:"strategy_mode,omitempty"`
	Usage            TokenUsage     `json:"usage"`
	LeadCandidate    bool           `json:"lead_candidate"`
	LeadDetected     bool           `json:"lead_detected"`
	LeadConfidence   int            `json:"lead_confidence"`
	Outcome          Outcome        `json:"outcome"`
	ErrorType        ErrorType      `json:"error_type,omitempty"`
	FallbackReason   FallbackReason `json:"fallback_reason,omitempty"`
	LatencyMS        int64          `json:"latency_ms"`
	CreditCost       int64          `json:"credit_cost"`
	EstimatedCostUSD float64        `json:"estimated_cost_usd"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// AnalyticsEventType names a portfolio analytics counter.
type AnalyticsEventType string

const (
	AnalyticsChatMessage      AnalyticsEventType = "chat_message"
	AnalyticsChatSessionStart AnalyticsEventType = "chat_session_start"
	AnalyticsLeadCaptured     AnalyticsEventType = "lead_captured"
)

// AnalyticsEvent is a page/session analytics hit for a published portfolio.
type AnalyticsEvent struct {
	PortfolioID string             `json:"portfolio_id"`
	Type        AnalyticsEventType `json:"type"`
	SessionID   string             `json:"session_id"`
	OccurredAt  time.Time          `json:"occurred_at"`
}
