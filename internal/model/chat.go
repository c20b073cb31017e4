// Package model defines the domain types shared across the chat pipeline.
package model

import "time"

// Role identifies the author of a chat turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// ChatTurn is a single append-only message in a visitor conversation.
type ChatTurn struct {
	SessionID string    `json:"session_id"`
	AgentID   string    `json:"agent_id,omitempty"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// BoundHistory returns the last limit turns of history, dropping turns with
// an unknown role or empty content. A non-positive limit returns nil.
func BoundHistory(history []ChatTurn, limit int) []ChatTurn {
	if limit <= 0 {
		return nil
	}
	clean := make([]ChatTurn, 0, len(history))
	for _, t := range history {
		if !t.Role.Valid() || t.Content == "" {
			continue
		}
		clean = append(clean, t)
	}
	if len(clean) > limit {
		clean = clean[len(clean)-limit:]
	}
	return clean
}

// CaptureTurn returns the 1-based index of the visitor turn that follows
// history, i.e. the number of user turns including the current one.
func CaptureTurn(history []ChatTurn) int {
	n := 1
	for _, t := range history {
		if t.Role == RoleUser {
			n++
		}
	}
	return n
}

// TokenUsage tracks model token consumption for one reply.
type TokenUsage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens,omitempty"`
}

// Total returns input plus output tokens.
func (u TokenUsage) Total() int64 {
	return u.InputTokens + u.OutputTokens
}
