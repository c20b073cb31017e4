// Package reply generates agent replies and the model's lead opinion for a
// visitor message.
package reply

import (
	"context"
	"time"

	"github.com/sells-group/portfolio-chat/internal/model"
)

// Request is the conversation state handed to a Generator.
type Request struct {
	Agent   *model.AgentContext
	Message string
	// History is already bounded and oldest first.
	History []model.ChatTurn
	Now     time.Time
}

// Result is a generated reply.
type Result struct {
	Reply string
	Lead  model.LeadCandidate
	Usage model.TokenUsage
	Model string
}

// Generator produces a reply for one visitor message. Errors are classified
// with resilience.Classify.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Result, error)
}
