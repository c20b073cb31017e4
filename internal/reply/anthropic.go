package reply

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/portfolio-chat/internal/model"
	"github.com/sells-group/portfolio-chat/internal/resilience"
	"github.com/sells-group/portfolio-chat/pkg/anthropic"
)

const defaultMaxTokens = 1024

// AnthropicGenerator implements Generator with the Anthropic Messages API.
type AnthropicGenerator struct {
	client    anthropic.Client
	maxTokens int64
	retry     resilience.RetryConfig
}

// NewAnthropicGenerator creates an AnthropicGenerator. retry governs
// transient API failures; the caller's context deadline bounds the whole
// call.
func NewAnthropicGenerator(client anthropic.Client, maxTokens int64, retry resilience.RetryConfig) *AnthropicGenerator {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("anthropic", "generate_reply")
	}
	return &AnthropicGenerator{client: client, maxTokens: maxTokens, retry: retry}
}

func (g *AnthropicGenerator) Generate(ctx context.Context, req Request) (*Result, error) {
	ac := req.Agent
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}

	temp := ac.Temperature
	msgReq := anthropic.MessageRequest{
		Model:       ac.Model,
		MaxTokens:   g.maxTokens,
		System:      anthropic.BuildSystemBlocks(buildPersona(ac), buildAvailability(ac, now)),
		Messages:    toMessages(req.History, req.Message),
		Temperature: &temp,
	}

	resp, err := resilience.DoVal(ctx, g.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		resp, err := g.client.CreateMessage(ctx, msgReq)
		if err != nil {
			if code := anthropic.StatusCode(err); resilience.IsTransientHTTPStatus(code) {
				return nil, resilience.NewTransientError(err, code)
			}
			return nil, err
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}

	usage := model.TokenUsage{
		InputTokens:              resp.Usage.InputTokens,
		OutputTokens:             resp.Usage.OutputTokens,
		CacheCreationInputTokens: resp.Usage.CacheCreationInputTokens,
		CacheReadInputTokens:     resp.Usage.CacheReadInputTokens,
	}

	text, lead, err := parseEnvelope(resp.Text())
	if err != nil {
		zap.L().Debug("reply: malformed envelope",
			zap.String("agent_id", ac.AgentID),
			zap.String("stop_reason", resp.StopReason),
		)
		return &Result{Usage: usage, Model: ac.Model}, err
	}

	return &Result{Reply: text, Lead: lead, Usage: usage, Model: ac.Model}, nil
}

// toMessages converts history plus the current visitor message into API
// messages. The API requires alternating roles starting with the user, so
// leading assistant turns are dropped and consecutive same-role turns merged.
func toMessages(history []model.ChatTurn, message string) []anthropic.Message {
	turns := append(append([]model.ChatTurn(nil), history...), model.ChatTurn{Role: model.RoleUser, Content: message})

	out := make([]anthropic.Message, 0, len(turns))
	for _, t := range turns {
		if len(out) == 0 && t.Role != model.RoleUser {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == string(t.Role) {
			out[n-1].Content += "\n\n" + t.Content
			continue
		}
		out = append(out, anthropic.Message{Role: string(t.Role), Content: t.Content})
	}
	return out
}

var _ Generator = (*AnthropicGenerator)(nil)
