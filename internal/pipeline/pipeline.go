// Package pipeline handles one public chat message end to end: admission
// control, context resolution, reply generation, lead decisioning, and the
// background bookkeeping that follows the reply.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/sells-group/portfolio-chat/internal/config"
	"github.com/sells-group/portfolio-chat/internal/cost"
	"github.com/sells-group/portfolio-chat/internal/credits"
	"github.com/sells-group/portfolio-chat/internal/crm"
	"github.com/sells-group/portfolio-chat/internal/lead"
	"github.com/sells-group/portfolio-chat/internal/model"
	"github.com/sells-group/portfolio-chat/internal/notify"
	"github.com/sells-group/portfolio-chat/internal/observability"
	"github.com/sells-group/portfolio-chat/internal/ratelimit"
	"github.com/sells-group/portfolio-chat/internal/reply"
	"github.com/sells-group/portfolio-chat/internal/resilience"
	"github.com/sells-group/portfolio-chat/internal/resolve"
	"github.com/sells-group/portfolio-chat/internal/store"
)

// Canned replies shown to visitors instead of a generated answer.
const (
	UnavailableReply = "I'm taking a short break right now. Please try again in a few minutes."
	FallbackReply    = "Sorry, I'm having trouble responding right now. Please try again in a moment."
)

// Admission is the three-tier rate limit check.
type Admission interface {
	Check(ctx context.Context, keys ratelimit.Keys) ratelimit.Decision
}

// HistorySource loads earlier turns of a session when the caller does not
// send them.
type HistorySource interface {
	ListChatTurns(ctx context.Context, agentID, sessionID string, limit int) ([]model.ChatTurn, error)
}

// Alerter is told when a handle's failure guard opens.
type Alerter interface {
	BreakerOpened(ctx context.Context, handle string, failures int, blockedUntil time.Time) error
}

// Deps are the collaborators a Pipeline runs against. History, Alerter,
// Sinks and Costs are optional.
type Deps struct {
	Admission Admission
	Guard     resilience.FailureGuard
	Resolver  resolve.Resolver
	Meter     credits.Meter
	Generator reply.Generator
	Policy    *lead.Policy
	Recorder  store.Recorder
	Notifier  notify.Notifier

	History HistorySource
	Alerter Alerter
	Sinks   []crm.Sink
	Costs   *cost.Calculator
}

// Options tune the pipeline.
type Options struct {
	HistoryLimit      int
	ReplyTimeout      time.Duration
	BackgroundTimeout time.Duration
	SupportedModels   []string
	MinTemperature    float64
	MaxTemperature    float64
	MaxMessageChars   int
}

// OptionsFromConfig converts the pipeline config section.
func OptionsFromConfig(c config.PipelineConfig) Options {
	return Options{
		HistoryLimit:      c.HistoryLimit,
		ReplyTimeout:      time.Duration(c.ReplyTimeoutSecs) * time.Second,
		BackgroundTimeout: time.Duration(c.BackgroundTimeoutSecs) * time.Second,
		SupportedModels:   c.SupportedModels,
		MinTemperature:    c.MinTemperature,
		MaxTemperature:    c.MaxTemperature,
		MaxMessageChars:   c.MaxMessageChars,
	}
}

// Input is one visitor message. Exactly one of Handle (public site) and
// AgentID (embed) identifies the agent.
type Input struct {
	Handle       string
	AgentID      string
	Message      string
	History      []model.ChatTurn
	SessionID    string
	CallerIP     string
	CallerUserID string
}

// Result is the successful response. It is returned for generated replies
// and for absorbed failures alike.
type Result struct {
	OK           bool   `json:"ok"`
	Reply        string `json:"reply"`
	LeadDetected bool   `json:"leadDetected"`
	SessionID    string `json:"sessionId"`
}

// Pipeline orchestrates a public chat request.
type Pipeline struct {
	deps    Deps
	opts    Options
	models  map[string]bool
	fanout  *FanOut
	nowFunc func() time.Time
	newID   func() string
}

// New creates a Pipeline.
func New(deps Deps, opts Options) *Pipeline {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 10
	}
	if opts.ReplyTimeout <= 0 {
		opts.ReplyTimeout = 25 * time.Second
	}
	if deps.Policy == nil {
		deps.Policy = lead.DefaultPolicy()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.LogNotifier{}
	}
	models := make(map[string]bool, len(opts.SupportedModels))
	for _, m := range opts.SupportedModels {
		models[m] = true
	}
	return &Pipeline{
		deps:    deps,
		opts:    opts,
		models:  models,
		fanout:  NewFanOut(opts.BackgroundTimeout),
		nowFunc: time.Now,
		newID:   uuid.NewString,
	}
}

// Wait blocks until all background bookkeeping has finished.
func (p *Pipeline) Wait() {
	p.fanout.Wait()
}

// turn carries per-request state through the steps.
type turn struct {
	in         Input
	message    string
	sessionID  string
	newSession bool
	start      time.Time
	ac         *model.AgentContext
	log        *zap.Logger
	outcome    model.Outcome
}

// guardKey is the failure guard key for the route the request came in on:
// the handle for the public site, else the agent id.
func (t *turn) guardKey() string {
	if t.in.Handle != "" {
		return t.in.Handle
	}
	return agentGuardKey(t.in.AgentID)
}

// guardKeys lists every key the resolved agent is guarded under, route key
// first, so failures seen on one route also trip the other.
func (t *turn) guardKeys() []string {
	keys := []string{t.guardKey()}
	if t.ac == nil {
		return keys
	}
	if t.in.Handle == "" && t.ac.Handle != "" {
		keys = append(keys, t.ac.Handle)
	}
	if t.in.AgentID == "" && t.ac.AgentID != "" {
		keys = append(keys, agentGuardKey(t.ac.AgentID))
	}
	return keys
}

func agentGuardKey(agentID string) string {
	return "agent:" + agentID
}

func (t *turn) callerRole() string {
	switch {
	case t.in.CallerUserID == "":
		return "anonymous"
	case t.ac != nil && t.in.CallerUserID == t.ac.OwnerID:
		return "owner"
	default:
		return "user"
	}
}

// HandlePublicChat runs one visitor message through the pipeline. It returns
// a *ChatError for admission and misconfiguration rejections; any other
// failure is absorbed into a fallback reply.
func (p *Pipeline) HandlePublicChat(ctx context.Context, in Input) (res *Result, err error) {
	t := &turn{in: in, sessionID: in.SessionID, start: p.nowFunc()}
	if t.sessionID == "" {
		t.sessionID = p.newID()
		t.newSession = true
	}
	t.log = zap.L().With(
		zap.String("handle", in.Handle),
		zap.String("agent_id", in.AgentID),
		zap.String("session_id", t.sessionID),
	)

	ctx, span := observability.StartSpan(ctx, "pipeline.handle_public_chat",
		attribute.String("chat.handle", in.Handle),
		attribute.String("chat.agent_id", in.AgentID),
		attribute.String("chat.session_id", t.sessionID),
	)
	defer func() {
		if r := recover(); r != nil {
			res, err = p.absorb(ctx, t, eris.Errorf("panic: %v", r)), nil
		}
		if res != nil {
			span.SetAttributes(attribute.Bool("chat.lead_detected", res.LeadDetected))
		}
		span.SetAttributes(attribute.String("chat.outcome", string(t.outcome)))
		observability.EndSpan(span, err)
	}()

	res, err = p.handle(ctx, t)
	if err != nil {
		var ce *ChatError
		if errors.As(err, &ce) {
			t.log.Info("pipeline: request rejected",
				zap.String("code", ce.Code),
				zap.Int("status", ce.Status),
				zap.Error(ce.Err),
			)
			return nil, ce
		}
		return p.absorb(ctx, t, err), nil
	}
	return res, nil
}

func (p *Pipeline) handle(ctx context.Context, t *turn) (*Result, error) {
	in := t.in
	if (in.Handle == "") == (in.AgentID == "") {
		return nil, errInvalidRequest("exactly one of handle or agent id is required")
	}

	decision := p.deps.Admission.Check(ctx, ratelimit.Keys{IP: in.CallerIP, Handle: in.Handle, Agent: in.AgentID})
	if !decision.Allowed {
		return nil, errRateLimited(string(decision.Tier))
	}

	msg, ok := normalizeMessage(in.Message, p.opts.MaxMessageChars)
	if !ok {
		return nil, errInvalidRequest("message is empty")
	}
	t.message = msg

	status, err := p.deps.Guard.Check(ctx, t.guardKey())
	if err != nil {
		t.log.Warn("pipeline: failure guard check failed, continuing", zap.Error(err))
	}
	if status.IsOpen() {
		t.outcome = model.OutcomeUnavailable
		t.log.Info("pipeline: failure guard open, serving canned reply",
			zap.Time("blocked_until", status.BlockedUntil),
		)
		return &Result{OK: true, Reply: UnavailableReply, SessionID: t.sessionID}, nil
	}

	if in.CallerUserID != "" {
		if err := p.deps.Meter.Check(ctx, in.CallerUserID); err != nil {
			if errors.Is(err, credits.ErrInsufficient) {
				return nil, errInsufficientCredits(err)
			}
			return nil, eris.Wrap(err, "pipeline: credit check")
		}
	}

	ac, err := p.resolve(ctx, in)
	if ac != nil {
		t.ac = ac
		// The route named one of handle or agent; the other tier is only
		// known now.
		if d := p.deps.Admission.Check(ctx, resolvedKeys(in, ac)); !d.Allowed {
			return nil, errRateLimited(string(d.Tier))
		}
		// Unpublished portfolios are private to their owner.
		if ac.PortfolioBacked() && !ac.IsPublished && in.CallerUserID != ac.OwnerID {
			return nil, errNotFound(eris.New("portfolio is not published"))
		}
	}
	switch {
	case errors.Is(err, resolve.ErrNotFound):
		return nil, errNotFound(err)
	case errors.Is(err, resolve.ErrAgentUnavailable):
		t.outcome = model.OutcomeUnavailable
		p.logTelemetrySync(ctx, p.telemetry(t, model.ErrorTypeNone, model.FallbackAgentUnavailable, nil))
		return nil, errUnavailable(err)
	case err != nil:
		return nil, eris.Wrap(err, "pipeline: resolve context")
	}

	if reason := p.validate(ac); reason != model.FallbackNone {
		t.outcome = model.OutcomeMisconfigured
		t.log.Warn("pipeline: agent misconfigured",
			zap.String("reason", string(reason)),
			zap.String("model", ac.Model),
			zap.Float64("temperature", ac.Temperature),
		)
		p.logTelemetrySync(ctx, p.telemetry(t, model.ErrorTypeNone, reason, nil))
		return nil, errMisconfigured(reason)
	}

	history := p.history(ctx, t)

	out, genErr := p.generate(ctx, reply.Request{
		Agent:   ac,
		Message: msg,
		History: history,
		Now:     t.start,
	})

	g := &generation{out: out, err: genErr, history: history}
	if genErr != nil {
		g.errType = resilience.Classify(genErr)
		if errors.Is(genErr, errGeneratorPanic) {
			g.errType = model.ErrorTypeInternal
		}
		t.outcome = model.OutcomeGenerationError
		t.log.Warn("pipeline: reply generation failed",
			zap.String("error_type", string(g.errType)),
			zap.Error(genErr),
		)
	} else {
		t.outcome = model.OutcomeSuccess
		industry := p.deps.Policy.IndustryHint(ac.About())
		g.decision = p.deps.Policy.Decide(ac.StrategyMode, industry, out.Lead, lead.ParseChannels(msg))
		g.industry = industry
	}

	p.updateGuard(ctx, t, genErr)

	res := &Result{OK: true, Reply: FallbackReply, SessionID: t.sessionID}
	if genErr == nil {
		res.Reply = out.Reply
		res.LeadDetected = g.decision.Detected
	}

	p.dispatchBookkeeping(ctx, t, g, res)
	return res, nil
}

var errGeneratorPanic = eris.New("reply generator panicked")

// generate calls the reply generator under the reply timeout. A panic in the
// generator is returned as an error so it still counts against the guard.
func (p *Pipeline) generate(ctx context.Context, req reply.Request) (out *reply.Result, err error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.ReplyTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, eris.Wrapf(errGeneratorPanic, "%v", r)
		}
	}()
	return p.deps.Generator.Generate(ctx, req)
}

// resolvedKeys returns the admission keys the route did not carry.
func resolvedKeys(in Input, ac *model.AgentContext) ratelimit.Keys {
	var keys ratelimit.Keys
	if in.Handle == "" {
		keys.Handle = ac.Handle
	}
	if in.AgentID == "" {
		keys.Agent = ac.AgentID
	}
	return keys
}

// generation is the outcome of the reply generator call.
type generation struct {
	out      *reply.Result
	err      error
	errType  model.ErrorType
	decision lead.Decision
	industry string
	history  []model.ChatTurn
}

func (g *generation) usage() model.TokenUsage {
	if g.out == nil {
		return model.TokenUsage{}
	}
	return g.out.Usage
}

func (p *Pipeline) resolve(ctx context.Context, in Input) (*model.AgentContext, error) {
	if in.AgentID != "" {
		return p.deps.Resolver.ByAgentID(ctx, in.AgentID)
	}
	return p.deps.Resolver.ByHandle(ctx, in.Handle)
}

// validate returns the misconfiguration reason for ac, or FallbackNone.
func (p *Pipeline) validate(ac *model.AgentContext) model.FallbackReason {
	if ac.Model == "" || (len(p.models) > 0 && !p.models[ac.Model]) {
		return model.FallbackModelMisconfigured
	}
	if ac.Temperature < p.opts.MinTemperature || ac.Temperature > p.opts.MaxTemperature {
		return model.FallbackTemperatureMisconfigured
	}
	return model.FallbackNone
}

// history returns the bounded conversation history. Caller-supplied history
// wins; otherwise earlier turns of a known session are loaded.
func (p *Pipeline) history(ctx context.Context, t *turn) []model.ChatTurn {
	h := t.in.History
	if h == nil && !t.newSession && p.deps.History != nil {
		loaded, err := p.deps.History.ListChatTurns(ctx, t.ac.AgentID, t.sessionID, p.opts.HistoryLimit)
		if err != nil {
			t.log.Warn("pipeline: load history failed, continuing without", zap.Error(err))
		}
		h = loaded
	}
	return model.BoundHistory(h, p.opts.HistoryLimit)
}

// updateGuard feeds the generation outcome into the failure guard under
// every key of the agent. Guard errors only degrade protection, so they are
// logged. At most one alert is sent per turn.
func (p *Pipeline) updateGuard(ctx context.Context, t *turn, genErr error) {
	alerted := false
	for _, key := range t.guardKeys() {
		if genErr == nil {
			if err := p.deps.Guard.RecordSuccess(ctx, key); err != nil {
				t.log.Warn("pipeline: failure guard reset failed", zap.String("key", key), zap.Error(err))
			}
			continue
		}
		status, err := p.deps.Guard.RecordFailure(ctx, key)
		if err != nil {
			t.log.Warn("pipeline: failure guard update failed", zap.String("key", key), zap.Error(err))
			continue
		}
		if !status.Opened || alerted {
			continue
		}
		alerted = true
		t.log.Warn("pipeline: failure guard opened",
			zap.String("key", key),
			zap.Int("failures", status.Failures),
			zap.Time("blocked_until", status.BlockedUntil),
		)
		if p.deps.Alerter != nil {
			p.fanout.Dispatch(ctx, t.log, Task{Name: "breaker_alert", Run: func(ctx context.Context) error {
				return p.deps.Alerter.BreakerOpened(ctx, key, status.Failures, status.BlockedUntil)
			}})
		}
	}
}

// absorb converts an unexpected failure into the fallback reply.
func (p *Pipeline) absorb(ctx context.Context, t *turn, err error) *Result {
	t.outcome = model.OutcomeInternalError
	t.log.Error("pipeline: internal error absorbed", zap.Error(err))

	ev := p.telemetry(t, model.ErrorTypeInternal, model.FallbackInternalError, nil)
	ev.Metadata["error"] = err.Error()
	p.fanout.Dispatch(ctx, t.log, Task{Name: "telemetry", Run: func(ctx context.Context) error {
		return p.deps.Recorder.LogTelemetryEvent(ctx, ev)
	}})
	return &Result{OK: true, Reply: FallbackReply, SessionID: t.sessionID}
}

func (p *Pipeline) logTelemetrySync(ctx context.Context, ev *model.TelemetryEvent) {
	if err := p.deps.Recorder.LogTelemetryEvent(ctx, ev); err != nil {
		zap.L().Warn("pipeline: telemetry write failed",
			zap.String("session_id", ev.SessionID),
			zap.Error(err),
		)
	}
}

// telemetry builds the audit event for the request so far.
func (p *Pipeline) telemetry(t *turn, errType model.ErrorType, reason model.FallbackReason, g *generation) *model.TelemetryEvent {
	ev := &model.TelemetryEvent{
		ID:             p.newID(),
		Handle:         t.in.Handle,
		AgentID:        t.in.AgentID,
		SessionID:      t.sessionID,
		Outcome:        t.outcome,
		ErrorType:      errType,
		FallbackReason: reason,
		LatencyMS:      p.nowFunc().Sub(t.start).Milliseconds(),
		Metadata: map[string]any{
			"caller":      t.callerRole(),
			"new_session": t.newSession,
		},
		CreatedAt: p.nowFunc().UTC(),
	}
	if t.ac != nil {
		ev.AgentID = t.ac.AgentID
		if ev.Handle == "" {
			ev.Handle = t.ac.Handle
		}
		ev.Model = t.ac.Model
		ev.StrategyMode = t.ac.StrategyMode
		ev.Metadata["temperature"] = t.ac.Temperature
	}
	if g != nil {
		ev.Usage = g.usage()
		if g.out != nil && g.out.Model != "" {
			ev.Model = g.out.Model
		}
		if g.out != nil {
			ev.LeadCandidate = g.out.Lead.LeadDetected
			ev.LeadConfidence = g.out.Lead.Confidence
		}
		ev.LeadDetected = g.decision.Detected
		ev.Metadata["history_turns"] = len(g.history)
		if g.err == nil {
			ev.Metadata["lead_threshold"] = g.decision.Threshold
			ev.Metadata["lead_fields_sufficient"] = g.decision.Sufficient
			if g.industry != "" {
				ev.Metadata["industry_hint"] = g.industry
			}
		}
		if p.deps.Costs != nil {
			ev.EstimatedCostUSD = p.deps.Costs.Usage(ev.Model, ev.Usage)
		}
	}
	return ev
}

// normalizeMessage trims msg and truncates it to limit runes. It reports
// false for an empty message.
func normalizeMessage(msg string, limit int) (string, bool) {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return "", false
	}
	if limit > 0 && utf8.RuneCountInString(msg) > limit {
		msg = strings.TrimSpace(string([]rune(msg)[:limit]))
	}
	return msg, true
}
