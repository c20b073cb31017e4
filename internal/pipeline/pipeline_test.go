package pipeline

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/portfolio-chat/internal/cost"
	"github.com/sells-group/portfolio-chat/internal/credits"
	creditsmocks "github.com/sells-group/portfolio-chat/internal/credits/mocks"
	crmmocks "github.com/sells-group/portfolio-chat/internal/crm/mocks"
	"github.com/sells-group/portfolio-chat/internal/lead"
	"github.com/sells-group/portfolio-chat/internal/model"
	notifymocks "github.com/sells-group/portfolio-chat/internal/notify/mocks"
	"github.com/sells-group/portfolio-chat/internal/ratelimit"
	ratelimitmocks "github.com/sells-group/portfolio-chat/internal/ratelimit/mocks"
	"github.com/sells-group/portfolio-chat/internal/reply"
	replymocks "github.com/sells-group/portfolio-chat/internal/reply/mocks"
	"github.com/sells-group/portfolio-chat/internal/resilience"
	"github.com/sells-group/portfolio-chat/internal/resolve"
	resolvemocks "github.com/sells-group/portfolio-chat/internal/resolve/mocks"
)

const testModel = "claude-haiku-4-5-20251001"

// fakeRecorder is an in-memory store.Recorder with dedup semantics.
type fakeRecorder struct {
	mu        sync.Mutex
	turns     []model.ChatTurn
	leads     map[string]*model.Lead
	results   []model.LeadWriteResult
	telemetry []*model.TelemetryEvent
	analytics []model.AnalyticsEvent
	turnErr   error
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{leads: map[string]*model.Lead{}}
}

func (r *fakeRecorder) SaveChatMessage(_ context.Context, turn model.ChatTurn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.turnErr != nil {
		return r.turnErr
	}
	r.turns = append(r.turns, turn)
	return nil
}

func (r *fakeRecorder) SaveLeadWithDedup(_ context.Context, ld *model.Lead) (model.LeadWriteResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := ld.ScopeKey() + "|" + ld.SessionID
	res := model.LeadInserted
	if existing, ok := r.leads[key]; ok {
		ld.ID = existing.ID
		res = model.LeadUpdated
	}
	r.leads[key] = ld
	r.results = append(r.results, res)
	return res, nil
}

func (r *fakeRecorder) LogTelemetryEvent(_ context.Context, ev *model.TelemetryEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.telemetry = append(r.telemetry, ev)
	return nil
}

func (r *fakeRecorder) TrackAnalyticsEvent(_ context.Context, ev model.AnalyticsEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.analytics = append(r.analytics, ev)
	return nil
}

func (r *fakeRecorder) analyticsTypes() []model.AnalyticsEventType {
	var out []model.AnalyticsEventType
	for _, ev := range r.analytics {
		out = append(out, ev.Type)
	}
	return out
}

type fakeAlerter struct {
	mu     sync.Mutex
	alerts []string
}

func (a *fakeAlerter) BreakerOpened(_ context.Context, handle string, _ int, _ time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, handle)
	return nil
}

type harness struct {
	p        *Pipeline
	limiter  *ratelimitmocks.MockLimiter
	guard    *resilience.MemoryGuard
	resolver *resolvemocks.MockResolver
	meter    *creditsmocks.MockMeter
	gen      *replymocks.MockGenerator
	notifier *notifymocks.MockNotifier
	rec      *fakeRecorder
	alerter  *fakeAlerter
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		limiter:  ratelimitmocks.NewMockLimiter(t),
		guard:    resilience.NewMemoryGuard(resilience.GuardConfig{FailureThreshold: 3, Cooldown: time.Minute}),
		resolver: resolvemocks.NewMockResolver(t),
		meter:    creditsmocks.NewMockMeter(t),
		gen:      replymocks.NewMockGenerator(t),
		notifier: notifymocks.NewMockNotifier(t),
		rec:      newFakeRecorder(),
		alerter:  &fakeAlerter{},
	}
	h.limiter.On("Allow", mock.Anything, mock.Anything, mock.Anything).Return(true, nil).Maybe()
	h.meter.On("PerMessage").Return(int64(1)).Maybe()

	h.p = New(Deps{
		Admission: ratelimit.NewTiered(h.limiter),
		Guard:     h.guard,
		Resolver:  h.resolver,
		Meter:     h.meter,
		Generator: h.gen,
		Policy:    lead.DefaultPolicy(),
		Recorder:  h.rec,
		Notifier:  h.notifier,
		Alerter:   h.alerter,
		Costs:     cost.NewCalculator(cost.DefaultRates()),
	}, Options{
		HistoryLimit:      10,
		ReplyTimeout:      time.Second,
		BackgroundTimeout: time.Second,
		SupportedModels:   []string{testModel},
		MinTemperature:    0.2,
		MaxTemperature:    0.8,
		MaxMessageChars:   200,
	})
	h.p.nowFunc = func() time.Time { return time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC) }
	return h
}

func testContext(mode model.StrategyMode) *model.AgentContext {
	return &model.AgentContext{
		AgentID:      "agent-1",
		PortfolioID:  "pf-1",
		Handle:       "ada",
		OwnerID:      "owner-1",
		IsEnabled:    true,
		Model:        testModel,
		Temperature:  0.5,
		StrategyMode: mode,
		DisplayName:  "Ada",
		Portfolio:    &model.PortfolioContent{Title: "Ada Builds", About: "Independent software developer"},
		IsPublished:  true,
	}
}

func visitorInput(msg string) Input {
	return Input{Handle: "ada", Message: msg, SessionID: "sess-1", CallerIP: "203.0.113.7"}
}

func salesReply(confidence int) *reply.Result {
	return &reply.Result{
		Reply: "Thanks! I'll pass this on.",
		Lead: model.LeadCandidate{
			LeadDetected: true,
			Confidence:   confidence,
			LeadData:     model.LeadData{Name: "Grace", Email: "grace@example.com", Budget: "$10k"},
		},
		Usage: model.TokenUsage{InputTokens: 1200, OutputTokens: 80},
		Model: testModel,
	}
}

func TestHandlePublicChat_SalesLeadInsertedAndNotifiedOnce(t *testing.T) {
	h := newHarness(t)
	ac := testContext(model.StrategySales)
	h.resolver.On("ByHandle", mock.Anything, "ada").Return(ac, nil)
	h.gen.On("Generate", mock.Anything, mock.MatchedBy(func(req reply.Request) bool {
		return req.Agent == ac && req.Message == "I'm grace@example.com and my budget is $10k"
	})).Return(salesReply(85), nil)
	h.meter.On("Charge", mock.Anything, "owner-1").Return(nil).Once()
	h.resolver.On("OwnerEmail", mock.Anything, ac).Return("ada@example.com", nil).Once()
	h.notifier.On("SendLeadNotification", mock.Anything, "ada@example.com",
		mock.MatchedBy(func(f model.LeadFields) bool { return f.Email == "grace@example.com" && f.Budget == "$10k" }),
		"Ada Builds").Return(nil).Once()

	res, err := h.p.HandlePublicChat(context.Background(), visitorInput("  I'm grace@example.com and my budget is $10k "))
	require.NoError(t, err)
	h.p.Wait()

	assert.True(t, res.OK)
	assert.True(t, res.LeadDetected)
	assert.Equal(t, "Thanks! I'll pass this on.", res.Reply)
	assert.Equal(t, "sess-1", res.SessionID)

	require.Equal(t, []model.LeadWriteResult{model.LeadInserted}, h.rec.results)
	require.Len(t, h.rec.turns, 2)
	assert.Equal(t, model.RoleUser, h.rec.turns[0].Role)
	assert.Equal(t, model.RoleAssistant, h.rec.turns[1].Role)

	require.Len(t, h.rec.telemetry, 1)
	ev := h.rec.telemetry[0]
	assert.Equal(t, model.OutcomeSuccess, ev.Outcome)
	assert.True(t, ev.LeadDetected)
	assert.Equal(t, 85, ev.LeadConfidence)
	assert.Equal(t, int64(1), ev.CreditCost)
	assert.Greater(t, ev.EstimatedCostUSD, 0.0)

	assert.ElementsMatch(t, []model.AnalyticsEventType{model.AnalyticsChatMessage, model.AnalyticsLeadCaptured}, h.rec.analyticsTypes())
	assert.Equal(t, 0, h.guard.Failures("ada"))
}

func TestHandlePublicChat_SecondQualifyingTurnUpdatesLead(t *testing.T) {
	h := newHarness(t)
	ac := testContext(model.StrategySales)
	h.resolver.On("ByHandle", mock.Anything, "ada").Return(ac, nil)
	h.gen.On("Generate", mock.Anything, mock.Anything).Return(salesReply(90), nil)
	h.meter.On("Charge", mock.Anything, "owner-1").Return(nil).Twice()
	h.resolver.On("OwnerEmail", mock.Anything, ac).Return("ada@example.com", nil).Once()
	h.notifier.On("SendLeadNotification", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	for range 2 {
		res, err := h.p.HandlePublicChat(context.Background(), visitorInput("grace@example.com, budget is $10k"))
		require.NoError(t, err)
		assert.True(t, res.LeadDetected)
		h.p.Wait()
	}

	assert.Equal(t, []model.LeadWriteResult{model.LeadInserted, model.LeadUpdated}, h.rec.results)
	assert.Len(t, h.rec.leads, 1)
}

func TestHandlePublicChat_RateLimitedRejectsWithoutSideEffects(t *testing.T) {
	for _, tier := range []ratelimit.Tier{ratelimit.TierIP, ratelimit.TierHandle} {
		t.Run(string(tier), func(t *testing.T) {
			h := newHarness(t)
			h.limiter.ExpectedCalls = nil
			h.limiter.On("Allow", mock.Anything, tier, mock.Anything).Return(false, nil)
			h.limiter.On("Allow", mock.Anything, mock.Anything, mock.Anything).Return(true, nil).Maybe()

			res, err := h.p.HandlePublicChat(context.Background(), visitorInput("hello"))
			h.p.Wait()

			assert.Nil(t, res)
			var ce *ChatError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, http.StatusTooManyRequests, ce.Status)
			assert.Equal(t, CodeRateLimited, ce.Code)
			h.gen.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
			h.meter.AssertNotCalled(t, "Charge", mock.Anything, mock.Anything)
			h.meter.AssertNotCalled(t, "Check", mock.Anything, mock.Anything)
			assert.Empty(t, h.rec.telemetry)
		})
	}
}

func TestHandlePublicChat_AgentTierLimitsEmbeds(t *testing.T) {
	h := newHarness(t)
	h.limiter.ExpectedCalls = nil
	h.limiter.On("Allow", mock.Anything, ratelimit.TierIP, "203.0.113.7").Return(true, nil).Once()
	h.limiter.On("Allow", mock.Anything, ratelimit.TierAgent, "agent-1").Return(false, nil).Once()

	_, err := h.p.HandlePublicChat(context.Background(), Input{AgentID: "agent-1", Message: "hi", CallerIP: "203.0.113.7"})
	var ce *ChatError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, CodeRateLimited, ce.Code)
}

func TestHandlePublicChat_OpenGuardServesCannedReply(t *testing.T) {
	h := newHarness(t)
	for range 3 {
		_, err := h.guard.RecordFailure(context.Background(), "ada")
		require.NoError(t, err)
	}

	res, err := h.p.HandlePublicChat(context.Background(), Input{
		Handle: "ada", Message: "hello", CallerIP: "203.0.113.7", CallerUserID: "visitor-9",
	})
	require.NoError(t, err)
	h.p.Wait()

	assert.Equal(t, UnavailableReply, res.Reply)
	assert.False(t, res.LeadDetected)
	assert.NotEmpty(t, res.SessionID)
	h.gen.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
	h.meter.AssertNotCalled(t, "Check", mock.Anything, mock.Anything)
	h.resolver.AssertNotCalled(t, "ByHandle", mock.Anything, mock.Anything)
	assert.Empty(t, h.rec.telemetry)
}

func TestHandlePublicChat_TimeoutFeedsGuardOnce(t *testing.T) {
	h := newHarness(t)
	h.p.opts.ReplyTimeout = 20 * time.Millisecond
	h.resolver.On("ByHandle", mock.Anything, "ada").Return(testContext(model.StrategySales), nil)
	h.gen.On("Generate", mock.Anything, mock.Anything).Return(
		func(ctx context.Context, _ reply.Request) (*reply.Result, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})

	res, err := h.p.HandlePublicChat(context.Background(), visitorInput("grace@example.com budget is $10k"))
	require.NoError(t, err)
	h.p.Wait()

	assert.Equal(t, FallbackReply, res.Reply)
	assert.False(t, res.LeadDetected)
	assert.Equal(t, 1, h.guard.Failures("ada"))
	h.meter.AssertNotCalled(t, "Charge", mock.Anything, mock.Anything)

	require.Len(t, h.rec.telemetry, 1)
	ev := h.rec.telemetry[0]
	assert.Equal(t, model.OutcomeGenerationError, ev.Outcome)
	assert.Equal(t, model.ErrorTypeTimeout, ev.ErrorType)
	assert.Equal(t, model.FallbackGenerationFailed, ev.FallbackReason)
	assert.Zero(t, ev.CreditCost)

	require.Len(t, h.rec.turns, 1)
	assert.Equal(t, model.RoleUser, h.rec.turns[0].Role)
}

func TestHandlePublicChat_SuccessResetsGuard(t *testing.T) {
	h := newHarness(t)
	for range 2 {
		_, err := h.guard.RecordFailure(context.Background(), "ada")
		require.NoError(t, err)
	}
	h.resolver.On("ByHandle", mock.Anything, "ada").Return(testContext(model.StrategyConsultative), nil)
	h.gen.On("Generate", mock.Anything, mock.Anything).Return(&reply.Result{Reply: "Hi!"}, nil)
	h.meter.On("Charge", mock.Anything, "owner-1").Return(nil)

	_, err := h.p.HandlePublicChat(context.Background(), visitorInput("hello"))
	require.NoError(t, err)
	h.p.Wait()

	assert.Equal(t, 0, h.guard.Failures("ada"))
}

func TestHandlePublicChat_ThirdFailureOpensGuardAndAlerts(t *testing.T) {
	h := newHarness(t)
	h.resolver.On("ByHandle", mock.Anything, "ada").Return(testContext(model.StrategySales), nil)
	h.gen.On("Generate", mock.Anything, mock.Anything).Return(nil, resilience.NewTransientError(errors.New("overloaded"), 529))

	for range 3 {
		res, err := h.p.HandlePublicChat(context.Background(), visitorInput("hello"))
		require.NoError(t, err)
		assert.Equal(t, FallbackReply, res.Reply)
	}
	h.p.Wait()

	st, err := h.guard.Check(context.Background(), "ada")
	require.NoError(t, err)
	assert.True(t, st.IsOpen())
	assert.Equal(t, []string{"ada"}, h.alerter.alerts)

	res, err := h.p.HandlePublicChat(context.Background(), visitorInput("hello again"))
	require.NoError(t, err)
	assert.Equal(t, UnavailableReply, res.Reply)
	h.gen.AssertNumberOfCalls(t, "Generate", 3)
}

func TestHandlePublicChat_PassiveNeverDetects(t *testing.T) {
	h := newHarness(t)
	h.resolver.On("ByHandle", mock.Anything, "ada").Return(testContext(model.StrategyPassive), nil)
	out := salesReply(100)
	out.Lead.LeadData.ProjectDetails = "A full rebuild of our booking platform"
	h.gen.On("Generate", mock.Anything, mock.Anything).Return(out, nil)
	h.meter.On("Charge", mock.Anything, "owner-1").Return(nil)

	res, err := h.p.HandlePublicChat(context.Background(), visitorInput("grace@example.com 512-555-0147 budget $10k"))
	require.NoError(t, err)
	h.p.Wait()

	assert.False(t, res.LeadDetected)
	assert.Empty(t, h.rec.results)
	require.Len(t, h.rec.telemetry, 1)
	assert.True(t, h.rec.telemetry[0].LeadCandidate)
	assert.False(t, h.rec.telemetry[0].LeadDetected)
}

func TestHandlePublicChat_ConfidenceBelowThreshold(t *testing.T) {
	h := newHarness(t)
	h.resolver.On("ByHandle", mock.Anything, "ada").Return(testContext(model.StrategySales), nil)
	h.gen.On("Generate", mock.Anything, mock.Anything).Return(salesReply(59), nil)
	h.meter.On("Charge", mock.Anything, "owner-1").Return(nil)

	res, err := h.p.HandlePublicChat(context.Background(), visitorInput("grace@example.com budget is $10k"))
	require.NoError(t, err)
	h.p.Wait()

	assert.False(t, res.LeadDetected)
	assert.Empty(t, h.rec.results)
}

func TestHandlePublicChat_ConsultativeInsufficientFields(t *testing.T) {
	h := newHarness(t)
	h.resolver.On("ByHandle", mock.Anything, "ada").Return(testContext(model.StrategyConsultative), nil)
	h.gen.On("Generate", mock.Anything, mock.Anything).Return(&reply.Result{
		Reply: "Tell me more!",
		Lead: model.LeadCandidate{
			LeadDetected: true,
			Confidence:   100,
			LeadData:     model.LeadData{ProjectDetails: "a small website"},
		},
	}, nil)
	h.meter.On("Charge", mock.Anything, "owner-1").Return(nil)

	res, err := h.p.HandlePublicChat(context.Background(), visitorInput("I need a small website"))
	require.NoError(t, err)
	h.p.Wait()

	assert.False(t, res.LeadDetected)
	assert.Empty(t, h.rec.results)
}

func TestHandlePublicChat_UnsupportedModel(t *testing.T) {
	h := newHarness(t)
	ac := testContext(model.StrategySales)
	ac.Model = "claude-2.1"
	h.resolver.On("ByHandle", mock.Anything, "ada").Return(ac, nil)

	res, err := h.p.HandlePublicChat(context.Background(), visitorInput("hello"))
	h.p.Wait()

	assert.Nil(t, res)
	var ce *ChatError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, http.StatusInternalServerError, ce.Status)
	assert.Equal(t, CodeAgentMisconfigured, ce.Code)
	assert.Equal(t, model.FallbackModelMisconfigured, ce.Reason)

	h.gen.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
	h.meter.AssertNotCalled(t, "Charge", mock.Anything, mock.Anything)
	require.Len(t, h.rec.telemetry, 1)
	assert.Equal(t, model.FallbackModelMisconfigured, h.rec.telemetry[0].FallbackReason)
	assert.Equal(t, model.OutcomeMisconfigured, h.rec.telemetry[0].Outcome)
}

func TestHandlePublicChat_TemperatureOutOfRange(t *testing.T) {
	for _, temp := range []float64{0.1, 0.9} {
		h := newHarness(t)
		ac := testContext(model.StrategySales)
		ac.Temperature = temp
		h.resolver.On("ByHandle", mock.Anything, "ada").Return(ac, nil)

		_, err := h.p.HandlePublicChat(context.Background(), visitorInput("hello"))
		var ce *ChatError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, model.FallbackTemperatureMisconfigured, ce.Reason)
		require.Len(t, h.rec.telemetry, 1)
		assert.Equal(t, model.FallbackTemperatureMisconfigured, h.rec.telemetry[0].FallbackReason)
	}
}

func TestHandlePublicChat_InsufficientCredits(t *testing.T) {
	h := newHarness(t)
	h.meter.On("Check", mock.Anything, "user-7").Return(credits.ErrInsufficient)

	_, err := h.p.HandlePublicChat(context.Background(), Input{
		Handle: "ada", Message: "hello", CallerUserID: "user-7", CallerIP: "203.0.113.7",
	})
	var ce *ChatError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, http.StatusPaymentRequired, ce.Status)
	h.resolver.AssertNotCalled(t, "ByHandle", mock.Anything, mock.Anything)
}

func TestHandlePublicChat_AuthenticatedCallerPays(t *testing.T) {
	h := newHarness(t)
	ac := testContext(model.StrategyConsultative)
	h.meter.On("Check", mock.Anything, "owner-1").Return(nil)
	h.resolver.On("ByHandle", mock.Anything, "ada").Return(ac, nil)
	h.gen.On("Generate", mock.Anything, mock.Anything).Return(&reply.Result{Reply: "Hi!"}, nil)
	h.meter.On("Charge", mock.Anything, "owner-1").Return(nil).Once()

	_, err := h.p.HandlePublicChat(context.Background(), Input{
		Handle: "ada", Message: "test", CallerUserID: "owner-1",
	})
	require.NoError(t, err)
	h.p.Wait()

	require.Len(t, h.rec.telemetry, 1)
	assert.Equal(t, "owner", h.rec.telemetry[0].Metadata["caller"])
}

func TestHandlePublicChat_NotFound(t *testing.T) {
	h := newHarness(t)
	h.resolver.On("ByHandle", mock.Anything, "ghost").Return(nil, resolve.ErrNotFound)

	_, err := h.p.HandlePublicChat(context.Background(), Input{Handle: "ghost", Message: "hi"})
	var ce *ChatError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, http.StatusNotFound, ce.Status)
	assert.Empty(t, h.rec.telemetry)
}

func TestHandlePublicChat_UnpublishedHiddenFromOutsiders(t *testing.T) {
	h := newHarness(t)
	ac := testContext(model.StrategySales)
	ac.IsPublished = false
	h.resolver.On("ByHandle", mock.Anything, "ada").Return(ac, nil)

	_, err := h.p.HandlePublicChat(context.Background(), visitorInput("hello"))
	var ce *ChatError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, CodeNotFound, ce.Code)
	h.gen.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestHandlePublicChat_UnpublishedVisibleToOwner(t *testing.T) {
	h := newHarness(t)
	ac := testContext(model.StrategySales)
	ac.IsPublished = false
	h.meter.On("Check", mock.Anything, "owner-1").Return(nil)
	h.resolver.On("ByHandle", mock.Anything, "ada").Return(ac, nil)
	h.gen.On("Generate", mock.Anything, mock.Anything).Return(&reply.Result{Reply: "Hi!"}, nil)
	h.meter.On("Charge", mock.Anything, "owner-1").Return(nil)

	res, err := h.p.HandlePublicChat(context.Background(), Input{Handle: "ada", Message: "hi", CallerUserID: "owner-1"})
	require.NoError(t, err)
	h.p.Wait()

	assert.Equal(t, "Hi!", res.Reply)
	assert.Empty(t, h.rec.analytics)
}

func TestHandlePublicChat_AgentUnavailable(t *testing.T) {
	h := newHarness(t)
	ac := testContext(model.StrategySales)
	ac.IsEnabled = false
	h.resolver.On("ByHandle", mock.Anything, "ada").Return(ac, resolve.ErrAgentUnavailable)

	_, err := h.p.HandlePublicChat(context.Background(), visitorInput("hello"))
	var ce *ChatError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, http.StatusServiceUnavailable, ce.Status)
	assert.Equal(t, model.FallbackAgentUnavailable, ce.Reason)
	require.Len(t, h.rec.telemetry, 1)
	assert.Equal(t, model.OutcomeUnavailable, h.rec.telemetry[0].Outcome)
}

func TestHandlePublicChat_EmptyMessage(t *testing.T) {
	h := newHarness(t)
	_, err := h.p.HandlePublicChat(context.Background(), visitorInput("   "))
	var ce *ChatError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, http.StatusBadRequest, ce.Status)
	assert.Equal(t, CodeInvalidRequest, ce.Code)
}

func TestHandlePublicChat_ResolverErrorAbsorbed(t *testing.T) {
	h := newHarness(t)
	h.resolver.On("ByHandle", mock.Anything, "ada").Return(nil, errors.New("connection refused"))

	res, err := h.p.HandlePublicChat(context.Background(), visitorInput("hello"))
	require.NoError(t, err)
	h.p.Wait()

	assert.True(t, res.OK)
	assert.Equal(t, FallbackReply, res.Reply)
	assert.False(t, res.LeadDetected)
	require.Len(t, h.rec.telemetry, 1)
	assert.Equal(t, model.OutcomeInternalError, h.rec.telemetry[0].Outcome)
	assert.Equal(t, model.FallbackInternalError, h.rec.telemetry[0].FallbackReason)
}

func TestHandlePublicChat_PanicAbsorbed(t *testing.T) {
	h := newHarness(t)
	h.resolver.On("ByHandle", mock.Anything, "ada").Return(
		func(context.Context, string) (*model.AgentContext, error) { panic("boom") })

	res, err := h.p.HandlePublicChat(context.Background(), visitorInput("hello"))
	require.NoError(t, err)
	h.p.Wait()

	assert.Equal(t, FallbackReply, res.Reply)
	require.Len(t, h.rec.telemetry, 1)
	assert.Equal(t, model.ErrorTypeInternal, h.rec.telemetry[0].ErrorType)
	assert.Equal(t, model.OutcomeInternalError, h.rec.telemetry[0].Outcome)
}

func TestHandlePublicChat_GeneratorPanicCountsAsFailure(t *testing.T) {
	h := newHarness(t)
	h.resolver.On("ByHandle", mock.Anything, "ada").Return(testContext(model.StrategySales), nil)
	h.gen.On("Generate", mock.Anything, mock.Anything).Return(
		func(context.Context, reply.Request) (*reply.Result, error) { panic("nil map write") })

	for range 3 {
		res, err := h.p.HandlePublicChat(context.Background(), visitorInput("hello"))
		require.NoError(t, err)
		assert.Equal(t, FallbackReply, res.Reply)
	}
	h.p.Wait()

	st, err := h.guard.Check(context.Background(), "ada")
	require.NoError(t, err)
	assert.True(t, st.IsOpen())
	assert.Equal(t, []string{"ada"}, h.alerter.alerts)

	require.Len(t, h.rec.telemetry, 3)
	ev := h.rec.telemetry[0]
	assert.Equal(t, model.OutcomeGenerationError, ev.Outcome)
	assert.Equal(t, model.ErrorTypeInternal, ev.ErrorType)
	assert.Equal(t, model.FallbackGenerationFailed, ev.FallbackReason)
}

func TestHandlePublicChat_LeadFollowupPanicContained(t *testing.T) {
	h := newHarness(t)
	ac := testContext(model.StrategySales)
	h.resolver.On("ByHandle", mock.Anything, "ada").Return(ac, nil)
	h.gen.On("Generate", mock.Anything, mock.Anything).Return(salesReply(85), nil)
	h.meter.On("Charge", mock.Anything, "owner-1").Return(nil)
	h.resolver.On("OwnerEmail", mock.Anything, ac).Return(
		func(context.Context, *model.AgentContext) (string, error) { panic("owner lookup exploded") })

	sink := crmmocks.NewMockSink(t)
	sink.On("Name").Return("notion").Maybe()
	sink.On("MirrorLead", mock.Anything, mock.Anything, "Ada Builds").Return(nil).Once()
	h.p.deps.Sinks = append(h.p.deps.Sinks, sink)

	res, err := h.p.HandlePublicChat(context.Background(), visitorInput("grace@example.com, budget is $10k"))
	require.NoError(t, err)
	h.p.Wait()

	assert.True(t, res.LeadDetected)
	assert.Equal(t, []model.LeadWriteResult{model.LeadInserted}, h.rec.results)
	assert.Contains(t, h.rec.analyticsTypes(), model.AnalyticsLeadCaptured)
	h.notifier.AssertNotCalled(t, "SendLeadNotification", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func realAdmission(limits ratelimit.Limits) Admission {
	limits.Window = time.Minute
	return ratelimit.NewTiered(ratelimit.NewMemoryLimiter(limits))
}

func TestHandlePublicChat_AgentTierAppliesOnHandleRoute(t *testing.T) {
	h := newHarness(t)
	h.p.deps.Admission = realAdmission(ratelimit.Limits{IP: 100, Handle: 100, Agent: 1})
	h.resolver.On("ByHandle", mock.Anything, "ada").Return(testContext(model.StrategyConsultative), nil)
	h.gen.On("Generate", mock.Anything, mock.Anything).Return(&reply.Result{Reply: "Hi!"}, nil).Once()
	h.meter.On("Charge", mock.Anything, "owner-1").Return(nil).Once()

	_, err := h.p.HandlePublicChat(context.Background(), visitorInput("hello"))
	require.NoError(t, err)
	h.p.Wait()

	res, err := h.p.HandlePublicChat(context.Background(), visitorInput("hello again"))
	h.p.Wait()

	assert.Nil(t, res)
	var ce *ChatError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, CodeRateLimited, ce.Code)
	assert.Contains(t, ce.Err.Error(), "agent tier")
	h.gen.AssertNumberOfCalls(t, "Generate", 1)
	assert.Len(t, h.rec.telemetry, 1)
}

func TestHandlePublicChat_HandleTierAppliesOnEmbedRoute(t *testing.T) {
	h := newHarness(t)
	h.p.deps.Admission = realAdmission(ratelimit.Limits{IP: 100, Handle: 1, Agent: 100})
	h.resolver.On("ByHandle", mock.Anything, "ada").Return(testContext(model.StrategyConsultative), nil)
	h.resolver.On("ByAgentID", mock.Anything, "agent-1").Return(testContext(model.StrategyConsultative), nil)
	h.gen.On("Generate", mock.Anything, mock.Anything).Return(&reply.Result{Reply: "Hi!"}, nil).Once()
	h.meter.On("Charge", mock.Anything, "owner-1").Return(nil).Once()

	_, err := h.p.HandlePublicChat(context.Background(), visitorInput("hello"))
	require.NoError(t, err)
	h.p.Wait()

	res, err := h.p.HandlePublicChat(context.Background(), Input{AgentID: "agent-1", Message: "hi", CallerIP: "198.51.100.4"})
	h.p.Wait()

	assert.Nil(t, res)
	var ce *ChatError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, CodeRateLimited, ce.Code)
	assert.Contains(t, ce.Err.Error(), "handle tier")
	h.gen.AssertNumberOfCalls(t, "Generate", 1)
}

func TestHandlePublicChat_EmbedFailuresTripHandleRoute(t *testing.T) {
	h := newHarness(t)
	h.resolver.On("ByAgentID", mock.Anything, "agent-1").Return(testContext(model.StrategySales), nil)
	h.gen.On("Generate", mock.Anything, mock.Anything).Return(nil, resilience.NewTransientError(errors.New("overloaded"), 529))

	for range 3 {
		res, err := h.p.HandlePublicChat(context.Background(), Input{AgentID: "agent-1", Message: "hi"})
		require.NoError(t, err)
		assert.Equal(t, FallbackReply, res.Reply)
	}
	h.p.Wait()

	assert.Equal(t, 3, h.guard.Failures("ada"))
	assert.Equal(t, []string{"agent:agent-1"}, h.alerter.alerts)

	res, err := h.p.HandlePublicChat(context.Background(), visitorInput("hello"))
	require.NoError(t, err)
	assert.Equal(t, UnavailableReply, res.Reply)
	h.gen.AssertNumberOfCalls(t, "Generate", 3)
	h.resolver.AssertNotCalled(t, "ByHandle", mock.Anything, mock.Anything)
}

func TestHandlePublicChat_NewSessionTracksSessionStart(t *testing.T) {
	h := newHarness(t)
	h.p.newID = func() string { return "generated" }
	h.resolver.On("ByHandle", mock.Anything, "ada").Return(testContext(model.StrategyConsultative), nil)
	h.gen.On("Generate", mock.Anything, mock.Anything).Return(&reply.Result{Reply: "Hi!"}, nil)
	h.meter.On("Charge", mock.Anything, "owner-1").Return(nil)

	res, err := h.p.HandlePublicChat(context.Background(), Input{Handle: "ada", Message: "hi"})
	require.NoError(t, err)
	h.p.Wait()

	assert.Equal(t, "generated", res.SessionID)
	assert.ElementsMatch(t, []model.AnalyticsEventType{model.AnalyticsChatMessage, model.AnalyticsChatSessionStart}, h.rec.analyticsTypes())
}

func TestHandlePublicChat_BackgroundFailureDoesNotAffectReply(t *testing.T) {
	h := newHarness(t)
	h.rec.turnErr = errors.New("disk full")
	ac := testContext(model.StrategySales)
	h.resolver.On("ByHandle", mock.Anything, "ada").Return(ac, nil)
	h.gen.On("Generate", mock.Anything, mock.Anything).Return(salesReply(85), nil)
	h.meter.On("Charge", mock.Anything, "owner-1").Return(errors.New("ledger down"))
	h.resolver.On("OwnerEmail", mock.Anything, ac).Return("ada@example.com", nil)
	h.notifier.On("SendLeadNotification", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("smtp down"))

	sink := crmmocks.NewMockSink(t)
	sink.On("Name").Return("notion").Maybe()
	sink.On("MirrorLead", mock.Anything, mock.Anything, "Ada Builds").Return(errors.New("notion down")).Once()
	h.p.deps.Sinks = append(h.p.deps.Sinks, sink)

	res, err := h.p.HandlePublicChat(context.Background(), visitorInput("grace@example.com, budget is $10k"))
	require.NoError(t, err)
	h.p.Wait()

	assert.True(t, res.LeadDetected)
	assert.Equal(t, []model.LeadWriteResult{model.LeadInserted}, h.rec.results)
	assert.Len(t, h.rec.telemetry, 1)
}

func TestHandlePublicChat_LoadsHistoryForKnownSession(t *testing.T) {
	h := newHarness(t)
	hist := &fakeHistory{turns: []model.ChatTurn{
		{Role: model.RoleUser, Content: "hi"},
		{Role: model.RoleAssistant, Content: "Hello!"},
	}}
	h.p.deps.History = hist
	h.resolver.On("ByHandle", mock.Anything, "ada").Return(testContext(model.StrategyConsultative), nil)
	h.gen.On("Generate", mock.Anything, mock.MatchedBy(func(req reply.Request) bool {
		return len(req.History) == 2
	})).Return(&reply.Result{Reply: "Sure."}, nil)
	h.meter.On("Charge", mock.Anything, "owner-1").Return(nil)

	_, err := h.p.HandlePublicChat(context.Background(), visitorInput("and pricing?"))
	require.NoError(t, err)
	h.p.Wait()
	assert.Equal(t, "sess-1", hist.session)
}

type fakeHistory struct {
	turns   []model.ChatTurn
	session string
}

func (f *fakeHistory) ListChatTurns(_ context.Context, _ string, sessionID string, _ int) ([]model.ChatTurn, error) {
	f.session = sessionID
	return f.turns, nil
}

func TestNormalizeMessage(t *testing.T) {
	msg, ok := normalizeMessage("  héllo wörld  ", 5)
	assert.True(t, ok)
	assert.Equal(t, "héllo", msg)

	_, ok = normalizeMessage("\n\t ", 100)
	assert.False(t, ok)

	msg, ok = normalizeMessage("hi", 0)
	assert.True(t, ok)
	assert.Equal(t, "hi", msg)
}

func TestChatError(t *testing.T) {
	ce := errMisconfigured(model.FallbackModelMisconfigured)
	assert.Equal(t, "pipeline: agent_misconfigured", ce.Error())

	wrapped := errNotFound(resolve.ErrNotFound)
	assert.ErrorIs(t, wrapped, resolve.ErrNotFound)
	assert.Contains(t, wrapped.Error(), "not_found")
}
