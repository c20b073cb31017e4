package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/portfolio-chat/internal/model"
)

// dispatchBookkeeping hands the post-reply work to the fan-out. Nothing here
// may block or fail the response.
func (p *Pipeline) dispatchBookkeeping(ctx context.Context, t *turn, g *generation, res *Result) {
	ac := t.ac
	now := p.nowFunc().UTC()

	errType, reason := model.ErrorTypeNone, model.FallbackNone
	if g.err != nil {
		errType, reason = g.errType, model.FallbackGenerationFailed
	}
	ev := p.telemetry(t, errType, reason, g)

	var tasks []Task

	if g.err == nil && p.deps.Meter.PerMessage() > 0 {
		payer := t.in.CallerUserID
		if payer == "" {
			payer = ac.OwnerID
		}
		ev.CreditCost = p.deps.Meter.PerMessage()
		ev.Metadata["credit_payer"] = payer
		tasks = append(tasks, Task{Name: "credits", Run: func(ctx context.Context) error {
			return p.deps.Meter.Charge(ctx, payer)
		}})
	}

	tasks = append(tasks, Task{Name: "chat_turns", Run: func(ctx context.Context) error {
		if err := p.deps.Recorder.SaveChatMessage(ctx, model.ChatTurn{
			SessionID: t.sessionID,
			AgentID:   ac.AgentID,
			Role:      model.RoleUser,
			Content:   t.message,
			CreatedAt: t.start.UTC(),
		}); err != nil {
			return eris.Wrap(err, "save user turn")
		}
		if g.err != nil {
			return nil
		}
		return eris.Wrap(p.deps.Recorder.SaveChatMessage(ctx, model.ChatTurn{
			SessionID: t.sessionID,
			AgentID:   ac.AgentID,
			Role:      model.RoleAssistant,
			Content:   res.Reply,
			CreatedAt: now,
		}), "save assistant turn")
	}})

	if res.LeadDetected {
		ld := &model.Lead{
			ID:          p.newID(),
			AgentID:     ac.AgentID,
			PortfolioID: ac.PortfolioID,
			SessionID:   t.sessionID,
			Fields:      g.decision.Fields,
			Confidence:  g.out.Lead.Confidence,
			CaptureTurn: model.CaptureTurn(g.history),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		tasks = append(tasks, Task{Name: "lead", Run: func(ctx context.Context) error {
			return p.saveLead(ctx, t, ld)
		}})
	}

	tasks = append(tasks, Task{Name: "telemetry", Run: func(ctx context.Context) error {
		return p.deps.Recorder.LogTelemetryEvent(ctx, ev)
	}})

	if ac.PortfolioBacked() && ac.IsPublished {
		tasks = append(tasks, Task{Name: "analytics", Run: func(ctx context.Context) error {
			return p.trackAnalytics(ctx, t, now)
		}})
	}

	p.fanout.Dispatch(ctx, t.log, tasks...)
}

// saveLead upserts the lead and, only when this turn created it, notifies
// the owner and mirrors the lead to CRMs. Follow-up failures are logged and
// never undo the write.
func (p *Pipeline) saveLead(ctx context.Context, t *turn, ld *model.Lead) error {
	result, err := p.deps.Recorder.SaveLeadWithDedup(ctx, ld)
	if err != nil {
		return eris.Wrap(err, "save lead")
	}
	t.log.Info("pipeline: lead saved",
		zap.String("result", string(result)),
		zap.String("lead_id", ld.ID),
		zap.Int("confidence", ld.Confidence),
	)
	if result != model.LeadInserted {
		return nil
	}

	source := t.ac.SourceName()
	followups := []Task{{Name: "lead_notification", Run: func(ctx context.Context) error {
		return p.notifyOwner(ctx, t, ld, source)
	}}}
	for _, sink := range p.deps.Sinks {
		followups = append(followups, Task{Name: "crm_mirror:" + sink.Name(), Run: func(ctx context.Context) error {
			return sink.MirrorLead(ctx, ld, source)
		}})
	}
	if t.ac.PortfolioBacked() && t.ac.IsPublished {
		followups = append(followups, Task{Name: "lead_analytics", Run: func(ctx context.Context) error {
			return p.deps.Recorder.TrackAnalyticsEvent(ctx, model.AnalyticsEvent{
				PortfolioID: t.ac.PortfolioID,
				Type:        model.AnalyticsLeadCaptured,
				SessionID:   t.sessionID,
				OccurredAt:  ld.CreatedAt,
			})
		}})
	}
	p.fanout.RunAll(ctx, t.log, followups...)
	return nil
}

func (p *Pipeline) notifyOwner(ctx context.Context, t *turn, ld *model.Lead, source string) error {
	to, err := p.deps.Resolver.OwnerEmail(ctx, t.ac)
	if err != nil {
		return eris.Wrap(err, "resolve owner email")
	}
	return p.deps.Notifier.SendLeadNotification(ctx, to, ld.Fields, source)
}

func (p *Pipeline) trackAnalytics(ctx context.Context, t *turn, now time.Time) error {
	events := []model.AnalyticsEventType{model.AnalyticsChatMessage}
	if t.newSession {
		events = append(events, model.AnalyticsChatSessionStart)
	}
	var errs []error
	for _, typ := range events {
		if err := p.deps.Recorder.TrackAnalyticsEvent(ctx, model.AnalyticsEvent{
			PortfolioID: t.ac.PortfolioID,
			Type:        typ,
			SessionID:   t.sessionID,
			OccurredAt:  now,
		}); err != nil {
			errs = append(errs, eris.Wrapf(err, "track %s", typ))
		}
	}
	return errors.Join(errs...)
}
