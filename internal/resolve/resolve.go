// Package resolve turns a public handle or an embed agent id into the merged
// agent and portfolio configuration a chat request runs against.
package resolve

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/portfolio-chat/internal/model"
	"github.com/sells-group/portfolio-chat/internal/store"
)

var (
	// ErrNotFound means no agent or portfolio matches the lookup key.
	ErrNotFound = eris.New("resolve: not found")
	// ErrAgentUnavailable means the agent exists but is disabled or has no
	// model configured. The resolved context is returned alongside it.
	ErrAgentUnavailable = eris.New("resolve: agent unavailable")
)

// Resolver looks up the context for a chat request. Both lookup paths
// produce the same AgentContext shape.
type Resolver interface {
	ByAgentID(ctx context.Context, agentID string) (*model.AgentContext, error)
	ByHandle(ctx context.Context, handle string) (*model.AgentContext, error)
	// OwnerEmail returns the address lead notifications go to.
	OwnerEmail(ctx context.Context, ac *model.AgentContext) (string, error)
}

// StoreResolver implements Resolver over a store.Directory.
type StoreResolver struct {
	dir store.Directory
}

// NewStoreResolver creates a StoreResolver.
func NewStoreResolver(dir store.Directory) *StoreResolver {
	return &StoreResolver{dir: dir}
}

// ByAgentID resolves an embed agent, merging its portfolio when it has one.
func (r *StoreResolver) ByAgentID(ctx context.Context, agentID string) (*model.AgentContext, error) {
	a, err := r.dir.GetAgent(ctx, agentID)
	if err != nil {
		return nil, mapErr(err, "agent "+agentID)
	}
	var p *store.PortfolioRecord
	if a.PortfolioID != "" {
		p, err = r.dir.GetPortfolio(ctx, a.PortfolioID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, eris.Wrapf(err, "resolve: portfolio %s", a.PortfolioID)
		}
	}
	return checkAvailable(Merge(a, p))
}

// ByHandle resolves a public portfolio handle to its agent.
func (r *StoreResolver) ByHandle(ctx context.Context, handle string) (*model.AgentContext, error) {
	p, err := r.dir.GetPortfolioByHandle(ctx, handle)
	if err != nil {
		return nil, mapErr(err, "handle "+handle)
	}
	a, err := r.dir.GetAgentByPortfolio(ctx, p.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// A portfolio without an agent has nothing to chat with.
			ac := Merge(&store.AgentRecord{OwnerID: p.OwnerID, PortfolioID: p.ID}, p)
			return ac, ErrAgentUnavailable
		}
		return nil, eris.Wrapf(err, "resolve: agent for portfolio %s", p.ID)
	}
	return checkAvailable(Merge(a, p))
}

// OwnerEmail prefers the configured notification address and falls back to
// the owner's account email.
func (r *StoreResolver) OwnerEmail(ctx context.Context, ac *model.AgentContext) (string, error) {
	if ac.NotificationEmail != "" {
		return ac.NotificationEmail, nil
	}
	email, err := r.dir.GetUserEmail(ctx, ac.OwnerID)
	if err != nil {
		return "", mapErr(err, "owner "+ac.OwnerID)
	}
	if email == "" {
		return "", eris.Wrapf(ErrNotFound, "resolve: owner %s has no email", ac.OwnerID)
	}
	return email, nil
}

// Merge combines an agent row with its optional portfolio. Agent-level
// working hours, off days and notification email override the portfolio's.
func Merge(a *store.AgentRecord, p *store.PortfolioRecord) *model.AgentContext {
	ac := &model.AgentContext{
		AgentID:           a.ID,
		PortfolioID:       a.PortfolioID,
		OwnerID:           a.OwnerID,
		IsEnabled:         a.IsEnabled,
		Model:             a.Model,
		Temperature:       a.Temperature,
		BehaviorType:      a.BehaviorType,
		StrategyMode:      model.ParseStrategyMode(a.StrategyMode),
		CustomPrompt:      a.CustomPrompt,
		DisplayName:       a.DisplayName,
		AvatarURL:         a.AvatarURL,
		Intro:             a.Intro,
		Role:              a.Role,
		WorkingHours:      a.WorkingHours,
		OffDays:           a.OffDays,
		NotificationEmail: a.NotificationEmail,
	}
	if p == nil {
		return ac
	}

	ac.PortfolioID = p.ID
	ac.Handle = p.Handle
	ac.IsPublished = p.IsPublished
	ac.Portfolio = &model.PortfolioContent{Title: p.Title, About: p.About}
	if ac.OwnerID == "" {
		ac.OwnerID = p.OwnerID
	}
	if ac.WorkingHours == nil {
		ac.WorkingHours = p.WorkingHours
	}
	if ac.OffDays == nil {
		ac.OffDays = p.OffDays
	}
	if ac.NotificationEmail == "" {
		ac.NotificationEmail = p.NotificationEmail
	}
	return ac
}

func checkAvailable(ac *model.AgentContext) (*model.AgentContext, error) {
	if !ac.IsEnabled || ac.Model == "" {
		return ac, ErrAgentUnavailable
	}
	return ac, nil
}

func mapErr(err error, what string) error {
	if errors.Is(err, store.ErrNotFound) {
		return eris.Wrapf(ErrNotFound, "resolve: %s", what)
	}
	return eris.Wrapf(err, "resolve: %s", what)
}

var _ Resolver = (*StoreResolver)(nil)
