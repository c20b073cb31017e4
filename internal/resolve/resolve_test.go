package resolve

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/portfolio-chat/internal/model"
	"github.com/sells-group/portfolio-chat/internal/store"
	"github.com/sells-group/portfolio-chat/internal/store/mocks"
)

func portfolio() *store.PortfolioRecord {
	return &store.PortfolioRecord{
		ID:                "pf-1",
		OwnerID:           "user-1",
		Handle:            "ada",
		Title:             "Ada Studio",
		About:             "Brand designer",
		IsPublished:       true,
		WorkingHours:      &model.WorkingHours{Start: "09:00", End: "17:00"},
		OffDays:           []time.Weekday{time.Sunday},
		NotificationEmail: "studio@ada.dev",
	}
}

func agent() *store.AgentRecord {
	return &store.AgentRecord{
		ID:           "agent-1",
		OwnerID:      "user-1",
		PortfolioID:  "pf-1",
		IsEnabled:    true,
		Model:        "claude-haiku-4-5-20251001",
		Temperature:  0.5,
		StrategyMode: "SALES",
	}
}

func TestByHandle(t *testing.T) {
	dir := mocks.NewMockDirectory(t)
	dir.On("GetPortfolioByHandle", mock.Anything, "ada").Return(portfolio(), nil)
	dir.On("GetAgentByPortfolio", mock.Anything, "pf-1").Return(agent(), nil)

	ac, err := NewStoreResolver(dir).ByHandle(context.Background(), "ada")
	require.NoError(t, err)
	assert.Equal(t, "agent-1", ac.AgentID)
	assert.Equal(t, "ada", ac.Handle)
	assert.Equal(t, model.StrategySales, ac.StrategyMode)
	assert.True(t, ac.IsPublished)
	assert.True(t, ac.PortfolioBacked())
	assert.Equal(t, "Brand designer", ac.About())
	assert.Equal(t, "09:00", ac.WorkingHours.Start)
	assert.Equal(t, []time.Weekday{time.Sunday}, ac.OffDays)
	assert.Equal(t, "studio@ada.dev", ac.NotificationEmail)
}

func TestByAgentID_SameShapeAsHandle(t *testing.T) {
	dir := mocks.NewMockDirectory(t)
	dir.On("GetPortfolioByHandle", mock.Anything, "ada").Return(portfolio(), nil)
	dir.On("GetAgentByPortfolio", mock.Anything, "pf-1").Return(agent(), nil)
	dir.On("GetAgent", mock.Anything, "agent-1").Return(agent(), nil)
	dir.On("GetPortfolio", mock.Anything, "pf-1").Return(portfolio(), nil)

	r := NewStoreResolver(dir)
	byHandle, err := r.ByHandle(context.Background(), "ada")
	require.NoError(t, err)
	byID, err := r.ByAgentID(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, byHandle, byID)
}

func TestByAgentID_Standalone(t *testing.T) {
	dir := mocks.NewMockDirectory(t)
	a := agent()
	a.PortfolioID = ""
	dir.On("GetAgent", mock.Anything, "agent-1").Return(a, nil)

	ac, err := NewStoreResolver(dir).ByAgentID(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.False(t, ac.PortfolioBacked())
	assert.Nil(t, ac.Portfolio)
	assert.Empty(t, ac.Handle)
	dir.AssertNotCalled(t, "GetPortfolio", mock.Anything, mock.Anything)
}

func TestMerge_AgentOverridesPortfolio(t *testing.T) {
	a := agent()
	a.WorkingHours = &model.WorkingHours{Start: "22:00", End: "06:00"}
	a.OffDays = []time.Weekday{}
	a.NotificationEmail = "bot@ada.dev"

	ac := Merge(a, portfolio())
	assert.Equal(t, "22:00", ac.WorkingHours.Start)
	assert.Empty(t, ac.OffDays)
	assert.NotNil(t, ac.OffDays)
	assert.Equal(t, "bot@ada.dev", ac.NotificationEmail)
}

func TestResolve_NotFound(t *testing.T) {
	dir := mocks.NewMockDirectory(t)
	dir.On("GetPortfolioByHandle", mock.Anything, "ghost").Return(nil, store.ErrNotFound)
	dir.On("GetAgent", mock.Anything, "ghost").Return(nil, store.ErrNotFound)

	r := NewStoreResolver(dir)
	_, err := r.ByHandle(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.ByAgentID(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolve_StoreError(t *testing.T) {
	dir := mocks.NewMockDirectory(t)
	dir.On("GetAgent", mock.Anything, "agent-1").Return(nil, errors.New("conn refused"))

	_, err := NewStoreResolver(dir).ByAgentID(context.Background(), "agent-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "conn refused")
}

func TestResolve_Unavailable(t *testing.T) {
	tests := []struct {
		name  string
		patch func(a *store.AgentRecord)
	}{
		{"disabled", func(a *store.AgentRecord) { a.IsEnabled = false }},
		{"no model", func(a *store.AgentRecord) { a.Model = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := mocks.NewMockDirectory(t)
			a := agent()
			tt.patch(a)
			dir.On("GetPortfolioByHandle", mock.Anything, "ada").Return(portfolio(), nil)
			dir.On("GetAgentByPortfolio", mock.Anything, "pf-1").Return(a, nil)

			ac, err := NewStoreResolver(dir).ByHandle(context.Background(), "ada")
			assert.ErrorIs(t, err, ErrAgentUnavailable)
			require.NotNil(t, ac)
			assert.Equal(t, "agent-1", ac.AgentID)
		})
	}
}

func TestByHandle_PortfolioWithoutAgent(t *testing.T) {
	dir := mocks.NewMockDirectory(t)
	dir.On("GetPortfolioByHandle", mock.Anything, "ada").Return(portfolio(), nil)
	dir.On("GetAgentByPortfolio", mock.Anything, "pf-1").Return(nil, store.ErrNotFound)

	ac, err := NewStoreResolver(dir).ByHandle(context.Background(), "ada")
	assert.ErrorIs(t, err, ErrAgentUnavailable)
	require.NotNil(t, ac)
	assert.Equal(t, "pf-1", ac.PortfolioID)
	assert.Equal(t, "user-1", ac.OwnerID)
}

func TestOwnerEmail(t *testing.T) {
	dir := mocks.NewMockDirectory(t)
	r := NewStoreResolver(dir)

	email, err := r.OwnerEmail(context.Background(), &model.AgentContext{OwnerID: "user-1", NotificationEmail: "leads@ada.dev"})
	require.NoError(t, err)
	assert.Equal(t, "leads@ada.dev", email)

	dir.On("GetUserEmail", mock.Anything, "user-1").Return("ada@example.com", nil).Once()
	email, err = r.OwnerEmail(context.Background(), &model.AgentContext{OwnerID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", email)

	dir.On("GetUserEmail", mock.Anything, "user-2").Return("", nil).Once()
	_, err = r.OwnerEmail(context.Background(), &model.AgentContext{OwnerID: "user-2"})
	assert.ErrorIs(t, err, ErrNotFound)
}
