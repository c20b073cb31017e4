package mocks

import (
	"context"

	store "github.com/sells-group/portfolio-chat/internal/store"
	mock "github.com/stretchr/testify/mock"
)

// MockDirectory is a mock type for the Directory interface.
type MockDirectory struct {
	mock.Mock
}

// GetAgent provides a mock function with given fields: ctx, id
func (_m *MockDirectory) GetAgent(ctx context.Context, id string) (*store.AgentRecord, error) {
	ret := _m.Called(ctx, id)

	if len(ret) == 0 {
		panic("no return value specified for GetAgent")
	}

	var r0 *store.AgentRecord
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string) (*store.AgentRecord, error)); ok {
		return rf(ctx, id)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*store.AgentRecord)
	}
	r1 = ret.Error(1)

	return r0, r1
}

// GetAgentByPortfolio provides a mock function with given fields: ctx, portfolioID
func (_m *MockDirectory) GetAgentByPortfolio(ctx context.Context, portfolioID string) (*store.AgentRecord, error) {
	ret := _m.Called(ctx, portfolioID)

	if len(ret) == 0 {
		panic("no return value specified for GetAgentByPortfolio")
	}

	var r0 *store.AgentRecord
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string) (*store.AgentRecord, error)); ok {
		return rf(ctx, portfolioID)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*store.AgentRecord)
	}
	r1 = ret.Error(1)

	return r0, r1
}

// GetPortfolio provides a mock function with given fields: ctx, id
func (_m *MockDirectory) GetPortfolio(ctx context.Context, id string) (*store.PortfolioRecord, error) {
	ret := _m.Called(ctx, id)

	if len(ret) == 0 {
		panic("no return value specified for GetPortfolio")
	}

	var r0 *store.PortfolioRecord
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string) (*store.PortfolioRecord, error)); ok {
		return rf(ctx, id)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*store.PortfolioRecord)
	}
	r1 = ret.Error(1)

	return r0, r1
}

// GetPortfolioByHandle provides a mock function with given fields: ctx, handle
func (_m *MockDirectory) GetPortfolioByHandle(ctx context.Context, handle string) (*store.PortfolioRecord, error) {
	ret := _m.Called(ctx, handle)

	if len(ret) == 0 {
		panic("no return value specified for GetPortfolioByHandle")
	}

	var r0 *store.PortfolioRecord
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string) (*store.PortfolioRecord, error)); ok {
		return rf(ctx, handle)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*store.PortfolioRecord)
	}
	r1 = ret.Error(1)

	return r0, r1
}

// GetUserEmail provides a mock function with given fields: ctx, userID
func (_m *MockDirectory) GetUserEmail(ctx context.Context, userID string) (string, error) {
	ret := _m.Called(ctx, userID)

	if len(ret) == 0 {
		panic("no return value specified for GetUserEmail")
	}

	var r0 string
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string) (string, error)); ok {
		return rf(ctx, userID)
	}
	r0 = ret.Get(0).(string)
	r1 = ret.Error(1)

	return r0, r1
}

// NewMockDirectory creates a new instance of MockDirectory.
func NewMockDirectory(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockDirectory {
	mock := &MockDirectory{}
	mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
