// Package mocks provides test doubles for the resolve package.
package mocks

import (
	"context"

	model "github.com/sells-group/portfolio-chat/internal/model"
	mock "github.com/stretchr/testify/mock"
)

// MockResolver is a mock type for the Resolver interface.
type MockResolver struct {
	mock.Mock
}

// ByAgentID provides a mock function with given fields: ctx, agentID
func (_m *MockResolver) ByAgentID(ctx context.Context, agentID string) (*model.AgentContext, error) {
	ret := _m.Called(ctx, agentID)

	if len(ret) == 0 {
		panic("no return value specified for ByAgentID")
	}

	var r0 *model.AgentContext
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string) (*model.AgentContext, error)); ok {
		return rf(ctx, agentID)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*model.AgentContext)
	}
	r1 = ret.Error(1)

	return r0, r1
}

// ByHandle provides a mock function with given fields: ctx, handle
func (_m *MockResolver) ByHandle(ctx context.Context, handle string) (*model.AgentContext, error) {
	ret := _m.Called(ctx, handle)

	if len(ret) == 0 {
		panic("no return value specified for ByHandle")
	}

	var r0 *model.AgentContext
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string) (*model.AgentContext, error)); ok {
		return rf(ctx, handle)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*model.AgentContext)
	}
	r1 = ret.Error(1)

	return r0, r1
}

// OwnerEmail provides a mock function with given fields: ctx, ac
func (_m *MockResolver) OwnerEmail(ctx context.Context, ac *model.AgentContext) (string, error) {
	ret := _m.Called(ctx, ac)

	if len(ret) == 0 {
		panic("no return value specified for OwnerEmail")
	}

	var r0 string
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, *model.AgentContext) (string, error)); ok {
		return rf(ctx, ac)
	}
	r0 = ret.Get(0).(string)
	r1 = ret.Error(1)

	return r0, r1
}

// NewMockResolver creates a new instance of MockResolver. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
// The first argument is typically a *testing.T value.
func NewMockResolver(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockResolver {
	mock := &MockResolver{}
	mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
