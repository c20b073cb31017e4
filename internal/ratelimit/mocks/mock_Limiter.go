// Package mocks provides test doubles for the ratelimit package.
package mocks

import (
	"context"

	ratelimit "github.com/sells-group/portfolio-chat/internal/ratelimit"
	mock "github.com/stretchr/testify/mock"
)

// MockLimiter is a mock type for the Limiter interface.
type MockLimiter struct {
	mock.Mock
}

// Allow provides a mock function with given fields: ctx, tier, key
func (_m *MockLimiter) Allow(ctx context.Context, tier ratelimit.Tier, key string) (bool, error) {
	ret := _m.Called(ctx, tier, key)

	if len(ret) == 0 {
		panic("no return value specified for Allow")
	}

	var r0 bool
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, ratelimit.Tier, string) (bool, error)); ok {
		return rf(ctx, tier, key)
	}
	if rf, ok := ret.Get(0).(func(context.Context, ratelimit.Tier, string) bool); ok {
		r0 = rf(ctx, tier, key)
	} else {
		r0 = ret.Get(0).(bool)
	}

	if rf, ok := ret.Get(1).(func(context.Context, ratelimit.Tier, string) error); ok {
		r1 = rf(ctx, tier, key)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockLimiter creates a new instance of MockLimiter.
func NewMockLimiter(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockLimiter {
	mock := &MockLimiter{}
	mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
