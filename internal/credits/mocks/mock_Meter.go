// Package mocks provides test doubles for the credits package.
package mocks

import (
	"context"

	mock "github.com/stretchr/testify/mock"
)

// MockMeter is a mock type for the Meter interface.
type MockMeter struct {
	mock.Mock
}

// Check provides a mock function with given fields: ctx, userID
func (_m *MockMeter) Check(ctx context.Context, userID string) error {
	ret := _m.Called(ctx, userID)

	if len(ret) == 0 {
		panic("no return value specified for Check")
	}

	if rf, ok := ret.Get(0).(func(context.Context, string) error); ok {
		return rf(ctx, userID)
	}
	return ret.Error(0)
}

// Charge provides a mock function with given fields: ctx, userID
func (_m *MockMeter) Charge(ctx context.Context, userID string) error {
	ret := _m.Called(ctx, userID)

	if len(ret) == 0 {
		panic("no return value specified for Charge")
	}

	if rf, ok := ret.Get(0).(func(context.Context, string) error); ok {
		return rf(ctx, userID)
	}
	return ret.Error(0)
}

// PerMessage provides a mock function with given fields:
func (_m *MockMeter) PerMessage() int64 {
	ret := _m.Called()

	if len(ret) == 0 {
		panic("no return value specified for PerMessage")
	}

	return ret.Get(0).(int64)
}

// NewMockMeter creates a new instance of MockMeter. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
// The first argument is typically a *testing.T value.
func NewMockMeter(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockMeter {
	mock := &MockMeter{}
	mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
