// Package mocks provides test doubles for the crm package.
package mocks

import (
	"context"

	mock "github.com/stretchr/testify/mock"

	model "github.com/sells-group/portfolio-chat/internal/model"
)

// MockSink is a mock type for the Sink interface.
type MockSink struct {
	mock.Mock
}

// Name provides a mock function with no fields
func (_m *MockSink) Name() string {
	ret := _m.Called()

	if len(ret) == 0 {
		panic("no return value specified for Name")
	}

	if rf, ok := ret.Get(0).(func() string); ok {
		return rf()
	}
	return ret.String(0)
}

// MirrorLead provides a mock function with given fields: ctx, lead, source
func (_m *MockSink) MirrorLead(ctx context.Context, lead *model.Lead, source string) error {
	ret := _m.Called(ctx, lead, source)

	if len(ret) == 0 {
		panic("no return value specified for MirrorLead")
	}

	if rf, ok := ret.Get(0).(func(context.Context, *model.Lead, string) error); ok {
		return rf(ctx, lead, source)
	}
	return ret.Error(0)
}

// NewMockSink creates a new instance of MockSink. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
// The first argument is typically a *testing.T value.
func NewMockSink(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockSink {
	m := &MockSink{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
