// Package mocks provides test doubles for the notify package.
package mocks

import (
	"context"

	model "github.com/sells-group/portfolio-chat/internal/model"
	mock "github.com/stretchr/testify/mock"
)

// MockNotifier is a mock type for the Notifier interface.
type MockNotifier struct {
	mock.Mock
}

// SendLeadNotification provides a mock function with given fields: ctx, to, fields, sourceName
func (_m *MockNotifier) SendLeadNotification(ctx context.Context, to string, fields model.LeadFields, sourceName string) error {
	ret := _m.Called(ctx, to, fields, sourceName)

	if len(ret) == 0 {
		panic("no return value specified for SendLeadNotification")
	}

	if rf, ok := ret.Get(0).(func(context.Context, string, model.LeadFields, string) error); ok {
		return rf(ctx, to, fields, sourceName)
	}
	return ret.Error(0)
}

// NewMockNotifier creates a new instance of MockNotifier. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
// The first argument is typically a *testing.T value.
func NewMockNotifier(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockNotifier {
	mock := &MockNotifier{}
	mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
