// Package mocks provides test doubles for the store interfaces.
package mocks

import (
	"context"

	model "github.com/sells-group/portfolio-chat/internal/model"
	mock "github.com/stretchr/testify/mock"
)

// MockRecorder is a mock type for the Recorder interface.
type MockRecorder struct {
	mock.Mock
}

// SaveChatMessage provides a mock function with given fields: ctx, turn
func (_m *MockRecorder) SaveChatMessage(ctx context.Context, turn model.ChatTurn) error {
	ret := _m.Called(ctx, turn)

	if len(ret) == 0 {
		panic("no return value specified for SaveChatMessage")
	}

	var r0 error
	if rf, ok := ret.Get(0).(func(context.Context, model.ChatTurn) error); ok {
		r0 = rf(ctx, turn)
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

// SaveLeadWithDedup provides a mock function with given fields: ctx, lead
func (_m *MockRecorder) SaveLeadWithDedup(ctx context.Context, lead *model.Lead) (model.LeadWriteResult, error) {
	ret := _m.Called(ctx, lead)

	if len(ret) == 0 {
		panic("no return value specified for SaveLeadWithDedup")
	}

	var r0 model.LeadWriteResult
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, *model.Lead) (model.LeadWriteResult, error)); ok {
		return rf(ctx, lead)
	}
	if rf, ok := ret.Get(0).(func(context.Context, *model.Lead) model.LeadWriteResult); ok {
		r0 = rf(ctx, lead)
	} else {
		r0 = ret.Get(0).(model.LeadWriteResult)
	}

	if rf, ok := ret.Get(1).(func(context.Context, *model.Lead) error); ok {
		r1 = rf(ctx, lead)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// LogTelemetryEvent provides a mock function with given fields: ctx, ev
func (_m *MockRecorder) LogTelemetryEvent(ctx context.Context, ev *model.TelemetryEvent) error {
	ret := _m.Called(ctx, ev)

	if len(ret) == 0 {
		panic("no return value specified for LogTelemetryEvent")
	}

	var r0 error
	if rf, ok := ret.Get(0).(func(context.Context, *model.TelemetryEvent) error); ok {
		r0 = rf(ctx, ev)
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

// TrackAnalyticsEvent provides a mock function with given fields: ctx, ev
func (_m *MockRecorder) TrackAnalyticsEvent(ctx context.Context, ev model.AnalyticsEvent) error {
	ret := _m.Called(ctx, ev)

	if len(ret) == 0 {
		panic("no return value specified for TrackAnalyticsEvent")
	}

	var r0 error
	if rf, ok := ret.Get(0).(func(context.Context, model.AnalyticsEvent) error); ok {
		r0 = rf(ctx, ev)
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

// NewMockRecorder creates a new instance of MockRecorder.
func NewMockRecorder(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockRecorder {
	mock := &MockRecorder{}
	mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
