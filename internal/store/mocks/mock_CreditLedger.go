package mocks

import (
	"context"

	mock "github.com/stretchr/testify/mock"
)

// MockCreditLedger is a mock type for the CreditLedger interface.
type MockCreditLedger struct {
	mock.Mock
}

// GetCredits provides a mock function with given fields: ctx, userID
func (_m *MockCreditLedger) GetCredits(ctx context.Context, userID string) (int64, error) {
	ret := _m.Called(ctx, userID)

	if len(ret) == 0 {
		panic("no return value specified for GetCredits")
	}

	var r0 int64
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string) (int64, error)); ok {
		return rf(ctx, userID)
	}
	r0 = ret.Get(0).(int64)
	r1 = ret.Error(1)

	return r0, r1
}

// ConsumeCredits provides a mock function with given fields: ctx, userID, amount
func (_m *MockCreditLedger) ConsumeCredits(ctx context.Context, userID string, amount int64) (int64, error) {
	ret := _m.Called(ctx, userID, amount)

	if len(ret) == 0 {
		panic("no return value specified for ConsumeCredits")
	}

	var r0 int64
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string, int64) (int64, error)); ok {
		return rf(ctx, userID, amount)
	}
	r0 = ret.Get(0).(int64)
	r1 = ret.Error(1)

	return r0, r1
}

// NewMockCreditLedger creates a new instance of MockCreditLedger.
func NewMockCreditLedger(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockCreditLedger {
	mock := &MockCreditLedger{}
	mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
