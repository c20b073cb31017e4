// Package mocks provides test doubles for the reply package.
package mocks

import (
	"context"

	reply "github.com/sells-group/portfolio-chat/internal/reply"
	mock "github.com/stretchr/testify/mock"
)

// MockGenerator is a mock type for the Generator interface.
type MockGenerator struct {
	mock.Mock
}

// Generate provides a mock function with given fields: ctx, req
func (_m *MockGenerator) Generate(ctx context.Context, req reply.Request) (*reply.Result, error) {
	ret := _m.Called(ctx, req)

	if len(ret) == 0 {
		panic("no return value specified for Generate")
	}

	var r0 *reply.Result
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, reply.Request) (*reply.Result, error)); ok {
		return rf(ctx, req)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*reply.Result)
	}
	r1 = ret.Error(1)

	return r0, r1
}

// NewMockGenerator creates a new instance of MockGenerator. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
// The first argument is typically a *testing.T value.
func NewMockGenerator(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockGenerator {
	mock := &MockGenerator{}
	mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
