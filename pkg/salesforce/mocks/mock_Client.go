// Package mocks provides test doubles for the salesforce package.
package mocks

import (
	"context"

	mock "github.com/stretchr/testify/mock"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// Query provides a mock function with given fields: ctx, soql, out
func (_m *MockClient) Query(ctx context.Context, soql string, out any) error {
	ret := _m.Called(ctx, soql, out)

	if len(ret) == 0 {
		panic("no return value specified for Query")
	}

	if rf, ok := ret.Get(0).(func(context.Context, string, any) error); ok {
		return rf(ctx, soql, out)
	}
	return ret.Error(0)
}

// InsertOne provides a mock function with given fields: ctx, sObjectName, record
func (_m *MockClient) InsertOne(ctx context.Context, sObjectName string, record map[string]any) (string, error) {
	ret := _m.Called(ctx, sObjectName, record)

	if len(ret) == 0 {
		panic("no return value specified for InsertOne")
	}

	if rf, ok := ret.Get(0).(func(context.Context, string, map[string]any) (string, error)); ok {
		return rf(ctx, sObjectName, record)
	}
	return ret.String(0), ret.Error(1)
}

// UpdateOne provides a mock function with given fields: ctx, sObjectName, id, fields
func (_m *MockClient) UpdateOne(ctx context.Context, sObjectName string, id string, fields map[string]any) error {
	ret := _m.Called(ctx, sObjectName, id, fields)

	if len(ret) == 0 {
		panic("no return value specified for UpdateOne")
	}

	if rf, ok := ret.Get(0).(func(context.Context, string, string, map[string]any) error); ok {
		return rf(ctx, sObjectName, id, fields)
	}
	return ret.Error(0)
}

// NewMockClient creates a new instance of MockClient. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
// The first argument is typically a *testing.T value.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	m := &MockClient{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
