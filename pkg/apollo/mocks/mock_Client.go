// Package mocks provides test doubles for the apollo client.
package mocks

import (
	"context"

	apollo "github.com/sells-group/truth-cli/pkg/apollo"
	mock "github.com/stretchr/testify/mock"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// MatchPeople provides a mock function with given fields: ctx, people
func (_m *MockClient) MatchPeople(ctx context.Context, people []apollo.PersonQuery) ([]apollo.Match, error) {
	ret := _m.Called(ctx, people)

	if len(ret) == 0 {
		panic("no return value specified for MatchPeople")
	}

	var r0 []apollo.Match
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, []apollo.PersonQuery) ([]apollo.Match, error)); ok {
		return rf(ctx, people)
	}
	if rf, ok := ret.Get(0).(func(context.Context, []apollo.PersonQuery) []apollo.Match); ok {
		r0 = rf(ctx, people)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).([]apollo.Match)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, []apollo.PersonQuery) error); ok {
		r1 = rf(ctx, people)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// EnrichOrganizations provides a mock function with given fields: ctx, domains
func (_m *MockClient) EnrichOrganizations(ctx context.Context, domains []string) ([]apollo.Match, error) {
	ret := _m.Called(ctx, domains)

	if len(ret) == 0 {
		panic("no return value specified for EnrichOrganizations")
	}

	var r0 []apollo.Match
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, []string) ([]apollo.Match, error)); ok {
		return rf(ctx, domains)
	}
	if rf, ok := ret.Get(0).(func(context.Context, []string) []apollo.Match); ok {
		r0 = rf(ctx, domains)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).([]apollo.Match)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, []string) error); ok {
		r1 = rf(ctx, domains)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockClient creates a new instance of MockClient.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	mock := &MockClient{}
	mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
