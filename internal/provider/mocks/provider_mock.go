package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"thumbforge/internal/provider"
)

// MockProvider is a mock type for the Provider type
type MockProvider struct {
	mock.Mock
}

// Generate provides a mock function with given fields: ctx, prompt, inputs, count
func (_m *MockProvider) Generate(ctx context.Context, prompt string, inputs []provider.InputImage, count int) ([]provider.GeneratedImage, error) {
	ret := _m.Called(ctx, prompt, inputs, count)

	var r0 []provider.GeneratedImage
	if rf, ok := ret.Get(0).(func(context.Context, string, []provider.InputImage, int) []provider.GeneratedImage); ok {
		r0 = rf(ctx, prompt, inputs, count)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).([]provider.GeneratedImage)
		}
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(context.Context, string, []provider.InputImage, int) error); ok {
		r1 = rf(ctx, prompt, inputs, count)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockProvider creates a new instance of MockProvider. It also registers a testing interface on the mock.
// The first argument is typically a *testing.T value.
func NewMockProvider(t interface {
	mock.TestingT
	Helper()
}) *MockProvider {
	m := &MockProvider{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ provider.Provider = (*MockProvider)(nil)
