// Package mocks provides test doubles for the predict client.
package mocks

import (
	"context"

	predict "github.com/sells-group/pulse/pkg/predict"
	mock "github.com/stretchr/testify/mock"
)

// MockPredictor is a mock type for the Predictor interface.
type MockPredictor struct {
	mock.Mock
}

// Predict provides a mock function with given fields: ctx, req
func (_m *MockPredictor) Predict(ctx context.Context, req predict.Request) (*predict.Prediction, error) {
	ret := _m.Called(ctx, req)

	if len(ret) == 0 {
		panic("no return value specified for Predict")
	}

	var r0 *predict.Prediction
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, predict.Request) (*predict.Prediction, error)); ok {
		return rf(ctx, req)
	}
	if rf, ok := ret.Get(0).(func(context.Context, predict.Request) *predict.Prediction); ok {
		r0 = rf(ctx, req)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*predict.Prediction)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, predict.Request) error); ok {
		r1 = rf(ctx, req)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockPredictor creates a new instance of MockPredictor.
func NewMockPredictor(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockPredictor {
	mock := &MockPredictor{}
	mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
