package api

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/bizsync/registry-sync/pkg/scheduler"
	"github.com/bizsync/registry-sync/pkg/syncer"
	"github.com/bizsync/registry-sync/pkg/syncstate"
)

// MockService is a testify mock of Service
type MockService struct {
	mock.Mock
}

func newMockService(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockService {
	m := &MockService{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockService) Sync(ctx context.Context, key string) (*syncer.Result, error) {
	args := m.Called(ctx, key)
	res, _ := args.Get(0).(*syncer.Result)
	return res, args.Error(1)
}

func (m *MockService) Status(ctx context.Context) (*StatusResponse, error) {
	args := m.Called(ctx)
	resp, _ := args.Get(0).(*StatusResponse)
	return resp, args.Error(1)
}

func (m *MockService) Reset(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// MockRunner is a mock implementation of syncer.Runner
type MockRunner struct {
	RunFunc func(ctx context.Context, src syncer.Source) (*syncer.Result, error)
}

func (m *MockRunner) Run(ctx context.Context, src syncer.Source) (*syncer.Result, error) {
	if m.RunFunc != nil {
		return m.RunFunc(ctx, src)
	}
	return &syncer.Result{Success: true, Source: src.Name}, nil
}

type staticScheduler scheduler.Status

func (s staticScheduler) Status() scheduler.Status { return scheduler.Status(s) }

var _ StateTracker = (*syncstate.Tracker)(nil)
