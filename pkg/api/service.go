// Package api exposes the HTTP triggers of the sync pipeline.
package api

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/bizsync/registry-sync/pkg/scheduler"
	"github.com/bizsync/registry-sync/pkg/syncer"
	"github.com/bizsync/registry-sync/pkg/syncstate"
)

// Service is the application service behind the HTTP triggers.
type Service interface {
	// Sync runs the pipeline once. key overrides the configured query date when not empty.
	Sync(ctx context.Context, key string) (*syncer.Result, error)
	Status(ctx context.Context) (*StatusResponse, error)
	// Reset puts a failed or stuck source back to idle. It refuses while a run is in progress.
	Reset(ctx context.Context) error
}

// StateTracker reads and resets the sync state of a source.
type StateTracker interface {
	GetState(ctx context.Context, source string) (*syncstate.State, error)
	SetIdle(ctx context.Context, source string) error
}

// SchedulerStatus reports the cron trigger. A nil SchedulerStatus means scheduling is disabled.
type SchedulerStatus interface {
	Status() scheduler.Status
}

// StatusResponse is the payload of GET /sync/status.
type StatusResponse struct {
	SyncState *syncstate.State `json:"syncState"`
	Scheduler scheduler.Status `json:"scheduler"`
}

type service struct {
	runner    syncer.Runner
	tracker   StateTracker
	scheduler SchedulerStatus
	source    syncer.Source
	logger    *zap.Logger
}

// NewService creates the trigger service for one configured source.
func NewService(
	runner syncer.Runner,
	tracker StateTracker,
	sched SchedulerStatus,
	source syncer.Source,
	logger *zap.Logger,
) Service {
	return &service{
		runner:    runner,
		tracker:   tracker,
		scheduler: sched,
		source:    source,
		logger:    logger,
	}
}

func (s *service) Sync(ctx context.Context, key string) (*syncer.Result, error) {
	src := s.source
	if key != "" {
		src.Key = key
	}
	// A client that disconnects must not abort the run it started.
	return s.runner.Run(context.WithoutCancel(ctx), src)
}

func (s *service) Status(ctx context.Context) (*StatusResponse, error) {
	st, err := s.tracker.GetState(ctx, s.source.Name)
	if err != nil {
		return nil, err
	}
	resp := &StatusResponse{SyncState: st}
	if s.scheduler != nil {
		resp.Scheduler = s.scheduler.Status()
	}
	return resp, nil
}

func (s *service) Reset(ctx context.Context) error {
	st, err := s.tracker.GetState(ctx, s.source.Name)
	if err != nil {
		return err
	}
	if st.Status == syncstate.StatusRunning {
		s.logger.Warn("Refusing to reset a running source", zap.String("source", s.source.Name))
		return syncer.ErrAlreadyRunning
	}
	if err := s.tracker.SetIdle(ctx, s.source.Name); err != nil {
		return err
	}
	s.logger.Info("Sync state reset", zap.String("source", s.source.Name))
	return nil
}

// isConflict reports whether err means another run holds the source.
func isConflict(err error) bool {
	return errors.Is(err, syncer.ErrAlreadyRunning)
}
