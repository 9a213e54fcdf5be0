// Package scheduler fires the sync job on a cron schedule, never running two jobs at once.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/bizsync/registry-sync/internal/metrics"
)

// ErrAlreadyStarted is returned by Start on a running scheduler.
var ErrAlreadyStarted = errors.New("scheduler already started")

// parser accepts standard five-field expressions, an optional leading seconds field and descriptors such as @hourly.
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Status is a point-in-time view of the scheduler.
type Status struct {
	Running       bool       `json:"running"`
	JobInProgress bool       `json:"jobInProgress"`
	Schedule      string     `json:"schedule,omitempty"`
	NextRun       *time.Time `json:"nextRun,omitempty"`
}

// Scheduler owns one cron entry for the sync job.
type Scheduler struct {
	job    func(context.Context) error
	logger *zap.Logger
	loc    *time.Location
	base   context.Context

	mu       sync.Mutex
	cron     *cron.Cron
	sched    cron.Schedule
	schedule string

	inProgress atomic.Bool
}

// Option customises a Scheduler.
type Option func(*Scheduler)

// WithLocation sets the time zone the schedule is evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) { s.loc = loc }
}

// WithContext sets the context jobs run with. Stop does not cancel it.
func WithContext(ctx context.Context) Option {
	return func(s *Scheduler) { s.base = ctx }
}

// New creates a stopped scheduler for job.
func New(job func(context.Context) error, logger *zap.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		job:    job,
		logger: logger.Named("scheduler"),
		loc:    time.Local,
		base:   context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start parses expr and begins firing the job.
func (s *Scheduler) Start(expr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return ErrAlreadyStarted
	}

	sched, err := parser.Parse(expr)
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", expr, err)
	}

	cl := cronLogger{s: s.logger.Sugar()}
	c := cron.New(
		cron.WithLocation(s.loc),
		cron.WithParser(parser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)
	c.Schedule(sched, cron.FuncJob(s.fire))
	c.Start()

	s.cron = c
	s.sched = sched
	s.schedule = expr
	s.logger.Info("Scheduler started",
		zap.String("schedule", expr),
		zap.String("timezone", s.loc.String()),
		zap.Time("next_run", sched.Next(time.Now().In(s.loc))),
	)
	return nil
}

// Stop prevents future fires. A job already running is left to finish; the returned context is done when it has.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	done := s.cron.Stop()
	s.cron = nil
	s.sched = nil
	s.logger.Info("Scheduler stopped", zap.String("schedule", s.schedule))
	return done
}

// Status reports whether the scheduler is running, whether a job is in flight and when it fires next.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Running:       s.cron != nil,
		JobInProgress: s.inProgress.Load(),
		Schedule:      s.schedule,
	}
	if s.sched != nil {
		next := s.sched.Next(time.Now().In(s.loc))
		st.NextRun = &next
	}
	return st
}

// fire runs the job unless the previous one is still in flight.
func (s *Scheduler) fire() {
	if !s.inProgress.CompareAndSwap(false, true) {
		metrics.SchedulerSkipped.Inc()
		s.logger.Warn("Previous job still running, skipping scheduled run")
		return
	}
	defer s.inProgress.Store(false)

	start := time.Now()
	s.logger.Info("Scheduled job started")
	if err := s.job(s.base); err != nil {
		s.logger.Error("Scheduled job failed", zap.Duration("duration", time.Since(start)), zap.Error(err))
		return
	}
	s.logger.Info("Scheduled job finished", zap.Duration("duration", time.Since(start)))
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
