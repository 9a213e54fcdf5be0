package syncstate

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Outcome is what a successful run contributes to the lifetime counters.
// StartedAt identifies the run, as returned by TryStart; zero matches any run.
type Outcome struct {
	StartedAt      time.Time
	LastBusinessID string
	Synced         int
	NewRecords     int
}

// Failure describes a failed run. StartedAt identifies the run like Outcome.StartedAt.
type Failure struct {
	StartedAt time.Time
	Message   string
}

// Tracker applies the sync state machine on top of a Store.
type Tracker struct {
	store      Store
	logger     *zap.Logger
	staleAfter time.Duration
	now        func() time.Time
}

// TrackerOption customises a Tracker.
type TrackerOption func(*Tracker)

// WithStaleAfter lets TryStart take over a run that has been marked running for longer than d.
// Zero disables takeover.
func WithStaleAfter(d time.Duration) TrackerOption {
	return func(t *Tracker) { t.staleAfter = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a tracker.
func NewTracker(store Store, logger *zap.Logger, opts ...TrackerOption) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracker{
		store:  store,
		logger: logger.Named("syncstate"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// GetState returns the state of source, creating an idle one on first access.
func (t *Tracker) GetState(ctx context.Context, source string) (*State, error) {
	st, err := t.store.Ensure(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("get sync state %s: %w", source, err)
	}
	return st, nil
}

// SetRunning marks source running unconditionally. Calling it twice is harmless.
func (t *Tracker) SetRunning(ctx context.Context, source string) error {
	now := t.now()
	return t.apply(ctx, source, Patch{
		Status:     StatusRunning,
		At:         now,
		StartedAt:  &now,
		ClearError: true,
	})
}

// TryStart marks source running only if no other run holds it. It returns
// ErrAlreadyRunning, without modifying the state, when a run is in progress.
func (t *Tracker) TryStart(ctx context.Context, source string) (*State, error) {
	if _, err := t.store.Ensure(ctx, source); err != nil {
		return nil, fmt.Errorf("ensure sync state %s: %w", source, err)
	}

	now := t.now()
	var staleBefore time.Time
	if t.staleAfter > 0 {
		staleBefore = now.Add(-t.staleAfter)
	}

	ok, err := t.store.Acquire(ctx, source, now, staleBefore)
	if err != nil {
		return nil, fmt.Errorf("acquire sync state %s: %w", source, err)
	}
	if !ok {
		return nil, ErrAlreadyRunning
	}

	st, err := t.store.Get(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("get sync state %s: %w", source, err)
	}
	t.logger.Info("Sync state running", zap.String("source", source))
	return st, nil
}

// SetSuccess records a completed run. The sync count grows by one and the
// outcome's counts are added to the lifetime totals.
func (t *Tracker) SetSuccess(ctx context.Context, source string, o Outcome) error {
	now := t.now()
	p := Patch{
		Status:       StatusSuccess,
		At:           now,
		LastSyncedAt: &now,
		ClearError:   true,
		AddSyncCount: 1,
		AddSynced:    int64(o.Synced),
		AddNew:       int64(o.NewRecords),
		Owner:        owner(o.StartedAt),
	}
	if o.LastBusinessID != "" {
		id := o.LastBusinessID
		p.LastBusinessID = &id
	}
	return t.apply(ctx, source, p)
}

// SetFailed records a failed run. Counters are left untouched.
func (t *Tracker) SetFailed(ctx context.Context, source string, f Failure) error {
	return t.apply(ctx, source, Patch{
		Status:       StatusFailed,
		At:           t.now(),
		ErrorMessage: &f.Message,
		Owner:        owner(f.StartedAt),
	})
}

// owner turns a run's start time into a Patch owner. A run superseded by a stale
// takeover no longer matches and its update is rejected.
func owner(startedAt time.Time) *time.Time {
	if startedAt.IsZero() {
		return nil
	}
	return &startedAt
}

// SetIdle resets source to idle and clears any error message.
func (t *Tracker) SetIdle(ctx context.Context, source string) error {
	if _, err := t.store.Ensure(ctx, source); err != nil {
		return fmt.Errorf("ensure sync state %s: %w", source, err)
	}
	return t.apply(ctx, source, Patch{
		Status:     StatusIdle,
		At:         t.now(),
		ClearError: true,
	})
}

func (t *Tracker) apply(ctx context.Context, source string, p Patch) error {
	ok, err := t.store.Update(ctx, source, allowedFrom(p.Status), p)
	if err != nil {
		return fmt.Errorf("set sync state %s to %s: %w", source, p.Status, err)
	}
	if !ok {
		current := "missing"
		if st, getErr := t.store.Get(ctx, source); getErr == nil {
			current = string(st.Status)
		}
		return fmt.Errorf("%w: %s -> %s for %s", ErrInvalidTransition, current, p.Status, source)
	}
	t.logger.Info("Sync state updated",
		zap.String("source", source),
		zap.String("status", string(p.Status)),
	)
	return nil
}
