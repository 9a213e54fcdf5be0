package syncstate

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/bizsync/registry-sync/pkg/pgutil"
	mghelper "github.com/bizsync/registry-sync/pkg/pgutil/migrations"
)

func setupStore(t *testing.T) (context.Context, Store) {
	t.Helper()

	ctx := context.Background()
	db, cleanup := pgutil.SetupTestDB(t)
	t.Cleanup(cleanup)

	if err := mghelper.CreateSchema(ctx, db, &SyncStateDao{}); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}

	return ctx, NewStore(db)
}

func TestPGStore_EnsureIsIdempotent(t *testing.T) {
	ctx, store := setupStore(t)

	if _, err := store.Get(ctx, source); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	st, err := store.Ensure(ctx, source)
	if err != nil {
		t.Fatalf("Ensure() failed: %v", err)
	}
	if st.Status != StatusIdle {
		t.Fatalf("expected idle, got %s", st.Status)
	}

	if _, err := store.Ensure(ctx, source); err != nil {
		t.Fatalf("second Ensure() failed: %v", err)
	}
}

func TestPGStore_AcquireIsConditional(t *testing.T) {
	ctx, store := setupStore(t)
	now := time.Now().UTC().Truncate(time.Microsecond)

	if _, err := store.Ensure(ctx, source); err != nil {
		t.Fatalf("Ensure() failed: %v", err)
	}

	ok, err := store.Acquire(ctx, source, now, time.Time{})
	if err != nil || !ok {
		t.Fatalf("first Acquire() = %v, %v; want true", ok, err)
	}

	ok, err = store.Acquire(ctx, source, now.Add(time.Minute), time.Time{})
	if err != nil || ok {
		t.Fatalf("second Acquire() = %v, %v; want false", ok, err)
	}

	ok, err = store.Acquire(ctx, source, now.Add(2*time.Hour), now.Add(time.Hour))
	if err != nil || !ok {
		t.Fatalf("stale Acquire() = %v, %v; want true", ok, err)
	}
}

func TestPGStore_TrackerLifecycle(t *testing.T) {
	ctx, store := setupStore(t)
	tr := NewTracker(store, zap.NewNop())

	if _, err := tr.TryStart(ctx, source); err != nil {
		t.Fatalf("TryStart() failed: %v", err)
	}
	if _, err := tr.TryStart(ctx, source); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	if err := tr.SetSuccess(ctx, source, Outcome{LastBusinessID: "B-9", Synced: 20, NewRecords: 7}); err != nil {
		t.Fatalf("SetSuccess() failed: %v", err)
	}

	if _, err := tr.TryStart(ctx, source); err != nil {
		t.Fatalf("TryStart() after success failed: %v", err)
	}
	if err := tr.SetSuccess(ctx, source, Outcome{Synced: 3, NewRecords: 1}); err != nil {
		t.Fatalf("SetSuccess() failed: %v", err)
	}

	st, err := tr.GetState(ctx, source)
	if err != nil {
		t.Fatalf("GetState() failed: %v", err)
	}
	if st.SyncCount != 2 || st.TotalSynced != 23 || st.NewRecordsCount != 8 {
		t.Fatalf("unexpected counters: %+v", st)
	}
	if st.LastBusinessID == nil || *st.LastBusinessID != "B-9" {
		t.Fatalf("unexpected last business id: %v", st.LastBusinessID)
	}

	if _, err := tr.TryStart(ctx, source); err != nil {
		t.Fatalf("TryStart() failed: %v", err)
	}
	if err := tr.SetFailed(ctx, source, Failure{Message: "boom"}); err != nil {
		t.Fatalf("SetFailed() failed: %v", err)
	}
	st, err = tr.GetState(ctx, source)
	if err != nil {
		t.Fatalf("GetState() failed: %v", err)
	}
	if st.Status != StatusFailed || st.ErrorMessage == nil || *st.ErrorMessage != "boom" {
		t.Fatalf("unexpected failed state: %+v", st)
	}
	if st.SyncCount != 2 {
		t.Fatalf("failure must not change sync count, got %d", st.SyncCount)
	}

	if err := tr.SetSuccess(ctx, source, Outcome{}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestPGStore_SupersededRunCannotFinish(t *testing.T) {
	ctx, store := setupStore(t)
	now := time.Now().UTC().Truncate(time.Microsecond)
	tr := NewTracker(store, zap.NewNop(), WithStaleAfter(time.Hour), WithClock(func() time.Time { return now }))

	runA, err := tr.TryStart(ctx, source)
	if err != nil {
		t.Fatalf("TryStart() A failed: %v", err)
	}

	now = now.Add(2 * time.Hour)
	runB, err := tr.TryStart(ctx, source)
	if err != nil {
		t.Fatalf("TryStart() B failed: %v", err)
	}

	err = tr.SetSuccess(ctx, source, Outcome{StartedAt: *runA.StartedAt, Synced: 1})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for superseded run, got %v", err)
	}
	if _, err := tr.TryStart(ctx, source); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning while B runs, got %v", err)
	}

	if err := tr.SetFailed(ctx, source, Failure{StartedAt: *runB.StartedAt, Message: "boom"}); err != nil {
		t.Fatalf("SetFailed() for owning run failed: %v", err)
	}
}
