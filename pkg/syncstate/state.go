// Package syncstate tracks the durable per-source status of the sync pipeline.
package syncstate

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle phase of a data source's sync.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

var (
	// ErrNotFound is returned when no state row exists for a source.
	ErrNotFound = errors.New("sync state not found")
	// ErrAlreadyRunning is returned when a run is requested while one is in progress.
	ErrAlreadyRunning = errors.New("sync already in progress")
	// ErrInvalidTransition is returned when the current status does not allow the requested one.
	ErrInvalidTransition = errors.New("invalid sync state transition")
)

// transitions lists, for every status, the statuses it may move to.
var transitions = map[Status][]Status{
	StatusIdle:    {StatusIdle, StatusRunning},
	StatusRunning: {StatusRunning, StatusSuccess, StatusFailed, StatusIdle},
	StatusSuccess: {StatusSuccess, StatusRunning, StatusIdle},
	StatusFailed:  {StatusFailed, StatusRunning, StatusIdle},
}

// CanTransition reports whether a source in status from may move to status to.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// allowedFrom returns every status that may move to to.
func allowedFrom(to Status) []Status {
	var out []Status
	for _, from := range []Status{StatusIdle, StatusRunning, StatusSuccess, StatusFailed} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// State is the persisted sync status of one data source.
type State struct {
	DataSource     string     `json:"dataSource"`
	Status         Status     `json:"status"`
	LastSyncedAt   *time.Time `json:"lastSyncedAt,omitempty"`
	LastBusinessID *string    `json:"lastBusinessId,omitempty"`
	// SyncCount, TotalSynced and NewRecordsCount are lifetime totals across all successful runs.
	SyncCount       int64      `json:"syncCount"`
	TotalSynced     int64      `json:"totalSynced"`
	NewRecordsCount int64      `json:"newRecordsCount"`
	ErrorMessage    *string    `json:"errorMessage,omitempty"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Patch is a conditional partial update of a State.
type Patch struct {
	Status         Status
	At             time.Time
	LastSyncedAt   *time.Time
	LastBusinessID *string
	StartedAt      *time.Time
	ErrorMessage   *string
	ClearError     bool
	AddSyncCount   int64
	AddSynced      int64
	AddNew         int64
	// Owner, when set, restricts the update to the run that started at that instant.
	Owner *time.Time
}

// Store persists sync states.
type Store interface {
	// Get returns the state of source or ErrNotFound.
	Get(ctx context.Context, source string) (*State, error)
	// Ensure creates an idle state for source when none exists and returns the current state.
	Ensure(ctx context.Context, source string) (*State, error)
	// Acquire atomically moves source to running unless it is already running.
	// A running state whose StartedAt is before staleBefore counts as abandoned and
	// is acquired anyway; a zero staleBefore disables that.
	Acquire(ctx context.Context, source string, now, staleBefore time.Time) (bool, error)
	// Update applies p when the current status is one of from. It reports whether a row changed.
	Update(ctx context.Context, source string, from []Status, p Patch) (bool, error)
}
