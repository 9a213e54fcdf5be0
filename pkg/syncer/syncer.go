// Package syncer drives one sync run: it pages through the upstream feed, normalizes and de-duplicates items,
// persists them in batches and records the outcome in the sync state.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"

	"github.com/bizsync/registry-sync/pkg/business"
	"github.com/bizsync/registry-sync/pkg/syncstate"
	"github.com/bizsync/registry-sync/pkg/upstream"
)

// KeyLayout is the date format of the upstream query key.
const KeyLayout = "20060102"

// ErrAlreadyRunning is returned when another run holds the data source.
var ErrAlreadyRunning = syncstate.ErrAlreadyRunning

var validate = validator.New()

// PageFetcher retrieves one page of the upstream feed.
type PageFetcher interface {
	FetchPage(ctx context.Context, req upstream.PageRequest) (*upstream.PageResult, error)
}

// RecordStore persists normalized records.
type RecordStore interface {
	ExistingIDs(ctx context.Context, ids []string) (map[string]struct{}, error)
	UpsertBatch(ctx context.Context, records []*business.Record) (int, error)
}

// StateTracker guards and records runs per data source.
type StateTracker interface {
	TryStart(ctx context.Context, source string) (*syncstate.State, error)
	SetSuccess(ctx context.Context, source string, o syncstate.Outcome) error
	SetFailed(ctx context.Context, source string, f syncstate.Failure) error
}

// Runner executes sync runs.
type Runner interface {
	Run(ctx context.Context, src Source) (*Result, error)
}

// Source describes what to sync and how. Zero-valued tuning fields take their defaults. PageRetries is a
// pointer so an explicit 0 disables page retries while nil takes the default.
type Source struct {
	Name        string `default:"public-data-portal" validate:"required,max=64"`
	Key         string `validate:"omitempty,datetime=20060102"`
	PageSize    int    `default:"1000" validate:"min=1,max=1000"`
	MaxPages    int    `default:"100" validate:"min=1"`
	BatchSize   int    `default:"100" validate:"min=1"`
	PageRetries *int   `default:"2" validate:"required,min=0,max=10"`
}

// Result summarizes one run.
type Result struct {
	Success        bool          `json:"success"`
	Source         string        `json:"source"`
	RunID          string        `json:"runId"`
	Key            string        `json:"key"`
	TotalProcessed int           `json:"totalProcessed"`
	NewRecords     int           `json:"newRecords"`
	UpdatedRecords int           `json:"updatedRecords"`
	Fetched        int           `json:"fetched"`
	Pages          int           `json:"pages"`
	Duplicates     int           `json:"duplicates"`
	Skipped        int           `json:"skipped"`
	Errors         []string      `json:"errors"`
	LastExternalID string        `json:"lastExternalId,omitempty"`
	Duration       time.Duration `json:"duration"`
}

// FatalError aborts a run. Stage names the pipeline step that failed.
type FatalError struct {
	Stage string
	Err   error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("sync aborted at %s: %v", e.Stage, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

func fatal(stage string, err error) error {
	var fe *FatalError
	if errors.As(err, &fe) {
		return err
	}
	return &FatalError{Stage: stage, Err: err}
}

func (s *Source) prepare(now time.Time) error {
	if err := defaults.Set(s); err != nil {
		return fmt.Errorf("apply source defaults: %w", err)
	}
	if s.Key == "" {
		s.Key = now.Format(KeyLayout)
	}
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid source: %w", err)
	}
	return nil
}
