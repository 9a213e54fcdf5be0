package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bizsync/registry-sync/internal/metrics"
	"github.com/bizsync/registry-sync/pkg/business"
	"github.com/bizsync/registry-sync/pkg/notify"
	"github.com/bizsync/registry-sync/pkg/retry"
	"github.com/bizsync/registry-sync/pkg/syncstate"
	"github.com/bizsync/registry-sync/pkg/upstream"
)

// maxConsecutivePageFailures aborts a run whose pages keep failing after their retries,
// e.g. a rejected service key that answers every page with the same result code.
const maxConsecutivePageFailures = 3

// Orchestrator runs the sync pipeline.
type Orchestrator struct {
	fetcher   PageFetcher
	store     RecordStore
	tracker   StateTracker
	notifier  notify.Notifier
	logger    *zap.Logger
	pageRetry retry.Policy
	now       func() time.Time
	loc       *time.Location
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithPageRetryPolicy sets the delays between attempts of a failing page. The attempt count comes from
// Source.PageRetries.
func WithPageRetryPolicy(p retry.Policy) Option {
	return func(o *Orchestrator) { o.pageRetry = p }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithLocation sets the time zone used to derive the default query key.
func WithLocation(loc *time.Location) Option {
	return func(o *Orchestrator) { o.loc = loc }
}

// New creates an Orchestrator.
func New(
	fetcher PageFetcher,
	store RecordStore,
	tracker StateTracker,
	notifier notify.Notifier,
	logger *zap.Logger,
	opts ...Option,
) *Orchestrator {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	o := &Orchestrator{
		fetcher:   fetcher,
		store:     store,
		tracker:   tracker,
		notifier:  notifier,
		logger:    logger.Named("syncer"),
		pageRetry: retry.DefaultPolicy(),
		now:       time.Now,
		loc:       time.Local,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// run holds the per-run working set. startedAt is the ownership token returned by TryStart.
type run struct {
	src       Source
	res       *Result
	seen      map[string]struct{}
	batch     []*business.Record
	batchNo   int
	logger    *zap.Logger
	startedAt time.Time
}

// Run performs one sync of src. It returns ErrAlreadyRunning, without touching state or upstream, when another
// run holds the source. A *FatalError means the run was aborted and recorded as failed; the partial Result is
// returned alongside it.
func (o *Orchestrator) Run(ctx context.Context, src Source) (*Result, error) {
	start := o.now()
	if err := src.prepare(start.In(o.loc)); err != nil {
		return nil, err
	}

	st, err := o.tracker.TryStart(ctx, src.Name)
	if err != nil {
		if errors.Is(err, syncstate.ErrAlreadyRunning) {
			metrics.SyncRunsTotal.WithLabelValues(src.Name, "rejected").Inc()
			return nil, ErrAlreadyRunning
		}
		return nil, fatal("state", err)
	}

	r := &run{
		src:  src,
		res:  &Result{Source: src.Name, RunID: uuid.NewString(), Key: src.Key, Errors: []string{}},
		seen: make(map[string]struct{}),
	}
	if st != nil && st.StartedAt != nil {
		r.startedAt = *st.StartedAt
	}
	r.logger = o.logger.With(
		zap.String("source", src.Name),
		zap.String("run_id", r.res.RunID),
		zap.String("key", src.Key),
	)
	r.logger.Info("Sync run started", zap.Int("page_size", src.PageSize), zap.Int("max_pages", src.MaxPages))
	o.notifier.SyncStarted(ctx, notify.StartEvent{Source: src.Name, RunID: r.res.RunID})

	err = o.pages(ctx, r)
	if err == nil {
		err = o.flush(ctx, r)
	}
	r.res.Duration = o.now().Sub(start)
	if err != nil {
		return r.res, o.fail(ctx, r, err)
	}

	outcome := syncstate.Outcome{
		StartedAt:      r.startedAt,
		LastBusinessID: r.res.LastExternalID,
		Synced:         r.res.TotalProcessed,
		NewRecords:     r.res.NewRecords,
	}
	if err := o.tracker.SetSuccess(ctx, src.Name, outcome); err != nil {
		return r.res, o.fail(ctx, r, fatal("state", err))
	}

	r.res.Success = true
	metrics.SyncRunsTotal.WithLabelValues(src.Name, "success").Inc()
	metrics.SyncDuration.WithLabelValues(src.Name).Observe(r.res.Duration.Seconds())
	metrics.LastSuccess.WithLabelValues(src.Name).SetToCurrentTime()

	r.logger.Info("Sync run completed",
		zap.Int("pages", r.res.Pages),
		zap.Int("fetched", r.res.Fetched),
		zap.Int("new", r.res.NewRecords),
		zap.Int("updated", r.res.UpdatedRecords),
		zap.Int("duplicates", r.res.Duplicates),
		zap.Int("skipped", r.res.Skipped),
		zap.Int("errors", len(r.res.Errors)),
		zap.Duration("duration", r.res.Duration),
	)
	o.notifier.SyncCompleted(ctx, notify.CompleteEvent{
		Source: src.Name,
		RunID:  r.res.RunID,
		Stats: notify.Stats{
			Fetched:        r.res.Fetched,
			Synced:         r.res.TotalProcessed,
			NewRecords:     r.res.NewRecords,
			UpdatedRecords: r.res.UpdatedRecords,
			Errors:         len(r.res.Errors),
		},
		Duration: r.res.Duration,
	})
	return r.res, nil
}

func (o *Orchestrator) fail(ctx context.Context, r *run, err error) error {
	err = fatal("pipeline", err)
	r.res.Success = false

	// The run may have been aborted by ctx itself; recording the failure must not be.
	sctx := context.WithoutCancel(ctx)
	failure := syncstate.Failure{StartedAt: r.startedAt, Message: err.Error()}
	if serr := o.tracker.SetFailed(sctx, r.src.Name, failure); serr != nil {
		r.logger.Error("Failed to record sync failure", zap.Error(serr))
	}

	metrics.SyncRunsTotal.WithLabelValues(r.src.Name, "failed").Inc()
	metrics.SyncDuration.WithLabelValues(r.src.Name).Observe(r.res.Duration.Seconds())
	r.logger.Error("Sync run failed",
		zap.Int("pages", r.res.Pages),
		zap.Int("processed", r.res.TotalProcessed),
		zap.Duration("duration", r.res.Duration),
		zap.Error(err),
	)
	o.notifier.SyncFailed(sctx, notify.FailEvent{Source: r.src.Name, RunID: r.res.RunID, Err: err})
	return err
}

// pages walks the feed from page 1 until an empty page or MaxPages.
func (o *Orchestrator) pages(ctx context.Context, r *run) error {
	failures := 0
	for pageNo := 1; pageNo <= r.src.MaxPages; pageNo++ {
		if err := ctx.Err(); err != nil {
			return fatal("context", err)
		}

		page, err := o.fetch(ctx, r, pageNo)
		if err != nil {
			var fe *FatalError
			if errors.As(err, &fe) {
				return err
			}
			r.recordError("page", fmt.Sprintf("page %d: %v", pageNo, err))
			r.logger.Warn("Skipping page", zap.Int("page", pageNo), zap.Error(err))
			if failures++; failures >= maxConsecutivePageFailures {
				return fatal("fetch", fmt.Errorf("%d consecutive pages failed: %w", failures, err))
			}
			continue
		}
		failures = 0

		if len(page.Items) == 0 {
			r.logger.Debug("End of data", zap.Int("page", pageNo))
			return nil
		}

		r.res.Pages++
		r.res.Fetched += len(page.Items)
		r.res.LastExternalID = page.Items[len(page.Items)-1].ExternalID()
		metrics.PagesFetched.WithLabelValues(r.src.Name).Inc()

		for i, item := range page.Items {
			if err := o.accept(ctx, r, pageNo, i+1, item); err != nil {
				return err
			}
		}
	}
	r.logger.Warn("Max pages reached", zap.Int("max_pages", r.src.MaxPages))
	return nil
}

// fetchFailure marks upstream errors that must not be retried at page level.
type fetchFailure struct{ err error }

func (f *fetchFailure) Error() string   { return f.err.Error() }
func (f *fetchFailure) Unwrap() error   { return f.err }
func (f *fetchFailure) Retryable() bool { return false }

// fetch loads one page. Result-code and decode errors are retried PageRetries times and then returned as-is;
// anything else the client gives up on (exhausted transport retries, 4xx, cancellation) is fatal.
func (o *Orchestrator) fetch(ctx context.Context, r *run, pageNo int) (*upstream.PageResult, error) {
	policy := o.pageRetry
	policy.MaxAttempts = *r.src.PageRetries + 1

	req := upstream.PageRequest{Key: r.src.Key, PageNo: pageNo, NumOfRows: r.src.PageSize}
	page, err := retry.DoValue(ctx, r.logger, policy, func(ctx context.Context) (*upstream.PageResult, error) {
		page, err := o.fetcher.FetchPage(ctx, req)
		if err == nil {
			return page, nil
		}
		var rc *upstream.ResultCodeError
		var de *upstream.DecodeError
		if errors.As(err, &rc) || errors.As(err, &de) {
			return nil, err
		}
		return nil, &fetchFailure{err: err}
	})
	if err == nil {
		return page, nil
	}

	var ff *fetchFailure
	if errors.As(err, &ff) {
		return nil, fatal("fetch", ff.err)
	}
	if ctx.Err() != nil {
		return nil, fatal("context", err)
	}
	var ex *retry.ExhaustedError
	if errors.As(err, &ex) {
		return nil, ex.Err
	}
	return nil, err
}

// accept parses and de-duplicates one item and adds it to the pending batch.
func (o *Orchestrator) accept(ctx context.Context, r *run, pageNo, itemNo int, item upstream.RawItem) error {
	rec, err := business.Parse(item, r.src.Name, o.now())
	if err != nil {
		r.res.Skipped++
		metrics.RecordsTotal.WithLabelValues(r.src.Name, "invalid").Inc()
		r.recordError("item", fmt.Sprintf("page %d item %d: %v", pageNo, itemNo, err))
		return nil
	}

	if _, dup := r.seen[rec.ExternalID]; dup {
		r.res.Duplicates++
		metrics.RecordsTotal.WithLabelValues(r.src.Name, "duplicate").Inc()
		return nil
	}
	r.seen[rec.ExternalID] = struct{}{}

	r.batch = append(r.batch, rec)
	if len(r.batch) >= r.src.BatchSize {
		return o.flush(ctx, r)
	}
	return nil
}

// flush persists the pending batch. A failing batch is recorded once and the run continues.
func (o *Orchestrator) flush(ctx context.Context, r *run) error {
	if len(r.batch) == 0 {
		return nil
	}
	batch := r.batch
	r.batch = nil
	r.batchNo++

	ids := make([]string, len(batch))
	for i, rec := range batch {
		ids[i] = rec.ExternalID
	}

	existing, err := o.store.ExistingIDs(ctx, ids)
	if err == nil {
		_, err = o.store.UpsertBatch(ctx, batch)
	}
	if err != nil {
		if ctx.Err() != nil {
			return fatal("context", ctx.Err())
		}
		r.res.Skipped += len(batch)
		metrics.RecordsTotal.WithLabelValues(r.src.Name, "skipped").Add(float64(len(batch)))
		r.recordError("batch", fmt.Sprintf("batch %d: %v", r.batchNo, err))
		r.logger.Warn("Batch failed", zap.Int("batch", r.batchNo), zap.Int("size", len(batch)), zap.Error(err))
		return nil
	}

	for _, rec := range batch {
		if _, ok := existing[rec.ExternalID]; ok {
			r.res.UpdatedRecords++
			continue
		}
		r.res.NewRecords++
		o.notifier.NewRecord(ctx, recordEvent(rec))
	}
	r.res.TotalProcessed = r.res.NewRecords + r.res.UpdatedRecords
	metrics.RecordsTotal.WithLabelValues(r.src.Name, "new").Add(float64(len(batch) - len(existing)))
	metrics.RecordsTotal.WithLabelValues(r.src.Name, "updated").Add(float64(len(existing)))
	r.logger.Debug("Batch persisted", zap.Int("batch", r.batchNo), zap.Int("size", len(batch)))
	return nil
}

func (r *run) recordError(stage, msg string) {
	r.res.Errors = append(r.res.Errors, msg)
	metrics.ErrorsTotal.WithLabelValues(r.src.Name, stage).Inc()
}

func recordEvent(rec *business.Record) notify.RecordEvent {
	ev := notify.RecordEvent{ExternalID: rec.ExternalID, Name: rec.Name}
	switch {
	case rec.RoadAddress != nil:
		ev.Address = *rec.RoadAddress
	case rec.LotAddress != nil:
		ev.Address = *rec.LotAddress
	}
	switch {
	case rec.BusinessName != nil:
		ev.BusinessType = *rec.BusinessName
	case rec.Large.Name != nil:
		ev.BusinessType = *rec.Large.Name
	}
	return ev
}
