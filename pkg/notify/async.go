package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/bizsync/registry-sync/internal/metrics"
)

const (
	defaultMaxInFlight = 8
	// lifecycleSlots bounds concurrent start, completed and failed deliveries.
	lifecycleSlots = 2
)

// Async delivers events on background goroutines so the sync pipeline never waits on Slack.
// At most maxInFlight new-record deliveries run at once and further new-record events are dropped.
// Lifecycle events have their own slots and wait for one instead of being dropped.
type Async struct {
	next      Notifier
	records   *semaphore.Weighted
	lifecycle *semaphore.Weighted
	wg        sync.WaitGroup
	timeout   time.Duration
	logger    *zap.Logger
}

// NewAsync wraps next. maxInFlight below one uses the default.
func NewAsync(next Notifier, maxInFlight int64, logger *zap.Logger) *Async {
	if maxInFlight < 1 {
		maxInFlight = defaultMaxInFlight
	}
	return &Async{
		next:      next,
		records:   semaphore.NewWeighted(maxInFlight),
		lifecycle: semaphore.NewWeighted(lifecycleSlots),
		timeout:   30 * time.Second,
		logger:    logger.Named("notify"),
	}
}

func (a *Async) SyncStarted(ctx context.Context, ev StartEvent) {
	a.deliver(ctx, EventSyncStarted, func(ctx context.Context) { a.next.SyncStarted(ctx, ev) })
}

func (a *Async) NewRecord(ctx context.Context, ev RecordEvent) {
	a.tryDeliver(ctx, EventNewRecord, func(ctx context.Context) { a.next.NewRecord(ctx, ev) })
}

func (a *Async) SyncCompleted(ctx context.Context, ev CompleteEvent) {
	a.deliver(ctx, EventSyncCompleted, func(ctx context.Context) { a.next.SyncCompleted(ctx, ev) })
}

func (a *Async) SyncFailed(ctx context.Context, ev FailEvent) {
	a.deliver(ctx, EventSyncFailed, func(ctx context.Context) { a.next.SyncFailed(ctx, ev) })
}

// tryDeliver drops the event when every new-record slot is busy.
func (a *Async) tryDeliver(ctx context.Context, event string, send func(context.Context)) {
	if !a.records.TryAcquire(1) {
		metrics.NotificationsTotal.WithLabelValues(event, "dropped").Inc()
		a.logger.Warn("notification dropped, too many in flight", zap.String("event", event))
		return
	}
	a.spawn(ctx, func(dctx context.Context) {
		defer a.records.Release(1)
		send(dctx)
	})
}

// deliver waits in the background for a lifecycle slot. The event is only lost when
// no slot frees up before the delivery timeout.
func (a *Async) deliver(ctx context.Context, event string, send func(context.Context)) {
	a.spawn(ctx, func(dctx context.Context) {
		if err := a.lifecycle.Acquire(dctx, 1); err != nil {
			metrics.NotificationsTotal.WithLabelValues(event, "dropped").Inc()
			a.logger.Warn("notification dropped, no delivery slot before timeout",
				zap.String("event", event), zap.Error(err))
			return
		}
		defer a.lifecycle.Release(1)
		send(dctx)
	})
}

// spawn runs fn on a goroutine tracked by Close. Delivery outlives the caller's request but not the process.
func (a *Async) spawn(ctx context.Context, fn func(context.Context)) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer cancel()
		fn(dctx)
	}()
}

// Close waits for in-flight deliveries or until ctx is done.
func (a *Async) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
