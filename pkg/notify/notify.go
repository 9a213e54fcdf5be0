// Package notify delivers sync lifecycle events to a Slack incoming webhook.
package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/bizsync/registry-sync/pkg/config"
)

// Event names used in logs and metrics.
const (
	EventSyncStarted   = "sync_started"
	EventNewRecord     = "new_record"
	EventSyncCompleted = "sync_completed"
	EventSyncFailed    = "sync_failed"
)

// Notifier receives sync lifecycle events. Delivery is best-effort: implementations log failures and never
// return them.
type Notifier interface {
	SyncStarted(ctx context.Context, ev StartEvent)
	NewRecord(ctx context.Context, ev RecordEvent)
	SyncCompleted(ctx context.Context, ev CompleteEvent)
	SyncFailed(ctx context.Context, ev FailEvent)
}

type StartEvent struct {
	Source string
	RunID  string
}

// RecordEvent describes a business seen for the first time.
type RecordEvent struct {
	ExternalID   string
	Name         string
	Address      string
	BusinessType string
}

// Stats are the run-scoped counters reported on completion.
type Stats struct {
	Fetched        int
	Synced         int
	NewRecords     int
	UpdatedRecords int
	Errors         int
}

type CompleteEvent struct {
	Source   string
	RunID    string
	Stats    Stats
	Duration time.Duration
}

type FailEvent struct {
	Source string
	RunID  string
	Err    error
}

// Nop discards every event.
type Nop struct{}

func (Nop) SyncStarted(context.Context, StartEvent)      {}
func (Nop) NewRecord(context.Context, RecordEvent)       {}
func (Nop) SyncCompleted(context.Context, CompleteEvent) {}
func (Nop) SyncFailed(context.Context, FailEvent)        {}

// New builds the notifier described by cfg: Nop when no webhook URL is configured, otherwise a Slack sender
// wrapped in Async so callers never wait on delivery.
func New(cfg *config.NotifyConfig, logger *zap.Logger) *Async {
	if cfg.SlackWebhookURL == "" {
		logger.Warn("Slack webhook URL not configured, notifications disabled")
		return NewAsync(Nop{}, cfg.MaxInFlight, logger)
	}
	slack := NewSlack(SlackConfig{
		WebhookURL: cfg.SlackWebhookURL,
		Username:   cfg.Username,
		IconEmoji:  cfg.IconEmoji,
		Timeout:    cfg.Timeout,
	}, logger)
	return NewAsync(slack, cfg.MaxInFlight, logger)
}
