package syncer

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

const runnerName = "SyncRunner"

// logRunner wraps Runner with logging of every run request
type logRunner struct {
	next   Runner
	logger *zap.Logger
}

// NewLog creates a logging decorator for a Runner.
func NewLog(next Runner, logger *zap.Logger) Runner {
	return &logRunner{next: next, logger: logger}
}

func (l *logRunner) Run(ctx context.Context, src Source) (res *Result, err error) {
	start := time.Now()
	l.logger.Info("Run started",
		zap.String("service", runnerName),
		zap.String("source", src.Name),
		zap.String("key", src.Key),
	)

	defer func() {
		duration := time.Since(start)
		switch {
		case errors.Is(err, ErrAlreadyRunning):
			l.logger.Info("Run rejected, sync already in progress",
				zap.String("service", runnerName),
				zap.String("source", src.Name),
			)
		case err != nil:
			l.logger.Error("Run failed",
				zap.String("service", runnerName),
				zap.String("source", src.Name),
				zap.Duration("duration", duration),
				zap.Error(err),
			)
		default:
			l.logger.Info("Run completed",
				zap.String("service", runnerName),
				zap.String("source", res.Source),
				zap.String("run_id", res.RunID),
				zap.Int("total_processed", res.TotalProcessed),
				zap.Int("errors", len(res.Errors)),
				zap.Duration("duration", duration),
			)
		}
	}()

	return l.next.Run(ctx, src)
}
