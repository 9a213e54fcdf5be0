package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/bizsync/registry-sync/pkg/config"
)

const defaultShutdownTimeout = 30 * time.Second

// DrainFunc waits for work started by requests that may outlive them, such as a sync run
// detached from its request context. It must return once ctx is done.
type DrainFunc func(ctx context.Context) error

// ServeAndWait serves handler until ctx is canceled or the server fails. On the way out it
// shuts the server down and then runs every drain in order, all within cfg.ShutdownTimeout,
// so callers can release shared resources such as the database afterwards.
func ServeAndWait(
	ctx context.Context,
	handler http.Handler,
	logger *zap.Logger,
	cfg *config.ServerConfig,
	drains ...DrainFunc,
) error {
	if handler == nil {
		return fmt.Errorf("nil handler")
	}
	if cfg == nil {
		return fmt.Errorf("nil server config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	shutdownTimeout := cfg.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case runErr = <-errCh:
		if runErr != nil {
			logger.Error("HTTP server error", zap.Error(runErr))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	logger.Info("Shutting down HTTP server", zap.Duration("timeout", shutdownTimeout))
	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	for _, drain := range drains {
		if err := drain(shutdownCtx); err != nil {
			logger.Error("Drain did not finish before shutdown timeout", zap.Error(err))
			errs = append(errs, fmt.Errorf("drain: %w", err))
		}
	}

	if runErr != nil {
		errs = append(errs, fmt.Errorf("http server failed: %w", runErr))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	logger.Info("HTTP server stopped")
	return nil
}
