// Package syncserver implements app.Runner for the registry sync process.
package syncserver

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/bizsync/registry-sync/pkg/api"
	apphttp "github.com/bizsync/registry-sync/pkg/app/http"
	"github.com/bizsync/registry-sync/pkg/businessstore"
	"github.com/bizsync/registry-sync/pkg/config"
	"github.com/bizsync/registry-sync/pkg/notify"
	"github.com/bizsync/registry-sync/pkg/pgutil"
	"github.com/bizsync/registry-sync/pkg/retry"
	"github.com/bizsync/registry-sync/pkg/scheduler"
	"github.com/bizsync/registry-sync/pkg/syncer"
	"github.com/bizsync/registry-sync/pkg/syncstate"
	"github.com/bizsync/registry-sync/pkg/upstream"
)

const defaultRequestTimeout = 60 * time.Second

// Server holds cfg to init the sync server.
type Server struct {
	cfg *config.Config
}

// NewServer initializes a new sync server.
func NewServer(cfg *config.Config) *Server {
	return &Server{cfg: cfg}
}

// Run wires the pipeline, starts the scheduler and serves the trigger API.
// It blocks until an OS shutdown signal is received or the HTTP server fails.
func (s *Server) Run() error {
	if s.cfg == nil {
		return fmt.Errorf("sync server config is nil")
	}
	cfg := s.cfg

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting registry sync server",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("source", cfg.Sync.Source),
	)

	st, err := openStores(ctx, &cfg.Database, logger)
	if err != nil {
		return err
	}
	defer func() { _ = st.close() }()

	loc, err := location(cfg.Scheduler.Timezone)
	if err != nil {
		return err
	}

	client, err := upstream.New(upstreamConfig(&cfg.Upstream), logger)
	if err != nil {
		return fmt.Errorf("create upstream client: %w", err)
	}
	if err := client.Ping(ctx, time.Now().In(loc).Format(syncer.KeyLayout)); err != nil {
		logger.Warn("Upstream health check failed", zap.Error(err))
	}

	notifier := notify.New(&cfg.Notify, logger)
	defer closeNotifier(notifier, logger)

	tracker, runner := newPipeline(st, client, notifier, cfg, loc, logger)
	source := sourceFromConfig(&cfg.Sync)

	var (
		sched       *scheduler.Scheduler
		schedStatus api.SchedulerStatus
	)
	if cfg.Scheduler.Enabled {
		sched = scheduler.New(func(ctx context.Context) error {
			_, err := runner.Run(ctx, source)
			return err
		}, logger, scheduler.WithLocation(loc), scheduler.WithContext(ctx))
		if err := sched.Start(cfg.Scheduler.Schedule); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		schedStatus = sched
		defer func() { <-sched.Stop().Done() }()
	} else {
		logger.Info("Scheduler disabled, sync runs only on demand")
	}

	svc := api.NewService(runner, tracker, schedStatus, source, logger)
	auth := api.NewWebhookAuth(cfg.Webhook.Secret)
	if cfg.Webhook.Secret == "" {
		logger.Warn("Webhook secret not configured, webhook triggers will be rejected")
	}

	router := s.setupRouter(svc, auth, logger)

	// Manual runs are detached from their request, so wait for them before the stores close.
	return apphttp.ServeAndWait(ctx, router, logger, &cfg.Server, runner.Wait)
}

func (s *Server) setupRouter(svc api.Service, auth *api.WebhookAuth, logger *zap.Logger) http.Handler {
	cfg := s.cfg

	requestTimeout := cfg.Server.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))

		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("OK"))
		})

		if cfg.Monitoring.Enabled {
			r.Handle(cfg.Monitoring.MetricsPath, promhttp.Handler())
			logger.Info("Metrics enabled", zap.String("path", cfg.Monitoring.MetricsPath))
		}
	})

	// Sync triggers block until the run finishes, so they carry no request timeout.
	api.RegisterRoutes(r, svc, auth, logger)

	return r
}

// stores groups the persistence the pipeline runs on.
type stores struct {
	states  syncstate.Store
	records businessstore.Store
	close   func() error
}

// openStores connects to postgres, or falls back to process memory when the database is disabled.
func openStores(ctx context.Context, cfg *config.DatabaseConfig, logger *zap.Logger) (*stores, error) {
	if !cfg.Enabled {
		logger.Warn("Database disabled, sync state and records are kept in memory and lost on exit")
		return &stores{
			states:  syncstate.NewMemoryStore(),
			records: businessstore.NewMemoryStore(),
			close:   func() error { return nil },
		}, nil
	}

	db, err := pgutil.ConnectDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("Connected to database",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database))
	return &stores{
		states:  syncstate.NewStore(db),
		records: businessstore.NewStore(db),
		close:   db.Close,
	}, nil
}

func newPipeline(
	st *stores,
	fetcher syncer.PageFetcher,
	notifier notify.Notifier,
	cfg *config.Config,
	loc *time.Location,
	logger *zap.Logger,
) (*syncstate.Tracker, *syncer.DrainRunner) {
	var trackerOpts []syncstate.TrackerOption
	if cfg.Sync.StaleAfter > 0 {
		trackerOpts = append(trackerOpts, syncstate.WithStaleAfter(cfg.Sync.StaleAfter))
	}
	tracker := syncstate.NewTracker(st.states, logger, trackerOpts...)

	orchestrator := syncer.New(
		fetcher,
		st.records,
		tracker,
		notifier,
		logger,
		syncer.WithLocation(loc),
	)
	return tracker, syncer.NewDrain(syncer.NewLog(orchestrator, logger))
}

func upstreamConfig(cfg *config.UpstreamConfig) upstream.Config {
	return upstream.Config{
		BaseURL:      cfg.BaseURL,
		Endpoint:     cfg.Endpoint,
		ServiceKey:   cfg.ServiceKey,
		Format:       cfg.Format,
		Timeout:      cfg.Timeout,
		UserAgent:    cfg.UserAgent,
		MaxBodyBytes: cfg.MaxBody,
		Retry: retry.Policy{
			MaxAttempts:   cfg.Retry.MaxAttempts,
			InitialDelay:  cfg.Retry.InitialDelay,
			MaxDelay:      cfg.Retry.MaxDelay,
			BackoffFactor: cfg.Retry.BackoffFactor,
		},
	}
}

func sourceFromConfig(cfg *config.SyncConfig) syncer.Source {
	pageRetries := cfg.PageRetries
	return syncer.Source{
		Name:        cfg.Source,
		PageSize:    cfg.PageSize,
		MaxPages:    cfg.MaxPages,
		BatchSize:   cfg.BatchSize,
		PageRetries: &pageRetries,
	}
}

func location(name string) (*time.Location, error) {
	if name == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return loc, nil
}

func closeNotifier(n *notify.Async, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := n.Close(ctx); err != nil {
		logger.Warn("Pending notifications not delivered before shutdown", zap.Error(err))
	}
}
