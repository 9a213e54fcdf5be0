package http

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/bizsync/registry-sync/pkg/config"
)

func testServerConfig() *config.ServerConfig {
	return &config.ServerConfig{Host: "127.0.0.1", Port: 0, ShutdownTimeout: 100 * time.Millisecond}
}

func TestServeAndWait_RunsDrainsAfterShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var drained []string
	drain := func(name string) DrainFunc {
		return func(ctx context.Context) error {
			if _, ok := ctx.Deadline(); !ok {
				t.Errorf("drain %s got a context without deadline", name)
			}
			drained = append(drained, name)
			return nil
		}
	}

	err := ServeAndWait(ctx, http.NotFoundHandler(), nil, testServerConfig(), drain("runs"), drain("notifications"))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(drained) != 2 || drained[0] != "runs" || drained[1] != "notifications" {
		t.Fatalf("expected drains in order, got %v", drained)
	}
}

func TestServeAndWait_DrainTimeoutIsReported(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stuck := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}

	err := ServeAndWait(ctx, http.NotFoundHandler(), nil, testServerConfig(), stuck)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestServeAndWait_RejectsNilArguments(t *testing.T) {
	if err := ServeAndWait(context.Background(), nil, nil, testServerConfig()); err == nil {
		t.Fatal("expected error for nil handler")
	}
	if err := ServeAndWait(context.Background(), http.NotFoundHandler(), nil, nil); err == nil {
		t.Fatal("expected error for nil config")
	}
}
