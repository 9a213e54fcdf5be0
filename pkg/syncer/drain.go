package syncer

import (
	"context"
	"sync"
)

// DrainRunner counts runs in flight so shutdown can wait for them. Manual triggers run
// detached from their request and would otherwise outlive the HTTP server.
type DrainRunner struct {
	next Runner
	wg   sync.WaitGroup
}

// NewDrain wraps next.
func NewDrain(next Runner) *DrainRunner {
	return &DrainRunner{next: next}
}

func (d *DrainRunner) Run(ctx context.Context, src Source) (*Result, error) {
	d.wg.Add(1)
	defer d.wg.Done()
	return d.next.Run(ctx, src)
}

// Wait blocks until every run in flight has returned or ctx is done.
func (d *DrainRunner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
