package daemon

import (
	"context"
	"log/slog"
	"sync"
)

// WorkerGroup tracks the daemon's background jobs (index refresh, learning
// runs) so shutdown can wait for in-flight work. WaitGroup.Add never races
// Wait, and a panicking job is logged instead of taking the daemon down.
type WorkerGroup struct {
	mu       sync.Mutex
	wg       sync.WaitGroup
	stopping bool
	logger   *slog.Logger
}

// Go starts a named background job unless the group is already stopping.
func (g *WorkerGroup) Go(name string, fn func()) bool {
	if fn == nil {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopping {
		return false
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer func() {
			if r := recover(); r != nil && g.logger != nil {
				g.logger.Error("background job panicked",
					slog.String("job", name), slog.Any("panic", r))
			}
		}()
		fn()
	}()
	return true
}

// StopAndWait refuses new jobs and waits for the running ones, bounded by
// ctx.
func (g *WorkerGroup) StopAndWait(ctx context.Context) error {
	g.mu.Lock()
	g.stopping = true
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
