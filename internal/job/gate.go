package job

import (
	"context"
	"sync"
)

// Gate bounds the number of jobs running at once and tracks them so shutdown
// can wait for in-flight work. It holds no job state.
type Gate struct {
	mu        sync.RWMutex
	semaphore chan struct{}
	workersWG sync.WaitGroup
	baseCtx   context.Context
}

// NewGate creates a gate admitting up to maxConcurrent jobs.
func NewGate(maxConcurrent int) *Gate {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Gate{
		semaphore: make(chan struct{}, maxConcurrent),
		baseCtx:   context.Background(),
	}
}

// IsBusy reports whether the gate is currently at max concurrency.
func (g *Gate) IsBusy() bool {
	return len(g.semaphore) >= cap(g.semaphore)
}

// InFlight returns the number of admitted jobs.
func (g *Gate) InFlight() int {
	return len(g.semaphore)
}

// SetBaseContext sets the context whose cancellation aborts every admitted job.
// Intended to be set at process startup and cancelled during shutdown.
func (g *Gate) SetBaseContext(ctx context.Context) {
	g.mu.Lock()
	g.baseCtx = ctx
	g.mu.Unlock()
}

// Run executes fn if a slot is free, returning ErrBusy otherwise. The context
// passed to fn is cancelled when either ctx or the base context is done.
func (g *Gate) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	select {
	case g.semaphore <- struct{}{}:
	default:
		return ErrBusy
	}
	g.workersWG.Add(1)
	defer func() {
		<-g.semaphore
		g.workersWG.Done()
	}()

	g.mu.RLock()
	base := g.baseCtx
	g.mu.RUnlock()

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(base, cancel)
	defer stop()

	return fn(jobCtx)
}

// WaitAll blocks until all in-flight jobs finish or the context is done.
// Returns true if all jobs finished, false if timed out.
func (g *Gate) WaitAll(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		g.workersWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
