package jobs

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrGateClosed is returned once the gate stops admitting jobs.
var ErrGateClosed = errors.New("job gate closed")

// DefaultMaxJobs is the job cap when none is configured.
const DefaultMaxJobs = 1

// Gate bounds how many jobs run at once. It is separate from, and normally
// much smaller than, the per-job scene cap.
type Gate struct {
	sem      *semaphore.Weighted
	capacity int64

	mu      sync.Mutex
	running int
	closed  bool
	wg      sync.WaitGroup
}

// NewGate creates a gate admitting up to n jobs.
func NewGate(n int) *Gate {
	if n <= 0 {
		n = DefaultMaxJobs
	}
	return &Gate{sem: semaphore.NewWeighted(int64(n)), capacity: int64(n)}
}

// Capacity returns the job cap.
func (g *Gate) Capacity() int { return int(g.capacity) }

// Running returns the number of admitted jobs.
func (g *Gate) Running() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running
}

// Acquire blocks until a slot is free. The returned release must be called
// exactly once.
func (g *Gate) Acquire(ctx context.Context) (func(), error) {
	if g.isClosed() {
		return nil, ErrGateClosed
	}
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return g.admit()
}

// TryAcquire admits a job only if a slot is free right now.
func (g *Gate) TryAcquire() (func(), bool) {
	if g.isClosed() || !g.sem.TryAcquire(1) {
		return nil, false
	}
	release, err := g.admit()
	return release, err == nil
}

// Go runs fn in its own goroutine once admitted. It blocks only while
// waiting for a slot.
func (g *Gate) Go(ctx context.Context, fn func()) error {
	release, err := g.Acquire(ctx)
	if err != nil {
		return err
	}
	go func() {
		defer release()
		fn()
	}()
	return nil
}

// Close stops admitting jobs and waits for admitted jobs to finish.
func (g *Gate) Close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	g.wg.Wait()
}

func (g *Gate) admit() (func(), error) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		g.sem.Release(1)
		return nil, ErrGateClosed
	}
	g.running++
	g.wg.Add(1)
	g.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			g.running--
			g.mu.Unlock()
			g.sem.Release(1)
			g.wg.Done()
		})
	}, nil
}

func (g *Gate) isClosed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}
