// Package worker drains queued video jobs through the job admission gate.
package worker

import (
	"context"
	"sync"
	"time"

	"lessonforge/pkg/jobs"
	"lessonforge/pkg/logx"
	"lessonforge/pkg/storage"
)

// Defaults for the poll loop.
const (
	DefaultPollInterval = 30 * time.Second
	DefaultBatch        = 5
)

// Item is one queued job.
type Item struct {
	ID          string
	Topic       string
	Description string
	MaxScenes   int
}

// Source lists queued jobs, oldest first.
type Source interface {
	Queued(ctx context.Context, limit int) ([]Item, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, limit int) ([]Item, error)

// Queued implements Source.
func (f SourceFunc) Queued(ctx context.Context, limit int) ([]Item, error) { return f(ctx, limit) }

// Handler runs one job to completion. Its error is logged; the job's own
// status records the outcome.
type Handler func(ctx context.Context, item Item) error

// Poller periodically submits queued jobs to the handler.
type Poller struct {
	source   Source
	gate     *jobs.Gate
	handler  Handler
	interval time.Duration
	batch    int
	logger   *logx.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
	wg       sync.WaitGroup
}

// New creates a poller.
func New(source Source, gate *jobs.Gate, handler Handler, interval time.Duration, batch int) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if batch <= 0 {
		batch = DefaultBatch
	}
	return &Poller{
		source:   source,
		gate:     gate,
		handler:  handler,
		interval: interval,
		batch:    batch,
		logger:   logx.NewLogger("worker"),
		inFlight: make(map[string]struct{}),
	}
}

// Run polls until ctx is cancelled, then waits for running jobs to return.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("polling every %s, batch %d", p.interval, p.batch)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.Poll(ctx)
		select {
		case <-ctx.Done():
			p.wg.Wait()
			p.logger.Info("poller stopped")
			return
		case <-ticker.C:
		}
	}
}

// Poll runs one poll and returns how many jobs it started. Jobs that do not
// fit through the gate stay queued for the next poll.
func (p *Poller) Poll(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	items, err := p.source.Queued(ctx, p.batch)
	if err != nil {
		p.logger.Warn("failed to list queued jobs: %v", err)
		return 0
	}

	started := 0
	for _, item := range items {
		if !p.claim(item.ID) {
			continue
		}
		release, ok := p.gate.TryAcquire()
		if !ok {
			p.unclaim(item.ID)
			break
		}
		started++
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			defer p.unclaim(item.ID)
			defer release()
			p.logger.Info("starting job %s (%s)", item.ID, item.Topic)
			if err := p.handler(ctx, item); err != nil {
				p.logger.Warn("job %s failed: %v", item.ID, err)
			}
		}()
	}
	return started
}

// Wait blocks until every started job has returned.
func (p *Poller) Wait() { p.wg.Wait() }

func (p *Poller) claim(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.inFlight[id]; busy {
		return false
	}
	p.inFlight[id] = struct{}{}
	return true
}

func (p *Poller) unclaim(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inFlight, id)
}

// FromStorage polls queued video records.
func FromStorage(s *storage.Store) Source {
	return SourceFunc(func(ctx context.Context, limit int) ([]Item, error) {
		videos, err := s.Queued(ctx, limit)
		if err != nil {
			return nil, err
		}
		items := make([]Item, 0, len(videos))
		for _, v := range videos {
			items = append(items, Item{ID: v.ID, Topic: v.Topic, Description: v.Description, MaxScenes: v.SceneCount})
		}
		return items, nil
	})
}

// FromJobs polls queued jobs of the in-process job store.
func FromJobs(store jobs.Store) Source {
	return SourceFunc(func(ctx context.Context, limit int) ([]Item, error) {
		queued, err := store.List(ctx, jobs.Filter{Status: jobs.StatusQueued})
		if err != nil {
			return nil, err
		}
		// List is newest first; the queue drains oldest first.
		items := make([]Item, 0, len(queued))
		for i := len(queued) - 1; i >= 0 && len(items) < limit; i-- {
			j := queued[i]
			items = append(items, Item{ID: j.ID, Topic: j.Topic, Description: j.Description, MaxScenes: j.MaxScenes})
		}
		return items, nil
	})
}
