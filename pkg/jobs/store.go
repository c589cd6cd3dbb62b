package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"lessonforge/pkg/logx"
)

// DefaultTTL is how long a finished job stays visible.
const DefaultTTL = 24 * time.Hour

// Filter narrows List. Zero values match everything.
type Filter struct {
	Status Status
	Limit  int
}

// Counts is a status breakdown.
type Counts map[Status]int

// Store is the job-state store passed to every component that reports job
// status.
type Store interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	// Update applies fn to the stored job under the store's lock and returns
	// a copy of the result.
	Update(ctx context.Context, id string, fn func(*Job)) (*Job, error)
	List(ctx context.Context, f Filter) ([]*Job, error)
	Delete(ctx context.Context, id string) error
	// ClearFinished removes every terminal job and returns how many it removed.
	ClearFinished(ctx context.Context) (int, error)
	Counts(ctx context.Context) (Counts, error)
}

// MemoryStore is an in-process Store. Terminal jobs are expired after the TTL
// by a janitor goroutine that Close stops.
type MemoryStore struct {
	jobs   map[string]*Job
	ttl    time.Duration
	now    func() time.Time
	logger *logx.Logger

	mu     sync.RWMutex
	stop   chan struct{}
	done   chan struct{}
	closed sync.Once
}

// NewMemoryStore creates a store and starts its janitor, which sweeps every
// sweep interval. A zero ttl uses DefaultTTL.
func NewMemoryStore(ttl, sweep time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if sweep <= 0 {
		sweep = time.Hour
	}
	s := &MemoryStore{
		jobs:   make(map[string]*Job),
		ttl:    ttl,
		now:    time.Now,
		logger: logx.NewLogger("jobs"),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.janitor(sweep)
	return s
}

func (s *MemoryStore) janitor(every time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if n := s.Expire(); n > 0 {
				s.logger.Info("expired %d finished jobs", n)
			}
		}
	}
}

// Close stops the janitor.
func (s *MemoryStore) Close() {
	s.closed.Do(func() { close(s.stop) })
	<-s.done
}

// Expire removes terminal jobs older than the TTL.
func (s *MemoryStore) Expire() int {
	cutoff := s.now().Add(-s.ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, j := range s.jobs {
		if j.Status.IsTerminal() && j.CompletedAt != nil && j.CompletedAt.Before(cutoff) {
			delete(s.jobs, id)
			n++
		}
	}
	return n
}

// Create implements Store. Creating an existing id replaces nothing and
// succeeds, so a resumed job keeps its state.
func (s *MemoryStore) Create(_ context.Context, job *Job) error {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return nil
	}
	c := *job
	if c.Status == "" {
		c.Status = StatusQueued
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	s.jobs[c.ID] = &c
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *j
	return &c, nil
}

// Update implements Store.
func (s *MemoryStore) Update(_ context.Context, id string, fn func(*Job)) (*Job, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	fn(j)
	j.UpdatedAt = now
	c := *j
	return &c, nil
}

// List implements Store. Jobs are returned newest first.
func (s *MemoryStore) List(_ context.Context, f Filter) ([]*Job, error) {
	s.mu.RLock()
	out := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		c := *j
		out = append(out, &c)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].ID < out[b].ID
		}
		return out[a].CreatedAt.After(out[b].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return ErrNotFound
	}
	delete(s.jobs, id)
	return nil
}

// ClearFinished implements Store.
func (s *MemoryStore) ClearFinished(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, j := range s.jobs {
		if j.Status.IsTerminal() {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

// Counts implements Store.
func (s *MemoryStore) Counts(_ context.Context) (Counts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := Counts{}
	for _, j := range s.jobs {
		c[j.Status]++
	}
	return c, nil
}
