package persistence

import (
	"context"
	"database/sql"
	"errors"
	"sync"
)

// ErrWriterClosed is returned by Submit after Close.
var ErrWriterClosed = errors.New("persistence writer closed")

// Request is a fire-and-forget write. Name labels the operation in logs.
type Request struct {
	Name string
	Exec func(ctx context.Context, db *sql.DB) error
}

// Writer serializes best-effort writes on one goroutine so callers never wait
// on SQLite. Failures are logged and dropped.
type Writer struct {
	db       *DB
	requests chan Request
	done     chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewWriter starts a writer with the given queue depth.
func NewWriter(db *DB, queue int) *Writer {
	w := &Writer{
		db:       db,
		requests: make(chan Request, queue),
		done:     make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *Writer) run() {
	defer close(w.done)
	for req := range w.requests {
		if err := req.Exec(context.Background(), w.db.DB); err != nil {
			w.db.logger.Warn("write %s failed: %v", req.Name, err)
		}
	}
}

// Submit enqueues req. It blocks only when the queue is full.
func (w *Writer) Submit(req Request) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrWriterClosed
	}
	w.requests <- req
	return nil
}

// Close stops accepting requests and waits for queued writes to finish.
func (w *Writer) Close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.requests)
	}
	w.mu.Unlock()
	<-w.done
}
