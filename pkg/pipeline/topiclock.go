package pipeline

import (
	"context"
	"sync"
)

// topicLocks serializes runs that share a topic directory. A scene directory
// must only ever be written by one loop, so a second job on the same topic
// waits and then resumes from the first job's artifacts.
type topicLocks struct {
	mu   sync.Mutex
	held map[string]*topicLock
}

type topicLock struct {
	ch   chan struct{}
	refs int
}

func newTopicLocks() *topicLocks {
	return &topicLocks{held: map[string]*topicLock{}}
}

// acquire blocks until prefix is free or ctx is done. The returned func
// releases the lock.
func (t *topicLocks) acquire(ctx context.Context, prefix string) (func(), error) {
	t.mu.Lock()
	l, ok := t.held[prefix]
	if !ok {
		l = &topicLock{ch: make(chan struct{}, 1)}
		t.held[prefix] = l
	}
	l.refs++
	t.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		return func() {
			<-l.ch
			t.unref(prefix, l)
		}, nil
	case <-ctx.Done():
		t.unref(prefix, l)
		return nil, context.Cause(ctx)
	}
}

func (t *topicLocks) unref(prefix string, l *topicLock) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(t.held, prefix)
	}
}
