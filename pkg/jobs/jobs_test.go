package jobs

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newStore(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore(time.Hour, time.Hour)
	t.Cleanup(s.Close)
	return s
}

func TestStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.Create(ctx, &Job{ID: "a", Topic: "Circles", MaxScenes: 3}))
	j, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, j.Status)
	assert.False(t, j.CreatedAt.IsZero())

	updated, err := s.Update(ctx, "a", func(j *Job) {
		j.Status = StatusRendering
		j.Progress = 45
	})
	require.NoError(t, err)
	assert.Equal(t, 45, updated.Progress)

	// Returned jobs are copies.
	updated.Progress = 99
	j, _ = s.Get(ctx, "a")
	assert.Equal(t, 45, j.Progress)

	require.NoError(t, s.Delete(ctx, "a"))
	_, err = s.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "a"), ErrNotFound)
	_, err = s.Update(ctx, "a", func(*Job) {})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateKeepsExistingJob(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.Create(ctx, &Job{ID: "a", Status: StatusRendering, Progress: 50}))
	require.NoError(t, s.Create(ctx, &Job{ID: "a"}))
	j, _ := s.Get(ctx, "a")
	assert.Equal(t, StatusRendering, j.Status)
	assert.Equal(t, 50, j.Progress)
}

func TestListFilterAndOrder(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		require.NoError(t, s.Create(ctx, &Job{ID: id, CreatedAt: base.Add(time.Duration(i) * time.Minute)}))
	}
	_, _ = s.Update(ctx, "mid", func(j *Job) { j.Complete("out.mp4", base) })

	all, err := s.List(ctx, Filter{})
	require.NoError(t, err)
	ids := make([]string, 0, len(all))
	for _, j := range all {
		ids = append(ids, j.ID)
	}
	assert.Equal(t, []string{"new", "mid", "old"}, ids)

	done, _ := s.List(ctx, Filter{Status: StatusCompleted})
	require.Len(t, done, 1)
	assert.Equal(t, "mid", done[0].ID)

	limited, _ := s.List(ctx, Filter{Limit: 2})
	assert.Len(t, limited, 2)

	counts, _ := s.Counts(ctx)
	assert.Equal(t, Counts{StatusQueued: 2, StatusCompleted: 1}, counts)
}

func TestExpireAndClear(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Create(ctx, &Job{ID: "stale"}))
	require.NoError(t, s.Create(ctx, &Job{ID: "fresh"}))
	require.NoError(t, s.Create(ctx, &Job{ID: "running"}))
	_, _ = s.Update(ctx, "stale", func(j *Job) { j.Fail(errors.New("boom"), now.Add(-2*time.Hour)) })
	_, _ = s.Update(ctx, "fresh", func(j *Job) { j.Complete("x.mp4", now.Add(-time.Minute)) })
	_, _ = s.Update(ctx, "running", func(j *Job) { j.Status = StatusRendering })

	assert.Equal(t, 1, s.Expire())
	_, err := s.Get(ctx, "stale")
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := s.ClearFinished(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = s.Get(ctx, "running")
	assert.NoError(t, err)
}

func TestFailTruncatesError(t *testing.T) {
	var j Job
	j.Fail(errors.New(strings.Repeat("x", 2000)), time.Now())
	assert.Equal(t, StatusFailed, j.Status)
	assert.Len(t, []rune(j.Error), MaxErrorLength)
	assert.NotNil(t, j.CompletedAt)
}

func TestValidStatus(t *testing.T) {
	assert.True(t, ValidStatus("rendering"))
	assert.False(t, ValidStatus("combining"))
	assert.True(t, StatusFailed.IsTerminal())
	assert.False(t, StatusQueued.IsTerminal())
}

func TestGateBoundsJobs(t *testing.T) {
	g := NewGate(1)
	release, err := g.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, g.Running())

	_, ok := g.TryAcquire()
	assert.False(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = g.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release() // idempotent
	assert.Zero(t, g.Running())

	second, ok := g.TryAcquire()
	require.True(t, ok)
	second()
	g.Close()
}

func TestGateGoAndClose(t *testing.T) {
	g := NewGate(2)
	var ran atomic.Int32
	for i := 0; i < 4; i++ {
		require.NoError(t, g.Go(context.Background(), func() {
			time.Sleep(5 * time.Millisecond)
			ran.Add(1)
		}))
	}
	g.Close()
	assert.Equal(t, int32(4), ran.Load())

	_, err := g.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrGateClosed)
	_, ok := g.TryAcquire()
	assert.False(t, ok)
	assert.Equal(t, 2, g.Capacity())
}
