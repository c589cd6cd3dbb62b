package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lessonforge/pkg/fixmemory"
	"lessonforge/pkg/jobs"
)

type staticStats struct{ stats fixmemory.Stats }

func (s staticStats) Stats(context.Context) fixmemory.Stats { return s.stats }

func newTestServer(t *testing.T) (*Server, *jobs.MemoryStore, http.Handler) {
	t.Helper()
	store := jobs.NewMemoryStore(time.Hour, time.Hour)
	t.Cleanup(store.Close)
	s := NewServer(Options{
		Jobs:    store,
		Gate:    jobs.NewGate(1),
		Memory:  staticStats{fixmemory.Stats{Enabled: true, ErrorFixes: 4, TopSignatures: []fixmemory.SignatureCount{}}},
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("# metrics\n")) }),
		Version: "test",
	})
	return s, store, s.Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") && strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestGenerateQueuesJob(t *testing.T) {
	_, store, h := newTestServer(t)

	rec, body := do(t, h, http.MethodPost, "/api/generate", `{"topic":"Pythagorean theorem","context":"right triangles"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "queued", body["status"])
	id, _ := body["task_id"].(string)
	require.NotEmpty(t, id)

	job, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Pythagorean theorem", job.Topic)
	assert.Equal(t, "right triangles", job.Description)
	assert.Equal(t, DefaultMaxScenes, job.MaxScenes)

	rec, body = do(t, h, http.MethodGet, "/api/status/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, body["task_id"])
	assert.Equal(t, "queued", body["status"])
}

func TestGenerateValidation(t *testing.T) {
	_, _, h := newTestServer(t)
	tests := []struct {
		name string
		body string
	}{
		{"bad json", `{"topic":`},
		{"missing topic", `{"context":"x"}`},
		{"blank topic", `{"topic":"   "}`},
		{"too many scenes", `{"topic":"x","max_scenes":99}`},
		{"negative scenes", `{"topic":"x","max_scenes":-1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := do(t, h, http.MethodPost, "/api/generate", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestStatusNotFound(t *testing.T) {
	_, _, h := newTestServer(t)
	rec, _ := do(t, h, http.MethodGet, "/api/status/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListAndDelete(t *testing.T) {
	ctx := context.Background()
	_, store, h := newTestServer(t)
	require.NoError(t, store.Create(ctx, &jobs.Job{ID: "done", Topic: "a"}))
	require.NoError(t, store.Create(ctx, &jobs.Job{ID: "busy", Topic: "b"}))
	require.NoError(t, store.Create(ctx, &jobs.Job{ID: "waiting", Topic: "c"}))
	_, _ = store.Update(ctx, "done", func(j *jobs.Job) { j.Complete("out.mp4", time.Now()) })
	_, _ = store.Update(ctx, "busy", func(j *jobs.Job) { j.Status = jobs.StatusRendering })

	rec, body := do(t, h, http.MethodGet, "/api/tasks?status=completed", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["count"])

	rec, body = do(t, h, http.MethodGet, "/api/tasks?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["count"])

	rec, _ = do(t, h, http.MethodGet, "/api/tasks?status=combining", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = do(t, h, http.MethodGet, "/api/tasks?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, http.MethodDelete, "/api/tasks/busy", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec, _ = do(t, h, http.MethodDelete, "/api/tasks/waiting", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = do(t, h, http.MethodDelete, "/api/tasks/waiting", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = do(t, h, http.MethodDelete, "/api/tasks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["cleared"])

	_, err := store.Get(ctx, "busy")
	assert.NoError(t, err)
}

func TestStatsAndHealth(t *testing.T) {
	ctx := context.Background()
	_, store, h := newTestServer(t)
	require.NoError(t, store.Create(ctx, &jobs.Job{ID: "a"}))
	require.NoError(t, store.Create(ctx, &jobs.Job{ID: "b"}))
	_, _ = store.Update(ctx, "b", func(j *jobs.Job) { j.Status = jobs.StatusRendering })

	rec, body := do(t, h, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["total_tasks"])
	breakdown, _ := body["status_breakdown"].(map[string]any)
	assert.EqualValues(t, 1, breakdown["queued"])
	assert.EqualValues(t, 1, breakdown["rendering"])
	assert.EqualValues(t, 0, breakdown["failed"])

	rec, body = do(t, h, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.EqualValues(t, 1, body["max_jobs"])
	assert.Equal(t, "test", body["version"])

	rec, body = do(t, h, http.MethodGet, "/api/memory/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["enabled"])
	assert.EqualValues(t, 4, body["error_fixes"])
}

func TestLogsAndMetrics(t *testing.T) {
	s, _, h := newTestServer(t)
	s.logger.Info("hello from the api test")

	rec, _ := do(t, h, http.MethodGet, "/api/logs?component=api", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hello from the api test")

	rec, _ = do(t, h, http.MethodGet, "/api/logs?since=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "# metrics")
}

func TestMethodNotAllowed(t *testing.T) {
	_, _, h := newTestServer(t)
	rec, _ := do(t, h, http.MethodGet, "/api/generate", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
