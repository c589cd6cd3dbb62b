package metrics

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusHandlerExposesPipelineMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheus(reg)
	p.RenderAttempt(false)
	p.RenderAttempt(true)
	p.RepairAttempt("web_search", true)
	p.FixCommitted("web_search")
	p.SceneFinished("rendered", 2)
	p.JobFinished("completed")

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{
		`lessonforge_renders_total{outcome="failure"} 1`,
		`lessonforge_repairs_total{method="web_search",produced="true"} 1`,
		`lessonforge_fix_commits_total{method="web_search"} 1`,
		`lessonforge_jobs_total{status="completed"} 1`,
	} {
		assert.Contains(t, string(body), want)
	}
}

// fakePrometheus answers instant queries with a fixed value per query substring.
func fakePrometheus(t *testing.T, values map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		query := r.Form.Get("query")
		w.Header().Set("Content-Type", "application/json")

		var result []map[string]any
		if strings.HasPrefix(query, "group by (stage)") {
			result = []map[string]any{
				{"metric": map[string]string{"stage": "synthesize"}, "value": []any{1, "1"}},
			}
		} else {
			for substr, v := range values {
				if strings.Contains(query, substr) {
					result = append(result, map[string]any{"metric": map[string]string{}, "value": []any{1, v}})
					break
				}
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "success",
			"data":   map[string]any{"resultType": "vector", "result": result},
		})
	}))
}

func TestQueryServiceJobMetrics(t *testing.T) {
	srv := fakePrometheus(t, map[string]string{
		`type="prompt"`:     "1200",
		`type="completion"`: "300",
		`llm_costs_total`:   "0.42",
	})
	defer srv.Close()

	q, err := NewQueryService(srv.URL)
	require.NoError(t, err)

	m, err := q.GetJobMetrics(context.Background(), "job-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1500, m.TotalTokens)
	assert.InDelta(t, 0.42, m.TotalCost, 1e-9)

	byStage, err := q.GetJobMetricsByStage(context.Background(), "job-1")
	require.NoError(t, err)
	require.Contains(t, byStage, "synthesize")
	assert.EqualValues(t, 1200, byStage["synthesize"].PromptTokens)
}
