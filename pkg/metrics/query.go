// Package metrics records pipeline metrics and queries aggregated model usage from Prometheus.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// JobMetrics is aggregated model usage for a job.
type JobMetrics struct {
	JobID            string  `json:"job_id"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	TotalCost        float64 `json:"total_cost_usd"`
}

// QueryService queries model usage from Prometheus.
type QueryService struct {
	queryAPI v1.API
}

// NewQueryService creates a query service for the Prometheus server at prometheusURL.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{Address: prometheusURL})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}
	return &QueryService{queryAPI: v1.NewAPI(client)}, nil
}

// scalar runs an instant query and returns the first sample, or 0.
func (q *QueryService) scalar(ctx context.Context, query string) (float64, error) {
	result, _, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return 0, fmt.Errorf("query %q: %w", query, err)
	}
	if vector, ok := result.(model.Vector); ok && len(vector) > 0 {
		return float64(vector[0].Value), nil
	}
	return 0, nil
}

// GetJobMetrics retrieves token and cost totals for one job across every stage and model.
func (q *QueryService) GetJobMetrics(ctx context.Context, jobID string) (*JobMetrics, error) {
	return q.jobMetrics(ctx, jobID, "")
}

func (q *QueryService) jobMetrics(ctx context.Context, jobID, extra string) (*JobMetrics, error) {
	m := &JobMetrics{JobID: jobID}

	prompt, err := q.scalar(ctx, fmt.Sprintf(`sum(llm_tokens_total{job_id=%q, type="prompt"%s})`, jobID, extra))
	if err != nil {
		return nil, err
	}
	completion, err := q.scalar(ctx, fmt.Sprintf(`sum(llm_tokens_total{job_id=%q, type="completion"%s})`, jobID, extra))
	if err != nil {
		return nil, err
	}
	cost, err := q.scalar(ctx, fmt.Sprintf(`sum(llm_costs_total{job_id=%q%s})`, jobID, extra))
	if err != nil {
		return nil, err
	}

	m.PromptTokens = int64(prompt)
	m.CompletionTokens = int64(completion)
	m.TotalTokens = m.PromptTokens + m.CompletionTokens
	m.TotalCost = cost
	return m, nil
}

// GetJobMetricsByStage breaks a job's usage down by pipeline stage.
func (q *QueryService) GetJobMetricsByStage(ctx context.Context, jobID string) (map[string]*JobMetrics, error) {
	result, _, err := q.queryAPI.Query(ctx,
		fmt.Sprintf(`group by (stage) (llm_tokens_total{job_id=%q})`, jobID), time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query stages: %w", err)
	}

	var stages []string
	if vector, ok := result.(model.Vector); ok {
		for _, sample := range vector {
			if stage, ok := sample.Metric["stage"]; ok {
				stages = append(stages, string(stage))
			}
		}
	}

	out := make(map[string]*JobMetrics, len(stages))
	for _, stage := range stages {
		m, err := q.jobMetrics(ctx, jobID, fmt.Sprintf(`, stage=%q`, stage))
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", stage, err)
		}
		out[stage] = m
	}
	return out, nil
}
