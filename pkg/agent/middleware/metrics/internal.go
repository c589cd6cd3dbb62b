package metrics

import (
	"sync"
	"time"
)

// JobUsage is aggregated model usage for one job.
type JobUsage struct {
	JobID            string    `json:"job_id"`
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
	TotalTokens      int64     `json:"total_tokens"`
	RequestCount     int64     `json:"request_count"`
	FailedCount      int64     `json:"failed_count"`
	TotalCost        float64   `json:"total_cost_usd"`
	LastUpdated      time.Time `json:"last_updated"`
}

// InternalRecorder aggregates usage per job in memory, for the stats endpoint
// when no Prometheus server is available.
type InternalRecorder struct {
	jobs map[string]*JobUsage
	mu   sync.RWMutex
}

func NewInternalRecorder() *InternalRecorder {
	return &InternalRecorder{jobs: make(map[string]*JobUsage)}
}

func (r *InternalRecorder) ObserveRequest(obs Observation) {
	jobID := obs.JobID
	if jobID == "" {
		jobID = "adhoc"
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	usage, ok := r.jobs[jobID]
	if !ok {
		usage = &JobUsage{JobID: jobID}
		r.jobs[jobID] = usage
	}
	usage.RequestCount++
	usage.LastUpdated = time.Now()
	if !obs.Success {
		usage.FailedCount++
		return
	}
	usage.PromptTokens += int64(obs.PromptTokens)
	usage.CompletionTokens += int64(obs.CompletionTokens)
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	usage.TotalCost += obs.CostUSD
}

func (r *InternalRecorder) IncThrottle(_, _ string)                    {}
func (r *InternalRecorder) ObserveQueueWait(_ string, _ time.Duration) {}

// Job returns a copy of the usage for jobID, or nil.
func (r *InternalRecorder) Job(jobID string) *JobUsage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if usage, ok := r.jobs[jobID]; ok {
		cp := *usage
		return &cp
	}
	return nil
}

// All returns copies of every job's usage.
func (r *InternalRecorder) All() map[string]JobUsage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]JobUsage, len(r.jobs))
	for id, usage := range r.jobs {
		out[id] = *usage
	}
	return out
}

// Forget drops usage for a deleted job.
func (r *InternalRecorder) Forget(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, jobID)
}
