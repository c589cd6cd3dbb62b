// Package metrics records latency, token usage and cost for model calls.
package metrics

import "time"

// Observation is one completed model call.
type Observation struct {
	Model            string
	JobID            string
	Stage            string
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
	Success          bool
	ErrorType        string
	Duration         time.Duration
}

// Recorder defines the interface for recording model call metrics.
type Recorder interface {
	ObserveRequest(obs Observation)
	// IncThrottle counts rate limiting events.
	IncThrottle(model, reason string)
	// ObserveQueueWait records time spent waiting for limiter capacity.
	ObserveQueueWait(model string, duration time.Duration)
}

// NoopRecorder discards all metrics.
type NoopRecorder struct{}

// Nop returns a recorder that discards all metrics.
func Nop() Recorder {
	return NoopRecorder{}
}

func (NoopRecorder) ObserveRequest(Observation)                 {}
func (NoopRecorder) IncThrottle(_, _ string)                    {}
func (NoopRecorder) ObserveQueueWait(_ string, _ time.Duration) {}

// Multi fans observations out to several recorders.
func Multi(recorders ...Recorder) Recorder {
	return multiRecorder(recorders)
}

type multiRecorder []Recorder

func (m multiRecorder) ObserveRequest(obs Observation) {
	for _, r := range m {
		r.ObserveRequest(obs)
	}
}

func (m multiRecorder) IncThrottle(model, reason string) {
	for _, r := range m {
		r.IncThrottle(model, reason)
	}
}

func (m multiRecorder) ObserveQueueWait(model string, d time.Duration) {
	for _, r := range m {
		r.ObserveQueueWait(model, d)
	}
}
