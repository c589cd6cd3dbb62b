package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PipelineRecorder counts job, render and repair events.
type PipelineRecorder interface {
	JobFinished(status string)
	RenderAttempt(success bool)
	RepairAttempt(method string, produced bool)
	FixCommitted(method string)
	SceneFinished(status string, attempts int)
}

// Prometheus implements PipelineRecorder with Prometheus collectors.
type Prometheus struct {
	jobsTotal     *prometheus.CounterVec
	rendersTotal  *prometheus.CounterVec
	repairsTotal  *prometheus.CounterVec
	commitsTotal  *prometheus.CounterVec
	sceneAttempts *prometheus.HistogramVec
	gatherer      prometheus.Gatherer
}

// NewPrometheus registers the pipeline collectors with reg. reg also serves /metrics,
// so it should be the registry the model-call recorder uses.
func NewPrometheus(reg *prometheus.Registry) *Prometheus {
	factory := promauto.With(reg)
	return &Prometheus{
		jobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lessonforge_jobs_total",
			Help: "Finished video jobs by terminal status",
		}, []string{"status"}),
		rendersTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lessonforge_renders_total",
			Help: "Scene render attempts by outcome",
		}, []string{"outcome"}),
		repairsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lessonforge_repairs_total",
			Help: "Repair strategy attempts by method and whether new code was produced",
		}, []string{"method", "produced"}),
		commitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lessonforge_fix_commits_total",
			Help: "Fixes committed to fix memory after a confirming render",
		}, []string{"method"}),
		sceneAttempts: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lessonforge_scene_render_attempts",
			Help:    "Render attempts used per finished scene",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 11},
		}, []string{"status"}),
		gatherer: reg,
	}
}

func (p *Prometheus) JobFinished(status string) {
	p.jobsTotal.WithLabelValues(status).Inc()
}

func (p *Prometheus) RenderAttempt(success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	p.rendersTotal.WithLabelValues(outcome).Inc()
}

func (p *Prometheus) RepairAttempt(method string, produced bool) {
	label := "false"
	if produced {
		label = "true"
	}
	p.repairsTotal.WithLabelValues(method, label).Inc()
}

func (p *Prometheus) FixCommitted(method string) {
	p.commitsTotal.WithLabelValues(method).Inc()
}

func (p *Prometheus) SceneFinished(status string, attempts int) {
	p.sceneAttempts.WithLabelValues(status).Observe(float64(attempts))
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.gatherer, promhttp.HandlerOpts{})
}

// Nop discards pipeline events.
type Nop struct{}

func (Nop) JobFinished(string)         {}
func (Nop) RenderAttempt(bool)         {}
func (Nop) RepairAttempt(string, bool) {}
func (Nop) FixCommitted(string)        {}
func (Nop) SceneFinished(string, int)  {}
