package metrics

import (
	"context"
	"net/http"
	"sync"

	"github.com/phrazzld/bulkgen/internal/events"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder translates job events into Prometheus metrics.
type Recorder struct {
	registry *prometheus.Registry

	jobStatusCounter *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	activeJobs       *prometheus.GaugeVec
	itemOutcome      *prometheus.CounterVec
	itemDuration     *prometheus.HistogramVec
	itemRetryCounter *prometheus.CounterVec
	jobsCleanedUp    prometheus.Counter

	mu     sync.Mutex
	active map[string]struct{}
}

// NewRecorder creates a Recorder with its own registry, including the Go and
// process collectors.
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Recorder{
		registry: registry,
		active:   make(map[string]struct{}),
		jobStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bulkgen_job_events_total",
			Help: "Job lifecycle transitions by category and event.",
		}, []string{"category", "event"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bulkgen_job_duration_seconds",
			Help:    "Wall time of jobs that reached a terminal status.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		}, []string{"category", "status"}),
		activeJobs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bulkgen_active_jobs",
			Help: "Jobs currently driven by a worker in this process.",
		}, []string{"category"}),
		itemOutcome: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bulkgen_items_total",
			Help: "Processed items by category and outcome.",
		}, []string{"category", "outcome"}),
		itemDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bulkgen_item_duration_seconds",
			Help:    "Producer time per item including retries.",
			Buckets: prometheus.DefBuckets,
		}, []string{"category", "outcome"}),
		itemRetryCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bulkgen_item_retries_total",
			Help: "Producer retries after a transient error.",
		}, []string{"category"}),
		jobsCleanedUp: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bulkgen_jobs_cleaned_up_total",
			Help: "Finished jobs purged by the janitor.",
		}),
	}

	registry.MustRegister(
		r.jobStatusCounter,
		r.jobDuration,
		r.activeJobs,
		r.itemOutcome,
		r.itemDuration,
		r.itemRetryCounter,
		r.jobsCleanedUp,
	)

	return r
}

// Registry returns the Prometheus registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// HandleEvent implements events.EventHandler.
func (r *Recorder) HandleEvent(_ context.Context, event *events.JobEvent) error {
	switch event.Type {
	case events.JobStarted, events.JobResumed:
		r.jobStatusCounter.WithLabelValues(event.Category, event.Type).Inc()
		if r.track(event.JobID.String(), true) {
			r.activeJobs.WithLabelValues(event.Category).Inc()
		}
	case events.JobCompleted, events.JobFailed, events.JobCancelled:
		r.jobStatusCounter.WithLabelValues(event.Category, event.Type).Inc()
		if r.track(event.JobID.String(), false) {
			r.activeJobs.WithLabelValues(event.Category).Dec()
		}
		if event.Duration > 0 {
			r.jobDuration.WithLabelValues(event.Category, event.Type).Observe(event.Duration.Seconds())
		}
	case events.JobStopped:
		r.jobStatusCounter.WithLabelValues(event.Category, event.Type).Inc()
		if r.track(event.JobID.String(), false) {
			r.activeJobs.WithLabelValues(event.Category).Dec()
		}
	case events.ItemFinished:
		r.itemOutcome.WithLabelValues(event.Category, event.Outcome).Inc()
		r.itemDuration.WithLabelValues(event.Category, event.Outcome).Observe(event.Duration.Seconds())
	case events.ItemRetried:
		r.itemRetryCounter.WithLabelValues(event.Category).Inc()
	case events.JobsCleanedUp:
		r.jobsCleanedUp.Add(float64(event.Count))
	}
	return nil
}

// track records a job entering or leaving the active set and reports whether
// the set changed. Jobs failed before they ever started are not counted.
func (r *Recorder) track(jobID string, start bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, known := r.active[jobID]
	if start {
		r.active[jobID] = struct{}{}
		return !known
	}
	delete(r.active, jobID)
	return known
}
