// Package metrics exposes Prometheus metrics for runs, transitions and jobs.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"LeadScanner/internal/domain"
)

const namespace = "leadscanner"

// Metrics holds all collectors of the service.
type Metrics struct {
	gatherer prometheus.Gatherer

	RunsTotal          *prometheus.CounterVec
	RunDuration        prometheus.Histogram
	PostsFetched       prometheus.Counter
	PostsSaved         prometheus.Counter
	DuplicatesSkipped  prometheus.Counter
	PostsDropped       *prometheus.CounterVec
	PostsEvicted       prometheus.Counter
	PersistErrors      prometheus.Counter
	FailedCollections  prometheus.Counter
	TransitionsTotal   *prometheus.CounterVec
	JobSkipsTotal      *prometheus.CounterVec
	LastRunSuccessTime prometheus.Gauge
}

// New registers every collector with reg. A nil reg uses a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	factory := promauto.With(reg)

	return &Metrics{
		gatherer: reg,
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Pipeline runs by outcome.",
		}, []string{"status"}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Wall time of pipeline runs.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		PostsFetched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "posts_fetched_total",
			Help:      "Raw items fetched from sources.",
		}),
		PostsSaved: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "posts_saved_total",
			Help:      "Posts persisted and published to the queue.",
		}),
		DuplicatesSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "duplicates_skipped_total",
			Help:      "Posts skipped because they were already stored.",
		}),
		PostsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "posts_dropped_total",
			Help:      "Posts dropped by a filter stage.",
		}, []string{"reason"}),
		PostsEvicted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "posts_evicted_total",
			Help:      "Posts deleted to keep the table under its ceiling.",
		}),
		PersistErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "persist_errors_total",
			Help:      "Posts that failed to persist or publish.",
		}),
		FailedCollections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "failed_collections_total",
			Help:      "Collection fetches that failed after retries.",
		}),
		TransitionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "transitions_total",
			Help:      "Committed post status transitions.",
		}, []string{"from", "to", "actor"}),
		JobSkipsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_skips_total",
			Help:      "Job triggers skipped because the previous run was still going.",
		}, []string{"job"}),
		LastRunSuccessTime: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "last_success_timestamp_seconds",
			Help:      "Completion time of the last successful run.",
		}),
	}
}

// ObserveRun records the counters of one pipeline run.
func (m *Metrics) ObserveRun(r domain.RunResult) {
	m.RunsTotal.WithLabelValues(string(r.Status)).Inc()
	if !r.CompletedAt.IsZero() {
		m.RunDuration.Observe(r.CompletedAt.Sub(r.StartedAt).Seconds())
	}
	m.PostsFetched.Add(float64(r.TotalFetched))
	m.PostsSaved.Add(float64(r.TotalSaved))
	m.DuplicatesSkipped.Add(float64(r.DuplicatesSkipped))
	m.PostsEvicted.Add(float64(r.OldPostsDeleted))
	m.PersistErrors.Add(float64(r.PersistErrors))
	m.FailedCollections.Add(float64(len(r.FailedCollections)))
	m.PostsDropped.WithLabelValues("invalid").Add(float64(r.DroppedInvalid))
	m.PostsDropped.WithLabelValues("keyword").Add(float64(r.DroppedKeyword))
	m.PostsDropped.WithLabelValues("advert").Add(float64(r.DroppedAdvert))
	m.PostsDropped.WithLabelValues("engagement").Add(float64(r.DroppedEngagement))
	if !r.Failed() {
		m.LastRunSuccessTime.Set(float64(r.CompletedAt.Unix()))
	}
}

// ObserveTransition counts a committed transition. Operator ids are folded
// into one label value to keep cardinality bounded.
func (m *Metrics) ObserveTransition(from, to domain.Status, actor string) {
	kind := "operator"
	if actor == domain.SystemActor {
		kind = domain.SystemActor
	}
	m.TransitionsTotal.WithLabelValues(string(from), string(to), kind).Inc()
}

// JobSkipped counts an overlapping trigger.
func (m *Metrics) JobSkipped(job string) {
	m.JobSkipsTotal.WithLabelValues(job).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
