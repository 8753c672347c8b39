package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LeadScanner/internal/domain"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			match := true
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					match = false
				}
			}
			if match {
				return m.GetCounter().GetValue()
			}
		}
	}
	t.Fatalf("metric %s %v not found", name, labels)
	return 0
}

func TestObserveRunCountsStages(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := New(reg)
	start := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	m.ObserveRun(domain.RunResult{
		Status:            domain.RunSuccess,
		TotalFetched:      10,
		TotalSaved:        4,
		DuplicatesSkipped: 3,
		DroppedKeyword:    2,
		DroppedEngagement: 1,
		FailedCollections: []string{"reddit/x"},
		StartedAt:         start,
		CompletedAt:       start.Add(3 * time.Second),
	})

	assert.Equal(t, 1.0, counterValue(t, reg, "leadscanner_pipeline_runs_total", map[string]string{"status": "success"}))
	assert.Equal(t, 10.0, counterValue(t, reg, "leadscanner_pipeline_posts_fetched_total", nil))
	assert.Equal(t, 4.0, counterValue(t, reg, "leadscanner_pipeline_posts_saved_total", nil))
	assert.Equal(t, 2.0, counterValue(t, reg, "leadscanner_pipeline_posts_dropped_total", map[string]string{"reason": "keyword"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "leadscanner_pipeline_failed_collections_total", nil))
}

func TestTransitionsFoldOperatorIDs(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ObserveTransition(domain.StatusPending, domain.StatusAssigned, "alice")
	m.ObserveTransition(domain.StatusPending, domain.StatusAssigned, "bob")
	m.ObserveTransition(domain.StatusAssigned, domain.StatusPending, domain.SystemActor)

	assert.Equal(t, 2.0, counterValue(t, reg, "leadscanner_lifecycle_transitions_total",
		map[string]string{"from": "pending", "to": "assigned", "actor": "operator"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "leadscanner_lifecycle_transitions_total",
		map[string]string{"from": "assigned", "to": "pending", "actor": "system"}))
}

func TestHandlerServesRegistry(t *testing.T) {
	t.Parallel()

	m := New(nil)
	m.JobSkipped("pipeline")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `leadscanner_scheduler_job_skips_total{job="pipeline"} 1`)
}
