package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/ingest-progress/internal/progress"
)

// PrometheusSink exports reconciled progress via Prometheus. It owns per-job
// gauges derived from each change's summary and a counter of terminal table
// transitions.
type PrometheusSink struct {
	tablesByStatus *prometheus.GaugeVec
	overallPercent *prometheus.GaugeVec
	rowsLoaded     *prometheus.GaugeVec
	jobsActive     prometheus.Gauge
	tablesFinished *prometheus.CounterVec

	tracker *jobTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		tablesByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ingest_job_tables",
			Help: "Tables per job partitioned by reconciled status.",
		}, []string{"job_id", "status"}),
		overallPercent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ingest_job_overall_percentage",
			Help: "Share of a job's tables that completed, in percent.",
		}, []string{"job_id"}),
		rowsLoaded: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ingest_job_rows_transferred",
			Help: "Rows transferred across all tables of a job.",
		}, []string{"job_id"}),
		jobsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ingest_jobs_active",
			Help: "Jobs with at least one table not yet completed or failed.",
		}),
		tablesFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_tables_finished_total",
			Help: "Tables that reached a terminal status, partitioned by status.",
		}, []string{"status"}),
		tracker: newJobTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.tablesByStatus,
		s.overallPercent,
		s.rowsLoaded,
		s.jobsActive,
		s.tablesFinished,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Change) error {
	for _, c := range batch {
		s.consumeChange(c)
	}
	return nil
}

func (s *PrometheusSink) consumeChange(c progress.Change) {
	if c.EnteredTerminal() {
		s.tablesFinished.WithLabelValues(c.Current.Status.String()).Inc()
	}

	sum := c.Summary
	s.tablesByStatus.WithLabelValues(c.JobID, "pending").Set(float64(sum.PendingCount))
	s.tablesByStatus.WithLabelValues(c.JobID, "in_flight").Set(float64(sum.InFlightCount))
	s.tablesByStatus.WithLabelValues(c.JobID, "completed").Set(float64(sum.CompletedCount))
	s.tablesByStatus.WithLabelValues(c.JobID, "failed").Set(float64(sum.FailedCount))
	s.overallPercent.WithLabelValues(c.JobID).Set(sum.OverallPercentage)
	s.rowsLoaded.WithLabelValues(c.JobID).Set(float64(sum.TotalRowsTransferred))

	switch s.tracker.observe(c.JobID, sum.Done()) {
	case 1:
		s.jobsActive.Inc()
	case -1:
		s.jobsActive.Dec()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

// jobTracker remembers which jobs are still active so jobsActive moves only
// on transitions.
type jobTracker struct {
	mu     sync.Mutex
	active map[string]bool
}

func newJobTracker() *jobTracker {
	return &jobTracker{active: make(map[string]bool)}
}

// observe records the job's done flag and returns +1 when it became active,
// -1 when it stopped being active, and 0 otherwise.
func (t *jobTracker) observe(jobID string, done bool) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	was, seen := t.active[jobID]
	t.active[jobID] = !done
	switch {
	case !done && !was:
		return 1
	case done && seen && was:
		return -1
	default:
		return 0
	}
}
