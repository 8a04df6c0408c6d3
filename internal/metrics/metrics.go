// Package metrics exposes the daemon's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SubmissionsTotal counts accepted script submissions.
	SubmissionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cadpipe_submissions_total",
		Help: "Script submissions accepted and stored.",
	})

	// AllocationConflictsTotal counts compare-and-set retries during version
	// allocation. A high rate means many writers per project.
	AllocationConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cadpipe_allocation_conflicts_total",
		Help: "Version allocation compare-and-set conflicts.",
	})

	// PollsTotal counts monitor poll cycles across all runs.
	PollsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cadpipe_polls_total",
		Help: "Output poll cycles executed.",
	})

	// RunsFinishedTotal counts terminal run transitions by outcome.
	RunsFinishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cadpipe_runs_finished_total",
		Help: "Runs reaching a terminal state, by outcome.",
	}, []string{"outcome"})

	// SignedURLsTotal counts download links issued, by format.
	SignedURLsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cadpipe_signed_urls_total",
		Help: "Download links issued, by format.",
	}, []string{"format"})

	// ActiveRuns tracks runs currently pending or processing.
	ActiveRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cadpipe_active_runs",
		Help: "Runs currently pending or processing.",
	})
)

// Handler serves the default registry for the daemon's /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
