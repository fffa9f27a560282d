// Package metrics exposes Prometheus collectors for the scrape worker.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobsTotal            *prometheus.CounterVec
	jobRetriesTotal      prometheus.Counter
	claimedPerPoll       prometheus.Histogram
	pollErrorsTotal      prometheus.Counter
	activeJobs           prometheus.Gauge
	adapterDurationSecs  *prometheus.HistogramVec
	staleReclaimedTotal  *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrapeworker_jobs_total",
				Help: "Total number of jobs driven to a terminal or requeued outcome, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		jobRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scrapeworker_job_retries_total",
				Help: "Total number of processing-to-queued retry transitions.",
			},
		)

		claimedPerPoll = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scrapeworker_claimed_per_poll",
				Help:    "Number of jobs claimed per poll tick.",
				Buckets: []float64{0, 1, 2, 4, 8, 16, 32},
			},
		)

		pollErrorsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scrapeworker_poll_errors_total",
				Help: "Total number of failed claim polls (store connectivity).",
			},
		)

		activeJobs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scrapeworker_active_jobs",
				Help: "Number of jobs currently being scraped.",
			},
		)

		adapterDurationSecs = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scrapeworker_adapter_duration_seconds",
				Help:    "Histogram of adapter scrape latencies, labeled by platform.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"platform"},
		)

		staleReclaimedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrapeworker_stale_reclaimed_total",
				Help: "Total number of stale processing rows recovered at startup, labeled by disposition.",
			},
			[]string{"disposition"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveJobOutcome increments the jobs counter for the given outcome
// (completed, failed, requeued).
func ObserveJobOutcome(outcome string) {
	jobsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRetry increments the retry transition counter.
func ObserveRetry() {
	jobRetriesTotal.Inc()
}

// ObserveClaimBatch records how many jobs one poll tick claimed.
func ObserveClaimBatch(n int) {
	claimedPerPoll.Observe(float64(n))
}

// ObservePollError increments the failed poll counter.
func ObservePollError() {
	pollErrorsTotal.Inc()
}

// IncActiveJobs increments the in-flight jobs gauge.
func IncActiveJobs() {
	activeJobs.Inc()
}

// DecActiveJobs decrements the in-flight jobs gauge.
func DecActiveJobs() {
	activeJobs.Dec()
}

// ObserveAdapter records one adapter invocation's duration.
func ObserveAdapter(platform string, duration time.Duration) {
	if platform == "" {
		platform = "generic"
	}
	adapterDurationSecs.WithLabelValues(platform).Observe(duration.Seconds())
}

// ObserveStaleReclaim records the result of a startup reconciliation pass.
func ObserveStaleReclaim(requeued, failed int) {
	staleReclaimedTotal.WithLabelValues("requeued").Add(float64(requeued))
	staleReclaimedTotal.WithLabelValues("failed").Add(float64(failed))
}
