// Package metrics exposes Prometheus collectors for the analysis service.
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
	jobsTotal           *prometheus.CounterVec
	jobStageSeconds     *prometheus.HistogramVec
	jobRetriesTotal     prometheus.Counter
	extractionsTotal    *prometheus.CounterVec
	llmFallbacksTotal   prometheus.Counter
	activeWorkers       prometheus.Gauge
	updateEventsTotal   *prometheus.CounterVec
	realtimeSubscribers prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "analysis_jobs_total",
				Help: "Total number of jobs finalized, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		jobStageSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "analysis_job_stage_seconds",
				Help:    "Histogram of per-stage durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"stage"},
		)

		jobRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "analysis_job_retries_total",
				Help: "Total number of queue-level job redeliveries requested.",
			},
		)

		extractionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "analysis_extractions_total",
				Help: "Total extractions, labeled by fetch strategy.",
			},
			[]string{"strategy"},
		)

		llmFallbacksTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "analysis_llm_fallbacks_total",
				Help: "Times the secondary LLM provider was invoked.",
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "analysis_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		updateEventsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "analysis_update_events_total",
				Help: "Job update events published, labeled by status.",
			},
			[]string{"status"},
		)

		realtimeSubscribers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "analysis_realtime_subscribers",
				Help: "Live websocket connections with at least one job subscription.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveJob increments the job outcome counter.
func ObserveJob(outcome string) {
	jobsTotal.WithLabelValues(outcome).Inc()
}

// ObserveStage records the duration of one pipeline stage.
func ObserveStage(stage string, duration time.Duration) {
	jobStageSeconds.WithLabelValues(stage).Observe(duration.Seconds())
}

// ObserveRetry counts a requested redelivery.
func ObserveRetry() {
	jobRetriesTotal.Inc()
}

// ObserveExtraction counts an extraction by fetch strategy.
func ObserveExtraction(strategy string) {
	extractionsTotal.WithLabelValues(strategy).Inc()
}

// ObserveLLMFallback counts a secondary-provider invocation.
func ObserveLLMFallback() {
	llmFallbacksTotal.Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveUpdateEvent counts a published update event.
func ObserveUpdateEvent(status string) {
	updateEventsTotal.WithLabelValues(status).Inc()
}

// SetRealtimeSubscribers sets the live subscriber gauge.
func SetRealtimeSubscribers(n int) {
	realtimeSubscribers.Set(float64(n))
}
