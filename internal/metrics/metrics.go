// Package metrics exposes Prometheus collectors for crawl runs.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/JakeFAU/progress-crawler/internal/harvest"
)

var (
	registry *prometheus.Registry

	subjectsTotal         *prometheus.CounterVec
	throttleDelaySeconds  prometheus.Histogram
	runsTotal             *prometheus.CounterVec
	runDurationSeconds    prometheus.Histogram
	checkpointTimestamp   prometheus.Gauge
	lastRunTimestampGauge prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		registry = prometheus.NewRegistry()
		factory := promauto.With(registry)

		subjectsTotal = factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "progress_crawler_subjects_total",
				Help: "Subjects that reached a terminal status, labeled by status and reason.",
			},
			[]string{"status", "reason"},
		)

		throttleDelaySeconds = factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "progress_crawler_throttle_delay_seconds",
				Help:    "Histogram of cooldown waits between subject attempts.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)

		runsTotal = factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "progress_crawler_runs_total",
				Help: "Crawl runs, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		runDurationSeconds = factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "progress_crawler_run_duration_seconds",
				Help:    "Histogram of crawl run durations.",
				Buckets: []float64{60, 300, 900, 1800, 3600, 7200, 14400},
			},
		)

		checkpointTimestamp = factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "progress_crawler_checkpoint_timestamp_seconds",
				Help: "Unix time of the stored last-crawl date.",
			},
		)

		lastRunTimestampGauge = factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "progress_crawler_last_run_timestamp_seconds",
				Help: "Unix time at which the last run finished.",
			},
		)
	})
}

// Registry returns the registry the collectors are registered with.
func Registry() *prometheus.Registry {
	Init()
	return registry
}

// Handler returns an http.Handler for exposing the crawl metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry(), promhttp.HandlerOpts{})
}

// Push sends the current metric values to a Pushgateway.
func Push(ctx context.Context, url, job string) error {
	if url == "" {
		return nil
	}
	if job == "" {
		job = "progress_crawler"
	}
	if err := push.New(url, job).Gatherer(Registry()).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}

// Recorder feeds crawl events into the collectors. It satisfies
// harvest.Observer and ratelimit.DelayObserver.
type Recorder struct {
	now func() time.Time
}

var _ harvest.Observer = (*Recorder)(nil)

// NewRecorder initializes the collectors and returns a Recorder.
func NewRecorder() *Recorder {
	Init()
	return &Recorder{now: time.Now}
}

// SubjectFinished counts one terminal status.
func (r *Recorder) SubjectFinished(status harvest.Status) {
	subjectsTotal.WithLabelValues(string(status.Kind), status.Reason).Inc()
}

// RunFinished records the run outcome and duration.
func (r *Recorder) RunFinished(outcome string, elapsed time.Duration) {
	runsTotal.WithLabelValues(outcome).Inc()
	runDurationSeconds.Observe(elapsed.Seconds())
	lastRunTimestampGauge.Set(float64(r.now().Unix()))
}

// CheckpointAdvanced records the stored checkpoint date.
func (r *Recorder) CheckpointAdvanced(date time.Time) {
	checkpointTimestamp.Set(float64(date.Unix()))
}

// ObserveThrottleDelay records how long a subject waited for its cooldown.
func (r *Recorder) ObserveThrottleDelay(d time.Duration) {
	throttleDelaySeconds.Observe(d.Seconds())
}
