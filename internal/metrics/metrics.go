// Package metrics exports Prometheus collectors for the collection engine.
// The Recorder satisfies the engine's Metrics interface.
package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder owns all engine collectors: emitted records, fetch outcomes,
// backoff events, and governor-induced delay. Safe for concurrent use.
type Recorder struct {
	recordsEmitted *prometheus.CounterVec
	fetchRequests  *prometheus.CounterVec
	fetchDuration  *prometheus.HistogramVec
	backoffEvents  *prometheus.CounterVec
	governorDelay  prometheus.Histogram
}

// New registers the collectors against the provided registry.
func New(reg prometheus.Registerer) (*Recorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &Recorder{
		recordsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_records_emitted_total",
			Help: "Records emitted into the output queue, by source type.",
		}, []string{"source_type"}),
		fetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_fetch_requests_total",
			Help: "Fetch completions partitioned by source type and status class.",
		}, []string{"source_type", "status_class"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "collector_fetch_duration_seconds",
			Help:    "Fetch duration partitioned by source type.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"source_type"}),
		backoffEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_backoff_events_total",
			Help: "Backoff cool-downs armed by hostile responses, by status.",
		}, []string{"status"}),
		governorDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "collector_governor_delay_seconds",
			Help:    "Delay introduced by the rate limiter before a fetch.",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
	}
	for _, c := range []prometheus.Collector{
		r.recordsEmitted,
		r.fetchRequests,
		r.fetchDuration,
		r.backoffEvents,
		r.governorDelay,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register collector metric: %w", err)
		}
	}
	return r, nil
}

// RecordEmitted counts one emitted record.
func (r *Recorder) RecordEmitted(sourceType string) {
	r.recordsEmitted.WithLabelValues(sourceType).Inc()
}

// RecordFetch counts one fetch completion and observes its duration.
func (r *Recorder) RecordFetch(sourceType, statusClass string, duration time.Duration) {
	r.fetchRequests.WithLabelValues(sourceType, statusClass).Inc()
	if duration > 0 {
		r.fetchDuration.WithLabelValues(sourceType).Observe(duration.Seconds())
	}
}

// RecordBackoff counts one armed cool-down.
func (r *Recorder) RecordBackoff(status int) {
	r.backoffEvents.WithLabelValues(strconv.Itoa(status)).Inc()
}

// ObserveGovernorDelay records time spent waiting for a rate token.
func (r *Recorder) ObserveGovernorDelay(duration time.Duration) {
	r.governorDelay.Observe(duration.Seconds())
}
