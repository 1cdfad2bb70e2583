package core

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"relinfer/pkg/runs"
)

// PrometheusMetricsRecorder exports operation latencies and MCMC proposal
// outcomes as Prometheus collectors.
type PrometheusMetricsRecorder struct {
	durations *prometheus.HistogramVec
	proposals *prometheus.CounterVec
}

// NewPrometheusMetricsRecorder registers the recorder's collectors with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewPrometheusMetricsRecorder(reg prometheus.Registerer) (*PrometheusMetricsRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &PrometheusMetricsRecorder{
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "relinfer",
			Name:      "operation_duration_seconds",
			Help:      "Duration of service operations by outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"operation", "status"}),
		proposals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relinfer",
			Name:      "mcmc_proposals_total",
			Help:      "MCMC proposals by scenario and decision.",
		}, []string{"scenario", "decision"}),
	}
	for _, c := range []prometheus.Collector{r.durations, r.proposals} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Observe implements MetricsRecorder.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	status := "error"
	if success {
		status = "success"
	}
	r.durations.WithLabelValues(operation, status).Observe(duration.Seconds())
}

// ObserveChain implements ChainMetrics.
func (r *PrometheusMetricsRecorder) ObserveChain(_ context.Context, scenario string, stats runs.Stats) {
	r.proposals.WithLabelValues(scenario, "accepted").Add(float64(stats.Accepted))
	r.proposals.WithLabelValues(scenario, "rejected").Add(float64(stats.Rejected))
}
