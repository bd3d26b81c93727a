// Package telemetry collects per-run Prometheus metrics and exports them in
// the node_exporter textfile format, so offline runs can be compared with
// the same tooling as live services.
package telemetry

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	rferrors "github.com/Aman-CERP/rankfuse/internal/errors"
	"github.com/Aman-CERP/rankfuse/internal/search"
)

const namespace = "rankfuse"

// Query status label values.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// RunMetrics holds the collectors for one run on a private registry.
type RunMetrics struct {
	registry *prometheus.Registry

	queries   *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	retrieved prometheus.Histogram
	anomalies *prometheus.CounterVec
	failures  *prometheus.CounterVec
}

// NewRunMetrics registers a fresh set of collectors. runLabel is attached
// to every series as the "run" const label.
func NewRunMetrics(runLabel string) *RunMetrics {
	constLabels := prometheus.Labels{"run": runLabel}
	m := &RunMetrics{
		registry: prometheus.NewRegistry(),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "queries_total",
			Help:        "Queries processed, by outcome",
			ConstLabels: constLabels,
		}, []string{"status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "query_stage_seconds",
			Help:        "Per-query latency by stage",
			ConstLabels: constLabels,
			Buckets:     []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"stage"}),
		retrieved: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "retrieved_candidates",
			Help:        "First-stage candidates per query",
			ConstLabels: constLabels,
			Buckets:     []float64{0, 1, 5, 10, 20, 50, 100, 200, 500, 1000},
		}),
		anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "data_anomalies_total",
			Help:        "Recoverable data anomalies, by error code",
			ConstLabels: constLabels,
		}, []string{"code"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "capability_failures_total",
			Help:        "Per-query capability failures, by error code",
			ConstLabels: constLabels,
		}, []string{"code"}),
	}
	m.registry.MustRegister(m.queries, m.latency, m.retrieved, m.anomalies, m.failures)
	return m
}

// Registry exposes the underlying registry for gathering.
func (m *RunMetrics) Registry() *prometheus.Registry { return m.registry }

// ObserveQuery records one processed query. It matches the engine's query
// hook signature and is safe for concurrent use.
func (m *RunMetrics) ObserveQuery(s search.QueryStats) {
	if s.Err != nil {
		m.queries.WithLabelValues(StatusFailed).Inc()
		code := rferrors.GetCode(s.Err)
		if code == "" {
			code = "unknown"
		}
		m.failures.WithLabelValues(code).Inc()
	} else {
		m.queries.WithLabelValues(StatusOK).Inc()
		m.retrieved.Observe(float64(s.Retrieved))
	}
	m.latency.WithLabelValues("retrieval").Observe(s.Retrieval.Seconds())
	m.latency.WithLabelValues("rerank").Observe(s.Rerank.Seconds())
	m.latency.WithLabelValues("total").Observe(s.Total.Seconds())
}

// ObserveAnomaly counts a data anomaly by code. The qid is accepted so the
// method can be passed directly as a rerank anomaly hook.
func (m *RunMetrics) ObserveAnomaly(_ string, a *rferrors.RankError) {
	code := "unknown"
	if a != nil && a.Code != "" {
		code = a.Code
	}
	m.anomalies.WithLabelValues(code).Inc()
}

// WriteTextfile writes every series to path in the Prometheus text format.
// The file is written atomically.
func (m *RunMetrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return rferrors.New(rferrors.ErrCodeWriteFailed,
			fmt.Sprintf("failed to write metrics textfile %s", path), err)
	}
	return nil
}
