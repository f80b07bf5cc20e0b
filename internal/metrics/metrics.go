// Package metrics exposes the mediator's prometheus collectors. Collectors are
// registered lazily on the default registry the first time they are used.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "escrow"

type mediatorMetrics struct {
	oracleRequests *prometheus.CounterVec
	oracleLatency  *prometheus.HistogramVec
	reconciles     *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	cycleDuration  prometheus.Histogram
	cyclePending   prometheus.Gauge
	cycleFailures  prometheus.Counter
}

var (
	mediatorOnce     sync.Once
	mediatorRegistry *mediatorMetrics
)

// Mediator returns the lazily-initialised collectors.
func Mediator() *mediatorMetrics {
	mediatorOnce.Do(func() {
		mediatorRegistry = &mediatorMetrics{
			oracleRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "oracle",
				Name:      "requests_total",
				Help:      "Ledger explorer requests segmented by backend and outcome.",
			}, []string{"backend", "outcome"}),
			oracleLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "oracle",
				Name:      "request_duration_seconds",
				Help:      "Latency of ledger explorer calls including retries.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"backend"}),
			reconciles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reconciler",
				Name:      "results_total",
				Help:      "Deposit reconciliation results segmented by asset and outcome.",
			}, []string{"asset", "outcome"}),
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "escrow",
				Name:      "events_total",
				Help:      "Escrow lifecycle events emitted (funded, released, disputed, cancelled).",
			}, []string{"kind"}),
			cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "cycle_duration_seconds",
				Help:      "Duration of poll cycles.",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			}),
			cyclePending: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "pending_escrows",
				Help:      "Escrows awaiting deposit seen by the last poll cycle.",
			}),
			cycleFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "reconcile_failures_total",
				Help:      "Per-escrow reconcile failures across all poll cycles.",
			}),
		}
		prometheus.MustRegister(
			mediatorRegistry.oracleRequests,
			mediatorRegistry.oracleLatency,
			mediatorRegistry.reconciles,
			mediatorRegistry.transitions,
			mediatorRegistry.cycleDuration,
			mediatorRegistry.cyclePending,
			mediatorRegistry.cycleFailures,
		)
	})
	return mediatorRegistry
}

// ObserveOracle records one oracle call.
func (m *mediatorMetrics) ObserveOracle(backend string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	if backend == "" {
		backend = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.oracleRequests.WithLabelValues(backend, outcome).Inc()
	m.oracleLatency.WithLabelValues(backend).Observe(duration.Seconds())
}

// RecordReconcile counts one reconcile result. Outcomes should be stable
// strings such as "funded", "pending", "oracle_error" or "no_wallet".
func (m *mediatorMetrics) RecordReconcile(asset, outcome string) {
	if m == nil {
		return
	}
	if asset == "" {
		asset = "unknown"
	}
	m.reconciles.WithLabelValues(asset, outcome).Inc()
}

func (m *mediatorMetrics) RecordEvent(kind string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(kind).Inc()
}

// ObserveCycle records a completed poll cycle.
func (m *mediatorMetrics) ObserveCycle(pending, failed int, duration time.Duration) {
	if m == nil {
		return
	}
	m.cycleDuration.Observe(duration.Seconds())
	m.cyclePending.Set(float64(pending))
	m.cycleFailures.Add(float64(failed))
}

// Handler serves the default registry.
func Handler() http.Handler {
	Mediator()
	return promhttp.Handler()
}
