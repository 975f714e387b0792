package observability

import (
	"fmt"
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TreasuryMetrics exposes Prometheus collectors for ledger operations.
type TreasuryMetrics struct {
	operations     *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	totalShares    prometheus.Gauge
	availableFunds prometheus.Gauge
	proposals      prometheus.Gauge
}

type httpMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	treasuryMetricsOnce sync.Once
	treasuryRegistry    *TreasuryMetrics

	httpMetricsOnce sync.Once
	httpRegistry    *httpMetrics
)

// Treasury returns the lazily-initialised ledger metrics registry.
func Treasury() *TreasuryMetrics {
	treasuryMetricsOnce.Do(func() {
		treasuryRegistry = &TreasuryMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dao",
				Subsystem: "treasury",
				Name:      "operations_total",
				Help:      "Ledger operations segmented by operation and outcome kind.",
			}, []string{"op", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "dao",
				Subsystem: "treasury",
				Name:      "operation_duration_seconds",
				Help:      "Latency of ledger operations including persistence and payout.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"op"}),
			totalShares: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "dao",
				Subsystem: "treasury",
				Name:      "total_shares",
				Help:      "Outstanding share supply.",
			}),
			availableFunds: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "dao",
				Subsystem: "treasury",
				Name:      "available_funds",
				Help:      "Treasury value not yet paid out.",
			}),
			proposals: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "dao",
				Subsystem: "treasury",
				Name:      "proposals",
				Help:      "Number of proposals ever created.",
			}),
		}
		prometheus.MustRegister(
			treasuryRegistry.operations,
			treasuryRegistry.latency,
			treasuryRegistry.totalShares,
			treasuryRegistry.availableFunds,
			treasuryRegistry.proposals,
		)
	})
	return treasuryRegistry
}

// ObserveOperation records one ledger operation.
func (m *TreasuryMetrics) ObserveOperation(op, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	if outcome == "" {
		outcome = "ok"
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(elapsed.Seconds())
}

// SetTotals publishes the ledger totals after a commit.
func (m *TreasuryMetrics) SetTotals(totalShares, availableFunds *big.Int, proposals uint64) {
	if m == nil {
		return
	}
	m.totalShares.Set(bigToFloat(totalShares))
	m.availableFunds.Set(bigToFloat(availableFunds))
	m.proposals.Set(float64(proposals))
}

// HTTP returns the lazily-initialised registry for the HTTP surface.
func HTTP() *httpMetrics {
	httpMetricsOnce.Do(func() {
		httpRegistry = &httpMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dao",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests segmented by route and outcome.",
			}, []string{"route", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dao",
				Subsystem: "http",
				Name:      "errors_total",
				Help:      "HTTP error responses segmented by route and status code.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "dao",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for HTTP handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dao",
				Subsystem: "http",
				Name:      "throttles_total",
				Help:      "Requests rejected by the rate limiter.",
			}, []string{"route"}),
		}
		prometheus.MustRegister(
			httpRegistry.requests,
			httpRegistry.errors,
			httpRegistry.latency,
			httpRegistry.throttles,
		)
	})
	return httpRegistry
}

// Observe records the outcome of a request. The status code should be the
// HTTP status that was ultimately written to the response writer.
func (m *httpMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(route, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(route, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordThrottle counts a rate limited request.
func (m *httpMetrics) RecordThrottle(route string) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.throttles.WithLabelValues(route).Inc()
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
