package observability

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	tokenSwapOnce sync.Once
	tokenSwapReg  *TokenSwapMetrics
)

// ModuleMetrics returns the lazily-initialised registry used to record HTTP
// API activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tokenswap",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total API requests segmented by module and route.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tokenswap",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total API errors segmented by module, route, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "tokenswap",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tokenswap",
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit".
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// TokenSwapMetrics captures exchange engine activity.
type TokenSwapMetrics struct {
	calls        *prometheus.CounterVec
	callLatency  *prometheus.HistogramVec
	purchased    *prometheus.CounterVec
	oracleAge    *prometheus.GaugeVec
	oracleErrors *prometheus.CounterVec
}

// TokenSwap returns the singleton metrics registry for the exchange engine.
func TokenSwap() *TokenSwapMetrics {
	tokenSwapOnce.Do(func() {
		tokenSwapReg = &TokenSwapMetrics{
			calls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tokenswap",
				Subsystem: "engine",
				Name:      "calls_total",
				Help:      "Count of executed calls segmented by method and result code.",
			}, []string{"method", "code"}),
			callLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "tokenswap",
				Subsystem: "engine",
				Name:      "call_duration_seconds",
				Help:      "Latency distribution for executed calls.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
			purchased: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tokenswap",
				Subsystem: "engine",
				Name:      "output_sold_base_units_total",
				Help:      "Output asset base units sold segmented by payment asset.",
			}, []string{"payment_asset"}),
			oracleAge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "tokenswap",
				Subsystem: "oracle",
				Name:      "price_age_seconds",
				Help:      "Age of the latest cached oracle price per feed.",
			}, []string{"feed"}),
			oracleErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tokenswap",
				Subsystem: "oracle",
				Name:      "poll_errors_total",
				Help:      "Count of failed oracle polls segmented by source.",
			}, []string{"source"}),
		}
		prometheus.MustRegister(
			tokenSwapReg.calls,
			tokenSwapReg.callLatency,
			tokenSwapReg.purchased,
			tokenSwapReg.oracleAge,
			tokenSwapReg.oracleErrors,
		)
	})
	return tokenSwapReg
}

// ObserveCall records one executed call.
func (m *TokenSwapMetrics) ObserveCall(method, code string, duration time.Duration) {
	if m == nil {
		return
	}
	method = strings.TrimSpace(method)
	if method == "" {
		method = "unknown"
	}
	if code == "" {
		code = "unknown"
	}
	m.calls.WithLabelValues(method, code).Inc()
	m.callLatency.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordPurchase adds a settled purchase to the sold counter.
func (m *TokenSwapMetrics) RecordPurchase(paymentAsset string, amount *big.Int) {
	if m == nil || amount == nil || amount.Sign() <= 0 {
		return
	}
	m.purchased.WithLabelValues(strings.ToUpper(strings.TrimSpace(paymentAsset))).Add(bigToFloat(amount))
}

// RecordOracleAge publishes the age of the freshest price for feed.
func (m *TokenSwapMetrics) RecordOracleAge(feed string, age time.Duration) {
	if m == nil {
		return
	}
	m.oracleAge.WithLabelValues(feed).Set(age.Seconds())
}

// RecordOracleError counts a failed poll against source.
func (m *TokenSwapMetrics) RecordOracleError(source string) {
	if m == nil {
		return
	}
	if source == "" {
		source = "unknown"
	}
	m.oracleErrors.WithLabelValues(source).Inc()
}

func bigToFloat(value *big.Int) float64 {
	f, _ := new(big.Float).SetInt(value).Float64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0
	}
	return f
}
