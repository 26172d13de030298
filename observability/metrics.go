package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// GatewayMetrics tracks HTTP traffic served by the ledger gateway.
type GatewayMetrics struct {
	requests    *prometheus.CounterVec
	rejections  *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	throttles   *prometheus.CounterVec
	inflight    *prometheus.GaugeVec
	subscribers prometheus.Gauge
}

var (
	gatewayMetricsOnce sync.Once
	gatewayRegistry    *GatewayMetrics
)

// Gateway returns the lazily registered gateway metrics.
func Gateway() *GatewayMetrics {
	gatewayMetricsOnce.Do(func() {
		gatewayRegistry = &GatewayMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "anchorledger",
				Subsystem: "gateway",
				Name:      "requests_total",
				Help:      "Gateway requests by route group, route and status class.",
			}, []string{"group", "route", "class"}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "anchorledger",
				Subsystem: "gateway",
				Name:      "rejections_total",
				Help:      "Gateway requests answered with a 4xx or 5xx status, by exact code.",
			}, []string{"group", "route", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "anchorledger",
				Subsystem: "gateway",
				Name:      "request_duration_seconds",
				Help:      "Handler latency by route group and route.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			}, []string{"group", "route"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "anchorledger",
				Subsystem: "gateway",
				Name:      "throttled_total",
				Help:      "Write requests refused before reaching the ledger.",
			}, []string{"group", "reason"}),
			inflight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "anchorledger",
				Subsystem: "gateway",
				Name:      "inflight_requests",
				Help:      "Requests currently being served by route group.",
			}, []string{"group"}),
			subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "anchorledger",
				Subsystem: "gateway",
				Name:      "event_subscribers",
				Help:      "Open websocket event streams.",
			}),
		}
		prometheus.MustRegister(
			gatewayRegistry.requests,
			gatewayRegistry.rejections,
			gatewayRegistry.latency,
			gatewayRegistry.throttles,
			gatewayRegistry.inflight,
			gatewayRegistry.subscribers,
		)
	})
	return gatewayRegistry
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}

// Begin marks a request in flight for group and returns the function that
// records its completion.
func (m *GatewayMetrics) Begin(group string) func(route string, status int, duration time.Duration) {
	if m == nil {
		return func(string, int, time.Duration) {}
	}
	if group == "" {
		group = "unknown"
	}
	gauge := m.inflight.WithLabelValues(group)
	gauge.Inc()
	return func(route string, status int, duration time.Duration) {
		gauge.Dec()
		m.Observe(group, route, status, duration)
	}
}

// Observe records one served request. status is the code written to the
// client.
func (m *GatewayMetrics) Observe(group, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if group == "" {
		group = "unknown"
	}
	if route == "" {
		route = "unmatched"
	}
	m.requests.WithLabelValues(group, route, statusClass(status)).Inc()
	if status >= 400 {
		m.rejections.WithLabelValues(group, route, strconv.Itoa(status)).Inc()
	}
	m.latency.WithLabelValues(group, route).Observe(duration.Seconds())
}

// RecordThrottle counts a refused write. reason is a stable token such as
// "rate_limit".
func (m *GatewayMetrics) RecordThrottle(group, reason string) {
	if m == nil {
		return
	}
	if group == "" {
		group = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(group, reason).Inc()
}

// StreamOpened tracks a websocket subscriber; the returned func releases it.
func (m *GatewayMetrics) StreamOpened() func() {
	if m == nil {
		return func() {}
	}
	m.subscribers.Inc()
	var once sync.Once
	return func() { once.Do(m.subscribers.Dec) }
}
