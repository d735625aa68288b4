package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "storefront"

// nilのままでも呼べる（テスト用）
type Metrics struct {
	Requests          *prometheus.CounterVec
	LatencyMS         *prometheus.HistogramVec
	CheckoutOutcomes  *prometheus.CounterVec
	GatewayLatencyMS  *prometheus.HistogramVec
	ChargedUnrecorded prometheus.Counter
	StaleAttempts     prometheus.Counter
	OutboxPublished   *prometheus.CounterVec
}

var latencyBuckets = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"handler", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   latencyBuckets,
		}, []string{"handler"}),
		CheckoutOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "outcomes_total",
			Help:      "Checkout attempts by outcome code.",
		}, []string{"outcome"}),
		GatewayLatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "call_duration_ms",
			Help:      "Payment gateway call latency in milliseconds.",
			Buckets:   latencyBuckets,
		}, []string{"operation", "result"}),
		ChargedUnrecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "charged_unrecorded_total",
			Help:      "Sales captured by the gateway whose order could not be persisted.",
		}),
		StaleAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "stale_attempts_total",
			Help:      "Checkout attempts flagged for staying PENDING too long.",
		}),
		OutboxPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "published_total",
			Help:      "Outbox messages relayed to the broker.",
		}, []string{"event_type", "result"}),
	}

	reg.MustRegister(
		m.Requests,
		m.LatencyMS,
		m.CheckoutOutcomes,
		m.GatewayLatencyMS,
		m.ChargedUnrecorded,
		m.StaleAttempts,
		m.OutboxPublished,
	)
	return m
}

func (m *Metrics) ObserveRequest(handler string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(handler, strconv.Itoa(status)).Inc()
	m.LatencyMS.WithLabelValues(handler).Observe(float64(d.Milliseconds()))
}

func (m *Metrics) CheckoutOutcome(outcome string) {
	if m == nil {
		return
	}
	m.CheckoutOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveGateway(operation string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	m.GatewayLatencyMS.WithLabelValues(operation, result(ok)).Observe(float64(d.Milliseconds()))
}

func (m *Metrics) ChargedButUnrecorded() {
	if m == nil {
		return
	}
	m.ChargedUnrecorded.Inc()
}

func (m *Metrics) StaleAttempt() {
	if m == nil {
		return
	}
	m.StaleAttempts.Inc()
}

func (m *Metrics) Published(eventType string, ok bool) {
	if m == nil {
		return
	}
	m.OutboxPublished.WithLabelValues(eventType, result(ok)).Inc()
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
