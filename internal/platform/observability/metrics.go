package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "storefront"

// Metrics holds the Prometheus collectors for the storefront API. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	requests         *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	intentsCreated   *prometheus.CounterVec
	webhookEvents    *prometheus.CounterVec
	checkoutOutcomes *prometheus.CounterVec
	notifications    *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewMetrics registers the storefront metrics on the provided registerer. When the registerer also
// implements prometheus.Gatherer, Handler exposes it.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return &Metrics{}
	}
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route and status code.",
	}, []string{"method", "route", "status"})
	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})
	intentsCreated := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "payment_intents_created_total",
		Help:      "Payment intents created, split by free and paid.",
	}, []string{"kind"})
	webhookEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "webhook_events_total",
		Help:      "Verified payment webhook events by kind.",
	}, []string{"kind"})
	checkoutOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "checkout_outcomes_total",
		Help:      "Checkout attempts by resolved order status.",
	}, []string{"outcome"})
	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "confirmation_notifications_total",
		Help:      "Confirmation notifications by delivery result.",
	}, []string{"result"})
	reg.MustRegister(requests, requestDuration, intentsCreated, webhookEvents, checkoutOutcomes, notifications)

	m := &Metrics{
		requests:         requests,
		requestDuration:  requestDuration,
		intentsCreated:   intentsCreated,
		webhookEvents:    webhookEvents,
		checkoutOutcomes: checkoutOutcomes,
		notifications:    notifications,
	}
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

// ObserveRequest records a completed HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, latency time.Duration) {
	if m == nil || m.requests == nil {
		return
	}
	m.requests.WithLabelValues(normalizeLabel(method), normalizeLabel(route), strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(normalizeLabel(method), normalizeLabel(route)).Observe(latency.Seconds())
}

// IncIntentCreated counts a created payment intent. Free intents are counted separately.
func (m *Metrics) IncIntentCreated(free bool) {
	if m == nil || m.intentsCreated == nil {
		return
	}
	kind := "paid"
	if free {
		kind = "free"
	}
	m.intentsCreated.WithLabelValues(kind).Inc()
}

// IncWebhookEvent counts a verified webhook event.
func (m *Metrics) IncWebhookEvent(kind string) {
	if m == nil || m.webhookEvents == nil {
		return
	}
	m.webhookEvents.WithLabelValues(normalizeLabel(kind)).Inc()
}

// IncCheckoutOutcome counts a checkout resolution.
func (m *Metrics) IncCheckoutOutcome(outcome string) {
	if m == nil || m.checkoutOutcomes == nil {
		return
	}
	m.checkoutOutcomes.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncNotification counts a confirmation notification attempt.
func (m *Metrics) IncNotification(ok bool) {
	if m == nil || m.notifications == nil {
		return
	}
	result := "sent"
	if !ok {
		result = "failed"
	}
	m.notifications.WithLabelValues(result).Inc()
}

// Handler exposes the registered metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
