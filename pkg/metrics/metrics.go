package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type ServerMetrics struct {
	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec

	PaymentTransitions *prometheus.CounterVec
	WebhookEvents      *prometheus.CounterVec
}

// NewServerMetrics registers the collectors on reg. Pass prometheus.DefaultRegisterer
// in binaries and a fresh registry in tests.
func NewServerMetrics(service string, reg prometheus.Registerer) *ServerMetrics {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storefront",
		Subsystem: service,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"handler", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "storefront",
		Subsystem: service,
		Name:      "http_request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"handler"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storefront",
		Subsystem: service,
		Name:      "payment_transitions_total",
		Help:      "Payment status changes by payment method and resulting status.",
	}, []string{"method", "status"})
	webhooks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storefront",
		Subsystem: service,
		Name:      "webhook_events_total",
		Help:      "Processor webhook deliveries by event type and handling result.",
	}, []string{"type", "result"})

	reg.MustRegister(requests, latency, transitions, webhooks)
	return &ServerMetrics{
		Requests:           requests,
		LatencyMS:          latency,
		PaymentTransitions: transitions,
		WebhookEvents:      webhooks,
	}
}

// Observe records one finished request.
func (m *ServerMetrics) Observe(handler string, status int, start time.Time) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(handler, strconv.Itoa(status)).Inc()
	m.LatencyMS.WithLabelValues(handler).Observe(float64(time.Since(start).Milliseconds()))
}

func (m *ServerMetrics) PaymentTransition(method, status string) {
	if m == nil {
		return
	}
	m.PaymentTransitions.WithLabelValues(method, status).Inc()
}

func (m *ServerMetrics) WebhookEvent(eventType, result string) {
	if m == nil {
		return
	}
	m.WebhookEvents.WithLabelValues(eventType, result).Inc()
}

func Handler() http.Handler {
	return promhttp.Handler()
}
