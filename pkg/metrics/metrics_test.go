package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestServerMetrics_Observe(t *testing.T) {
	m := NewServerMetrics("test", prometheus.NewRegistry())

	m.Observe("place_order", 201, time.Now())
	m.Observe("place_order", 201, time.Now())
	m.Observe("place_order", 400, time.Now())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Requests.WithLabelValues("place_order", "201")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("place_order", "400")))
}

func TestServerMetrics_DomainCounters(t *testing.T) {
	m := NewServerMetrics("test", prometheus.NewRegistry())

	m.PaymentTransition("STRIPE", "COMPLETED")
	m.WebhookEvent("payment_intent.succeeded", "applied")
	m.WebhookEvent("payment_intent.succeeded", "applied")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PaymentTransitions.WithLabelValues("STRIPE", "COMPLETED")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.WebhookEvents.WithLabelValues("payment_intent.succeeded", "applied")))
}

func TestServerMetrics_NilSafe(t *testing.T) {
	var m *ServerMetrics
	assert.NotPanics(t, func() {
		m.Observe("x", 200, time.Now())
		m.PaymentTransition("COD", "PENDING")
		m.WebhookEvent("t", "ignored")
	})
}
