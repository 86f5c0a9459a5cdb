package reconcile

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AKPAING3147/Foood/internal/order/domain"
	"github.com/AKPAING3147/Foood/internal/payment"
	"github.com/AKPAING3147/Foood/internal/store"
	"github.com/AKPAING3147/Foood/internal/store/memstore"
	"github.com/AKPAING3147/Foood/pkg/metrics"
)

// stubVerifier accepts the signature "ok" and parses "id|type|intent" bodies.
type stubVerifier struct{}

func (stubVerifier) Verify(payload []byte, signature string) (*Event, error) {
	if signature != "ok" {
		return nil, errors.New("bad signature")
	}
	parts := strings.Split(string(payload), "|")
	if len(parts) != 3 {
		return nil, errors.New("malformed")
	}
	return &Event{ID: parts[0], Type: parts[1], IntentID: parts[2]}, nil
}

type fixture struct {
	store   *memstore.Store
	handler *Handler
	metrics *metrics.ServerMetrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := memstore.New()
	ctx := context.Background()
	o := &domain.Order{
		ID:            "o-1",
		UserID:        "u-1",
		TotalAmount:   decimal.RequireFromString("24.48"),
		Status:        domain.OrderStatusPending,
		PaymentMethod: domain.PaymentMethodCard,
		PaymentStatus: domain.PaymentStatusPending,
		CreatedAt:     time.Now(),
	}
	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error { return tx.InsertOrder(ctx, o) }))

	sm := metrics.NewServerMetrics("test", prometheus.NewRegistry())
	pm := payment.NewManager(s, nil, payment.Config{}, payment.WithMetrics(sm))
	ref := "pi_1"
	_, err := pm.Upsert(ctx, "o-1", domain.PaymentUpdate{ProcessorRef: &ref})
	require.NoError(t, err)

	return &fixture{store: s, handler: NewHandler(stubVerifier{}, s, pm, sm), metrics: sm}
}

func (f *fixture) state(t *testing.T) (*domain.Order, *domain.Payment) {
	t.Helper()
	o, err := f.store.GetOrder(context.Background(), "o-1")
	require.NoError(t, err)
	p, err := f.store.GetPaymentByOrder(context.Background(), "o-1")
	require.NoError(t, err)
	return o, p
}

func TestHandle_SucceededConfirmsOrder(t *testing.T) {
	f := newFixture(t)

	res, err := f.handler.Handle(context.Background(), []byte("evt_1|payment_intent.succeeded|pi_1"), "ok")
	require.NoError(t, err)
	assert.Equal(t, ResultApplied, res)

	o, p := f.state(t)
	assert.Equal(t, domain.PaymentStatusCompleted, p.Status)
	assert.Equal(t, domain.OrderStatusConfirmed, o.Status)
	assert.Equal(t, domain.PaymentStatusCompleted, o.PaymentStatus)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.WebhookEvents.WithLabelValues(EventIntentSucceeded, "applied")))
}

func TestHandle_ReplayIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	body := []byte("evt_1|payment_intent.succeeded|pi_1")

	_, err := f.handler.Handle(ctx, body, "ok")
	require.NoError(t, err)
	_, before := f.state(t)
	outboxLen := len(f.store.Outbox())

	res, err := f.handler.Handle(ctx, body, "ok")
	require.NoError(t, err)
	assert.Equal(t, ResultDuplicate, res)

	_, after := f.state(t)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
	assert.Len(t, f.store.Outbox(), outboxLen)
}

func TestHandle_FailedLeavesOrderPending(t *testing.T) {
	f := newFixture(t)

	res, err := f.handler.Handle(context.Background(), []byte("evt_2|payment_intent.payment_failed|pi_1"), "ok")
	require.NoError(t, err)
	assert.Equal(t, ResultApplied, res)

	o, p := f.state(t)
	assert.Equal(t, domain.PaymentStatusFailed, p.Status)
	assert.Equal(t, domain.OrderStatusPending, o.Status)
	assert.Equal(t, domain.PaymentStatusFailed, o.PaymentStatus)
}

func TestHandle_SucceededAfterFailedIsAnomalous(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.handler.Handle(ctx, []byte("evt_2|payment_intent.payment_failed|pi_1"), "ok")
	require.NoError(t, err)
	res, err := f.handler.Handle(ctx, []byte("evt_3|payment_intent.succeeded|pi_1"), "ok")
	require.NoError(t, err)
	assert.Equal(t, ResultAnomalous, res)

	_, p := f.state(t)
	assert.Equal(t, domain.PaymentStatusFailed, p.Status)
}

func TestHandle_UnknownIntentAcknowledged(t *testing.T) {
	f := newFixture(t)

	res, err := f.handler.Handle(context.Background(), []byte("evt_9|payment_intent.succeeded|pi_unknown"), "ok")
	require.NoError(t, err)
	assert.Equal(t, ResultUnknownIntent, res)

	_, p := f.state(t)
	assert.Equal(t, domain.PaymentStatusPending, p.Status)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.WebhookEvents.WithLabelValues(EventIntentSucceeded, "unknown_intent")))
}

func TestHandle_UnrelatedTypeIgnored(t *testing.T) {
	f := newFixture(t)

	res, err := f.handler.Handle(context.Background(), []byte("evt_5|customer.created|"), "ok")
	require.NoError(t, err)
	assert.Equal(t, ResultIgnored, res)
}

func TestHandle_InvalidSignature(t *testing.T) {
	f := newFixture(t)

	res, err := f.handler.Handle(context.Background(), []byte("evt_1|payment_intent.succeeded|pi_1"), "forged")
	require.ErrorIs(t, err, domain.ErrInvalidSignature)
	assert.Equal(t, ResultInvalidSignature, res)

	_, p := f.state(t)
	assert.Equal(t, domain.PaymentStatusPending, p.Status)
}

func TestHandle_StoreFailureIsRetryable(t *testing.T) {
	f := newFixture(t)
	f.store.FailOutbox = errors.New("outbox down")
	ctx := context.Background()
	body := []byte("evt_1|payment_intent.succeeded|pi_1")

	res, err := f.handler.Handle(ctx, body, "ok")
	require.Error(t, err)
	assert.Equal(t, ResultError, res)

	f.store.FailOutbox = nil
	res, err = f.handler.Handle(ctx, body, "ok")
	require.NoError(t, err)
	assert.Equal(t, ResultApplied, res, "rolled back event id must not be remembered")
}
