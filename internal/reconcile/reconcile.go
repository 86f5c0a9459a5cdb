// Package reconcile applies verified card-processor webhook events to the
// matching Payment and Order.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AKPAING3147/Foood/internal/order/domain"
	"github.com/AKPAING3147/Foood/internal/payment"
	"github.com/AKPAING3147/Foood/internal/store"
	"github.com/AKPAING3147/Foood/pkg/logging"
	"github.com/AKPAING3147/Foood/pkg/metrics"
)

const service = "reconcile"

const (
	EventIntentSucceeded = "payment_intent.succeeded"
	EventIntentFailed    = "payment_intent.payment_failed"
)

// Event is the part of a processor notification the handler acts on.
type Event struct {
	ID       string
	Type     string
	IntentID string
}

// Verifier authenticates a raw webhook body against its signature header.
type Verifier interface {
	Verify(payload []byte, signature string) (*Event, error)
}

type Result string

const (
	ResultApplied          Result = "applied"
	ResultDuplicate        Result = "duplicate"
	ResultUnchanged        Result = "unchanged"
	ResultAnomalous        Result = "anomalous"
	ResultUnknownIntent    Result = "unknown_intent"
	ResultIgnored          Result = "ignored"
	ResultInvalidSignature Result = "invalid_signature"
	ResultError            Result = "error"
)

type Handler struct {
	verifier Verifier
	store    store.Store
	payments *payment.Manager
	metrics  *metrics.ServerMetrics
}

func NewHandler(v Verifier, s store.Store, payments *payment.Manager, m *metrics.ServerMetrics) *Handler {
	return &Handler{verifier: v, store: s, payments: payments, metrics: m}
}

// Handle verifies and applies one delivery. A nil error means the delivery
// should be acknowledged, including events that changed nothing. Any error
// other than ErrInvalidSignature asks the processor to retry.
func (h *Handler) Handle(ctx context.Context, payload []byte, signature string) (Result, error) {
	start := time.Now()
	evt, err := h.verifier.Verify(payload, signature)
	if err != nil {
		h.metrics.WebhookEvent("unverified", string(ResultInvalidSignature))
		logging.Log(logging.Fields{Level: logging.LevelWarn, Service: service, Step: "verify", Status: string(ResultInvalidSignature), Message: "webhook signature rejected: " + err.Error()})
		return ResultInvalidSignature, domain.ErrInvalidSignature
	}

	res, err := h.apply(ctx, evt)
	h.metrics.WebhookEvent(evt.Type, string(res))
	f := logging.Fields{
		Service:    service,
		EventID:    evt.ID,
		PaymentID:  evt.IntentID,
		Step:       evt.Type,
		Status:     string(res),
		DurationMS: time.Since(start).Milliseconds(),
		Err:        err,
		Message:    "webhook handled",
	}
	switch res {
	case ResultUnknownIntent, ResultAnomalous:
		f.Level = logging.LevelWarn
	case ResultError:
		f.Message = "webhook processing failed"
	}
	logging.Log(f)
	return res, err
}

func targetStatus(eventType string) (domain.PaymentStatus, bool) {
	switch eventType {
	case EventIntentSucceeded:
		return domain.PaymentStatusCompleted, true
	case EventIntentFailed:
		return domain.PaymentStatusFailed, true
	}
	return "", false
}

func (h *Handler) apply(ctx context.Context, evt *Event) (Result, error) {
	target, ok := targetStatus(evt.Type)
	if !ok {
		return ResultIgnored, nil
	}
	if evt.IntentID == "" {
		return ResultUnknownIntent, nil
	}

	p, err := h.store.FindPaymentByProcessorRef(ctx, evt.IntentID)
	if err != nil {
		if errors.Is(err, domain.ErrPaymentNotFound) {
			return ResultUnknownIntent, nil
		}
		return ResultError, fmt.Errorf("find payment by intent %s: %w", evt.IntentID, err)
	}

	res := ResultApplied
	var ch domain.PaymentChange
	var order *domain.Order
	err = h.store.InTx(ctx, func(tx store.Tx) error {
		fresh, err := tx.MarkEventProcessed(ctx, evt.ID, evt.Type)
		if err != nil {
			return err
		}
		if !fresh {
			res = ResultDuplicate
			return nil
		}
		ch, order, err = h.payments.ApplyInTx(ctx, tx, p.OrderID, domain.PaymentUpdate{Status: &target})
		if err != nil {
			return err
		}
		switch {
		case ch.StatusPreserved:
			res = ResultAnomalous
		case !ch.StatusChanged:
			res = ResultUnchanged
		}
		return nil
	})
	if err != nil {
		return ResultError, err
	}
	if res == ResultApplied || res == ResultAnomalous {
		h.payments.Observe("webhook", ch, order)
	}
	if res == ResultApplied && order != nil && order.Status == domain.OrderStatusCancelled && target == domain.PaymentStatusCompleted {
		logging.Log(logging.Fields{Level: logging.LevelWarn, Service: service, OrderID: string(order.ID), EventID: evt.ID, Step: "webhook", Status: "paid_after_cancel", Message: "payment completed for a cancelled order; refund required"})
	}
	return res, nil
}
