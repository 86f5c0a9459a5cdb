// Package notify turns storefront events into customer notifications.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/AKPAING3147/Foood/internal/order/domain"
	"github.com/AKPAING3147/Foood/pkg/contracts"
	"github.com/AKPAING3147/Foood/pkg/logging"
)

const service = "notification-service"

// Sink stores a notification once per event id; false means a duplicate.
type Sink interface {
	SaveNotification(ctx context.Context, n *domain.Notification) (bool, error)
}

func str(payload map[string]any, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

// Message renders the customer-facing text for evt. Events a customer does
// not need to hear about return false.
func Message(evt contracts.Event) (string, bool) {
	number := str(evt.Payload, "order_number")
	if number == "" {
		number = evt.OrderID
	}
	switch evt.Type {
	case contracts.EventOrderPlaced:
		return fmt.Sprintf("Order %s received. Total %s.", number, str(evt.Payload, "total_amount")), true
	case contracts.EventOrderStatusChanged:
		switch domain.OrderStatus(str(evt.Payload, "status")) {
		case domain.OrderStatusConfirmed:
			return fmt.Sprintf("Order %s is confirmed.", number), true
		case domain.OrderStatusPreparing:
			return fmt.Sprintf("Order %s is being prepared.", number), true
		case domain.OrderStatusReady:
			return fmt.Sprintf("Order %s is ready.", number), true
		case domain.OrderStatusDelivered:
			return fmt.Sprintf("Order %s was delivered. Enjoy!", number), true
		}
		return "", false
	case contracts.EventOrderCancelled:
		return fmt.Sprintf("Order %s was cancelled.", number), true
	case contracts.EventPaymentEvidenceAttached:
		return fmt.Sprintf("We received your payment slip for order %s and will confirm it shortly.", number), true
	case contracts.EventPaymentCompleted:
		return fmt.Sprintf("Payment for order %s was received.", number), true
	case contracts.EventPaymentFailed:
		return fmt.Sprintf("Payment for order %s failed. You can retry from your order page.", number), true
	case contracts.EventPaymentRefunded:
		return fmt.Sprintf("Payment for order %s was refunded.", number), true
	}
	return "", false
}

type Projector struct {
	sink Sink
	now  func() time.Time
}

func NewProjector(sink Sink) *Projector {
	return &Projector{sink: sink, now: func() time.Time { return time.Now().UTC() }}
}

// Handle stores the notification for evt. It reports whether one was written.
func (p *Projector) Handle(ctx context.Context, evt contracts.Event) (bool, error) {
	if evt.EventID == "" || evt.UserID == "" {
		return false, nil
	}
	msg, ok := Message(evt)
	if !ok {
		return false, nil
	}
	return p.sink.SaveNotification(ctx, &domain.Notification{
		ID:        uuid.NewString(),
		EventID:   evt.EventID,
		UserID:    evt.UserID,
		OrderID:   evt.OrderID,
		Type:      evt.Type,
		Message:   msg,
		CreatedAt: p.now(),
	})
}

// MessageReader is the consumer-group side of a kafka.Reader.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Consume projects messages until ctx ends. An offset is committed only after
// its notification is stored, so a failed save is retried.
func (p *Projector) Consume(ctx context.Context, r MessageReader, retryDelay time.Duration) error {
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}
	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logging.Log(logging.Fields{Service: service, Step: "fetch", Status: "error", Err: err, Message: "kafka read error"})
			if !sleep(ctx, retryDelay) {
				return ctx.Err()
			}
			continue
		}

		var evt contracts.Event
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			logging.Log(logging.Fields{Level: logging.LevelWarn, Service: service, Step: "decode", Status: "skipped", Message: "undecodable event: " + err.Error()})
		} else {
			for {
				written, err := p.Handle(ctx, evt)
				if err == nil {
					if written {
						logging.Log(logging.Fields{Service: service, OrderID: evt.OrderID, UserID: evt.UserID, EventID: evt.EventID, Step: evt.Type, Status: "notified"})
					}
					break
				}
				logging.Log(logging.Fields{Service: service, EventID: evt.EventID, Step: "save", Status: "error", Err: err, Message: "notification save failed"})
				if !sleep(ctx, retryDelay) {
					return ctx.Err()
				}
			}
		}
		if err := r.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			logging.Log(logging.Fields{Service: service, Step: "commit", Status: "error", Err: err, Message: "offset commit failed"})
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
