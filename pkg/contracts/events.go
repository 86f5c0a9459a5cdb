package contracts

import (
	"time"

	"github.com/google/uuid"
)

type Event struct {
	EventID   string         `json:"event_id"`
	OrderID   string         `json:"order_id"`
	UserID    string         `json:"user_id"`
	CreatedAt time.Time      `json:"created_at"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
}

const (
	EventOrderPlaced             = "order.placed"
	EventOrderStatusChanged      = "order.status_changed"
	EventOrderCancelled          = "order.cancelled"
	EventPaymentInitiated        = "payment.initiated"
	EventPaymentEvidenceAttached = "payment.evidence_attached"
	EventPaymentCompleted        = "payment.completed"
	EventPaymentFailed           = "payment.failed"
	EventPaymentRefunded         = "payment.refunded"
)

const DefaultTopic = "storefront.events"

// NewEvent stamps a fresh event id and creation time.
func NewEvent(eventType, orderID, userID string, payload map[string]any) Event {
	if payload == nil {
		payload = map[string]any{}
	}
	return Event{
		EventID:   uuid.NewString(),
		OrderID:   orderID,
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
		Type:      eventType,
		Payload:   payload,
	}
}
