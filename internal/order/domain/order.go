package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderID string
type ProductID string

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	OrderStatusPreparing OrderStatus = "PREPARING"
	OrderStatusReady     OrderStatus = "READY"
	OrderStatusDelivered OrderStatus = "DELIVERED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

type PaymentMethod string

const (
	PaymentMethodCOD          PaymentMethod = "COD"
	PaymentMethodCard         PaymentMethod = "STRIPE"
	PaymentMethodBankTransfer PaymentMethod = "BANK_TRANSFER"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCOD, PaymentMethodCard, PaymentMethodBankTransfer:
		return true
	}
	return false
}

// OrderLine snapshots the catalog price at placement; it is never mutated afterwards.
type OrderLine struct {
	ID          string          `json:"id"`
	ProductID   ProductID       `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int32           `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
}

func (l OrderLine) Total() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt32(l.Quantity))
}

type Order struct {
	ID              OrderID         `json:"id"`
	Number          string          `json:"order_number"`
	UserID          string          `json:"user_id"`
	Lines           []OrderLine     `json:"items"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	DeliveryAddress string          `json:"delivery_address"`
	Phone           string          `json:"phone"`
	Notes           *string         `json:"notes,omitempty"`
	Status          OrderStatus     `json:"status"`
	PaymentMethod   PaymentMethod   `json:"payment_method"`
	PaymentStatus   PaymentStatus   `json:"payment_status"`
	IdempotencyKey  string          `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SumLines is the authoritative order total: Σ price × quantity.
func SumLines(lines []OrderLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Total())
	}
	return total
}

// TransitionTo moves the order along its lifecycle. Re-applying the current
// status reports changed=false without error.
func (o *Order) TransitionTo(next OrderStatus, now time.Time) (bool, error) {
	if o.Status == next {
		return false, nil
	}
	if !o.Status.CanTransitionTo(next) {
		return false, fmt.Errorf("%w: order %s cannot move from %s to %s", ErrInvalidTransition, o.ID, o.Status, next)
	}
	o.Status = next
	o.UpdatedAt = now
	return true, nil
}

// Order limits. MaxOrderTotal is the largest amount the NUMERIC(10,2) total
// column holds.
const MaxLineQuantity = 999

var MaxOrderTotal = decimal.RequireFromString("99999999.99")

// NewOrderNumber renders the customer-facing number, e.g.
// FO-20261019-3F9A1C220000. The suffix is the random leading 48 bits of id.
func NewOrderNumber(now time.Time, id uuid.UUID) string {
	suffix := strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:12])
	return fmt.Sprintf("FO-%s-%s", now.UTC().Format("20060102"), suffix)
}

type OrderFilter struct {
	UserID string
	Status OrderStatus
	Limit  int
}

// MinorUnits converts an amount to processor minor units (cents), rounding half away from zero.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
