package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Payment is the single settlement record of an order. COD orders never have one.
type Payment struct {
	ID                string          `json:"id"`
	OrderID           OrderID         `json:"order_id"`
	Amount            decimal.Decimal `json:"amount"`
	Method            PaymentMethod   `json:"payment_method"`
	Status            PaymentStatus   `json:"status"`
	ProcessorRef      *string         `json:"stripe_payment_id,omitempty"`
	EvidenceURL       *string         `json:"payment_slip_url,omitempty"`
	BankName          *string         `json:"bank_name,omitempty"`
	BankAccountNumber *string         `json:"bank_account_number,omitempty"`
	BankAccountName   *string         `json:"bank_account_name,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PaymentUpdate carries only the fields a caller wants to change; nil leaves
// the stored value alone. Leaving a terminal status needs Force.
type PaymentUpdate struct {
	Status *PaymentStatus
	Force  bool
	// CreateOnly applies the optional fields only when the payment is created.
	CreateOnly bool

	ProcessorRef      *string
	EvidenceURL       *string
	BankName          *string
	BankAccountNumber *string
	BankAccountName   *string
}

type PaymentChange struct {
	Payment         *Payment
	Previous        PaymentStatus
	Created         bool
	StatusChanged   bool
	StatusPreserved bool
}

// ApplyPaymentUpdate merges upd into existing (nil creates a PENDING payment
// for order). A terminal status is kept, and reported through StatusPreserved,
// unless the update is forced and the state machine allows the move.
func ApplyPaymentUpdate(existing *Payment, order *Order, upd PaymentUpdate, now time.Time) (PaymentChange, error) {
	var ch PaymentChange
	var p Payment
	if existing == nil {
		p = Payment{
			ID:        uuid.NewString(),
			OrderID:   order.ID,
			Amount:    order.TotalAmount,
			Method:    order.PaymentMethod,
			Status:    PaymentStatusPending,
			CreatedAt: now,
		}
		ch.Created = true
	} else {
		p = *existing
	}
	ch.Previous = p.Status

	if upd.Status != nil && *upd.Status != p.Status {
		next := *upd.Status
		switch {
		case !next.Valid():
			return ch, fmt.Errorf("%w: payment status %q", ErrInvalidStatus, next)
		case p.Status.Terminal() && !upd.Force:
			ch.StatusPreserved = true
		case !p.Status.CanTransitionTo(next):
			return ch, fmt.Errorf("%w: payment for order %s cannot move from %s to %s", ErrInvalidTransition, p.OrderID, p.Status, next)
		default:
			p.Status = next
			ch.StatusChanged = true
		}
	}

	if ch.Created || !upd.CreateOnly {
		setIf(&p.ProcessorRef, upd.ProcessorRef)
		setIf(&p.EvidenceURL, upd.EvidenceURL)
		setIf(&p.BankName, upd.BankName)
		setIf(&p.BankAccountNumber, upd.BankAccountNumber)
		setIf(&p.BankAccountName, upd.BankAccountName)
	}

	p.UpdatedAt = now
	ch.Payment = &p
	return ch, nil
}

func setIf(dst **string, v *string) {
	if v != nil {
		s := *v
		*dst = &s
	}
}

// StatusPtr is a convenience for building updates.
func StatusPtr(s PaymentStatus) *PaymentStatus { return &s }
