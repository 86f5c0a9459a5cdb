package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/AKPAING3147/Foood/internal/order/domain"
	"github.com/AKPAING3147/Foood/internal/store"
	"github.com/AKPAING3147/Foood/pkg/logging"
)

// BankAccount is the shop's receiving account shown to bank-transfer customers.
type BankAccount struct {
	BankName      string `json:"bank_name" yaml:"bank_name"`
	AccountName   string `json:"account_name" yaml:"account_name"`
	AccountNumber string `json:"account_number" yaml:"account_number"`
}

type Config struct {
	Currency string
	Bank     BankAccount
}

func (c Config) currency() string {
	if c.Currency == "" {
		return "usd"
	}
	return strings.ToLower(c.Currency)
}

// IntentRequest asks the card processor for a payment intent.
type IntentRequest struct {
	AmountMinor    int64
	Currency       string
	OrderID        string
	OrderNumber    string
	UserID         string
	IdempotencyKey string
}

type Intent struct {
	ID           string
	ClientSecret string
}

// Processor is the external card processor.
type Processor interface {
	CreatePaymentIntent(ctx context.Context, req IntentRequest) (*Intent, error)
}

type Action string

const (
	ActionNone           Action = "none"
	ActionConfirmCard    Action = "confirm_card"
	ActionUploadEvidence Action = "upload_evidence"
)

// Outcome tells the client what to do next for the chosen payment method.
type Outcome struct {
	Method          domain.PaymentMethod `json:"method"`
	Action          Action               `json:"action"`
	ClientSecret    string               `json:"client_secret,omitempty"`
	PaymentIntentID string               `json:"payment_intent_id,omitempty"`
	AmountMinor     int64                `json:"amount_minor,omitempty"`
	Payment         *domain.Payment      `json:"payment,omitempty"`
	BankAccount     *BankAccount         `json:"bank_account,omitempty"`
}

// Initiator starts settlement for one payment method.
type Initiator interface {
	Method() domain.PaymentMethod
	Initiate(ctx context.Context, order *domain.Order) (*Outcome, error)
}

// Initiate dispatches to the strategy registered for the order's method.
func (m *Manager) Initiate(ctx context.Context, order *domain.Order) (*Outcome, error) {
	in, ok := m.strategies[order.PaymentMethod]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidPaymentMode, order.PaymentMethod)
	}
	return in.Initiate(ctx, order)
}

// InitiateCardPayment (re)starts card settlement for an existing order. Calling
// it again for the same order returns the same processor intent.
func (m *Manager) InitiateCardPayment(ctx context.Context, orderID domain.OrderID) (*Outcome, error) {
	order, err := m.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentMethod != domain.PaymentMethodCard {
		return nil, fmt.Errorf("%w: order %s is paid by %s", domain.ErrPaymentMethodMismatch, orderID, order.PaymentMethod)
	}
	return m.strategies[domain.PaymentMethodCard].Initiate(ctx, order)
}

type cashOnDelivery struct{}

func (cashOnDelivery) Method() domain.PaymentMethod { return domain.PaymentMethodCOD }

func (cashOnDelivery) Initiate(context.Context, *domain.Order) (*Outcome, error) {
	return &Outcome{Method: domain.PaymentMethodCOD, Action: ActionNone}, nil
}

type card struct {
	m        *Manager
	proc     Processor
	currency string
}

func (c *card) Method() domain.PaymentMethod { return domain.PaymentMethodCard }

func (c *card) Initiate(ctx context.Context, order *domain.Order) (*Outcome, error) {
	if order.Status == domain.OrderStatusCancelled {
		return nil, fmt.Errorf("%w: order %s is cancelled", domain.ErrInvalidTransition, order.ID)
	}
	existing, err := c.m.store.GetPaymentByOrder(ctx, order.ID)
	if err != nil && !errors.Is(err, domain.ErrPaymentNotFound) {
		return nil, err
	}
	if existing != nil && existing.Status.Terminal() {
		return nil, fmt.Errorf("%w: payment for order %s is already %s", domain.ErrInvalidTransition, order.ID, existing.Status)
	}
	if c.proc == nil {
		return nil, fmt.Errorf("%w: card processor not configured", domain.ErrPaymentIntentCreationFailed)
	}

	amount := domain.MinorUnits(order.TotalAmount)
	intent, err := c.proc.CreatePaymentIntent(ctx, IntentRequest{
		AmountMinor:    amount,
		Currency:       c.currency,
		OrderID:        string(order.ID),
		OrderNumber:    order.Number,
		UserID:         order.UserID,
		IdempotencyKey: "storefront-order-" + string(order.ID),
	})
	if err != nil {
		logging.Log(logging.Fields{Service: service, OrderID: string(order.ID), Step: "create_intent", Status: "error", Err: err, Message: "processor rejected payment intent"})
		return nil, fmt.Errorf("%w: %v", domain.ErrPaymentIntentCreationFailed, err)
	}

	var ch domain.PaymentChange
	var locked *domain.Order
	err = c.m.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		ch, locked, err = c.m.ApplyInTx(ctx, tx, order.ID, domain.PaymentUpdate{ProcessorRef: &intent.ID})
		if err != nil {
			return err
		}
		if ch.Previous.Terminal() {
			return fmt.Errorf("%w: payment for order %s settled concurrently", domain.ErrInvalidTransition, order.ID)
		}
		return nil
	})
	if err != nil {
		logging.Log(logging.Fields{Service: service, OrderID: string(order.ID), Step: "record_intent", Status: "error", Err: err, Message: "payment intent created but not recorded"})
		if domain.IsKind(err, domain.KindConflict) || domain.IsKind(err, domain.KindNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: record intent: %v", domain.ErrPaymentIntentCreationFailed, err)
	}
	c.m.observe("create_intent", ch, locked)

	return &Outcome{
		Method:          domain.PaymentMethodCard,
		Action:          ActionConfirmCard,
		ClientSecret:    intent.ClientSecret,
		PaymentIntentID: intent.ID,
		AmountMinor:     amount,
		Payment:         ch.Payment,
	}, nil
}

type bankTransfer struct {
	m       *Manager
	account BankAccount
}

func (b *bankTransfer) Method() domain.PaymentMethod { return domain.PaymentMethodBankTransfer }

func (b *bankTransfer) Initiate(ctx context.Context, order *domain.Order) (*Outcome, error) {
	upd := domain.PaymentUpdate{
		CreateOnly:        true,
		BankName:          optional(b.account.BankName),
		BankAccountName:   optional(b.account.AccountName),
		BankAccountNumber: optional(b.account.AccountNumber),
	}
	var ch domain.PaymentChange
	var locked *domain.Order
	err := b.m.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		ch, locked, err = b.m.ApplyInTx(ctx, tx, order.ID, upd)
		return err
	})
	if err != nil {
		return nil, err
	}
	b.m.observe("bank_transfer_pending", ch, locked)

	account := b.account
	return &Outcome{
		Method:      domain.PaymentMethodBankTransfer,
		Action:      ActionUploadEvidence,
		Payment:     ch.Payment,
		BankAccount: &account,
	}, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
