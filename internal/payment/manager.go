// Package payment owns the Payment record of an order: its idempotent upsert,
// the per-method initiation strategies and the administrator status actions.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AKPAING3147/Foood/internal/order/domain"
	"github.com/AKPAING3147/Foood/internal/store"
	"github.com/AKPAING3147/Foood/pkg/contracts"
	"github.com/AKPAING3147/Foood/pkg/logging"
	"github.com/AKPAING3147/Foood/pkg/metrics"
)

const service = "payment"

type Manager struct {
	store      store.Store
	metrics    *metrics.ServerMetrics
	strategies map[domain.PaymentMethod]Initiator
	now        func() time.Time
}

type Option func(*Manager)

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithMetrics(sm *metrics.ServerMetrics) Option {
	return func(m *Manager) { m.metrics = sm }
}

// NewManager wires the record manager with its strategies. proc may be nil when
// card payments are not configured; STRIPE initiation then fails as an external error.
func NewManager(s store.Store, proc Processor, cfg Config, opts ...Option) *Manager {
	m := &Manager{store: s, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(m)
	}
	m.strategies = map[domain.PaymentMethod]Initiator{}
	for _, in := range []Initiator{
		cashOnDelivery{},
		&card{m: m, proc: proc, currency: cfg.currency()},
		&bankTransfer{m: m, account: cfg.Bank},
	} {
		m.strategies[in.Method()] = in
	}
	return m
}

// Get returns the order's payment, or ErrPaymentNotFound (always the case for COD).
func (m *Manager) Get(ctx context.Context, orderID domain.OrderID) (*domain.Payment, error) {
	return m.store.GetPaymentByOrder(ctx, orderID)
}

// Upsert creates the order's payment on first call and afterwards updates only
// the supplied fields of that same row.
func (m *Manager) Upsert(ctx context.Context, orderID domain.OrderID, upd domain.PaymentUpdate) (*domain.Payment, error) {
	var ch domain.PaymentChange
	var order *domain.Order
	err := m.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		ch, order, err = m.ApplyInTx(ctx, tx, orderID, upd)
		return err
	})
	if err != nil {
		return nil, err
	}
	m.observe("upsert", ch, order)
	return ch.Payment, nil
}

// ApplyInTx is the single write path for payments. It locks the order then
// the payment, merges upd, mirrors the status onto the order, confirms a
// PENDING order when the payment completes, and appends outbox events.
func (m *Manager) ApplyInTx(ctx context.Context, tx store.Tx, orderID domain.OrderID, upd domain.PaymentUpdate) (domain.PaymentChange, *domain.Order, error) {
	order, err := tx.LockOrder(ctx, orderID)
	if err != nil {
		return domain.PaymentChange{}, nil, err
	}
	existing, err := tx.LockPayment(ctx, orderID)
	if err != nil && !errors.Is(err, domain.ErrPaymentNotFound) {
		return domain.PaymentChange{}, nil, err
	}
	if existing == nil && order.PaymentMethod == domain.PaymentMethodCOD {
		return domain.PaymentChange{}, nil, fmt.Errorf("%w: cash-on-delivery order %s has no payment record", domain.ErrPaymentMethodMismatch, orderID)
	}

	now := m.now()
	ch, err := domain.ApplyPaymentUpdate(existing, order, upd, now)
	if err != nil {
		return ch, nil, err
	}
	if err := tx.SavePayment(ctx, ch.Payment); err != nil {
		return ch, nil, err
	}

	orderChanged := false
	if order.PaymentStatus != ch.Payment.Status {
		order.PaymentStatus = ch.Payment.Status
		orderChanged = true
	}
	if ch.StatusChanged && ch.Payment.Status == domain.PaymentStatusCompleted && order.Status == domain.OrderStatusPending {
		if _, err := order.TransitionTo(domain.OrderStatusConfirmed, now); err != nil {
			return ch, nil, err
		}
		orderChanged = true
	}
	if orderChanged {
		order.UpdatedAt = now
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return ch, nil, err
		}
	}

	for _, evt := range paymentEvents(ch, order, upd) {
		if err := tx.AppendOutbox(ctx, evt); err != nil {
			return ch, nil, err
		}
	}
	return ch, order, nil
}

func paymentEvents(ch domain.PaymentChange, order *domain.Order, upd domain.PaymentUpdate) []contracts.Event {
	p := ch.Payment
	payload := map[string]any{
		"payment_id":     p.ID,
		"order_number":   order.Number,
		"payment_method": string(p.Method),
		"status":         string(p.Status),
		"amount":         p.Amount.StringFixed(2),
	}
	var out []contracts.Event
	if ch.Created {
		out = append(out, contracts.NewEvent(contracts.EventPaymentInitiated, string(order.ID), order.UserID, payload))
	}
	if upd.EvidenceURL != nil {
		out = append(out, contracts.NewEvent(contracts.EventPaymentEvidenceAttached, string(order.ID), order.UserID, payload))
	}
	if ch.StatusChanged {
		switch p.Status {
		case domain.PaymentStatusCompleted:
			out = append(out, contracts.NewEvent(contracts.EventPaymentCompleted, string(order.ID), order.UserID, payload))
		case domain.PaymentStatusFailed:
			out = append(out, contracts.NewEvent(contracts.EventPaymentFailed, string(order.ID), order.UserID, payload))
		case domain.PaymentStatusRefunded:
			out = append(out, contracts.NewEvent(contracts.EventPaymentRefunded, string(order.ID), order.UserID, payload))
		}
	}
	return out
}

// Observe logs and counts a committed change. Callers that run ApplyInTx
// inside their own transaction call it after commit.
func (m *Manager) Observe(step string, ch domain.PaymentChange, order *domain.Order) {
	m.observe(step, ch, order)
}

func (m *Manager) observe(step string, ch domain.PaymentChange, order *domain.Order) {
	if ch.Payment == nil {
		return
	}
	f := logging.Fields{
		Service:   service,
		OrderID:   string(ch.Payment.OrderID),
		PaymentID: ch.Payment.ID,
		Step:      step,
		Status:    string(ch.Payment.Status),
	}
	if order != nil {
		f.UserID = order.UserID
	}
	if ch.StatusPreserved {
		f.Level = logging.LevelWarn
		f.Message = "terminal payment status kept; update would have left " + string(ch.Previous)
		logging.Log(f)
		return
	}
	if ch.Created || ch.StatusChanged {
		m.metrics.PaymentTransition(string(ch.Payment.Method), string(ch.Payment.Status))
	}
	f.Message = "payment updated"
	if ch.Created {
		f.Message = "payment created"
	}
	logging.Log(f)
}

// AttachBankEvidence records an uploaded transfer slip. The payment stays
// PENDING until an administrator confirms it.
func (m *Manager) AttachBankEvidence(ctx context.Context, orderID domain.OrderID, evidenceURL string, bankAccountNumber, bankAccountName *string) (*domain.Payment, error) {
	evidenceURL = strings.TrimSpace(evidenceURL)
	if orderID == "" || evidenceURL == "" {
		return nil, fmt.Errorf("%w: order id and evidence url are required", domain.ErrMissingFields)
	}
	upd := domain.PaymentUpdate{
		Status:            domain.StatusPtr(domain.PaymentStatusPending),
		EvidenceURL:       &evidenceURL,
		BankAccountNumber: nonEmpty(bankAccountNumber),
		BankAccountName:   nonEmpty(bankAccountName),
	}

	var ch domain.PaymentChange
	var order *domain.Order
	err := m.store.InTx(ctx, func(tx store.Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.PaymentMethod != domain.PaymentMethodBankTransfer {
			return fmt.Errorf("%w: order %s is paid by %s", domain.ErrPaymentMethodMismatch, orderID, o.PaymentMethod)
		}
		ch, order, err = m.ApplyInTx(ctx, tx, orderID, upd)
		return err
	})
	if err != nil {
		logging.Log(logging.Fields{Service: service, OrderID: string(orderID), Step: "attach_evidence", Status: "error", Err: err, Message: "attach bank evidence failed"})
		return nil, err
	}
	m.observe("attach_evidence", ch, order)
	return ch.Payment, nil
}

// SetStatus is the administrator action behind manual confirmation, rejection
// and refunds. It is an explicit instruction, so it may leave COMPLETED for REFUNDED.
// A bank or card order without a payment yet gets one created.
func (m *Manager) SetStatus(ctx context.Context, orderID domain.OrderID, status domain.PaymentStatus) (*domain.Payment, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: payment status %q", domain.ErrInvalidStatus, status)
	}
	var ch domain.PaymentChange
	var order *domain.Order
	err := m.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		ch, order, err = m.ApplyInTx(ctx, tx, orderID, domain.PaymentUpdate{Status: &status, Force: true})
		return err
	})
	if err != nil {
		logging.Log(logging.Fields{Service: service, OrderID: string(orderID), Step: "admin_set_status", Status: string(status), Err: err, Message: "admin payment status change failed"})
		return nil, err
	}
	m.observe("admin_set_status", ch, order)
	return ch.Payment, nil
}

func nonEmpty(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
