// Package service builds orders from a cart and drives their lifecycle.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/AKPAING3147/Foood/internal/order/domain"
	"github.com/AKPAING3147/Foood/internal/payment"
	"github.com/AKPAING3147/Foood/internal/store"
	"github.com/AKPAING3147/Foood/pkg/contracts"
	"github.com/AKPAING3147/Foood/pkg/logging"
)

const svcName = "order"

// placeAttempts bounds retries after an order number collision.
const placeAttempts = 3

// Initiator starts settlement for a freshly placed order.
type Initiator interface {
	Initiate(ctx context.Context, order *domain.Order) (*payment.Outcome, error)
}

type Service struct {
	store    store.Store
	payments Initiator
	now      func() time.Time
	newID    func() uuid.UUID
}

func New(s store.Store, payments Initiator) *Service {
	return &Service{store: s, payments: payments, now: func() time.Time { return time.Now().UTC() }, newID: uuid.New}
}

type LineInput struct {
	ProductID domain.ProductID `json:"product_id"`
	Quantity  int32            `json:"quantity"`
	// ClientPrice is what the cart displayed. It is compared, never charged.
	ClientPrice *decimal.Decimal `json:"price,omitempty"`
}

type PlaceOrderInput struct {
	UserID          string               `json:"-"`
	Lines           []LineInput          `json:"items"`
	PaymentMethod   domain.PaymentMethod `json:"payment_method"`
	DeliveryAddress string               `json:"delivery_address"`
	Phone           string               `json:"phone"`
	Notes           *string              `json:"notes,omitempty"`
	IdempotencyKey  string               `json:"-"`
}

type PlaceResult struct {
	Order    *domain.Order
	Payment  *payment.Outcome
	Replayed bool
}

func validate(in *PlaceOrderInput) error {
	in.DeliveryAddress = strings.TrimSpace(in.DeliveryAddress)
	in.Phone = strings.TrimSpace(in.Phone)
	if in.UserID == "" || in.PaymentMethod == "" || in.DeliveryAddress == "" || in.Phone == "" {
		return fmt.Errorf("%w: user, payment method, delivery address and phone are required", domain.ErrMissingFields)
	}
	if !in.PaymentMethod.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidPaymentMode, in.PaymentMethod)
	}
	if len(in.Lines) == 0 {
		return domain.ErrEmptyOrder
	}
	for i, l := range in.Lines {
		if strings.TrimSpace(string(l.ProductID)) == "" {
			return fmt.Errorf("%w: item %d has no product id", domain.ErrMissingFields, i)
		}
		if l.Quantity <= 0 || l.Quantity > domain.MaxLineQuantity {
			return fmt.Errorf("%w: item %d quantity %d", domain.ErrInvalidQuantity, i, l.Quantity)
		}
	}
	return nil
}

// PlaceOrder validates the cart, prices it from the catalog and persists the
// order with its lines atomically. Payment initiation runs after commit; when
// it fails the persisted order is returned together with the error.
func (s *Service) PlaceOrder(ctx context.Context, in PlaceOrderInput) (*PlaceResult, error) {
	start := time.Now()
	if err := validate(&in); err != nil {
		logging.Log(logging.Fields{Level: logging.LevelWarn, Service: svcName, UserID: in.UserID, Step: "validate", Status: "rejected", Message: err.Error()})
		return nil, err
	}

	if in.IdempotencyKey != "" {
		if existing, err := s.store.FindOrderByIdempotencyKey(ctx, in.UserID, in.IdempotencyKey); err == nil {
			return s.replay(ctx, existing, in)
		} else if !errors.Is(err, domain.ErrOrderNotFound) {
			return nil, err
		}
	}

	lines := make([]domain.OrderLine, 0, len(in.Lines))
	for _, l := range in.Lines {
		p, err := s.store.GetProduct(ctx, l.ProductID)
		if err != nil {
			return nil, err
		}
		if !p.Available {
			return nil, fmt.Errorf("%w: %s", domain.ErrProductUnavailable, p.ID)
		}
		if l.ClientPrice != nil && !l.ClientPrice.Equal(p.Price) {
			logging.Log(logging.Fields{Level: logging.LevelWarn, Service: svcName, UserID: in.UserID, Step: "price_check", Status: "mismatch",
				Message: fmt.Sprintf("client price %s for %s ignored, catalog price %s", l.ClientPrice.String(), p.ID, p.Price.String())})
		}
		lines = append(lines, domain.OrderLine{
			ID:          uuid.NewString(),
			ProductID:   p.ID,
			ProductName: p.Name,
			Quantity:    l.Quantity,
			Price:       p.Price,
		})
	}

	total := domain.SumLines(lines)
	if total.GreaterThan(domain.MaxOrderTotal) {
		return nil, fmt.Errorf("%w: order total %s exceeds %s", domain.ErrInvalidQuantity, total.StringFixed(2), domain.MaxOrderTotal.StringFixed(2))
	}

	var order *domain.Order
	var err error
	for attempt := 1; attempt <= placeAttempts; attempt++ {
		order = s.newOrder(in, lines, total)
		err = s.insert(ctx, order)
		if !errors.Is(err, domain.ErrDuplicate) {
			break
		}
		if in.IdempotencyKey != "" {
			if existing, qerr := s.store.FindOrderByIdempotencyKey(ctx, in.UserID, in.IdempotencyKey); qerr == nil {
				return s.replay(ctx, existing, in)
			}
		}
		if attempt < placeAttempts {
			logging.Log(logging.Fields{Level: logging.LevelWarn, Service: svcName, OrderID: string(order.ID), UserID: order.UserID, Step: "persist", Status: "number_collision", Message: "order number " + order.Number + " taken; retrying"})
		}
	}
	if err != nil {
		logging.Log(logging.Fields{Service: svcName, OrderID: string(order.ID), UserID: order.UserID, Step: "persist", Status: "error", Err: err, Message: "place order failed"})
		return nil, err
	}
	logging.Log(logging.Fields{Service: svcName, OrderID: string(order.ID), UserID: order.UserID, Step: "persist", Status: string(order.Status),
		DurationMS: time.Since(start).Milliseconds(), Message: "order placed " + order.Number})

	res := &PlaceResult{Order: order}
	outcome, err := s.payments.Initiate(ctx, order)
	if err != nil {
		logging.Log(logging.Fields{Service: svcName, OrderID: string(order.ID), UserID: order.UserID, Step: "initiate_payment", Status: "error", Err: err, Message: "order kept pending; payment initiation failed"})
		return res, err
	}
	res.Payment = outcome
	return res, nil
}

func (s *Service) newOrder(in PlaceOrderInput, lines []domain.OrderLine, total decimal.Decimal) *domain.Order {
	now := s.now()
	id := s.newID()
	return &domain.Order{
		ID:              domain.OrderID(id.String()),
		Number:          domain.NewOrderNumber(now, id),
		UserID:          in.UserID,
		Lines:           lines,
		TotalAmount:     total,
		DeliveryAddress: in.DeliveryAddress,
		Phone:           in.Phone,
		Notes:           in.Notes,
		Status:          domain.OrderStatusPending,
		PaymentMethod:   in.PaymentMethod,
		PaymentStatus:   domain.PaymentStatusPending,
		IdempotencyKey:  in.IdempotencyKey,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// insert persists the order and its order.placed event in one transaction.
func (s *Service) insert(ctx context.Context, order *domain.Order) error {
	return s.store.InTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		return tx.AppendOutbox(ctx, contracts.NewEvent(contracts.EventOrderPlaced, string(order.ID), order.UserID, map[string]any{
			"order_number":   order.Number,
			"total_amount":   order.TotalAmount.StringFixed(2),
			"payment_method": string(order.PaymentMethod),
			"items":          len(order.Lines),
		}))
	})
}

// sameCart reports whether in asks for what order already holds: the same
// products and quantities in the same order, payment method, address and phone.
func sameCart(order *domain.Order, in PlaceOrderInput) bool {
	if order.PaymentMethod != in.PaymentMethod || order.DeliveryAddress != in.DeliveryAddress || order.Phone != in.Phone {
		return false
	}
	if len(order.Lines) != len(in.Lines) {
		return false
	}
	for i, l := range order.Lines {
		if l.ProductID != in.Lines[i].ProductID || l.Quantity != in.Lines[i].Quantity {
			return false
		}
	}
	return true
}

// replay answers a repeated Idempotency-Key with the stored order. Initiation
// is re-run so the client gets its card secret or bank details back; a payment
// that has already settled is simply not re-offered. A key reused for a
// different cart is a conflict.
func (s *Service) replay(ctx context.Context, order *domain.Order, in PlaceOrderInput) (*PlaceResult, error) {
	if !sameCart(order, in) {
		logging.Log(logging.Fields{Level: logging.LevelWarn, Service: svcName, OrderID: string(order.ID), UserID: in.UserID, Step: "idempotency", Status: "key_reused"})
		return nil, fmt.Errorf("%w: key %q belongs to order %s", domain.ErrIdempotencyKeyReused, in.IdempotencyKey, order.Number)
	}
	res := &PlaceResult{Order: order, Replayed: true}
	if order.Status == domain.OrderStatusCancelled {
		return res, nil
	}
	outcome, err := s.payments.Initiate(ctx, order)
	if err != nil {
		if domain.IsKind(err, domain.KindConflict) {
			return res, nil
		}
		return res, err
	}
	res.Payment = outcome
	return res, nil
}

func (s *Service) GetOrder(ctx context.Context, id domain.OrderID) (*domain.Order, error) {
	return s.store.GetOrder(ctx, id)
}

func (s *Service) ListOrders(ctx context.Context, f domain.OrderFilter) ([]domain.Order, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: order status %q", domain.ErrInvalidStatus, f.Status)
	}
	return s.store.ListOrders(ctx, f)
}

// UpdateOrderStatus moves an order forward, or cancels it. Re-applying the
// current status is a no-op. A cash-on-delivery order is marked paid when it
// is delivered.
func (s *Service) UpdateOrderStatus(ctx context.Context, id domain.OrderID, next domain.OrderStatus) (*domain.Order, error) {
	if !next.Valid() {
		return nil, fmt.Errorf("%w: order status %q", domain.ErrInvalidStatus, next)
	}
	return s.transition(ctx, id, next, "update_status")
}

// CancelOrder marks the order CANCELLED; orders are never deleted. A delivered
// order cannot be cancelled and cancelling twice is a no-op.
func (s *Service) CancelOrder(ctx context.Context, id domain.OrderID) (*domain.Order, error) {
	return s.transition(ctx, id, domain.OrderStatusCancelled, "cancel")
}

func (s *Service) transition(ctx context.Context, id domain.OrderID, next domain.OrderStatus, step string) (*domain.Order, error) {
	var out *domain.Order
	var prev domain.OrderStatus
	changed := false
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		o, err := tx.LockOrder(ctx, id)
		if err != nil {
			return err
		}
		out, prev = o, o.Status
		now := s.now()
		changed, err = o.TransitionTo(next, now)
		if err != nil || !changed {
			return err
		}
		if next == domain.OrderStatusDelivered && o.PaymentMethod == domain.PaymentMethodCOD && o.PaymentStatus == domain.PaymentStatusPending {
			o.PaymentStatus = domain.PaymentStatusCompleted
		}
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		evtType := contracts.EventOrderStatusChanged
		if next == domain.OrderStatusCancelled {
			evtType = contracts.EventOrderCancelled
		}
		return tx.AppendOutbox(ctx, contracts.NewEvent(evtType, string(o.ID), o.UserID, map[string]any{
			"order_number":   o.Number,
			"from":           string(prev),
			"status":         string(o.Status),
			"payment_status": string(o.PaymentStatus),
		}))
	})
	if err != nil {
		logging.Log(logging.Fields{Service: svcName, OrderID: string(id), Step: step, Status: string(next), Err: err, Message: "order status change failed"})
		return nil, err
	}
	if changed {
		logging.Log(logging.Fields{Service: svcName, OrderID: string(id), UserID: out.UserID, Step: step, Status: string(out.Status), Message: "order moved from " + string(prev)})
		if next == domain.OrderStatusCancelled && out.PaymentStatus == domain.PaymentStatusCompleted {
			logging.Log(logging.Fields{Level: logging.LevelWarn, Service: svcName, OrderID: string(id), UserID: out.UserID, Step: step, Status: "refund_required", Message: "cancelled order was already paid; refund required"})
		}
	}
	return out, nil
}
