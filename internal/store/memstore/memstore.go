// Package memstore is an in-process store.Store with the same transactional
// behaviour as the Postgres implementation: InTx works on a snapshot that only
// replaces the live state when fn succeeds.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/AKPAING3147/Foood/internal/order/domain"
	"github.com/AKPAING3147/Foood/internal/store"
	"github.com/AKPAING3147/Foood/pkg/contracts"
)

type state struct {
	products      map[domain.ProductID]domain.Product
	orders        map[domain.OrderID]domain.Order
	payments      map[domain.OrderID]domain.Payment
	users         map[string]domain.User
	events        map[string]string
	outbox        []contracts.Event
	notifications []domain.Notification
}

func newState() *state {
	return &state{
		products: map[domain.ProductID]domain.Product{},
		orders:   map[domain.OrderID]domain.Order{},
		payments: map[domain.OrderID]domain.Payment{},
		users:    map[string]domain.User{},
		events:   map[string]string{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = cloneOrder(v)
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.events {
		c.events[k] = v
	}
	c.outbox = append(c.outbox, s.outbox...)
	c.notifications = append(c.notifications, s.notifications...)
	return c
}

func cloneOrder(o domain.Order) domain.Order {
	o.Lines = append([]domain.OrderLine(nil), o.Lines...)
	return o
}

type Store struct {
	mu sync.RWMutex
	st *state

	// FailOutbox, when set, is returned by every AppendOutbox call.
	FailOutbox error
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{st: newState()}
}

func (s *Store) AddProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.products[p.ID] = p
}

// Outbox returns committed events in append order.
func (s *Store) Outbox() []contracts.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]contracts.Event(nil), s.st.outbox...)
}

func (s *Store) PaymentCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.st.payments)
}

func (s *Store) OrderCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.st.orders)
}

func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.st.clone()
	if err := fn(&tx{st: work, failOutbox: s.FailOutbox}); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) GetProduct(_ context.Context, id domain.ProductID) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.st.products[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrProductNotFound, id)
	}
	return &p, nil
}

func (s *Store) ListProducts(_ context.Context, categoryID string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Product
	for _, p := range s.st.products {
		if categoryID == "" || p.CategoryID == categoryID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) GetOrder(_ context.Context, id domain.OrderID) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.st.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, id)
	}
	o = cloneOrder(o)
	return &o, nil
}

func (s *Store) FindOrderByIdempotencyKey(_ context.Context, userID, key string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.st.orders {
		if o.UserID == userID && o.IdempotencyKey == key {
			o = cloneOrder(o)
			return &o, nil
		}
	}
	return nil, fmt.Errorf("%w: idempotency key", domain.ErrOrderNotFound)
}

func (s *Store) ListOrders(_ context.Context, f domain.OrderFilter) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Order
	for _, o := range s.st.orders {
		if f.UserID != "" && o.UserID != f.UserID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		out = append(out, cloneOrder(o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) GetPaymentByOrder(_ context.Context, orderID domain.OrderID) (*domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.st.payments[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", domain.ErrPaymentNotFound, orderID)
	}
	return &p, nil
}

func (s *Store) FindPaymentByProcessorRef(_ context.Context, ref string) (*domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.st.payments {
		if p.ProcessorRef != nil && *p.ProcessorRef == ref {
			return &p, nil
		}
	}
	return nil, fmt.Errorf("%w: processor ref %s", domain.ErrPaymentNotFound, ref)
}

func userKey(role domain.Role, email string) string {
	return string(role) + "|" + strings.ToLower(email)
}

func (s *Store) CreateUser(_ context.Context, u *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := userKey(u.Role, u.Email)
	if _, ok := s.st.users[k]; ok {
		return fmt.Errorf("%w: email %s", domain.ErrDuplicate, u.Email)
	}
	s.st.users[k] = *u
	return nil
}

func (s *Store) UpsertAdmin(_ context.Context, u *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.Role = domain.RoleAdmin
	s.st.users[userKey(u.Role, u.Email)] = *u
	return nil
}

func (s *Store) GetUserByEmail(_ context.Context, role domain.Role, email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.st.users[userKey(role, email)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUserNotFound, email)
	}
	return &u, nil
}

func (s *Store) SaveNotification(_ context.Context, n *domain.Notification) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.st.notifications {
		if existing.EventID == n.EventID {
			return false, nil
		}
	}
	s.st.notifications = append(s.st.notifications, *n)
	return true, nil
}

func (s *Store) ListNotifications(_ context.Context, userID string, limit int) ([]domain.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Notification
	for i := len(s.st.notifications) - 1; i >= 0; i-- {
		n := s.st.notifications[i]
		if n.UserID != userID {
			continue
		}
		out = append(out, n)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

type tx struct {
	st         *state
	failOutbox error
}

func (t *tx) InsertOrder(_ context.Context, o *domain.Order) error {
	if _, ok := t.st.orders[o.ID]; ok {
		return fmt.Errorf("%w: order %s", domain.ErrDuplicate, o.ID)
	}
	for _, existing := range t.st.orders {
		if o.Number != "" && existing.Number == o.Number {
			return fmt.Errorf("%w: order number %s", domain.ErrDuplicate, o.Number)
		}
		if o.IdempotencyKey != "" && existing.UserID == o.UserID && existing.IdempotencyKey == o.IdempotencyKey {
			return fmt.Errorf("%w: idempotency key", domain.ErrDuplicate)
		}
	}
	t.st.orders[o.ID] = cloneOrder(*o)
	return nil
}

func (t *tx) LockOrder(_ context.Context, id domain.OrderID) (*domain.Order, error) {
	o, ok := t.st.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, id)
	}
	o = cloneOrder(o)
	return &o, nil
}

func (t *tx) UpdateOrder(_ context.Context, o *domain.Order) error {
	cur, ok := t.st.orders[o.ID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrOrderNotFound, o.ID)
	}
	cur.Status = o.Status
	cur.PaymentStatus = o.PaymentStatus
	cur.UpdatedAt = o.UpdatedAt
	t.st.orders[o.ID] = cur
	return nil
}

func (t *tx) LockPayment(_ context.Context, orderID domain.OrderID) (*domain.Payment, error) {
	p, ok := t.st.payments[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", domain.ErrPaymentNotFound, orderID)
	}
	return &p, nil
}

func (t *tx) SavePayment(_ context.Context, p *domain.Payment) error {
	if p.ProcessorRef != nil {
		for oid, other := range t.st.payments {
			if oid != p.OrderID && other.ProcessorRef != nil && *other.ProcessorRef == *p.ProcessorRef {
				return fmt.Errorf("%w: processor ref %s", domain.ErrDuplicate, *p.ProcessorRef)
			}
		}
	}
	if cur, ok := t.st.payments[p.OrderID]; ok {
		p.ID = cur.ID
		p.CreatedAt = cur.CreatedAt
	}
	t.st.payments[p.OrderID] = *p
	return nil
}

func (t *tx) MarkEventProcessed(_ context.Context, eventID, eventType string) (bool, error) {
	if _, ok := t.st.events[eventID]; ok {
		return false, nil
	}
	t.st.events[eventID] = eventType
	return true, nil
}

func (t *tx) AppendOutbox(_ context.Context, evt contracts.Event) error {
	if t.failOutbox != nil {
		return t.failOutbox
	}
	t.st.outbox = append(t.st.outbox, evt)
	return nil
}
