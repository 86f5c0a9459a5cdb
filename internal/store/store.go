// Package store defines the data-store handle the order and payment workflow
// runs against. Implementations are injected explicitly; there is no global client.
package store

import (
	"context"

	"github.com/AKPAING3147/Foood/internal/order/domain"
	"github.com/AKPAING3147/Foood/pkg/contracts"
)

// Store exposes non-locking reads and scopes writes to InTx.
type Store interface {
	// InTx runs fn as one atomic unit: everything fn wrote commits when it
	// returns nil and is discarded otherwise.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	Ping(ctx context.Context) error

	GetProduct(ctx context.Context, id domain.ProductID) (*domain.Product, error)
	ListProducts(ctx context.Context, categoryID string) ([]domain.Product, error)

	GetOrder(ctx context.Context, id domain.OrderID) (*domain.Order, error)
	FindOrderByIdempotencyKey(ctx context.Context, userID, key string) (*domain.Order, error)
	ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error)

	GetPaymentByOrder(ctx context.Context, orderID domain.OrderID) (*domain.Payment, error)
	FindPaymentByProcessorRef(ctx context.Context, ref string) (*domain.Payment, error)

	CreateUser(ctx context.Context, u *domain.User) error
	GetUserByEmail(ctx context.Context, role domain.Role, email string) (*domain.User, error)
	UpsertAdmin(ctx context.Context, u *domain.User) error

	SaveNotification(ctx context.Context, n *domain.Notification) (bool, error)
	ListNotifications(ctx context.Context, userID string, limit int) ([]domain.Notification, error)
}

// Tx is a unit of work. Lock order is always order row, then payment row.
type Tx interface {
	// InsertOrder persists the order with all of its lines. A duplicate
	// idempotency key yields domain.ErrDuplicate.
	InsertOrder(ctx context.Context, o *domain.Order) error

	// LockOrder reads the order with its lines and holds it until commit.
	LockOrder(ctx context.Context, id domain.OrderID) (*domain.Order, error)
	UpdateOrder(ctx context.Context, o *domain.Order) error

	// LockPayment returns domain.ErrPaymentNotFound when the order has none.
	LockPayment(ctx context.Context, orderID domain.OrderID) (*domain.Payment, error)
	// SavePayment inserts or updates the single payment keyed by order id.
	SavePayment(ctx context.Context, p *domain.Payment) error

	// MarkEventProcessed records a processor event id; false means it was seen before.
	MarkEventProcessed(ctx context.Context, eventID, eventType string) (bool, error)

	AppendOutbox(ctx context.Context, evt contracts.Event) error
}
