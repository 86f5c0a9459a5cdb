// Package postgres implements store.Store on PostgreSQL with pgx.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AKPAING3147/Foood/internal/order/domain"
	"github.com/AKPAING3147/Foood/internal/store"
	"github.com/AKPAING3147/Foood/pkg/contracts"
	"github.com/AKPAING3147/Foood/pkg/outbox"
)

//go:embed schema.sql
var schema string

type Store struct {
	pool  *pgxpool.Pool
	topic string
}

var _ store.Store = (*Store)(nil)

// Connect opens a pool with NUMERIC columns mapped to decimal.Decimal.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.AfterConnect = func(_ context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return pool, nil
}

// New wraps pool. Outbox rows are written for topic.
func New(pool *pgxpool.Pool, topic string) *Store {
	if topic == "" {
		topic = contracts.DefaultTopic
	}
	return &Store{pool: pool, topic: topic}
}

func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{tx: tx, topic: s.topic}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func notFound(err error, sentinel error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", sentinel, what)
	}
	return err
}

const productCols = `id, COALESCE(category_id, ''), name, description, price, image, available`

func scanProduct(row pgx.Row) (*domain.Product, error) {
	var p domain.Product
	if err := row.Scan(&p.ID, &p.CategoryID, &p.Name, &p.Description, &p.Price, &p.ImageURL, &p.Available); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetProduct(ctx context.Context, id domain.ProductID) (*domain.Product, error) {
	p, err := scanProduct(s.pool.QueryRow(ctx, `SELECT `+productCols+` FROM products WHERE id=$1`, id))
	if err != nil {
		return nil, notFound(err, domain.ErrProductNotFound, string(id))
	}
	return p, nil
}

func (s *Store) ListProducts(ctx context.Context, categoryID string) ([]domain.Product, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+productCols+` FROM products WHERE ($1 = '' OR category_id = $1) ORDER BY name`, categoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

const orderCols = `id, order_number, user_id, total_amount, delivery_address, phone, notes, status, payment_method, payment_status, COALESCE(idempotency_key, ''), created_at, updated_at`

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var o domain.Order
	err := row.Scan(&o.ID, &o.Number, &o.UserID, &o.TotalAmount, &o.DeliveryAddress, &o.Phone, &o.Notes,
		&o.Status, &o.PaymentMethod, &o.PaymentStatus, &o.IdempotencyKey, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadLines(ctx context.Context, q querier, orders ...*domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, 0, len(orders))
	byID := make(map[domain.OrderID]*domain.Order, len(orders))
	for _, o := range orders {
		ids = append(ids, string(o.ID))
		byID[o.ID] = o
	}
	rows, err := q.Query(ctx, `SELECT order_id, id, product_id, product_name, quantity, price
		FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, position`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var oid domain.OrderID
		var l domain.OrderLine
		if err := rows.Scan(&oid, &l.ID, &l.ProductID, &l.ProductName, &l.Quantity, &l.Price); err != nil {
			return err
		}
		if o := byID[oid]; o != nil {
			o.Lines = append(o.Lines, l)
		}
	}
	return rows.Err()
}

func (s *Store) GetOrder(ctx context.Context, id domain.OrderID) (*domain.Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id=$1`, id))
	if err != nil {
		return nil, notFound(err, domain.ErrOrderNotFound, string(id))
	}
	if err := loadLines(ctx, s.pool, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Store) FindOrderByIdempotencyKey(ctx context.Context, userID, key string) (*domain.Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE user_id=$1 AND idempotency_key=$2`, userID, key))
	if err != nil {
		return nil, notFound(err, domain.ErrOrderNotFound, "idempotency key")
	}
	if err := loadLines(ctx, s.pool, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Store) ListOrders(ctx context.Context, f domain.OrderFilter) ([]domain.Order, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `SELECT `+orderCols+` FROM orders
		WHERE ($1 = '' OR user_id = $1) AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC LIMIT $3`, f.UserID, string(f.Status), limit)
	if err != nil {
		return nil, err
	}
	var ptrs []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		ptrs = append(ptrs, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := loadLines(ctx, s.pool, ptrs...); err != nil {
		return nil, err
	}
	out := make([]domain.Order, 0, len(ptrs))
	for _, o := range ptrs {
		out = append(out, *o)
	}
	return out, nil
}

const paymentCols = `id, order_id, amount, payment_method, status, stripe_payment_id, payment_slip_url, bank_name, bank_account_number, bank_account_name, created_at, updated_at`

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var p domain.Payment
	err := row.Scan(&p.ID, &p.OrderID, &p.Amount, &p.Method, &p.Status, &p.ProcessorRef, &p.EvidenceURL,
		&p.BankName, &p.BankAccountNumber, &p.BankAccountName, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetPaymentByOrder(ctx context.Context, orderID domain.OrderID) (*domain.Payment, error) {
	p, err := scanPayment(s.pool.QueryRow(ctx, `SELECT `+paymentCols+` FROM payments WHERE order_id=$1`, orderID))
	if err != nil {
		return nil, notFound(err, domain.ErrPaymentNotFound, "order "+string(orderID))
	}
	return p, nil
}

func (s *Store) FindPaymentByProcessorRef(ctx context.Context, ref string) (*domain.Payment, error) {
	p, err := scanPayment(s.pool.QueryRow(ctx, `SELECT `+paymentCols+` FROM payments WHERE stripe_payment_id=$1`, ref))
	if err != nil {
		return nil, notFound(err, domain.ErrPaymentNotFound, "processor ref "+ref)
	}
	return p, nil
}

func userTable(role domain.Role) string {
	if role == domain.RoleAdmin {
		return "admins"
	}
	return "users"
}

func (s *Store) CreateUser(ctx context.Context, u *domain.User) error {
	var err error
	if u.Role == domain.RoleAdmin {
		_, err = s.pool.Exec(ctx, `INSERT INTO admins(id, email, name, password_hash, created_at) VALUES ($1, $2, $3, $4, $5)`,
			u.ID, u.Email, u.Name, u.PasswordHash, u.CreatedAt)
	} else {
		_, err = s.pool.Exec(ctx, `INSERT INTO users(id, email, name, phone, address, password_hash, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			u.ID, u.Email, u.Name, u.Phone, u.Address, u.PasswordHash, u.CreatedAt)
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: email %s", domain.ErrDuplicate, u.Email)
	}
	return err
}

func (s *Store) UpsertAdmin(ctx context.Context, u *domain.User) error {
	u.Role = domain.RoleAdmin
	_, err := s.pool.Exec(ctx, `INSERT INTO admins(id, email, name, password_hash, created_at) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT ((lower(email))) DO UPDATE SET name=EXCLUDED.name, password_hash=EXCLUDED.password_hash`,
		u.ID, u.Email, u.Name, u.PasswordHash, u.CreatedAt)
	return err
}

func (s *Store) GetUserByEmail(ctx context.Context, role domain.Role, email string) (*domain.User, error) {
	var u domain.User
	var err error
	if role == domain.RoleAdmin {
		err = s.pool.QueryRow(ctx, `SELECT id, email, name, password_hash, created_at FROM admins WHERE lower(email)=lower($1)`, email).
			Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.CreatedAt)
	} else {
		err = s.pool.QueryRow(ctx, `SELECT id, email, name, phone, address, password_hash, created_at FROM users WHERE lower(email)=lower($1)`, email).
			Scan(&u.ID, &u.Email, &u.Name, &u.Phone, &u.Address, &u.PasswordHash, &u.CreatedAt)
	}
	if err != nil {
		return nil, notFound(err, domain.ErrUserNotFound, userTable(role)+" "+strings.ToLower(email))
	}
	u.Role = role
	return &u, nil
}

// SaveNotification records the event in the notification inbox and the
// notification itself in one transaction; false means the event was seen before.
func (s *Store) SaveNotification(ctx context.Context, n *domain.Notification) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `INSERT INTO notification_inbox(event_id, received_at) VALUES ($1, now()) ON CONFLICT (event_id) DO NOTHING`, n.EventID)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	_, err = tx.Exec(ctx, `INSERT INTO notifications(id, event_id, user_id, order_id, type, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7) ON CONFLICT (event_id) DO NOTHING`,
		n.ID, n.EventID, n.UserID, n.OrderID, n.Type, n.Message, n.CreatedAt)
	if err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

func (s *Store) ListNotifications(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `SELECT id, event_id, user_id, order_id, type, message, created_at
		FROM notifications WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Notification
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(&n.ID, &n.EventID, &n.UserID, &n.OrderID, &n.Type, &n.Message, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

type pgTx struct {
	tx    pgx.Tx
	topic string
}

func (t *pgTx) InsertOrder(ctx context.Context, o *domain.Order) error {
	var idem *string
	if o.IdempotencyKey != "" {
		idem = &o.IdempotencyKey
	}
	_, err := t.tx.Exec(ctx, `INSERT INTO orders(id, order_number, user_id, total_amount, delivery_address, phone, notes,
			status, payment_method, payment_status, idempotency_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		o.ID, o.Number, o.UserID, o.TotalAmount, o.DeliveryAddress, o.Phone, o.Notes,
		o.Status, o.PaymentMethod, o.PaymentStatus, idem, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: order %s", domain.ErrDuplicate, o.ID)
		}
		return err
	}

	batch := &pgx.Batch{}
	for i, l := range o.Lines {
		batch.Queue(`INSERT INTO order_items(id, order_id, product_id, product_name, quantity, price, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`, l.ID, o.ID, l.ProductID, l.ProductName, l.Quantity, l.Price, i)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t *pgTx) LockOrder(ctx context.Context, id domain.OrderID) (*domain.Order, error) {
	o, err := scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, domain.ErrOrderNotFound, string(id))
	}
	if err := loadLines(ctx, t.tx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (t *pgTx) UpdateOrder(ctx context.Context, o *domain.Order) error {
	tag, err := t.tx.Exec(ctx, `UPDATE orders SET status=$2, payment_status=$3, updated_at=$4 WHERE id=$1`,
		o.ID, o.Status, o.PaymentStatus, o.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", domain.ErrOrderNotFound, o.ID)
	}
	return nil
}

func (t *pgTx) LockPayment(ctx context.Context, orderID domain.OrderID) (*domain.Payment, error) {
	p, err := scanPayment(t.tx.QueryRow(ctx, `SELECT `+paymentCols+` FROM payments WHERE order_id=$1 FOR UPDATE`, orderID))
	if err != nil {
		return nil, notFound(err, domain.ErrPaymentNotFound, "order "+string(orderID))
	}
	return p, nil
}

// SavePayment writes the merged row. The conflict target keeps one payment
// per order even if two transactions race on the first insert.
func (t *pgTx) SavePayment(ctx context.Context, p *domain.Payment) error {
	err := t.tx.QueryRow(ctx, `INSERT INTO payments(id, order_id, amount, payment_method, status, stripe_payment_id,
			payment_slip_url, bank_name, bank_account_number, bank_account_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (order_id) DO UPDATE SET
			status=EXCLUDED.status,
			stripe_payment_id=EXCLUDED.stripe_payment_id,
			payment_slip_url=EXCLUDED.payment_slip_url,
			bank_name=EXCLUDED.bank_name,
			bank_account_number=EXCLUDED.bank_account_number,
			bank_account_name=EXCLUDED.bank_account_name,
			updated_at=EXCLUDED.updated_at
		RETURNING id, created_at`,
		p.ID, p.OrderID, p.Amount, p.Method, p.Status, p.ProcessorRef,
		p.EvidenceURL, p.BankName, p.BankAccountNumber, p.BankAccountName, p.CreatedAt, p.UpdatedAt,
	).Scan(&p.ID, &p.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: processor ref already used by another payment", domain.ErrDuplicate)
	}
	return err
}

func (t *pgTx) MarkEventProcessed(ctx context.Context, eventID, eventType string) (bool, error) {
	tag, err := t.tx.Exec(ctx, `INSERT INTO webhook_events(event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING`, eventID, eventType)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) AppendOutbox(ctx context.Context, evt contracts.Event) error {
	return outbox.Insert(ctx, t.tx, t.topic, evt)
}
