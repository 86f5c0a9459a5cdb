// Package cache puts a Redis read-through layer in front of a store.Store for
// the menu and per-customer order history.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AKPAING3147/Foood/internal/order/domain"
	"github.com/AKPAING3147/Foood/internal/store"
	"github.com/AKPAING3147/Foood/pkg/logging"
)

const (
	DefaultProductTTL = 5 * time.Minute
	DefaultOrderTTL   = time.Minute
)

// Store decorates a store.Store. Customer order lists are dropped from Redis
// after every committed transaction that touched one of that customer's orders.
type Store struct {
	store.Store
	rdb        redis.UniversalClient
	productTTL time.Duration
	orderTTL   time.Duration
}

var _ store.Store = (*Store)(nil)

func New(next store.Store, rdb redis.UniversalClient, productTTL, orderTTL time.Duration) *Store {
	if productTTL <= 0 {
		productTTL = DefaultProductTTL
	}
	if orderTTL <= 0 {
		orderTTL = DefaultOrderTTL
	}
	return &Store{Store: next, rdb: rdb, productTTL: productTTL, orderTTL: orderTTL}
}

func productsKey(categoryID string) string {
	if categoryID == "" {
		return "products:all"
	}
	return "products:category:" + categoryID
}

func ordersKey(userID string) string {
	return "orders:user:" + userID
}

func (s *Store) ListProducts(ctx context.Context, categoryID string) ([]domain.Product, error) {
	key := productsKey(categoryID)
	var cached []domain.Product
	if s.get(ctx, key, &cached) {
		return cached, nil
	}
	out, err := s.Store.ListProducts(ctx, categoryID)
	if err != nil {
		return nil, err
	}
	s.set(ctx, key, out, s.productTTL)
	return out, nil
}

// ListOrders caches only the unfiltered history of a single customer.
func (s *Store) ListOrders(ctx context.Context, f domain.OrderFilter) ([]domain.Order, error) {
	if f.UserID == "" || f.Status != "" || f.Limit != 0 {
		return s.Store.ListOrders(ctx, f)
	}
	key := ordersKey(f.UserID)
	var cached []domain.Order
	if s.get(ctx, key, &cached) {
		return cached, nil
	}
	out, err := s.Store.ListOrders(ctx, f)
	if err != nil {
		return nil, err
	}
	s.set(ctx, key, out, s.orderTTL)
	return out, nil
}

func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	rec := &recordingTx{users: map[string]struct{}{}}
	err := s.Store.InTx(ctx, func(tx store.Tx) error {
		rec.Tx = tx
		return fn(rec)
	})
	if err != nil {
		return err
	}
	if len(rec.users) == 0 {
		return nil
	}
	keys := make([]string, 0, len(rec.users))
	for u := range rec.users {
		keys = append(keys, ordersKey(u))
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		logging.Log(logging.Fields{Level: logging.LevelWarn, Service: "cache", Step: "invalidate", Status: "error", Err: err, Message: "order list invalidation failed"})
	}
	return nil
}

func (s *Store) get(ctx context.Context, key string, dst any) bool {
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			logging.Log(logging.Fields{Level: logging.LevelWarn, Service: "cache", Step: "get", Status: "error", Err: err, Message: "cache read failed for " + key})
		}
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false
	}
	return true
}

func (s *Store) set(ctx context.Context, key string, v any, ttl time.Duration) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
		logging.Log(logging.Fields{Level: logging.LevelWarn, Service: "cache", Step: "set", Status: "error", Err: fmt.Errorf("%s: %w", key, err), Message: "cache write failed"})
	}
}

// recordingTx notes which customers' orders a transaction wrote.
type recordingTx struct {
	store.Tx
	users map[string]struct{}
}

func (t *recordingTx) InsertOrder(ctx context.Context, o *domain.Order) error {
	if err := t.Tx.InsertOrder(ctx, o); err != nil {
		return err
	}
	t.users[o.UserID] = struct{}{}
	return nil
}

func (t *recordingTx) UpdateOrder(ctx context.Context, o *domain.Order) error {
	if err := t.Tx.UpdateOrder(ctx, o); err != nil {
		return err
	}
	t.users[o.UserID] = struct{}{}
	return nil
}
