package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AKPAING3147/Foood/pkg/contracts"
	"github.com/AKPAING3147/Foood/pkg/logging"
)

type Record struct {
	ID        int64           `json:"id"`
	EventID   string          `json:"event_id"`
	Topic     string          `json:"topic"`
	Key       string          `json:"key"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	SentAt    *time.Time      `json:"sent_at"`
}

// Execer is satisfied by pgx.Tx and *pgxpool.Pool.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Insert appends evt keyed by its order id. Call it with the transaction that
// performs the state change so the event commits or rolls back with it.
func Insert(ctx context.Context, db Execer, topic string, evt contracts.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, `INSERT INTO outbox(event_id, topic, key, payload) VALUES ($1, $2, $3, $4)`, evt.EventID, topic, evt.OrderID, data)
	return err
}

func MarkSent(ctx context.Context, db Execer, id int64) error {
	_, err := db.Exec(ctx, `UPDATE outbox SET sent_at=now() WHERE id=$1`, id)
	return err
}

func FetchPending(ctx context.Context, db Querier, limit int) ([]Record, error) {
	rows, err := db.Query(ctx, `SELECT id, event_id, topic, key, payload, created_at, sent_at FROM outbox WHERE sent_at IS NULL ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.EventID, &rec.Topic, &rec.Key, &rec.Payload, &rec.CreatedAt, &rec.SentAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Source is the relay's view of the outbox table.
type Source interface {
	FetchPending(ctx context.Context, limit int) ([]Record, error)
	MarkSent(ctx context.Context, id int64) error
}

type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// PgSource reads the outbox through a connection pool.
type PgSource struct {
	Pool *pgxpool.Pool
}

func (s PgSource) FetchPending(ctx context.Context, limit int) ([]Record, error) {
	return FetchPending(ctx, s.Pool, limit)
}

func (s PgSource) MarkSent(ctx context.Context, id int64) error {
	return MarkSent(ctx, s.Pool, id)
}

// Relay moves committed outbox rows to the broker. Delivery is at-least-once:
// a crash between Publish and MarkSent re-sends the row, consumers dedupe by event id.
type Relay struct {
	Source    Source
	Publisher Publisher
	BatchSize int
	Interval  time.Duration
}

// Flush publishes one batch in id order and stops at the first publish failure.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	limit := r.BatchSize
	if limit <= 0 {
		limit = 100
	}
	recs, err := r.Source.FetchPending(ctx, limit)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, rec := range recs {
		if err := r.Publisher.Publish(ctx, rec.Key, rec.Payload); err != nil {
			return sent, err
		}
		if err := r.Source.MarkSent(ctx, rec.ID); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

func (r *Relay) Run(ctx context.Context) error {
	interval := r.Interval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		start := time.Now()
		n, err := r.Flush(ctx)
		if err != nil {
			logging.Log(logging.Fields{Service: "outbox-relay", Step: "flush", Status: "error", Err: err, Message: "outbox flush failed"})
		} else if n > 0 {
			logging.Log(logging.Fields{Service: "outbox-relay", Step: "flush", Status: "sent", DurationMS: time.Since(start).Milliseconds(), Message: "outbox batch published"})
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
