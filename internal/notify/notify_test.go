package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AKPAING3147/Foood/internal/order/domain"
	"github.com/AKPAING3147/Foood/internal/store/memstore"
	"github.com/AKPAING3147/Foood/pkg/contracts"
)

func TestMessage(t *testing.T) {
	tests := []struct {
		name string
		evt  contracts.Event
		want string
		ok   bool
	}{
		{"placed", contracts.Event{Type: contracts.EventOrderPlaced, Payload: map[string]any{"order_number": "FO-1", "total_amount": "24.48"}}, "Order FO-1 received. Total 24.48.", true},
		{"ready", contracts.Event{Type: contracts.EventOrderStatusChanged, Payload: map[string]any{"order_number": "FO-1", "status": "READY"}}, "Order FO-1 is ready.", true},
		{"back to pending is silent", contracts.Event{Type: contracts.EventOrderStatusChanged, Payload: map[string]any{"status": "PENDING"}}, "", false},
		{"payment failed", contracts.Event{Type: contracts.EventPaymentFailed, OrderID: "o-1", Payload: map[string]any{}}, "Payment for order o-1 failed. You can retry from your order page.", true},
		{"initiated is internal", contracts.Event{Type: contracts.EventPaymentInitiated}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Message(tt.evt)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProjector_HandleDedupes(t *testing.T) {
	s := memstore.New()
	p := NewProjector(s)
	ctx := context.Background()
	evt := contracts.NewEvent(contracts.EventOrderCancelled, "o-1", "u-1", map[string]any{"order_number": "FO-1"})

	written, err := p.Handle(ctx, evt)
	require.NoError(t, err)
	assert.True(t, written)
	written, err = p.Handle(ctx, evt)
	require.NoError(t, err)
	assert.False(t, written)

	list, err := s.ListNotifications(ctx, "u-1", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Order FO-1 was cancelled.", list[0].Message)
}

type fakeReader struct {
	msgs      []kafka.Message
	committed []kafka.Message
	cancel    context.CancelFunc
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		r.cancel()
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.committed = append(r.committed, msgs...)
	return nil
}

type flakySink struct {
	*memstore.Store
	failures int
}

func (f *flakySink) SaveNotification(ctx context.Context, n *domain.Notification) (bool, error) {
	if f.failures > 0 {
		f.failures--
		return false, errors.New("db down")
	}
	return f.Store.SaveNotification(ctx, n)
}

func TestConsume_CommitsAfterSave(t *testing.T) {
	s := memstore.New()
	p := NewProjector(s)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	good, _ := json.Marshal(contracts.NewEvent(contracts.EventPaymentCompleted, "o-1", "u-1", map[string]any{"order_number": "FO-1"}))
	r := &fakeReader{cancel: cancel, msgs: []kafka.Message{
		{Offset: 1, Value: good},
		{Offset: 2, Value: []byte("not json")},
	}}

	err := p.Consume(ctx, r, time.Millisecond)
	require.ErrorIs(t, err, context.Canceled)

	assert.Len(t, r.committed, 2, "undecodable messages are skipped, not retried forever")
	list, err := s.ListNotifications(context.Background(), "u-1", 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestConsume_RetriesFailedSave(t *testing.T) {
	sink := &flakySink{Store: memstore.New(), failures: 2}
	p := NewProjector(sink)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	body, _ := json.Marshal(contracts.NewEvent(contracts.EventOrderPlaced, "o-1", "u-1", map[string]any{"order_number": "FO-1"}))
	r := &fakeReader{cancel: cancel, msgs: []kafka.Message{{Offset: 1, Value: body}}}

	err := p.Consume(ctx, r, time.Millisecond)
	require.ErrorIs(t, err, context.Canceled)

	assert.Zero(t, sink.failures)
	assert.Len(t, r.committed, 1)
	list, err := sink.ListNotifications(context.Background(), "u-1", 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
