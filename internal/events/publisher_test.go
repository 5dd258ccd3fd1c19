package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockroom/internal/inventory"
	"github.com/odyssey-erp/stockroom/internal/opname"
)

type recordingWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *recordingWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("write without deadline")
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

var fixedNow = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

func newTestPublisher(w *recordingWriter) *Publisher {
	p := NewPublisher(w, nil)
	p.now = func() time.Time { return fixedNow }
	return p
}

func decode(t *testing.T, msg kafka.Message) (Envelope, map[string]any) {
	t.Helper()
	var env Envelope
	require.NoError(t, json.Unmarshal(msg.Value, &env))
	payload, ok := env.Payload.(map[string]any)
	require.True(t, ok)
	return env, payload
}

func TestTransferPostedKeyedByItem(t *testing.T) {
	w := &recordingWriter{}
	newTestPublisher(w).TransferPosted(context.Background(), inventory.TransferPostedEvent{
		TransferID: 9,
		ItemID:     4,
		Quantity:   decimal.RequireFromString("2.5"),
		Value:      decimal.RequireFromString("37500"),
	})

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	require.Equal(t, "4", string(msg.Key))
	require.Equal(t, []kafka.Header{{Key: "event-type", Value: []byte(TypeTransferPosted)}}, msg.Headers)
	require.Equal(t, fixedNow, msg.Time)

	env, payload := decode(t, msg)
	require.Equal(t, TypeTransferPosted, env.EventType)
	require.NotEmpty(t, env.EventID)
	require.Equal(t, fixedNow, env.OccurredAt)
	require.EqualValues(t, 9, payload["transfer_id"])
	require.Equal(t, "2.5", payload["quantity"])
	require.Equal(t, "37500", payload["value"])
}

func TestMovementAndOpnameEvents(t *testing.T) {
	w := &recordingWriter{}
	p := newTestPublisher(w)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p.MovementPosted(ctx, inventory.MovementPostedEvent{
		RecordID: 12, Location: inventory.LocationPrep, Kind: inventory.EntryConsumption, Quantity: decimal.NewFromInt(-300),
	})
	p.OpnameCompleted(ctx, opname.Session{ID: 3, Number: "SO-20240301-0001", Location: inventory.LocationBulk, TotalDiscrepancies: 2})
	p.InvariantViolated(ctx, "transfer")

	require.Len(t, w.msgs, 2)
	env, payload := decode(t, w.msgs[0])
	require.Equal(t, TypeMovementPosted, env.EventType)
	require.Equal(t, "12", string(w.msgs[0].Key))
	require.Equal(t, "PREP", payload["location"])
	require.Equal(t, "CONSUMPTION", payload["kind"])
	require.Equal(t, "-300", payload["quantity"])

	env, payload = decode(t, w.msgs[1])
	require.Equal(t, TypeOpnameCompleted, env.EventType)
	require.Equal(t, "SO-20240301-0001", string(w.msgs[1].Key))
	require.EqualValues(t, 2, payload["total_discrepancies"])
}

func TestPublishFailureIsSwallowed(t *testing.T) {
	w := &recordingWriter{err: errors.New("broker down")}
	require.NotPanics(t, func() {
		newTestPublisher(w).TransferPosted(context.Background(), inventory.TransferPostedEvent{ItemID: 1})
	})
	require.Empty(t, w.msgs)
}

func TestNilPublisherIsInert(t *testing.T) {
	var p *Publisher
	require.NotPanics(t, func() {
		p.TransferPosted(context.Background(), inventory.TransferPostedEvent{})
	})
	require.NoError(t, p.Close())

	w := &recordingWriter{}
	require.NoError(t, newTestPublisher(w).Close())
	require.True(t, w.closed)
}

func TestObserversFanOut(t *testing.T) {
	w := &recordingWriter{}
	p := newTestPublisher(w)
	inventory.Observers{p, p}.MovementPosted(context.Background(), inventory.MovementPostedEvent{RecordID: 1})
	opname.Observers{p}.OpnameCompleted(context.Background(), opname.Session{Number: "SO-1"})
	require.Len(t, w.msgs, 3)
}
