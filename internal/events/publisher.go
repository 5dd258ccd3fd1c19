// Package events publishes committed ledger and opname events to Kafka so
// downstream reporting can follow stock movements without polling.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockroom/internal/inventory"
	"github.com/odyssey-erp/stockroom/internal/opname"
)

// Event types carried in the envelope and the event-type header.
const (
	TypeTransferPosted  = "inventory.transfer_posted"
	TypeMovementPosted  = "inventory.movement_posted"
	TypeOpnameCompleted = "opname.completed"
)

const writeTimeout = 5 * time.Second

// Writer is the subset of kafka.Writer the publisher uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Envelope wraps every published payload.
type Envelope struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

// TransferPayload describes a committed BULK to PREP transfer.
type TransferPayload struct {
	TransferID int64           `json:"transfer_id"`
	ItemID     int64           `json:"kitchen_item_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	Value      decimal.Decimal `json:"value"`
}

// MovementPayload describes a single-sided ledger change.
type MovementPayload struct {
	RecordID int64           `json:"record_id"`
	Location string          `json:"location"`
	Kind     string          `json:"kind"`
	Quantity decimal.Decimal `json:"quantity"`
}

// OpnamePayload summarises a completed counting session.
type OpnamePayload struct {
	SessionID          int64           `json:"session_id"`
	Number             string          `json:"number"`
	Location           string          `json:"location"`
	TotalItemsCounted  int             `json:"total_items_counted"`
	TotalDiscrepancies int             `json:"total_discrepancies"`
	DiscrepancyValue   decimal.Decimal `json:"discrepancy_value"`
}

// Publisher turns observer callbacks into Kafka messages. Publishing happens
// after commit, so a failed write is logged and never undoes ledger state.
type Publisher struct {
	writer Writer
	logger *slog.Logger
	now    func() time.Time
}

// NewPublisher wraps an existing writer.
func NewPublisher(writer Writer, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{writer: writer, logger: logger.With(slog.String("component", "events")), now: time.Now}
}

// NewKafkaPublisher dials nothing up front; kafka-go connects on first write.
func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) *Publisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Compression:  kafka.Snappy,
	}
	return NewPublisher(writer, logger)
}

// Close flushes pending messages.
func (p *Publisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// TransferPosted implements inventory.Observer.
func (p *Publisher) TransferPosted(ctx context.Context, evt inventory.TransferPostedEvent) {
	p.publish(ctx, TypeTransferPosted, strconv.FormatInt(evt.ItemID, 10), TransferPayload{
		TransferID: evt.TransferID,
		ItemID:     evt.ItemID,
		Quantity:   evt.Quantity,
		Value:      evt.Value,
	})
}

// MovementPosted implements inventory.Observer.
func (p *Publisher) MovementPosted(ctx context.Context, evt inventory.MovementPostedEvent) {
	p.publish(ctx, TypeMovementPosted, strconv.FormatInt(evt.RecordID, 10), MovementPayload{
		RecordID: evt.RecordID,
		Location: string(evt.Location),
		Kind:     string(evt.Kind),
		Quantity: evt.Quantity,
	})
}

// InvariantViolated implements inventory.Observer. Rolled back operations
// produce no event.
func (p *Publisher) InvariantViolated(context.Context, string) {}

// OpnameCompleted implements opname.Observer.
func (p *Publisher) OpnameCompleted(ctx context.Context, sess opname.Session) {
	p.publish(ctx, TypeOpnameCompleted, sess.Number, OpnamePayload{
		SessionID:          sess.ID,
		Number:             sess.Number,
		Location:           string(sess.Location),
		TotalItemsCounted:  sess.TotalItemsCounted,
		TotalDiscrepancies: sess.TotalDiscrepancies,
		DiscrepancyValue:   sess.DiscrepancyValue,
	})
}

func (p *Publisher) publish(ctx context.Context, eventType, key string, payload any) {
	if p == nil || p.writer == nil {
		return
	}
	env := Envelope{
		EventID:    uuid.NewString(),
		EventType:  eventType,
		OccurredAt: p.now().UTC(),
		Payload:    payload,
	}
	value, err := json.Marshal(env)
	if err != nil {
		p.logger.Error("marshal event", slog.String("event_type", eventType), slog.Any("error", err))
		return
	}
	// the request context may already be done once the response is written
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	msg := kafka.Message{
		Key:     []byte(key),
		Value:   value,
		Time:    env.OccurredAt,
		Headers: []kafka.Header{{Key: "event-type", Value: []byte(eventType)}},
	}
	if err := p.writer.WriteMessages(writeCtx, msg); err != nil {
		p.logger.Warn("publish event",
			slog.String("event_type", eventType),
			slog.String("event_id", env.EventID),
			slog.Any("error", err))
	}
}

var (
	_ inventory.Observer = (*Publisher)(nil)
	_ opname.Observer    = (*Publisher)(nil)
)
