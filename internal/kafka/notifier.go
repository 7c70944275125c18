package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/shoozy/fulfillment/internal/orders"
)

const TopicNotifications = "shop.notifications"

// Envelope is the wire shape pushed to the notification topic.
type Envelope struct {
	EventID    string          `json:"event_id"`
	Type       string          `json:"type"`
	Action     string          `json:"action"`
	Producer   string          `json:"producer"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// Notifier is the Kafka-backed notification sink. Buffering and retry policy
// live in the event bus; writes here are synchronous per event.
type Notifier struct {
	w       *kafka.Writer
	service string
}

func NewNotifier(brokers []string, topic, service string) *Notifier {
	return &Notifier{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
		service: service,
	}
}

func (n *Notifier) Publish(ctx context.Context, e orders.Event) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return err
	}
	value, err := json.Marshal(Envelope{
		EventID:    uuid.NewString(),
		Type:       e.Type,
		Action:     e.Action,
		Producer:   n.service,
		OccurredAt: e.OccurredAt,
		Payload:    payload,
	})
	if err != nil {
		return err
	}
	return n.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.Type), // events of one type keep their order
		Value: value,
		Time:  e.OccurredAt,
		Headers: []kafka.Header{
			{Key: "x-event-type", Value: []byte(e.Action)},
		},
	})
}

func (n *Notifier) Close() error { return n.w.Close() }
