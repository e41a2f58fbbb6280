package kafka

import (
	"context"
	"encoding/json"
	"github.com/RaikyD/shop-orders-service/internal/domain"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"strconv"
	"time"
)

const (
	HeaderContentType   = "content-type"
	HeaderEventType     = "event-type"
	HeaderCorrelationID = "correlation-id"
	HeaderTTL           = "ttl"
	HeaderExpiresAt     = "expires-at"
)

// Envelope is the JSON value of every order event on the topic. Amounts are
// JSON numbers with two fraction digits, e.g. "totalAmount": 25.00.
type Envelope struct {
	EventType     domain.EventType `json:"eventType"`
	EventID       uuid.UUID        `json:"eventId"`
	Timestamp     time.Time        `json:"timestamp"`
	CorrelationID string           `json:"correlationId"`
	Data          EventData        `json:"data"`
}

type EventData struct {
	OrderID        uuid.UUID     `json:"orderId"`
	OrderNumber    string        `json:"orderNumber"`
	CustomerID     string        `json:"customerId"`
	CustomerEmail  string        `json:"customerEmail"`
	TotalAmount    json.Number   `json:"totalAmount"`
	Currency       string        `json:"currency"`
	ItemCount      int           `json:"itemCount"`
	PreviousStatus domain.Status `json:"previousStatus,omitempty"`
	NewStatus      domain.Status `json:"newStatus"`
}

type Producer struct {
	w *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			Async:                  false,
			AllowAutoTopicCreation: true,
		},
	}
}

func (p *Producer) Close() error {
	return p.w.Close()
}

// Publish writes one event keyed by order id, so every event of an order
// lands on the same partition.
func (p *Producer) Publish(ctx context.Context, ev domain.OrderEvent) error {
	msg, err := buildMessage(ev)
	if err != nil {
		return err
	}
	return p.w.WriteMessages(ctx, msg)
}

func buildMessage(ev domain.OrderEvent) (kafka.Message, error) {
	corr := ev.OrderID.String()
	b, err := json.Marshal(Envelope{
		EventType:     ev.Type,
		EventID:       ev.ID,
		Timestamp:     ev.Timestamp.UTC(),
		CorrelationID: corr,
		Data: EventData{
			OrderID:        ev.OrderID,
			OrderNumber:    ev.OrderNumber,
			CustomerID:     ev.CustomerID,
			CustomerEmail:  ev.CustomerEmail,
			TotalAmount:    json.Number(ev.TotalAmount),
			Currency:       ev.Currency,
			ItemCount:      ev.ItemCount,
			PreviousStatus: ev.PreviousStatus,
			NewStatus:      ev.NewStatus,
		},
	})
	if err != nil {
		return kafka.Message{}, err
	}

	expires := ev.Timestamp.Add(domain.EventTTL).UTC()
	return kafka.Message{
		Key:   []byte(corr),
		Value: b,
		Time:  ev.Timestamp,
		Headers: []kafka.Header{
			{Key: HeaderContentType, Value: []byte("application/json")},
			{Key: HeaderEventType, Value: []byte(ev.Type)},
			{Key: HeaderCorrelationID, Value: []byte(corr)},
			{Key: HeaderTTL, Value: []byte(strconv.FormatInt(domain.EventTTL.Milliseconds(), 10))},
			{Key: HeaderExpiresAt, Value: []byte(expires.Format(time.RFC3339))},
		},
	}, nil
}
