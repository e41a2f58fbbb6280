package domain

import (
	"github.com/google/uuid"
	"time"
)

type EventType string

const (
	EventOrderCreated       EventType = "order.created"
	EventOrderStatusChanged EventType = "order.status_changed"
	EventOrderCancelled     EventType = "order.cancelled"
)

// EventTTL is how long a lifecycle event stays meaningful to consumers.
const EventTTL = 24 * time.Hour

// OrderEvent describes one lifecycle transition. It is handed to the notifier
// and never stored.
type OrderEvent struct {
	ID             uuid.UUID
	Type           EventType
	OrderID        uuid.UUID
	OrderNumber    string
	CustomerID     string
	CustomerEmail  string
	TotalAmount    string
	Currency       string
	ItemCount      int
	PreviousStatus Status
	NewStatus      Status
	Timestamp      time.Time
}

func NewOrderEvent(t EventType, o *Order, previous Status, at time.Time) OrderEvent {
	return OrderEvent{
		ID:             uuid.New(),
		Type:           t,
		OrderID:        o.ID,
		OrderNumber:    o.OrderNumber,
		CustomerID:     o.CustomerID,
		CustomerEmail:  o.CustomerEmail,
		TotalAmount:    o.TotalAmount.StringFixed(MoneyScale),
		Currency:       o.Currency,
		ItemCount:      len(o.Items),
		PreviousStatus: previous,
		NewStatus:      o.Status,
		Timestamp:      at,
	}
}
