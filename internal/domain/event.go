package domain

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventOrderCreated   EventType = "order.created"
	EventOrderPlaced    EventType = "order.placed"
	EventOrderPaid      EventType = "order.paid"
	EventOrderCanceled  EventType = "order.canceled"
	EventOrderCompleted EventType = "order.completed"
)

// Event is an immutable fact raised by an aggregate. It is released only after
// the change that raised it has been committed.
type Event struct {
	ID         uuid.UUID `json:"event_id"`
	Type       EventType `json:"type"`
	OrderID    int64     `json:"order_id"`
	CustomerID int64     `json:"customer_id,omitempty"`
	Amount     string    `json:"amount,omitempty"`
	Currency   string    `json:"currency,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func newEvent(typ EventType, now time.Time) Event {
	return Event{ID: uuid.New(), Type: typ, OccurredAt: now.UTC()}
}
