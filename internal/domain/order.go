package domain

import (
	"strings"
	"time"
)

type OrderStatus string

const (
	OrderStatusNew       OrderStatus = "new"
	OrderStatusPlaced    OrderStatus = "placed"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusCanceled  OrderStatus = "canceled"
	OrderStatusCompleted OrderStatus = "completed"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusNew, OrderStatusPlaced, OrderStatusPaid, OrderStatusCanceled, OrderStatusCompleted:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCanceled || s == OrderStatusCompleted
}

// Order is the aggregate root for the write side. Its transitions only touch
// in-memory state and queue events; persistence belongs to the unit of work.
type Order struct {
	id         int64
	customerID int64
	total      Money
	status     OrderStatus
	placedAt   *time.Time
	meta       Metadata
	events     []Event
}

// CreateNew starts an order in the New state and raises OrderCreated.
func CreateNew(customerID int64, total Money, now time.Time) (*Order, error) {
	if customerID <= 0 {
		return nil, ErrInvalidID
	}
	if total.currency == "" {
		return nil, ErrInvalidCurrency
	}
	o := &Order{
		customerID: customerID,
		total:      total,
		status:     OrderStatusNew,
	}
	ev := newEvent(EventOrderCreated, now)
	ev.CustomerID = customerID
	ev.Amount = total.amount.StringFixed(2)
	ev.Currency = total.currency
	o.raise(ev)
	return o, nil
}

// RehydrateOrder rebuilds a persisted order. It raises no events.
func RehydrateOrder(id, customerID int64, total Money, status OrderStatus, placedAt *time.Time, meta Metadata) *Order {
	return &Order{
		id:         id,
		customerID: customerID,
		total:      total,
		status:     status,
		placedAt:   placedAt,
		meta:       meta,
	}
}

func (o *Order) ID() int64 { return o.id }
func (o *Order) CustomerID() int64 { return o.customerID }
func (o *Order) Total() Money { return o.total }
func (o *Order) Status() OrderStatus { return o.status }
func (o *Order) PlacedAt() *time.Time { return o.placedAt }
func (o *Order) Version() RowVersion { return o.meta.Version }
func (o *Order) TenantID() string { return o.meta.TenantID }
func (o *Order) EntityType() EntityType { return EntityOrder }
func (o *Order) Metadata() *Metadata { return &o.meta }
func (o *Order) PendingEventCount() int { return len(o.events) }
func (o *Order) Dirty() bool { return len(o.events) > 0 }
func (o *Order) CreatedAt() time.Time { return o.meta.CreatedAt }
func (o *Order) UpdatedAt() time.Time { return o.meta.UpdatedAt }

// AssignID is called by the store once the row has an identity.
func (o *Order) AssignID(id int64) {
	if o.id == 0 {
		o.id = id
	}
}

// Place moves New -> Placed.
func (o *Order) Place(now time.Time) error {
	if o.status != OrderStatusNew {
		return ErrOrderNotNew
	}
	o.status = OrderStatusPlaced
	at := now.UTC()
	o.placedAt = &at

	ev := newEvent(EventOrderPlaced, now)
	ev.CustomerID = o.customerID
	o.raise(ev)
	return nil
}

// MarkPaid moves Placed -> Paid.
func (o *Order) MarkPaid(now time.Time) error {
	if o.status != OrderStatusPlaced {
		return ErrOrderNotPlaced
	}
	o.status = OrderStatusPaid

	ev := newEvent(EventOrderPaid, now)
	ev.Amount = o.total.amount.StringFixed(2)
	ev.Currency = o.total.currency
	o.raise(ev)
	return nil
}

// Cancel moves Placed -> Canceled. Canceling a canceled order is a no-op.
func (o *Order) Cancel(reason string, now time.Time) error {
	if o.status == OrderStatusCanceled {
		return nil
	}
	if o.status != OrderStatusPlaced {
		return ErrOrderNotPlaced
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return ErrCancelReasonRequired
	}
	o.status = OrderStatusCanceled

	ev := newEvent(EventOrderCanceled, now)
	ev.Reason = reason
	o.raise(ev)
	return nil
}

// Complete moves Paid -> Completed. Completing a completed order is a no-op.
func (o *Order) Complete(now time.Time) error {
	if o.status == OrderStatusCompleted {
		return nil
	}
	if o.status != OrderStatusPaid {
		return ErrOrderNotPaid
	}
	o.status = OrderStatusCompleted
	o.raise(newEvent(EventOrderCompleted, now))
	return nil
}

// DrainEvents returns the pending events and clears the buffer. Events raised
// before the order had an identity are stamped with it here.
func (o *Order) DrainEvents() []Event {
	if len(o.events) == 0 {
		return nil
	}
	out := o.events
	o.events = nil
	for i := range out {
		if out[i].OrderID == 0 {
			out[i].OrderID = o.id
		}
	}
	return out
}

func (o *Order) raise(ev Event) {
	ev.OrderID = o.id
	o.events = append(o.events, ev)
}
