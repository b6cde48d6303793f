// Package events releases committed domain events to interested parties.
package events

import (
	"context"
	"errors"

	"github.com/mohamaddakhiliuad/tenantorders/internal/domain"
	"github.com/mohamaddakhiliuad/tenantorders/internal/logger"
)

// Dispatcher receives one committed event at a time. Its errors never undo
// the commit that produced the event.
type Dispatcher interface {
	Dispatch(ctx context.Context, tenantID string, ev domain.Event) error
}

type DispatcherFunc func(ctx context.Context, tenantID string, ev domain.Event) error

func (f DispatcherFunc) Dispatch(ctx context.Context, tenantID string, ev domain.Event) error {
	return f(ctx, tenantID, ev)
}

type Noop struct{}

func (Noop) Dispatch(context.Context, string, domain.Event) error { return nil }

// LogDispatcher writes each event as a structured log line.
type LogDispatcher struct {
	log *logger.Logger
}

func NewLogDispatcher(log *logger.Logger) *LogDispatcher {
	return &LogDispatcher{log: log.With("component", "events")}
}

func (d *LogDispatcher) Dispatch(_ context.Context, tenantID string, ev domain.Event) error {
	d.log.Info("domain event",
		"tenant_id", tenantID,
		"event_id", ev.ID.String(),
		"type", string(ev.Type),
		"order_id", ev.OrderID,
	)
	return nil
}

// Multi fans out to every dispatcher and joins their errors.
type Multi []Dispatcher

func (m Multi) Dispatch(ctx context.Context, tenantID string, ev domain.Event) error {
	var errs []error
	for _, d := range m {
		if err := d.Dispatch(ctx, tenantID, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
