// Package uow is the single commit boundary for aggregate changes. A unit of
// work is bound to one tenant for its whole lifetime.
package uow

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mohamaddakhiliuad/tenantorders/internal/clock"
	"github.com/mohamaddakhiliuad/tenantorders/internal/domain"
	"github.com/mohamaddakhiliuad/tenantorders/internal/events"
	"github.com/mohamaddakhiliuad/tenantorders/internal/logger"
	"github.com/mohamaddakhiliuad/tenantorders/internal/metrics"
	"github.com/mohamaddakhiliuad/tenantorders/internal/tenancy"
	"github.com/mohamaddakhiliuad/tenantorders/internal/telemetry"
)

type Op uint8

const (
	OpInsert Op = iota + 1
	OpUpdate
)

// Persistable is an entity the unit of work can track.
type Persistable interface {
	tenancy.Entity
	ID() int64
	AssignID(id int64)
	Dirty() bool
}

type eventSource interface {
	DrainEvents() []domain.Event
}

// Change is one stamped write handed to the backend. For updates Expected is
// the version observed at load time.
type Change struct {
	Op       Op
	Entity   Persistable
	Expected domain.RowVersion
}

// Written is the store-assigned identity and version for a Change.
type Written struct {
	ID      int64
	Version domain.RowVersion
}

// Backend is the storage behind a unit of work.
type Backend interface {
	// FindOrder and FindCustomer return nil, nil when nothing matches in scope.
	FindOrder(ctx context.Context, scope tenancy.Scope, id int64) (*domain.Order, error)
	FindCustomer(ctx context.Context, scope tenancy.Scope, id int64) (*domain.Customer, error)
	// Save applies all changes atomically and returns one Written per change,
	// in order. An update whose Expected version no longer matches fails the
	// whole save with domain.ErrConcurrencyConflict.
	Save(ctx context.Context, changes []Change) ([]Written, error)
}

type Factory struct {
	backend    Backend
	policy     *tenancy.Policy
	clock      clock.Clock
	dispatcher events.Dispatcher
	log        *logger.Logger
	metrics    *metrics.Metrics
}

type FactoryOption func(*Factory)

func WithLogger(log *logger.Logger) FactoryOption {
	return func(f *Factory) {
		if log != nil {
			f.log = log
		}
	}
}

func WithMetrics(m *metrics.Metrics) FactoryOption {
	return func(f *Factory) { f.metrics = m }
}

func WithDispatcher(d events.Dispatcher) FactoryOption {
	return func(f *Factory) {
		if d != nil {
			f.dispatcher = d
		}
	}
}

func NewFactory(backend Backend, policy *tenancy.Policy, clk clock.Clock, opts ...FactoryOption) *Factory {
	f := &Factory{
		backend:    backend,
		policy:     policy,
		clock:      clk,
		dispatcher: events.Noop{},
		log:        logger.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.log = f.log.With("component", "uow")
	return f
}

// Begin resolves the tenant once and opens a unit of work bound to it.
func (f *Factory) Begin(resolver tenancy.Resolver) (*UnitOfWork, error) {
	tenantID := resolver.CurrentTenantID()
	if tenantID == "" {
		return nil, domain.ErrTenantRequired
	}
	u := &UnitOfWork{
		f:        f,
		tenantID: tenantID,
		scope:    f.policy.Scope(tenantID),
	}
	u.orders = &OrderRepository{u: u}
	u.customers = &CustomerRepository{u: u}
	return u, nil
}

type tracked struct {
	entity   Persistable
	original domain.Metadata
	isNew    bool
}

type UnitOfWork struct {
	f         *Factory
	tenantID  string
	scope     tenancy.Scope
	tracked   []*tracked
	orders    *OrderRepository
	customers *CustomerRepository
}

func (u *UnitOfWork) TenantID() string               { return u.tenantID }
func (u *UnitOfWork) Orders() *OrderRepository       { return u.orders }
func (u *UnitOfWork) Customers() *CustomerRepository { return u.customers }

func (u *UnitOfWork) trackNew(e Persistable) {
	for _, t := range u.tracked {
		if t.entity == e {
			return
		}
	}
	u.tracked = append(u.tracked, &tracked{entity: e, isNew: true})
}

func (u *UnitOfWork) trackLoaded(e Persistable) {
	u.tracked = append(u.tracked, &tracked{entity: e, original: *e.Metadata()})
}

func (u *UnitOfWork) lookup(typ domain.EntityType, id int64) Persistable {
	for _, t := range u.tracked {
		if !t.isNew && t.entity.EntityType() == typ && t.entity.ID() == id {
			return t.entity
		}
	}
	return nil
}

// Commit stamps pending changes, writes them atomically and, only once the
// write succeeded, drains and dispatches every aggregate's events. When the
// write fails the events stay queued on the aggregates.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	ctx, span := telemetry.Tracer().Start(ctx, "uow.Commit")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", u.tenantID))

	now := u.f.clock.Now()
	var (
		changes []Change
		owners  []*tracked
	)
	for _, t := range u.tracked {
		switch {
		case t.isNew:
			if err := u.f.policy.StampInsert(t.entity, u.tenantID, now); err != nil {
				return u.fail(span, "rejected", err)
			}
			changes = append(changes, Change{Op: OpInsert, Entity: t.entity})
		case t.entity.Dirty():
			if err := u.f.policy.StampUpdate(t.entity, t.original, u.tenantID, now); err != nil {
				return u.fail(span, "rejected", err)
			}
			changes = append(changes, Change{Op: OpUpdate, Entity: t.entity, Expected: t.original.Version})
		default:
			continue
		}
		owners = append(owners, t)
	}
	if len(changes) == 0 {
		return nil
	}

	written, err := u.f.backend.Save(ctx, changes)
	if err != nil {
		result := "error"
		if errors.Is(err, domain.ErrConcurrencyConflict) {
			result = "conflict"
		}
		return u.fail(span, result, err)
	}
	if len(written) != len(changes) {
		return u.fail(span, "error", domain.ContractViolation("backend wrote %d of %d changes", len(written), len(changes)))
	}
	u.f.metrics.Commit("ok")
	span.SetAttributes(attribute.Int("uow.changes", len(changes)))

	for i, t := range owners {
		t.entity.AssignID(written[i].ID)
		meta := t.entity.Metadata()
		meta.Version = written[i].Version
		t.original = *meta
		t.isNew = false
	}

	u.release(ctx, owners)
	return nil
}

func (u *UnitOfWork) fail(span trace.Span, result string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, result)
	u.f.metrics.Commit(result)
	return fmt.Errorf("commit: %w", err)
}

func (u *UnitOfWork) release(ctx context.Context, owners []*tracked) {
	for _, t := range owners {
		src, ok := t.entity.(eventSource)
		if !ok {
			continue
		}
		for _, ev := range src.DrainEvents() {
			if err := u.f.dispatcher.Dispatch(ctx, u.tenantID, ev); err != nil {
				u.f.metrics.EventReleased(string(ev.Type), "failed")
				u.f.log.Warn("dispatch domain event", "tenant_id", u.tenantID, "event_id", ev.ID.String(), "type", string(ev.Type), "error", err)
				continue
			}
			u.f.metrics.EventReleased(string(ev.Type), "ok")
		}
	}
}
