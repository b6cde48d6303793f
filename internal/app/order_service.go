package app

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mohamaddakhiliuad/tenantorders/internal/clock"
	"github.com/mohamaddakhiliuad/tenantorders/internal/domain"
	"github.com/mohamaddakhiliuad/tenantorders/internal/idempotency"
	"github.com/mohamaddakhiliuad/tenantorders/internal/logger"
	"github.com/mohamaddakhiliuad/tenantorders/internal/telemetry"
	"github.com/mohamaddakhiliuad/tenantorders/internal/tenancy"
	"github.com/mohamaddakhiliuad/tenantorders/internal/uow"
)

type UnitOfWorkFactory interface {
	Begin(resolver tenancy.Resolver) (*uow.UnitOfWork, error)
}

type IdempotencyCoordinator interface {
	TryBegin(ctx context.Context, tenantID, key string, hash idempotency.Hash, now time.Time, ttl time.Duration) (idempotency.Decision, error)
	Complete(ctx context.Context, tenantID, key string, orderID int64) error
}

type OrderService struct {
	uows  UnitOfWorkFactory
	idem  IdempotencyCoordinator
	clock clock.Clock
	ttl   time.Duration
	log   *logger.Logger
}

func NewOrderService(uows UnitOfWorkFactory, idem IdempotencyCoordinator, clk clock.Clock, opts ...OrderServiceOption) *OrderService {
	svc := &OrderService{
		uows:  uows,
		idem:  idem,
		clock: clk,
		ttl:   idempotency.DefaultTTL,
		log:   logger.NewNop(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	svc.log = svc.log.With("component", "order_service")
	return svc
}

type OrderServiceOption func(*OrderService)

// WithIdempotencyTTL overrides how long idempotency records are kept.
func WithIdempotencyTTL(d time.Duration) OrderServiceOption {
	return func(s *OrderService) {
		if d > 0 {
			s.ttl = d
		}
	}
}

func WithOrderLogger(log *logger.Logger) OrderServiceOption {
	return func(s *OrderService) {
		if log != nil {
			s.log = log
		}
	}
}

type CreateOrderInput struct {
	CustomerID     int64
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
}

type CreateOrderResult struct {
	OrderID int64
	Created bool
}

// CreateOrder creates a New order at most once per (tenant, idempotency key).
// A replay with the same payload returns the original order id.
func (s *OrderService) CreateOrder(ctx context.Context, tenantID string, in CreateOrderInput) (CreateOrderResult, error) {
	ctx, span := startSpan(ctx, "orders.CreateOrder", tenantID)
	defer span.End()

	res, err := s.createOrder(ctx, tenantID, in)
	if err != nil {
		return CreateOrderResult{}, spanError(span, err)
	}
	span.SetAttributes(attribute.Int64("order.id", res.OrderID), attribute.Bool("order.created", res.Created))
	return res, nil
}

func (s *OrderService) createOrder(ctx context.Context, tenantID string, in CreateOrderInput) (CreateOrderResult, error) {
	if err := idempotency.ValidateKey(in.IdempotencyKey); err != nil {
		return CreateOrderResult{}, err
	}
	if in.CustomerID <= 0 {
		return CreateOrderResult{}, domain.ErrInvalidID
	}
	total, err := domain.NewMoney(in.Amount, in.Currency)
	if err != nil {
		return CreateOrderResult{}, err
	}

	u, err := s.uows.Begin(tenancy.Static(tenantID))
	if err != nil {
		return CreateOrderResult{}, err
	}
	customer, err := u.Customers().Get(ctx, in.CustomerID)
	if err != nil {
		return CreateOrderResult{}, err
	}
	if customer == nil {
		return CreateOrderResult{}, domain.ErrCustomerNotFound
	}

	now := s.clock.Now()
	hash := idempotency.HashCreateOrder(in.CustomerID, total.Amount(), total.Currency())
	decision, err := s.idem.TryBegin(ctx, u.TenantID(), in.IdempotencyKey, hash, now, s.ttl)
	if err != nil {
		return CreateOrderResult{}, err
	}
	switch decision.Outcome {
	case idempotency.Proceed:
	case idempotency.Duplicate:
		return CreateOrderResult{OrderID: decision.OrderID, Created: false}, nil
	case idempotency.Conflict:
		return CreateOrderResult{}, domain.ErrIdempotencyConflict
	case idempotency.InProgress:
		return CreateOrderResult{}, domain.ErrIdempotencyInProgress
	default:
		return CreateOrderResult{}, domain.ContractViolation("unknown idempotency outcome %d", decision.Outcome)
	}

	order, err := domain.CreateNew(in.CustomerID, total, now)
	if err != nil {
		return CreateOrderResult{}, err
	}
	u.Orders().Add(order)
	if err := u.Commit(ctx); err != nil {
		// The record stays InProgress until it expires; retries see InProgress.
		s.log.Warn("create order commit failed", "tenant_id", u.TenantID(), "idempotency_key", in.IdempotencyKey, "error", err)
		return CreateOrderResult{}, err
	}
	if err := s.idem.Complete(ctx, u.TenantID(), in.IdempotencyKey, order.ID()); err != nil {
		return CreateOrderResult{}, err
	}

	s.log.Info("order created", "tenant_id", u.TenantID(), "order_id", order.ID(), "idempotency_key", in.IdempotencyKey)
	return CreateOrderResult{OrderID: order.ID(), Created: true}, nil
}

// TransitionInput identifies an order and the version the caller last saw.
type TransitionInput struct {
	OrderID         int64
	ExpectedVersion string
}

type CancelOrderInput struct {
	OrderID         int64
	ExpectedVersion string
	Reason          string
}

type TransitionResult struct {
	OrderID int64
	Status  domain.OrderStatus
	Version string
}

func (s *OrderService) PlaceOrder(ctx context.Context, tenantID string, in TransitionInput) (TransitionResult, error) {
	return s.transition(ctx, "orders.PlaceOrder", tenantID, in, func(o *domain.Order, now time.Time) error {
		return o.Place(now)
	})
}

func (s *OrderService) PayOrder(ctx context.Context, tenantID string, in TransitionInput) (TransitionResult, error) {
	return s.transition(ctx, "orders.PayOrder", tenantID, in, func(o *domain.Order, now time.Time) error {
		return o.MarkPaid(now)
	})
}

func (s *OrderService) CancelOrder(ctx context.Context, tenantID string, in CancelOrderInput) (TransitionResult, error) {
	tin := TransitionInput{OrderID: in.OrderID, ExpectedVersion: in.ExpectedVersion}
	return s.transition(ctx, "orders.CancelOrder", tenantID, tin, func(o *domain.Order, now time.Time) error {
		return o.Cancel(in.Reason, now)
	})
}

func (s *OrderService) CompleteOrder(ctx context.Context, tenantID string, in TransitionInput) (TransitionResult, error) {
	return s.transition(ctx, "orders.CompleteOrder", tenantID, in, func(o *domain.Order, now time.Time) error {
		return o.Complete(now)
	})
}

// transition loads the order, rejects a stale expected version, applies fn and
// commits. The store re-checks the version so a concurrent writer between load
// and commit also surfaces as a conflict.
func (s *OrderService) transition(ctx context.Context, name, tenantID string, in TransitionInput, fn func(*domain.Order, time.Time) error) (TransitionResult, error) {
	ctx, span := startSpan(ctx, name, tenantID)
	defer span.End()
	span.SetAttributes(attribute.Int64("order.id", in.OrderID))

	expected, err := domain.ParseRowVersion(in.ExpectedVersion)
	if err != nil {
		return TransitionResult{}, spanError(span, err)
	}

	u, err := s.uows.Begin(tenancy.Static(tenantID))
	if err != nil {
		return TransitionResult{}, spanError(span, err)
	}
	order, err := u.Orders().GetForUpdate(ctx, in.OrderID)
	if err != nil {
		return TransitionResult{}, spanError(span, err)
	}
	if order == nil {
		return TransitionResult{}, spanError(span, domain.ErrOrderNotFound)
	}
	if order.Version() != expected {
		return TransitionResult{}, spanError(span, domain.ErrConcurrencyConflict)
	}

	if err := fn(order, s.clock.Now()); err != nil {
		return TransitionResult{}, spanError(span, err)
	}
	if err := u.Commit(ctx); err != nil {
		return TransitionResult{}, spanError(span, err)
	}

	return TransitionResult{
		OrderID: order.ID(),
		Status:  order.Status(),
		Version: order.Version().Token(),
	}, nil
}

func startSpan(ctx context.Context, name, tenantID string) (context.Context, trace.Span) {
	ctx, span := telemetry.Tracer().Start(ctx, name)
	span.SetAttributes(attribute.String("tenant.id", tenantID))
	return ctx, span
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, fmt.Sprintf("%s: %s", domain.KindOf(err), domain.CodeOf(err)))
	return err
}
