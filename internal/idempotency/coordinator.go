package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/mohamaddakhiliuad/tenantorders/internal/domain"
	"github.com/mohamaddakhiliuad/tenantorders/internal/logger"
	"github.com/mohamaddakhiliuad/tenantorders/internal/metrics"
	"github.com/mohamaddakhiliuad/tenantorders/internal/telemetry"
)

type Outcome uint8

const (
	// Proceed means a fresh InProgress record was written; run the command and call Complete.
	Proceed Outcome = iota
	// Duplicate means the same request already finished; return Decision.OrderID.
	Duplicate
	// Conflict means the key was used before with a different payload.
	Conflict
	// InProgress means the same request is still running (or was abandoned).
	InProgress
)

func (o Outcome) String() string {
	switch o {
	case Proceed:
		return "proceed"
	case Duplicate:
		return "duplicate"
	case Conflict:
		return "conflict"
	case InProgress:
		return "in_progress"
	default:
		return "unknown"
	}
}

type Decision struct {
	Outcome Outcome
	OrderID int64
}

type options struct {
	log     *logger.Logger
	metrics *metrics.Metrics
}

type Option func(*options)

func WithLogger(log *logger.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func buildOptions(component string, opts []Option) options {
	o := options{log: logger.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	o.log = o.log.With("component", component)
	return o
}

type Coordinator struct {
	store Store
	options
}

func NewCoordinator(store Store, opts ...Option) *Coordinator {
	return &Coordinator{store: store, options: buildOptions("idempotency", opts)}
}

// ValidateKey checks a client supplied key before any storage access.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return domain.ErrIdempotencyKeyRequired
	}
	if len(key) > MaxKeyLength {
		return domain.ErrIdempotencyKeyTooLong
	}
	return nil
}

// TryBegin looks up (tenantID, key) and, if absent, claims it with an
// InProgress record. A lost insert race is resolved by re-reading the winner's
// record. Expiry is never checked here.
func (c *Coordinator) TryBegin(ctx context.Context, tenantID, key string, hash Hash, now time.Time, ttl time.Duration) (Decision, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "idempotency.TryBegin")
	defer span.End()

	if tenantID == "" {
		return Decision{}, domain.ErrTenantRequired
	}
	if err := ValidateKey(key); err != nil {
		return Decision{}, err
	}
	if ttl <= 0 {
		return Decision{}, domain.ContractViolation("idempotency ttl must be positive, got %s", ttl)
	}

	d, err := c.tryBegin(ctx, tenantID, key, hash, now, ttl)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "try begin")
		return Decision{}, err
	}
	span.SetAttributes(attribute.String("idempotency.outcome", d.Outcome.String()))
	c.metrics.IdempotencyDecision(d.Outcome.String())
	if d.Outcome != Proceed {
		c.log.Debug("idempotency decision", "tenant_id", tenantID, "idempotency_key", key, "outcome", d.Outcome.String())
	}
	return d, nil
}

func (c *Coordinator) tryBegin(ctx context.Context, tenantID, key string, hash Hash, now time.Time, ttl time.Duration) (Decision, error) {
	existing, err := c.store.Find(ctx, tenantID, key)
	if err != nil {
		return Decision{}, fmt.Errorf("find idempotency record: %w", err)
	}
	if existing != nil {
		return evaluate(existing, hash), nil
	}

	rec := Record{
		TenantID:    tenantID,
		Key:         key,
		RequestHash: hash,
		Status:      StatusInProgress,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	err = c.store.Insert(ctx, rec)
	if err == nil {
		return Decision{Outcome: Proceed}, nil
	}
	if !errors.Is(err, ErrDuplicateKey) {
		return Decision{}, fmt.Errorf("insert idempotency record: %w", err)
	}

	// Another request inserted between our Find and Insert.
	winner, err := c.store.Find(ctx, tenantID, key)
	if err != nil {
		return Decision{}, fmt.Errorf("re-read idempotency record: %w", err)
	}
	if winner == nil {
		// The winner's record was swept in between; let the caller retry.
		c.log.Warn("idempotency record vanished after insert race", "tenant_id", tenantID, "idempotency_key", key)
		return Decision{Outcome: InProgress}, nil
	}
	return evaluate(winner, hash), nil
}

func evaluate(rec *Record, hash Hash) Decision {
	if rec.RequestHash != hash {
		return Decision{Outcome: Conflict}
	}
	if rec.Status == StatusCompleted && rec.OrderID != nil {
		return Decision{Outcome: Duplicate, OrderID: *rec.OrderID}
	}
	return Decision{Outcome: InProgress}
}

// Complete marks the record Completed with the resulting order id. It must only
// be called after the command's changes are committed, and at most once per
// record. A missing or already completed record is a contract violation.
func (c *Coordinator) Complete(ctx context.Context, tenantID, key string, orderID int64) error {
	ok, err := c.store.MarkCompleted(ctx, tenantID, key, orderID)
	if err != nil {
		return fmt.Errorf("complete idempotency record: %w", err)
	}
	if ok {
		return nil
	}

	rec, err := c.store.Find(ctx, tenantID, key)
	if err != nil {
		return fmt.Errorf("find idempotency record: %w", err)
	}
	if rec != nil && rec.Status == StatusCompleted {
		c.log.Error("idempotency record already completed",
			"tenant_id", tenantID, "idempotency_key", key, "order_id", orderID)
		return domain.ContractViolation("idempotency record for tenant %q already completed", tenantID)
	}
	c.log.Error("complete without idempotency record", "tenant_id", tenantID, "idempotency_key", key, "order_id", orderID)
	return domain.ContractViolation("no idempotency record for tenant %q", tenantID)
}
