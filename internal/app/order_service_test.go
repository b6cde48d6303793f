package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mohamaddakhiliuad/tenantorders/internal/clock"
	"github.com/mohamaddakhiliuad/tenantorders/internal/domain"
	"github.com/mohamaddakhiliuad/tenantorders/internal/idempotency"
	"github.com/mohamaddakhiliuad/tenantorders/internal/tenancy"
	"github.com/mohamaddakhiliuad/tenantorders/internal/testutil"
	"github.com/mohamaddakhiliuad/tenantorders/internal/uow"
)

type harness struct {
	clock     *clock.Manual
	events    *recorder
	orders    *OrderService
	customers *CustomerService
	queries   *QueryService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := testutil.NewSQLiteStore(t)
	clk := clock.NewManual(time.Date(2026, 2, 4, 10, 0, 0, 0, time.UTC))
	rec := &recorder{}
	policy := tenancy.NewPolicy(nil)
	uows := uow.NewFactory(store, policy, clk, uow.WithDispatcher(rec))
	return &harness{
		clock:     clk,
		events:    rec,
		orders:    NewOrderService(uows, idempotency.NewCoordinator(store), clk),
		customers: NewCustomerService(uows),
		queries:   NewQueryService(store, policy),
	}
}

func (h *harness) customer(t *testing.T, tenantID string) int64 {
	t.Helper()
	c, err := h.customers.CreateCustomer(context.Background(), tenantID, "Ada")
	if err != nil {
		t.Fatalf("create customer: %v", err)
	}
	return c.ID
}

func (h *harness) order(t *testing.T, tenantID string, customerID int64, key string) (int64, string) {
	t.Helper()
	res, err := h.orders.CreateOrder(context.Background(), tenantID, CreateOrderInput{
		CustomerID:     customerID,
		Amount:         decimal.RequireFromString("100.00"),
		Currency:       "usd",
		IdempotencyKey: key,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	details, err := h.queries.GetOrder(context.Background(), tenantID, res.OrderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	return res.OrderID, details.Version
}

func TestOrderService_CreateOrder(t *testing.T) {
	t.Parallel()

	t.Run("creates once and replays duplicates", func(t *testing.T) {
		h := newHarness(t)
		customerID := h.customer(t, "t1")

		in := CreateOrderInput{
			CustomerID:     customerID,
			Amount:         decimal.RequireFromString("100.00"),
			Currency:       "usd",
			IdempotencyKey: "idem-1",
		}
		first, err := h.orders.CreateOrder(context.Background(), "t1", in)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !first.Created || first.OrderID == 0 {
			t.Fatalf("expected a created order, got %+v", first)
		}

		in.Amount = decimal.RequireFromString("100")
		in.Currency = "USD"
		second, err := h.orders.CreateOrder(context.Background(), "t1", in)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if second.Created || second.OrderID != first.OrderID {
			t.Fatalf("expected replay of order %d, got %+v", first.OrderID, second)
		}
		if n := h.events.count(domain.EventOrderCreated); n != 1 {
			t.Fatalf("expected one OrderCreated released, got %d", n)
		}

		details, err := h.queries.GetOrder(context.Background(), "t1", first.OrderID)
		if err != nil {
			t.Fatalf("get order: %v", err)
		}
		if details.Amount != "100.00" || details.Currency != "USD" || details.Status != domain.OrderStatusNew {
			t.Fatalf("unexpected order details: %+v", details)
		}
	})

	t.Run("different payload with same key conflicts", func(t *testing.T) {
		h := newHarness(t)
		customerID := h.customer(t, "t1")
		_, _ = h.order(t, "t1", customerID, "idem-1")

		_, err := h.orders.CreateOrder(context.Background(), "t1", CreateOrderInput{
			CustomerID:     customerID,
			Amount:         decimal.RequireFromString("99.99"),
			Currency:       "USD",
			IdempotencyKey: "idem-1",
		})
		if !errors.Is(err, domain.ErrIdempotencyConflict) {
			t.Fatalf("expected ErrIdempotencyConflict, got %v", err)
		}
	})

	t.Run("same key in another tenant is independent", func(t *testing.T) {
		h := newHarness(t)
		a := h.customer(t, "A")
		b := h.customer(t, "B")
		idA, _ := h.order(t, "A", a, "shared")
		idB, _ := h.order(t, "B", b, "shared")
		if idA == idB {
			t.Fatalf("expected distinct orders per tenant")
		}
	})

	t.Run("rejects invalid input before touching storage", func(t *testing.T) {
		h := newHarness(t)
		customerID := h.customer(t, "t1")

		tests := []struct {
			name   string
			tenant string
			in     CreateOrderInput
			want   error
		}{
			{name: "missing key", tenant: "t1", in: CreateOrderInput{CustomerID: customerID, Amount: decimal.NewFromInt(1), Currency: "USD"}, want: domain.ErrIdempotencyKeyRequired},
			{name: "negative amount", tenant: "t1", in: CreateOrderInput{CustomerID: customerID, Amount: decimal.NewFromInt(-1), Currency: "USD", IdempotencyKey: "k"}, want: domain.ErrInvalidAmount},
			{name: "amount beyond storage precision", tenant: "t1", in: CreateOrderInput{CustomerID: customerID, Amount: decimal.New(1, 17), Currency: "USD", IdempotencyKey: "big"}, want: domain.ErrAmountTooLarge},
			{name: "bad currency", tenant: "t1", in: CreateOrderInput{CustomerID: customerID, Amount: decimal.NewFromInt(1), Currency: "DOLLARS", IdempotencyKey: "k"}, want: domain.ErrInvalidCurrency},
			{name: "missing customer", tenant: "t1", in: CreateOrderInput{CustomerID: customerID + 100, Amount: decimal.NewFromInt(1), Currency: "USD", IdempotencyKey: "k"}, want: domain.ErrCustomerNotFound},
			{name: "customer of another tenant", tenant: "t2", in: CreateOrderInput{CustomerID: customerID, Amount: decimal.NewFromInt(1), Currency: "USD", IdempotencyKey: "k"}, want: domain.ErrCustomerNotFound},
			{name: "missing tenant", tenant: "", in: CreateOrderInput{CustomerID: customerID, Amount: decimal.NewFromInt(1), Currency: "USD", IdempotencyKey: "k"}, want: domain.ErrTenantRequired},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := h.orders.CreateOrder(context.Background(), tt.tenant, tt.in)
				if !errors.Is(err, tt.want) {
					t.Fatalf("expected %v, got %v", tt.want, err)
				}
			})
		}

		// The oversized request must not have claimed its key.
		_, err := h.orders.CreateOrder(context.Background(), "t1", CreateOrderInput{
			CustomerID: customerID, Amount: decimal.NewFromInt(1), Currency: "USD", IdempotencyKey: "big",
		})
		if err != nil {
			t.Fatalf("expected key to be free after rejected amount, got %v", err)
		}
	})

	t.Run("in-progress duplicate is a retryable conflict", func(t *testing.T) {
		h := newHarness(t)
		customerID := h.customer(t, "t1")
		idem := &stubCoordinator{decision: idempotency.Decision{Outcome: idempotency.InProgress}}
		svc := NewOrderService(h.orders.uows, idem, h.clock)

		_, err := svc.CreateOrder(context.Background(), "t1", CreateOrderInput{
			CustomerID:     customerID,
			Amount:         decimal.NewFromInt(5),
			Currency:       "EUR",
			IdempotencyKey: "k",
		})
		if !errors.Is(err, domain.ErrIdempotencyInProgress) {
			t.Fatalf("expected ErrIdempotencyInProgress, got %v", err)
		}
		if !domain.IsRetryable(err) {
			t.Fatalf("expected retryable error")
		}
		if idem.completed {
			t.Fatalf("expected no completion")
		}
	})

	t.Run("failed commit never completes the record", func(t *testing.T) {
		backend := &failingBackend{customer: domain.RehydrateCustomer(7, "Ada", domain.Metadata{TenantID: "t1", Version: 1})}
		clk := clock.NewFixed(time.Date(2026, 2, 4, 10, 0, 0, 0, time.UTC))
		uows := uow.NewFactory(backend, tenancy.NewPolicy(nil), clk)
		idem := &stubCoordinator{decision: idempotency.Decision{Outcome: idempotency.Proceed}}
		svc := NewOrderService(uows, idem, clk, WithIdempotencyTTL(time.Hour))

		_, err := svc.CreateOrder(context.Background(), "t1", CreateOrderInput{
			CustomerID:     7,
			Amount:         decimal.NewFromInt(5),
			Currency:       "EUR",
			IdempotencyKey: "k",
		})
		if !errors.Is(err, errDiskFull) {
			t.Fatalf("expected storage error, got %v", err)
		}
		if idem.completed {
			t.Fatalf("expected record left in progress")
		}
		if idem.ttl != time.Hour {
			t.Fatalf("expected configured ttl, got %s", idem.ttl)
		}
	})
}

func TestOrderService_Transitions(t *testing.T) {
	t.Parallel()

	t.Run("place pay complete", func(t *testing.T) {
		h := newHarness(t)
		customerID := h.customer(t, "t1")
		id, v1 := h.order(t, "t1", customerID, "k")

		placed, err := h.orders.PlaceOrder(context.Background(), "t1", TransitionInput{OrderID: id, ExpectedVersion: v1})
		if err != nil {
			t.Fatalf("place: %v", err)
		}
		if placed.Status != domain.OrderStatusPlaced || placed.Version == v1 {
			t.Fatalf("expected placed with a new version, got %+v", placed)
		}

		paid, err := h.orders.PayOrder(context.Background(), "t1", TransitionInput{OrderID: id, ExpectedVersion: placed.Version})
		if err != nil {
			t.Fatalf("pay: %v", err)
		}
		done, err := h.orders.CompleteOrder(context.Background(), "t1", TransitionInput{OrderID: id, ExpectedVersion: paid.Version})
		if err != nil {
			t.Fatalf("complete: %v", err)
		}
		if done.Status != domain.OrderStatusCompleted {
			t.Fatalf("expected completed, got %s", done.Status)
		}

		want := []domain.EventType{domain.EventOrderCreated, domain.EventOrderPlaced, domain.EventOrderPaid, domain.EventOrderCompleted}
		got := h.events.types()
		if len(got) != len(want) {
			t.Fatalf("expected events %v, got %v", want, got)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("expected events %v, got %v", want, got)
			}
		}
	})

	t.Run("place twice fails validation", func(t *testing.T) {
		h := newHarness(t)
		id, v1 := h.order(t, "t1", h.customer(t, "t1"), "k")
		placed, _ := h.orders.PlaceOrder(context.Background(), "t1", TransitionInput{OrderID: id, ExpectedVersion: v1})

		_, err := h.orders.PlaceOrder(context.Background(), "t1", TransitionInput{OrderID: id, ExpectedVersion: placed.Version})
		if !errors.Is(err, domain.ErrOrderNotNew) {
			t.Fatalf("expected ErrOrderNotNew, got %v", err)
		}
	})

	t.Run("stale expected version conflicts", func(t *testing.T) {
		h := newHarness(t)
		id, v1 := h.order(t, "t1", h.customer(t, "t1"), "k")
		if _, err := h.orders.PlaceOrder(context.Background(), "t1", TransitionInput{OrderID: id, ExpectedVersion: v1}); err != nil {
			t.Fatalf("place: %v", err)
		}

		_, err := h.orders.CancelOrder(context.Background(), "t1", CancelOrderInput{OrderID: id, ExpectedVersion: v1, Reason: "late"})
		if !errors.Is(err, domain.ErrConcurrencyConflict) {
			t.Fatalf("expected ErrConcurrencyConflict, got %v", err)
		}
		details, _ := h.queries.GetOrder(context.Background(), "t1", id)
		if details.Status != domain.OrderStatusPlaced {
			t.Fatalf("expected order untouched, got %s", details.Status)
		}
	})

	t.Run("cancel twice is a no-op", func(t *testing.T) {
		h := newHarness(t)
		id, v1 := h.order(t, "t1", h.customer(t, "t1"), "k")
		placed, _ := h.orders.PlaceOrder(context.Background(), "t1", TransitionInput{OrderID: id, ExpectedVersion: v1})

		canceled, err := h.orders.CancelOrder(context.Background(), "t1", CancelOrderInput{OrderID: id, ExpectedVersion: placed.Version, Reason: "changed mind"})
		if err != nil {
			t.Fatalf("cancel: %v", err)
		}
		again, err := h.orders.CancelOrder(context.Background(), "t1", CancelOrderInput{OrderID: id, ExpectedVersion: canceled.Version, Reason: "changed mind"})
		if err != nil {
			t.Fatalf("second cancel: %v", err)
		}
		if again.Status != domain.OrderStatusCanceled || again.Version != canceled.Version {
			t.Fatalf("expected unchanged canceled order, got %+v", again)
		}
		if n := h.events.count(domain.EventOrderCanceled); n != 1 {
			t.Fatalf("expected one OrderCanceled, got %d", n)
		}
	})

	t.Run("requires expected version", func(t *testing.T) {
		h := newHarness(t)
		id, _ := h.order(t, "t1", h.customer(t, "t1"), "k")
		_, err := h.orders.PlaceOrder(context.Background(), "t1", TransitionInput{OrderID: id})
		if !errors.Is(err, domain.ErrExpectedVersionMissing) {
			t.Fatalf("expected ErrExpectedVersionMissing, got %v", err)
		}
	})

	t.Run("other tenant sees not found", func(t *testing.T) {
		h := newHarness(t)
		id, v1 := h.order(t, "A", h.customer(t, "A"), "k")
		_, err := h.orders.PlaceOrder(context.Background(), "B", TransitionInput{OrderID: id, ExpectedVersion: v1})
		if !errors.Is(err, domain.ErrOrderNotFound) {
			t.Fatalf("expected ErrOrderNotFound, got %v", err)
		}
	})
}

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Dispatch(_ context.Context, _ string, ev domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) types() []domain.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func (r *recorder) count(typ domain.EventType) int {
	n := 0
	for _, got := range r.types() {
		if got == typ {
			n++
		}
	}
	return n
}

type stubCoordinator struct {
	decision  idempotency.Decision
	ttl       time.Duration
	completed bool
}

func (s *stubCoordinator) TryBegin(_ context.Context, _, _ string, _ idempotency.Hash, _ time.Time, ttl time.Duration) (idempotency.Decision, error) {
	s.ttl = ttl
	return s.decision, nil
}

func (s *stubCoordinator) Complete(context.Context, string, string, int64) error {
	s.completed = true
	return nil
}

var errDiskFull = errors.New("disk full")

type failingBackend struct {
	customer *domain.Customer
}

func (b *failingBackend) FindOrder(context.Context, tenancy.Scope, int64) (*domain.Order, error) {
	return nil, nil
}

func (b *failingBackend) FindCustomer(context.Context, tenancy.Scope, int64) (*domain.Customer, error) {
	return b.customer, nil
}

func (b *failingBackend) Save(context.Context, []uow.Change) ([]uow.Written, error) {
	return nil, errDiskFull
}
