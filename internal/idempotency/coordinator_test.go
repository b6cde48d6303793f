package idempotency

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/mohamaddakhiliuad/tenantorders/internal/clock"
	"github.com/mohamaddakhiliuad/tenantorders/internal/domain"
	"github.com/mohamaddakhiliuad/tenantorders/internal/metrics"
)

func TestCoordinator_TryBegin(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 4, 10, 0, 0, 0, time.UTC)
	ttl := 48 * time.Hour
	h := HashCreateOrder(7, decimal.RequireFromString("100.00"), "USD")
	other := HashCreateOrder(7, decimal.RequireFromString("101.00"), "USD")

	t.Run("proceed then duplicate after complete", func(t *testing.T) {
		store := newMemStore()
		c := NewCoordinator(store)

		d, err := c.TryBegin(context.Background(), "t1", "k1", h, now, ttl)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if d.Outcome != Proceed {
			t.Fatalf("expected proceed, got %s", d.Outcome)
		}
		rec := store.records[storeKey("t1", "k1")]
		if rec.Status != StatusInProgress || !rec.ExpiresAt.Equal(now.Add(ttl)) {
			t.Fatalf("unexpected record: %+v", rec)
		}

		if err := c.Complete(context.Background(), "t1", "k1", 42); err != nil {
			t.Fatalf("complete: %v", err)
		}

		d, err = c.TryBegin(context.Background(), "t1", "k1", h, now, ttl)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if d.Outcome != Duplicate || d.OrderID != 42 {
			t.Fatalf("expected duplicate(42), got %s(%d)", d.Outcome, d.OrderID)
		}
	})

	t.Run("in progress before complete", func(t *testing.T) {
		c := NewCoordinator(newMemStore())
		_, _ = c.TryBegin(context.Background(), "t1", "k1", h, now, ttl)

		d, err := c.TryBegin(context.Background(), "t1", "k1", h, now, ttl)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if d.Outcome != InProgress {
			t.Fatalf("expected in_progress, got %s", d.Outcome)
		}
	})

	t.Run("different payload conflicts in any state", func(t *testing.T) {
		c := NewCoordinator(newMemStore())
		_, _ = c.TryBegin(context.Background(), "t1", "k1", h, now, ttl)

		d, _ := c.TryBegin(context.Background(), "t1", "k1", other, now, ttl)
		if d.Outcome != Conflict {
			t.Fatalf("expected conflict while in progress, got %s", d.Outcome)
		}

		_ = c.Complete(context.Background(), "t1", "k1", 9)
		d, _ = c.TryBegin(context.Background(), "t1", "k1", other, now, ttl)
		if d.Outcome != Conflict {
			t.Fatalf("expected conflict after completion, got %s", d.Outcome)
		}
	})

	t.Run("keys are scoped per tenant", func(t *testing.T) {
		c := NewCoordinator(newMemStore())
		_, _ = c.TryBegin(context.Background(), "t1", "k1", h, now, ttl)

		d, _ := c.TryBegin(context.Background(), "t2", "k1", other, now, ttl)
		if d.Outcome != Proceed {
			t.Fatalf("expected proceed for another tenant, got %s", d.Outcome)
		}
	})

	t.Run("lost insert race re-evaluates the winner", func(t *testing.T) {
		orderID := int64(42)
		store := &raceStore{winner: Record{
			TenantID:    "t1",
			Key:         "k1",
			RequestHash: h,
			Status:      StatusCompleted,
			OrderID:     &orderID,
		}}
		c := NewCoordinator(store)

		d, err := c.TryBegin(context.Background(), "t1", "k1", h, now, ttl)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if d.Outcome != Duplicate || d.OrderID != 42 {
			t.Fatalf("expected duplicate(42), got %s(%d)", d.Outcome, d.OrderID)
		}

		store.finds = 0
		d, _ = c.TryBegin(context.Background(), "t1", "k1", other, now, ttl)
		if d.Outcome != Conflict {
			t.Fatalf("expected conflict for racing different payload, got %s", d.Outcome)
		}
	})

	t.Run("storage failure is surfaced", func(t *testing.T) {
		store := newMemStore()
		store.findErr = errors.New("connection refused")
		c := NewCoordinator(store)

		_, err := c.TryBegin(context.Background(), "t1", "k1", h, now, ttl)
		if err == nil || !strings.Contains(err.Error(), "connection refused") {
			t.Fatalf("expected wrapped storage error, got %v", err)
		}
		if domain.KindOf(err) != domain.KindUnexpected {
			t.Fatalf("expected unexpected kind, got %s", domain.KindOf(err))
		}
	})

	t.Run("validates inputs", func(t *testing.T) {
		c := NewCoordinator(newMemStore())
		tests := []struct {
			name   string
			tenant string
			key    string
			ttl    time.Duration
			want   error
		}{
			{name: "missing tenant", tenant: "", key: "k", ttl: ttl, want: domain.ErrTenantRequired},
			{name: "missing key", tenant: "t1", key: " ", ttl: ttl, want: domain.ErrIdempotencyKeyRequired},
			{name: "long key", tenant: "t1", key: strings.Repeat("k", MaxKeyLength+1), ttl: ttl, want: domain.ErrIdempotencyKeyTooLong},
			{name: "zero ttl", tenant: "t1", key: "k", ttl: 0, want: domain.ErrContractViolation},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := c.TryBegin(context.Background(), tt.tenant, tt.key, h, now, tt.ttl)
				if !errors.Is(err, tt.want) {
					t.Fatalf("expected %v, got %v", tt.want, err)
				}
			})
		}
	})
}

func TestCoordinator_ConcurrentFirstRequests(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 4, 10, 0, 0, 0, time.UTC)
	h := HashFields("7", "100", "USD")
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	c := NewCoordinator(newMemStore(), WithMetrics(m))

	const callers = 16
	outcomes := make([]Outcome, callers)
	var g errgroup.Group
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			d, err := c.TryBegin(context.Background(), "t1", "k1", h, now, time.Hour)
			outcomes[i] = d.Outcome
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	proceeds := 0
	for _, o := range outcomes {
		switch o {
		case Proceed:
			proceeds++
		case InProgress:
		default:
			t.Fatalf("unexpected outcome %s", o)
		}
	}
	if proceeds != 1 {
		t.Fatalf("expected exactly one proceed, got %d", proceeds)
	}
	if got := testutil.ToFloat64(m.IdempotencyOutcome.WithLabelValues("in_progress")); got != callers-1 {
		t.Fatalf("expected %d in_progress decisions recorded, got %v", callers-1, got)
	}
}

func TestCoordinator_CompleteWithoutRecord(t *testing.T) {
	t.Parallel()

	c := NewCoordinator(newMemStore())
	err := c.Complete(context.Background(), "t1", "missing", 1)
	if !errors.Is(err, domain.ErrContractViolation) {
		t.Fatalf("expected contract violation, got %v", err)
	}
}

func TestCoordinator_CompleteTwiceKeepsFirstResult(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 4, 10, 0, 0, 0, time.UTC)
	h := HashCreateOrder(7, decimal.RequireFromString("100.00"), "USD")
	c := NewCoordinator(newMemStore())

	if _, err := c.TryBegin(context.Background(), "t1", "k1", h, now, time.Hour); err != nil {
		t.Fatalf("try begin: %v", err)
	}
	if err := c.Complete(context.Background(), "t1", "k1", 42); err != nil {
		t.Fatalf("complete: %v", err)
	}
	err := c.Complete(context.Background(), "t1", "k1", 43)
	if !errors.Is(err, domain.ErrContractViolation) {
		t.Fatalf("expected contract violation, got %v", err)
	}

	d, err := c.TryBegin(context.Background(), "t1", "k1", h, now, time.Hour)
	if err != nil {
		t.Fatalf("try begin: %v", err)
	}
	if d.Outcome != Duplicate || d.OrderID != 42 {
		t.Fatalf("expected duplicate(42), got %s(%d)", d.Outcome, d.OrderID)
	}
}

func TestHashCreateOrder(t *testing.T) {
	t.Parallel()

	a := HashCreateOrder(7, decimal.RequireFromString("100.00"), "usd")
	b := HashCreateOrder(7, decimal.RequireFromString("100"), " USD ")
	if a != b {
		t.Fatalf("expected normalized amount and currency to hash alike")
	}
	if a != HashFields("7", "100", "USD") {
		t.Fatalf("expected customer|amount|currency layout")
	}
	if a == HashCreateOrder(8, decimal.RequireFromString("100"), "USD") {
		t.Fatalf("expected customer id to change the hash")
	}
	if a == HashCreateOrder(7, decimal.RequireFromString("100.5"), "USD") {
		t.Fatalf("expected amount to change the hash")
	}
}

func TestSweeper(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 2, 4, 10, 0, 0, 0, time.UTC)
	clk := clock.NewManual(start)
	store := newMemStore()
	c := NewCoordinator(store)
	m := metrics.New(prometheus.NewRegistry())
	s := NewSweeper(store, clk, time.Minute, WithMetrics(m))

	h := HashFields("a")
	_, _ = c.TryBegin(context.Background(), "t1", "old", h, start, time.Hour)
	_, _ = c.TryBegin(context.Background(), "t1", "new", h, start, 72*time.Hour)

	clk.Advance(time.Hour)
	n, err := s.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 record swept at expiry boundary, got %d", n)
	}
	if got := testutil.ToFloat64(m.IdempotencySwept); got != 1 {
		t.Fatalf("expected swept counter 1, got %v", got)
	}

	d, _ := c.TryBegin(context.Background(), "t1", "old", HashFields("b"), clk.Now(), time.Hour)
	if d.Outcome != Proceed {
		t.Fatalf("expected swept key to be reusable, got %s", d.Outcome)
	}
	d, _ = c.TryBegin(context.Background(), "t1", "new", h, clk.Now(), time.Hour)
	if d.Outcome != InProgress {
		t.Fatalf("expected unexpired in-progress record to be kept, got %s", d.Outcome)
	}
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	s := NewSweeper(newMemStore(), clock.NewSystem(), time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil on cancel, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("sweeper did not stop")
	}

	if err := NewSweeper(newMemStore(), clock.NewSystem(), 0).Run(context.Background()); err == nil {
		t.Fatalf("expected error for zero interval")
	}
}

func storeKey(tenantID, key string) string { return tenantID + "\x00" + key }

// memStore enforces (tenant, key) uniqueness under a mutex, like a unique index.
type memStore struct {
	mu      sync.Mutex
	records map[string]Record
	findErr error
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]Record)}
}

func (s *memStore) Find(_ context.Context, tenantID, key string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	rec, ok := s.records[storeKey(tenantID, key)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *memStore) Insert(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := storeKey(rec.TenantID, rec.Key)
	if _, ok := s.records[k]; ok {
		return ErrDuplicateKey
	}
	s.records[k] = rec
	return nil
}

func (s *memStore) MarkCompleted(_ context.Context, tenantID, key string, orderID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := storeKey(tenantID, key)
	rec, ok := s.records[k]
	if !ok || rec.Status != StatusInProgress {
		return false, nil
	}
	rec.Status = StatusCompleted
	rec.OrderID = &orderID
	s.records[k] = rec
	return true, nil
}

func (s *memStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, rec := range s.records {
		if !rec.ExpiresAt.After(now) {
			delete(s.records, k)
			n++
		}
	}
	return n, nil
}

// raceStore simulates losing the insert race: the first Find sees nothing,
// the insert collides and the re-read returns the winner.
type raceStore struct {
	winner Record
	finds  int
}

func (s *raceStore) Find(context.Context, string, string) (*Record, error) {
	s.finds++
	if s.finds == 1 {
		return nil, nil
	}
	rec := s.winner
	return &rec, nil
}

func (s *raceStore) Insert(context.Context, Record) error { return ErrDuplicateKey }

func (s *raceStore) MarkCompleted(context.Context, string, string, int64) (bool, error) {
	return true, nil
}

func (s *raceStore) DeleteExpired(context.Context, time.Time) (int64, error) { return 0, nil }
