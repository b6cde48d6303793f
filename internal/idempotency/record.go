// Package idempotency decides whether a keyed command is new, a replay of a
// finished request, a conflicting reuse of the key, or still in flight.
package idempotency

import (
	"context"
	"crypto/sha256"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MaxKeyLength bounds client supplied keys.
const MaxKeyLength = 128

// DefaultTTL is the cleanup horizon applied when none is configured.
const DefaultTTL = 48 * time.Hour

type Status uint8

const (
	StatusInProgress Status = 0
	StatusCompleted  Status = 1
)

func (s Status) String() string {
	if s == StatusCompleted {
		return "completed"
	}
	return "in_progress"
}

// Hash is the digest of the fields that make two requests "the same".
type Hash [32]byte

// Record is the persisted state for one (tenant, key) pair.
type Record struct {
	TenantID    string
	Key         string
	RequestHash Hash
	Status      Status
	OrderID     *int64
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// ErrDuplicateKey is returned by Store.Insert when (tenant, key) already exists.
var ErrDuplicateKey = errors.New("idempotency record already exists")

// Store persists records. Implementations must enforce uniqueness of
// (tenant, key) in the database itself.
type Store interface {
	// Find returns nil, nil when no record exists.
	Find(ctx context.Context, tenantID, key string) (*Record, error)
	Insert(ctx context.Context, rec Record) error
	// MarkCompleted moves an InProgress record to Completed. It reports false
	// when no InProgress record matched.
	MarkCompleted(ctx context.Context, tenantID, key string, orderID int64) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// HashFields digests fields joined by '|'.
func HashFields(fields ...string) Hash {
	return sha256.Sum256([]byte(strings.Join(fields, "|")))
}

// HashCreateOrder digests customer, amount and currency. The amount is written
// without trailing zeros so 100, 100.0 and 100.00 hash alike.
func HashCreateOrder(customerID int64, amount decimal.Decimal, currency string) Hash {
	return HashFields(
		strconv.FormatInt(customerID, 10),
		amount.String(),
		strings.ToUpper(strings.TrimSpace(currency)),
	)
}
