package domain

import (
	"encoding/base64"
	"encoding/binary"
	"time"
)

// EntityType names a persisted entity for the tenant/audit registry.
type EntityType string

const (
	EntityOrder    EntityType = "order"
	EntityCustomer EntityType = "customer"
)

// RowVersion is the store-assigned optimistic concurrency token. The store
// bumps it on every successful write; zero means "never persisted".
type RowVersion int64

func (v RowVersion) IsZero() bool { return v == 0 }

// Token renders the version as an opaque string for clients.
func (v RowVersion) Token() string {
	if v == 0 {
		return ""
	}
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	return base64.RawURLEncoding.EncodeToString(b[:])
}

// ParseRowVersion decodes a token produced by Token.
func ParseRowVersion(token string) (RowVersion, error) {
	if token == "" {
		return 0, ErrExpectedVersionMissing
	}
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(b) != 8 {
		return 0, ErrInvalidVersion
	}
	v := RowVersion(binary.BigEndian.Uint64(b))
	if v <= 0 {
		return 0, ErrInvalidVersion
	}
	return v, nil
}

// Metadata holds the shadow attributes owned by the persistence layer.
// Domain behaviour never writes these fields.
type Metadata struct {
	TenantID  string
	CreatedAt time.Time
	UpdatedAt time.Time
	Version   RowVersion
}
