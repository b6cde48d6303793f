package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mohamaddakhiliuad/tenantorders/internal/idempotency"
)

func (s *Store) Find(ctx context.Context, tenantID, key string) (*idempotency.Record, error) {
	const query = `
SELECT request_hash, status, order_id, created_at, expires_at
FROM idempotency_records
WHERE tenant_id = $1 AND key = $2`

	var (
		hash   []byte
		status int16
	)
	rec := idempotency.Record{TenantID: tenantID, Key: key}
	err := s.queryRow(ctx, query, tenantID, key).
		Scan(&hash, &status, &rec.OrderID, &rec.CreatedAt, &rec.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find idempotency record: %w", err)
	}
	if len(hash) != len(rec.RequestHash) {
		return nil, fmt.Errorf("idempotency record has %d byte hash", len(hash))
	}
	copy(rec.RequestHash[:], hash)
	rec.Status = idempotency.Status(status)
	return &rec, nil
}

func (s *Store) Insert(ctx context.Context, rec idempotency.Record) error {
	const stmt = `
INSERT INTO idempotency_records (tenant_id, key, request_hash, status, order_id, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.exec(ctx, stmt,
		rec.TenantID, rec.Key, rec.RequestHash[:], int16(rec.Status), rec.OrderID, rec.CreatedAt, rec.ExpiresAt)
	if err != nil {
		if isUniqueViolation(err) {
			return idempotency.ErrDuplicateKey
		}
		return fmt.Errorf("insert idempotency record: %w", err)
	}
	return nil
}

func (s *Store) MarkCompleted(ctx context.Context, tenantID, key string, orderID int64) (bool, error) {
	const stmt = `
UPDATE idempotency_records
SET status = $3, order_id = $4
WHERE tenant_id = $1 AND key = $2 AND status = $5`

	tag, err := s.exec(ctx, stmt,
		tenantID, key, int16(idempotency.StatusCompleted), orderID, int16(idempotency.StatusInProgress))
	if err != nil {
		return false, fmt.Errorf("complete idempotency record: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.exec(ctx, `DELETE FROM idempotency_records WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency records: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ idempotency.Store = (*Store)(nil)
