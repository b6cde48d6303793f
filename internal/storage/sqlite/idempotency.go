package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mohamaddakhiliuad/tenantorders/internal/idempotency"
)

func (s *Store) Find(ctx context.Context, tenantID, key string) (*idempotency.Record, error) {
	const query = `
SELECT request_hash, status, order_id, created_at, expires_at
FROM idempotency_records
WHERE tenant_id = ? AND key = ?`

	var (
		hash      []byte
		status    int
		orderID   sql.NullInt64
		createdAt int64
		expiresAt int64
	)
	err := s.db.QueryRowContext(ctx, query, tenantID, key).Scan(&hash, &status, &orderID, &createdAt, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find idempotency record: %w", err)
	}
	if len(hash) != len(idempotency.Hash{}) {
		return nil, fmt.Errorf("idempotency record has %d byte hash", len(hash))
	}

	rec := &idempotency.Record{
		TenantID:  tenantID,
		Key:       key,
		Status:    idempotency.Status(status),
		CreatedAt: fromMillis(createdAt),
		ExpiresAt: fromMillis(expiresAt),
	}
	copy(rec.RequestHash[:], hash)
	if orderID.Valid {
		id := orderID.Int64
		rec.OrderID = &id
	}
	return rec, nil
}

func (s *Store) Insert(ctx context.Context, rec idempotency.Record) error {
	const stmt = `
INSERT INTO idempotency_records (tenant_id, key, request_hash, status, order_id, created_at, expires_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`

	var orderID sql.NullInt64
	if rec.OrderID != nil {
		orderID = sql.NullInt64{Int64: *rec.OrderID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, stmt,
		rec.TenantID, rec.Key, rec.RequestHash[:], int(rec.Status), orderID,
		toMillis(rec.CreatedAt), toMillis(rec.ExpiresAt),
	)
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
SET status = ?, order_id = ?
WHERE tenant_id = ? AND key = ? AND status = ?`

	res, err := s.db.ExecContext(ctx, stmt,
		int(idempotency.StatusCompleted), orderID, tenantID, key, int(idempotency.StatusInProgress))
	if err != nil {
		return false, fmt.Errorf("complete idempotency record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete idempotency record: %w", err)
	}
	return n > 0, nil
}

func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_records WHERE expires_at <= ?`, toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency records: %w", err)
	}
	return res.RowsAffected()
}

var _ idempotency.Store = (*Store)(nil)
