package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mohamaddakhiliuad/tenantorders/internal/domain"
	"github.com/mohamaddakhiliuad/tenantorders/internal/tenancy"
	"github.com/mohamaddakhiliuad/tenantorders/internal/uow"
)

const orderColumns = `id, tenant_id, customer_id, amount, currency, status, placed_at, created_at, updated_at, row_version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		id, customerID, createdAt, updatedAt, version int64
		tenantID, amount, currency, status            string
		placedAt                                      sql.NullInt64
	)
	if err := row.Scan(&id, &tenantID, &customerID, &amount, &currency, &status, &placedAt, &createdAt, &updatedAt, &version); err != nil {
		return nil, err
	}
	total, err := domain.ParseMoney(amount, currency)
	if err != nil {
		return nil, fmt.Errorf("order %d has invalid total: %w", id, err)
	}
	st := domain.OrderStatus(status)
	if !st.Valid() {
		return nil, fmt.Errorf("order %d has invalid status %q", id, status)
	}
	meta := domain.Metadata{
		TenantID:  tenantID,
		CreatedAt: fromMillis(createdAt),
		UpdatedAt: fromMillis(updatedAt),
		Version:   domain.RowVersion(version),
	}
	return domain.RehydrateOrder(id, customerID, total, st, nullableTime(placedAt), meta), nil
}

// scopedWhere appends a tenant filter when typ is tenant scoped.
func scopedWhere(scope tenancy.Scope, typ domain.EntityType, base string, args []any) (string, []any) {
	if tenantID, ok := scope.Filter(typ); ok {
		return base + " AND tenant_id = ?", append(args, tenantID)
	}
	return base, args
}

func (s *Store) FindOrder(ctx context.Context, scope tenancy.Scope, id int64) (*domain.Order, error) {
	where, args := scopedWhere(scope, domain.EntityOrder, "WHERE id = ?", []any{id})
	o, err := scanOrder(s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders `+where, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find order: %w", err)
	}
	return o, nil
}

// ListOrdersByCustomer returns the customer's orders, newest first.
func (s *Store) ListOrdersByCustomer(ctx context.Context, scope tenancy.Scope, customerID int64) ([]*domain.Order, error) {
	where, args := scopedWhere(scope, domain.EntityOrder, "WHERE customer_id = ?", []any{customerID})
	rows, err := s.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders `+where+` ORDER BY created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	out := []*domain.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return out, nil
}

func (s *Store) FindCustomer(ctx context.Context, scope tenancy.Scope, id int64) (*domain.Customer, error) {
	where, args := scopedWhere(scope, domain.EntityCustomer, "WHERE id = ?", []any{id})
	var (
		tenantID, name                string
		createdAt, updatedAt, version int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT tenant_id, name, created_at, updated_at, row_version FROM customers `+where, args...).
		Scan(&tenantID, &name, &createdAt, &updatedAt, &version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find customer: %w", err)
	}
	return domain.RehydrateCustomer(id, name, domain.Metadata{
		TenantID:  tenantID,
		CreatedAt: fromMillis(createdAt),
		UpdatedAt: fromMillis(updatedAt),
		Version:   domain.RowVersion(version),
	}), nil
}

// Save writes all changes in one transaction. Updates are compare-and-swap on
// row_version; the store alone increments it.
func (s *Store) Save(ctx context.Context, changes []uow.Change) ([]uow.Written, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	out := make([]uow.Written, 0, len(changes))
	for _, c := range changes {
		w, err := saveOne(ctx, tx, c)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return out, nil
}

func saveOne(ctx context.Context, tx *sql.Tx, c uow.Change) (uow.Written, error) {
	switch e := c.Entity.(type) {
	case *domain.Order:
		if c.Op == uow.OpInsert {
			return insertOrder(ctx, tx, e)
		}
		return updateOrder(ctx, tx, e, c.Expected)
	case *domain.Customer:
		if c.Op == uow.OpInsert {
			return insertCustomer(ctx, tx, e)
		}
		return updateCustomer(ctx, tx, e, c.Expected)
	default:
		return uow.Written{}, domain.ContractViolation("no table for entity type %q", c.Entity.EntityType())
	}
}

func insertOrder(ctx context.Context, tx *sql.Tx, o *domain.Order) (uow.Written, error) {
	const stmt = `
INSERT INTO orders (tenant_id, customer_id, amount, currency, status, placed_at, created_at, updated_at, row_version)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)
RETURNING id, row_version`

	meta := o.Metadata()
	var w uow.Written
	err := tx.QueryRowContext(ctx, stmt,
		meta.TenantID, o.CustomerID(), o.Total().Amount().StringFixed(2), o.Total().Currency(),
		string(o.Status()), nullMillis(o.PlacedAt()), toMillis(meta.CreatedAt), toMillis(meta.UpdatedAt),
	).Scan(&w.ID, &w.Version)
	if err != nil {
		if isForeignKeyViolation(err) {
			return uow.Written{}, domain.ErrCustomerNotFound
		}
		return uow.Written{}, fmt.Errorf("insert order: %w", err)
	}
	return w, nil
}

func updateOrder(ctx context.Context, tx *sql.Tx, o *domain.Order, expected domain.RowVersion) (uow.Written, error) {
	const stmt = `
UPDATE orders
SET status = ?, placed_at = ?, updated_at = ?, row_version = row_version + 1
WHERE id = ? AND tenant_id = ? AND row_version = ?
RETURNING id, row_version`

	meta := o.Metadata()
	var w uow.Written
	err := tx.QueryRowContext(ctx, stmt,
		string(o.Status()), nullMillis(o.PlacedAt()), toMillis(meta.UpdatedAt),
		o.ID(), meta.TenantID, int64(expected),
	).Scan(&w.ID, &w.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return uow.Written{}, domain.ErrConcurrencyConflict
		}
		return uow.Written{}, fmt.Errorf("update order: %w", err)
	}
	return w, nil
}

func insertCustomer(ctx context.Context, tx *sql.Tx, c *domain.Customer) (uow.Written, error) {
	const stmt = `
INSERT INTO customers (tenant_id, name, created_at, updated_at, row_version)
VALUES (?, ?, ?, ?, 1)
RETURNING id, row_version`

	meta := c.Metadata()
	var w uow.Written
	if err := tx.QueryRowContext(ctx, stmt, meta.TenantID, c.Name(), toMillis(meta.CreatedAt), toMillis(meta.UpdatedAt)).
		Scan(&w.ID, &w.Version); err != nil {
		return uow.Written{}, fmt.Errorf("insert customer: %w", err)
	}
	return w, nil
}

func updateCustomer(ctx context.Context, tx *sql.Tx, c *domain.Customer, expected domain.RowVersion) (uow.Written, error) {
	const stmt = `
UPDATE customers
SET name = ?, updated_at = ?, row_version = row_version + 1
WHERE id = ? AND tenant_id = ? AND row_version = ?
RETURNING id, row_version`

	meta := c.Metadata()
	var w uow.Written
	err := tx.QueryRowContext(ctx, stmt, c.Name(), toMillis(meta.UpdatedAt), c.ID(), meta.TenantID, int64(expected)).
		Scan(&w.ID, &w.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return uow.Written{}, domain.ErrConcurrencyConflict
		}
		return uow.Written{}, fmt.Errorf("update customer: %w", err)
	}
	return w, nil
}

var _ uow.Backend = (*Store)(nil)
