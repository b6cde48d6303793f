package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mohamaddakhiliuad/tenantorders/internal/domain"
	"github.com/mohamaddakhiliuad/tenantorders/internal/tenancy"
	"github.com/mohamaddakhiliuad/tenantorders/internal/uow"
)

const orderColumns = `id, tenant_id, customer_id, amount::text, currency, status, placed_at, created_at, updated_at, row_version`

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		id, customerID, version            int64
		tenantID, amount, currency, status string
		placedAt                           *time.Time
		createdAt, updatedAt               time.Time
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
	if placedAt != nil {
		utc := placedAt.UTC()
		placedAt = &utc
	}
	return domain.RehydrateOrder(id, customerID, total, st, placedAt, domain.Metadata{
		TenantID:  tenantID,
		CreatedAt: createdAt.UTC(),
		UpdatedAt: updatedAt.UTC(),
		Version:   domain.RowVersion(version),
	}), nil
}

// scopedWhere appends a tenant filter when typ is tenant scoped.
func scopedWhere(scope tenancy.Scope, typ domain.EntityType, base string, args []any) (string, []any) {
	if tenantID, ok := scope.Filter(typ); ok {
		args = append(args, tenantID)
		return base + " AND tenant_id = $" + strconv.Itoa(len(args)), args
	}
	return base, args
}

func (s *Store) FindOrder(ctx context.Context, scope tenancy.Scope, id int64) (*domain.Order, error) {
	where, args := scopedWhere(scope, domain.EntityOrder, "WHERE id = $1", []any{id})
	o, err := scanOrder(s.queryRow(ctx, `SELECT `+orderColumns+` FROM orders `+where, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find order: %w", err)
	}
	return o, nil
}

// ListOrdersByCustomer returns the customer's orders, newest first.
func (s *Store) ListOrdersByCustomer(ctx context.Context, scope tenancy.Scope, customerID int64) ([]*domain.Order, error) {
	where, args := scopedWhere(scope, domain.EntityOrder, "WHERE customer_id = $1", []any{customerID})
	rows, err := s.query(ctx, `SELECT `+orderColumns+` FROM orders `+where+` ORDER BY created_at DESC, id DESC`, args...)
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
	where, args := scopedWhere(scope, domain.EntityCustomer, "WHERE id = $1", []any{id})
	var (
		tenantID, name       string
		createdAt, updatedAt time.Time
		version              int64
	)
	err := s.queryRow(ctx, `SELECT tenant_id, name, created_at, updated_at, row_version FROM customers `+where, args...).
		Scan(&tenantID, &name, &createdAt, &updatedAt, &version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find customer: %w", err)
	}
	return domain.RehydrateCustomer(id, name, domain.Metadata{
		TenantID:  tenantID,
		CreatedAt: createdAt.UTC(),
		UpdatedAt: updatedAt.UTC(),
		Version:   domain.RowVersion(version),
	}), nil
}

// Save writes all changes in one transaction. Updates are compare-and-swap on
// row_version; only the store increments it.
func (s *Store) Save(ctx context.Context, changes []uow.Change) ([]uow.Written, error) {
	out := make([]uow.Written, 0, len(changes))
	err := s.WithTx(ctx, func(txCtx context.Context) error {
		for _, c := range changes {
			w, err := s.saveOne(txCtx, c)
			if err != nil {
				return err
			}
			out = append(out, w)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) saveOne(ctx context.Context, c uow.Change) (uow.Written, error) {
	switch e := c.Entity.(type) {
	case *domain.Order:
		if c.Op == uow.OpInsert {
			return s.insertOrder(ctx, e)
		}
		return s.updateOrder(ctx, e, c.Expected)
	case *domain.Customer:
		if c.Op == uow.OpInsert {
			return s.insertCustomer(ctx, e)
		}
		return s.updateCustomer(ctx, e, c.Expected)
	default:
		return uow.Written{}, domain.ContractViolation("no table for entity type %q", c.Entity.EntityType())
	}
}

func (s *Store) insertOrder(ctx context.Context, o *domain.Order) (uow.Written, error) {
	const stmt = `
INSERT INTO orders (tenant_id, customer_id, amount, currency, status, placed_at, created_at, updated_at, row_version)
VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8, 1)
RETURNING id, row_version`

	meta := o.Metadata()
	var w uow.Written
	err := s.queryRow(ctx, stmt,
		meta.TenantID, o.CustomerID(), o.Total().Amount().StringFixed(2), o.Total().Currency(),
		string(o.Status()), o.PlacedAt(), meta.CreatedAt, meta.UpdatedAt,
	).Scan(&w.ID, &w.Version)
	if err != nil {
		if isForeignKeyViolation(err) {
			return uow.Written{}, domain.ErrCustomerNotFound
		}
		return uow.Written{}, fmt.Errorf("insert order: %w", err)
	}
	return w, nil
}

func (s *Store) updateOrder(ctx context.Context, o *domain.Order, expected domain.RowVersion) (uow.Written, error) {
	const stmt = `
UPDATE orders
SET status = $4, placed_at = $5, updated_at = $6, row_version = row_version + 1
WHERE id = $1 AND tenant_id = $2 AND row_version = $3
RETURNING id, row_version`

	meta := o.Metadata()
	var w uow.Written
	err := s.queryRow(ctx, stmt,
		o.ID(), meta.TenantID, int64(expected),
		string(o.Status()), o.PlacedAt(), meta.UpdatedAt,
	).Scan(&w.ID, &w.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uow.Written{}, domain.ErrConcurrencyConflict
		}
		return uow.Written{}, fmt.Errorf("update order: %w", err)
	}
	return w, nil
}

func (s *Store) insertCustomer(ctx context.Context, c *domain.Customer) (uow.Written, error) {
	const stmt = `
INSERT INTO customers (tenant_id, name, created_at, updated_at, row_version)
VALUES ($1, $2, $3, $4, 1)
RETURNING id, row_version`

	meta := c.Metadata()
	var w uow.Written
	if err := s.queryRow(ctx, stmt, meta.TenantID, c.Name(), meta.CreatedAt, meta.UpdatedAt).
		Scan(&w.ID, &w.Version); err != nil {
		return uow.Written{}, fmt.Errorf("insert customer: %w", err)
	}
	return w, nil
}

func (s *Store) updateCustomer(ctx context.Context, c *domain.Customer, expected domain.RowVersion) (uow.Written, error) {
	const stmt = `
UPDATE customers
SET name = $4, updated_at = $5, row_version = row_version + 1
WHERE id = $1 AND tenant_id = $2 AND row_version = $3
RETURNING id, row_version`

	meta := c.Metadata()
	var w uow.Written
	err := s.queryRow(ctx, stmt, c.ID(), meta.TenantID, int64(expected), c.Name(), meta.UpdatedAt).
		Scan(&w.ID, &w.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uow.Written{}, domain.ErrConcurrencyConflict
		}
		return uow.Written{}, fmt.Errorf("update customer: %w", err)
	}
	return w, nil
}

var _ uow.Backend = (*Store)(nil)
