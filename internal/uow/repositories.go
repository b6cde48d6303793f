package uow

import (
	"context"
	"fmt"

	"github.com/mohamaddakhiliuad/tenantorders/internal/domain"
)

// OrderRepository loads and adds orders within one unit of work.
type OrderRepository struct {
	u *UnitOfWork
}

// GetForUpdate loads an order visible to the unit's tenant and tracks it.
// It returns nil, nil when the order does not exist for this tenant.
func (r *OrderRepository) GetForUpdate(ctx context.Context, id int64) (*domain.Order, error) {
	if id <= 0 {
		return nil, domain.ErrInvalidID
	}
	if e := r.u.lookup(domain.EntityOrder, id); e != nil {
		return e.(*domain.Order), nil
	}
	o, err := r.u.f.backend.FindOrder(ctx, r.u.scope, id)
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}
	if o == nil || !r.u.scope.Allows(o) {
		return nil, nil
	}
	r.u.trackLoaded(o)
	return o, nil
}

// Add schedules a new order for insertion on Commit.
func (r *OrderRepository) Add(o *domain.Order) {
	r.u.trackNew(o)
}

type CustomerRepository struct {
	u *UnitOfWork
}

func (r *CustomerRepository) Get(ctx context.Context, id int64) (*domain.Customer, error) {
	if id <= 0 {
		return nil, domain.ErrInvalidID
	}
	if e := r.u.lookup(domain.EntityCustomer, id); e != nil {
		return e.(*domain.Customer), nil
	}
	c, err := r.u.f.backend.FindCustomer(ctx, r.u.scope, id)
	if err != nil {
		return nil, fmt.Errorf("load customer: %w", err)
	}
	if c == nil || !r.u.scope.Allows(c) {
		return nil, nil
	}
	r.u.trackLoaded(c)
	return c, nil
}

func (r *CustomerRepository) Add(c *domain.Customer) {
	r.u.trackNew(c)
}
