package app

import (
	"context"

	"github.com/mohamaddakhiliuad/tenantorders/internal/domain"
	"github.com/mohamaddakhiliuad/tenantorders/internal/tenancy"
)

type CustomerService struct {
	uows UnitOfWorkFactory
}

func NewCustomerService(uows UnitOfWorkFactory) *CustomerService {
	return &CustomerService{uows: uows}
}

type CustomerResult struct {
	ID      int64
	Name    string
	Version string
}

func (s *CustomerService) CreateCustomer(ctx context.Context, tenantID, name string) (CustomerResult, error) {
	ctx, span := startSpan(ctx, "customers.CreateCustomer", tenantID)
	defer span.End()

	c, err := domain.NewCustomer(name)
	if err != nil {
		return CustomerResult{}, spanError(span, err)
	}
	u, err := s.uows.Begin(tenancy.Static(tenantID))
	if err != nil {
		return CustomerResult{}, spanError(span, err)
	}
	u.Customers().Add(c)
	if err := u.Commit(ctx); err != nil {
		return CustomerResult{}, spanError(span, err)
	}
	return CustomerResult{ID: c.ID(), Name: c.Name(), Version: c.Version().Token()}, nil
}
