package app

import (
	"context"
	"strings"
	"time"

	"github.com/mohamaddakhiliuad/tenantorders/internal/domain"
	"github.com/mohamaddakhiliuad/tenantorders/internal/tenancy"
)

// OrderReader serves read-only projections. Every call is tenant scoped.
type OrderReader interface {
	FindOrder(ctx context.Context, scope tenancy.Scope, id int64) (*domain.Order, error)
	ListOrdersByCustomer(ctx context.Context, scope tenancy.Scope, customerID int64) ([]*domain.Order, error)
}

type OrderDetails struct {
	ID         int64
	CustomerID int64
	Status     domain.OrderStatus
	Amount     string
	Currency   string
	Version    string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	PlacedAt   *time.Time
}

func toDetails(o *domain.Order) OrderDetails {
	return OrderDetails{
		ID:         o.ID(),
		CustomerID: o.CustomerID(),
		Status:     o.Status(),
		Amount:     o.Total().Amount().StringFixed(2),
		Currency:   o.Total().Currency(),
		Version:    o.Version().Token(),
		CreatedAt:  o.CreatedAt(),
		UpdatedAt:  o.UpdatedAt(),
		PlacedAt:   o.PlacedAt(),
	}
}

type QueryService struct {
	reader OrderReader
	policy *tenancy.Policy
}

func NewQueryService(reader OrderReader, policy *tenancy.Policy) *QueryService {
	return &QueryService{reader: reader, policy: policy}
}

func (s *QueryService) scope(tenantID string) (tenancy.Scope, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return tenancy.Scope{}, domain.ErrTenantRequired
	}
	return s.policy.Scope(tenantID), nil
}

func (s *QueryService) GetOrder(ctx context.Context, tenantID string, id int64) (OrderDetails, error) {
	if id <= 0 {
		return OrderDetails{}, domain.ErrInvalidID
	}
	scope, err := s.scope(tenantID)
	if err != nil {
		return OrderDetails{}, err
	}
	o, err := s.reader.FindOrder(ctx, scope, id)
	if err != nil {
		return OrderDetails{}, err
	}
	if o == nil || !scope.Allows(o) {
		return OrderDetails{}, domain.ErrOrderNotFound
	}
	return toDetails(o), nil
}

// ListOrdersByCustomer returns the customer's orders, newest first.
func (s *QueryService) ListOrdersByCustomer(ctx context.Context, tenantID string, customerID int64) ([]OrderDetails, error) {
	if customerID <= 0 {
		return nil, domain.ErrInvalidID
	}
	scope, err := s.scope(tenantID)
	if err != nil {
		return nil, err
	}
	orders, err := s.reader.ListOrdersByCustomer(ctx, scope, customerID)
	if err != nil {
		return nil, err
	}
	out := make([]OrderDetails, 0, len(orders))
	for _, o := range orders {
		if scope.Allows(o) {
			out = append(out, toDetails(o))
		}
	}
	return out, nil
}
