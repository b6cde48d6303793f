package tenancy

import (
	"strings"
	"time"

	"github.com/mohamaddakhiliuad/tenantorders/internal/domain"
)

// Entity is anything the policy can stamp.
type Entity interface {
	EntityType() domain.EntityType
	Metadata() *domain.Metadata
}

// Resolver yields the tenant for one unit of work.
type Resolver interface {
	CurrentTenantID() string
}

// Static is a Resolver for an already-known tenant id.
type Static string

func (s Static) CurrentTenantID() string { return strings.TrimSpace(string(s)) }

// Policy applies tenant and audit rules generically, driven by the registry.
type Policy struct {
	registry *Registry
}

func NewPolicy(registry *Registry) *Policy {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Policy{registry: registry}
}

func (p *Policy) Registry() *Registry { return p.registry }

// Scope returns the read filter for tenantID.
func (p *Policy) Scope(tenantID string) Scope {
	return Scope{tenantID: tenantID, registry: p.registry}
}

// StampInsert sets tenant id and both audit timestamps on a new entity.
func (p *Policy) StampInsert(e Entity, tenantID string, now time.Time) error {
	caps, ok := p.registry.Capabilities(e.EntityType())
	if !ok {
		return domain.ContractViolation("entity type %q is not registered", e.EntityType())
	}
	meta := e.Metadata()
	if caps.Has(TenantScoped) {
		if tenantID == "" {
			return domain.ErrTenantRequired
		}
		meta.TenantID = tenantID
	}
	if caps.Has(Audited) {
		meta.CreatedAt = now
		meta.UpdatedAt = now
	}
	return nil
}

// StampUpdate refreshes UpdatedAt and re-asserts the tenant id and creation
// time captured when the entity was loaded, whatever happened to them since.
func (p *Policy) StampUpdate(e Entity, original domain.Metadata, tenantID string, now time.Time) error {
	caps, ok := p.registry.Capabilities(e.EntityType())
	if !ok {
		return domain.ContractViolation("entity type %q is not registered", e.EntityType())
	}
	meta := e.Metadata()
	if caps.Has(TenantScoped) {
		if original.TenantID != tenantID {
			return domain.ErrTenantMismatch
		}
		meta.TenantID = original.TenantID
	}
	if caps.Has(Audited) {
		meta.CreatedAt = original.CreatedAt
		meta.UpdatedAt = now
	}
	return nil
}

// Scope restricts reads to a single tenant for tenant-scoped entity types.
type Scope struct {
	tenantID string
	registry *Registry
}

func (s Scope) TenantID() string { return s.tenantID }

// Filter returns the tenant id a query against typ must be restricted to.
// ok is false for types that are not tenant scoped.
func (s Scope) Filter(typ domain.EntityType) (tenantID string, ok bool) {
	if s.registry == nil || !s.registry.TenantScoped(typ) {
		return "", false
	}
	return s.tenantID, true
}

// Allows reports whether a loaded entity is visible in this scope.
func (s Scope) Allows(e Entity) bool {
	tenantID, ok := s.Filter(e.EntityType())
	if !ok {
		return true
	}
	return e.Metadata().TenantID == tenantID
}
