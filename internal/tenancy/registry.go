// Package tenancy holds the tenant isolation and audit stamping policy that is
// applied to every persisted entity, independent of its aggregate type.
package tenancy

import (
	"sort"

	"github.com/mohamaddakhiliuad/tenantorders/internal/domain"
)

// Capability is a bit set of persistence behaviours an entity type opts into.
type Capability uint8

const (
	// TenantScoped entities carry a tenant id and are only readable by that tenant.
	TenantScoped Capability = 1 << iota
	// Audited entities carry created/updated timestamps.
	Audited
)

func (c Capability) Has(other Capability) bool { return c&other == other }

// Registry is the fixed table of entity type -> capabilities, built once at startup.
type Registry struct {
	caps map[domain.EntityType]Capability
}

func NewRegistry(entries map[domain.EntityType]Capability) *Registry {
	caps := make(map[domain.EntityType]Capability, len(entries))
	for typ, c := range entries {
		caps[typ] = c
	}
	return &Registry{caps: caps}
}

// DefaultRegistry covers every entity this service persists.
func DefaultRegistry() *Registry {
	return NewRegistry(map[domain.EntityType]Capability{
		domain.EntityOrder:    TenantScoped | Audited,
		domain.EntityCustomer: TenantScoped | Audited,
	})
}

func (r *Registry) Capabilities(typ domain.EntityType) (Capability, bool) {
	c, ok := r.caps[typ]
	return c, ok
}

func (r *Registry) TenantScoped(typ domain.EntityType) bool {
	c, ok := r.caps[typ]
	return ok && c.Has(TenantScoped)
}

// Types lists registered entity types in a stable order.
func (r *Registry) Types() []domain.EntityType {
	out := make([]domain.EntityType, 0, len(r.caps))
	for typ := range r.caps {
		out = append(out, typ)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
