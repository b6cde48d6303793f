package domain

import "strings"

// Customer is referenced by orders but never owned by them.
type Customer struct {
	id   int64
	name string
	meta Metadata
}

func NewCustomer(name string) (*Customer, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrCustomerNameRequired
	}
	return &Customer{name: name}, nil
}

// RehydrateCustomer rebuilds a persisted customer.
func RehydrateCustomer(id int64, name string, meta Metadata) *Customer {
	return &Customer{id: id, name: name, meta: meta}
}

func (c *Customer) ID() int64 { return c.id }
func (c *Customer) Name() string { return c.name }
func (c *Customer) Version() RowVersion { return c.meta.Version }
func (c *Customer) TenantID() string { return c.meta.TenantID }
func (c *Customer) EntityType() EntityType { return EntityCustomer }
func (c *Customer) Metadata() *Metadata { return &c.meta }

// Dirty is always false: customers have no behaviour that mutates them yet.
func (c *Customer) Dirty() bool { return false }

func (c *Customer) AssignID(id int64) {
	if c.id == 0 {
		c.id = id
	}
}
