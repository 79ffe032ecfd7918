package riskmodel

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// MetricKey is the entity key tuple of a metric point. Which fields are
// meaningful depends on the metric type's key schema; unused fields stay
// zero. The type is comparable so it can serve as a map key and as the
// queue's deduplication identity.
type MetricKey struct {
	Tenant uuid.UUID `json:"tenant_id,omitempty"`
	Entity uuid.UUID `json:"entity_id,omitempty"`
	Date   Date      `json:"date,omitempty"`
}

// TenantKey builds a key for tenant-level metrics.
func TenantKey(tenant uuid.UUID) MetricKey {
	return MetricKey{Tenant: tenant}
}

// EntityKey builds a key for undated entity metrics.
func EntityKey(tenant, entity uuid.UUID) MetricKey {
	return MetricKey{Tenant: tenant, Entity: entity}
}

// DatedKey builds a key for dated entity metrics.
func DatedKey(tenant, entity uuid.UUID, date Date) MetricKey {
	return MetricKey{Tenant: tenant, Entity: entity, Date: date}
}

// LibraryKey builds a key for tenant-independent library metrics.
func LibraryKey(entity uuid.UUID) MetricKey {
	return MetricKey{Entity: entity}
}

func (k MetricKey) String() string {
	parts := make([]string, 0, 3)
	if k.Tenant != uuid.Nil {
		parts = append(parts, "tenant="+k.Tenant.String())
	}
	if k.Entity != uuid.Nil {
		parts = append(parts, "entity="+k.Entity.String())
	}
	if !k.Date.IsZero() {
		parts = append(parts, "date="+k.Date.String())
	}
	if len(parts) == 0 {
		return "(empty)"
	}
	return strings.Join(parts, ",")
}

// ValidateKey checks k against the metric's key schema: required fields
// must be set and unused fields must be zero.
func (m MetricType) ValidateKey(k MetricKey) error {
	if !m.Valid() {
		return fmt.Errorf("invalid metric type %d", int(m))
	}
	fields := m.KeyFields()
	switch {
	case fields.Has(KeyTenant) && k.Tenant == uuid.Nil:
		return fmt.Errorf("%s key requires a tenant: %s", m, k)
	case !fields.Has(KeyTenant) && k.Tenant != uuid.Nil:
		return fmt.Errorf("%s key must not carry a tenant: %s", m, k)
	case fields.Has(KeyEntity) && k.Entity == uuid.Nil:
		return fmt.Errorf("%s key requires an entity: %s", m, k)
	case !fields.Has(KeyEntity) && k.Entity != uuid.Nil:
		return fmt.Errorf("%s key must not carry an entity: %s", m, k)
	case fields.Has(KeyDate) && k.Date.IsZero():
		return fmt.Errorf("%s key requires a date: %s", m, k)
	case !fields.Has(KeyDate) && !k.Date.IsZero():
		return fmt.Errorf("%s key must not carry a date: %s", m, k)
	}
	return nil
}
