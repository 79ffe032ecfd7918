package configstore

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process Store for tests and single-node tooling.
type Memory struct {
	mu sync.RWMutex
	// name -> tenant (uuid.Nil = default row) -> value
	rows map[string]map[uuid.UUID]string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{rows: make(map[string]map[uuid.UUID]string)}
}

// LoadRaw implements Store with tenant-then-default fallback.
func (m *Memory) LoadRaw(_ context.Context, tenant uuid.UUID, names []string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]string, len(names))
	for _, name := range names {
		byTenant, ok := m.rows[name]
		if !ok {
			continue
		}
		if v, ok := byTenant[tenant]; ok && tenant != uuid.Nil {
			out[name] = v
		} else if v, ok := byTenant[uuid.Nil]; ok {
			out[name] = v
		}
	}
	return out, nil
}

// StoreRaw implements Store. A nil tenant writes the default row.
func (m *Memory) StoreRaw(_ context.Context, tenant *uuid.UUID, name, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := uuid.Nil
	if tenant != nil {
		key = *tenant
	}
	if m.rows[name] == nil {
		m.rows[name] = make(map[uuid.UUID]string)
	}
	m.rows[name][key] = value
	return nil
}
