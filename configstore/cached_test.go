package configstore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingStore tallies round-trips to the backing store.
type countingStore struct {
	*Memory
	loads int
}

func (s *countingStore) LoadRaw(ctx context.Context, tenant uuid.UUID, names []string) (map[string]string, error) {
	s.loads++
	return s.Memory.LoadRaw(ctx, tenant, names)
}

func newCounting() *countingStore {
	return &countingStore{Memory: NewMemory()}
}

func TestCachedServesRepeatLoadsFromCache(t *testing.T) {
	ctx := context.Background()
	backing := newCounting()
	cached := NewCached(backing, time.Minute)
	defer cached.Close()
	tenant := uuid.New()

	require.NoError(t, backing.StoreRaw(ctx, &tenant, "riskreactor.example", "42"))

	for range 3 {
		rows, err := cached.LoadRaw(ctx, tenant, []string{"riskreactor.example"})
		require.NoError(t, err)
		assert.Equal(t, "42", rows["riskreactor.example"])
	}
	assert.Equal(t, 1, backing.loads)
}

func TestCachedRemembersAbsence(t *testing.T) {
	ctx := context.Background()
	backing := newCounting()
	cached := NewCached(backing, time.Minute)
	defer cached.Close()
	tenant := uuid.New()

	for range 3 {
		rows, err := cached.LoadRaw(ctx, tenant, []string{"riskreactor.missing"})
		require.NoError(t, err)
		assert.Empty(t, rows)
	}
	assert.Equal(t, 1, backing.loads)
}

func TestCachedWriteThroughInvalidates(t *testing.T) {
	ctx := context.Background()
	backing := newCounting()
	cached := NewCached(backing, time.Minute)
	defer cached.Close()
	tenant := uuid.New()

	require.NoError(t, cached.StoreRaw(ctx, &tenant, "riskreactor.example", "1"))
	rows, err := cached.LoadRaw(ctx, tenant, []string{"riskreactor.example"})
	require.NoError(t, err)
	assert.Equal(t, "1", rows["riskreactor.example"])

	require.NoError(t, cached.StoreRaw(ctx, &tenant, "riskreactor.example", "2"))
	rows, err = cached.LoadRaw(ctx, tenant, []string{"riskreactor.example"})
	require.NoError(t, err)
	assert.Equal(t, "2", rows["riskreactor.example"])
}

// A default-row write must flush the name for every tenant, since any
// tenant without its own row inherits the new default.
func TestCachedDefaultWriteFlushesAllTenants(t *testing.T) {
	ctx := context.Background()
	backing := newCounting()
	cached := NewCached(backing, time.Minute)
	defer cached.Close()
	a, b := uuid.New(), uuid.New()

	require.NoError(t, cached.StoreRaw(ctx, nil, "riskreactor.example", "default"))
	for _, tenant := range []uuid.UUID{a, b} {
		rows, err := cached.LoadRaw(ctx, tenant, []string{"riskreactor.example"})
		require.NoError(t, err)
		assert.Equal(t, "default", rows["riskreactor.example"])
	}

	require.NoError(t, cached.StoreRaw(ctx, nil, "riskreactor.example", "updated"))
	for _, tenant := range []uuid.UUID{a, b} {
		rows, err := cached.LoadRaw(ctx, tenant, []string{"riskreactor.example"})
		require.NoError(t, err)
		assert.Equal(t, "updated", rows["riskreactor.example"])
	}
}

func TestCachedExpiryRefetches(t *testing.T) {
	ctx := context.Background()
	backing := newCounting()
	cached := NewCached(backing, time.Millisecond)
	defer cached.Close()
	tenant := uuid.New()

	require.NoError(t, backing.StoreRaw(ctx, &tenant, "riskreactor.example", "42"))

	_, err := cached.LoadRaw(ctx, tenant, []string{"riskreactor.example"})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = cached.LoadRaw(ctx, tenant, []string{"riskreactor.example"})
	require.NoError(t, err)
	assert.Equal(t, 2, backing.loads)
}
