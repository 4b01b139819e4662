package rpcserver

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnManagerCachesByPath(t *testing.T) {
	cm, err := NewConnManager(4, 5000, -2000)
	require.NoError(t, err)
	defer cm.Close()

	path := filepath.Join(t.TempDir(), "state.db")
	h1, err := cm.Acquire(context.Background(), path)
	require.NoError(t, err)
	h2, err := cm.Acquire(context.Background(), path)
	require.NoError(t, err)

	assert.Same(t, h1.Store(), h2.Store(), "same path must share one store")
	assert.Equal(t, 1, cm.Len())
	h1.Release()
	h2.Release()
}

func TestConnManagerEvictsLRUButNotHeld(t *testing.T) {
	cm, err := NewConnManager(2, 5000, -2000)
	require.NoError(t, err)
	defer cm.Close()

	ctx := context.Background()
	pathA := filepath.Join(t.TempDir(), "a.db")
	pathB := filepath.Join(t.TempDir(), "b.db")
	pathC := filepath.Join(t.TempDir(), "c.db")

	hA, err := cm.Acquire(ctx, pathA)
	require.NoError(t, err)
	storeA := hA.Store()

	hB, err := cm.Acquire(ctx, pathB)
	require.NoError(t, err)
	hB.Release()

	// Capacity 2: adding C evicts A (the LRU), but A is still held, so it
	// parks in overflow and its store stays usable.
	hC, err := cm.Acquire(ctx, pathC)
	require.NoError(t, err)
	defer hC.Release()

	assert.NoError(t, storeA.DB().Ping(), "held store must survive eviction")
	hA.Release()

	// Re-acquiring A after full release opens a fresh store.
	hA2, err := cm.Acquire(ctx, pathA)
	require.NoError(t, err)
	defer hA2.Release()
	assert.NoError(t, hA2.Store().DB().Ping())
}

func TestConnManagerInvalidate(t *testing.T) {
	cm, err := NewConnManager(4, 5000, -2000)
	require.NoError(t, err)
	defer cm.Close()

	path := filepath.Join(t.TempDir(), "state.db")
	h, err := cm.Acquire(context.Background(), path)
	require.NoError(t, err)
	h.Release()

	cm.Invalidate(path)
	assert.Equal(t, 0, cm.Len())
}
