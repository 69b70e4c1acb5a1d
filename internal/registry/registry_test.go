package registry_test

import (
	"context"
	"testing"

	"github.com/sin5ddd/sqlew/internal/registry"
	"github.com/sin5ddd/sqlew/internal/storage"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) (*registry.Registry, *storage.Adapter) {
	t.Helper()
	ctx := context.Background()
	a, err := storage.Open(ctx, storage.ConnConfig{Dialect: storage.DialectSQLite, Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, storage.RunMigrations(ctx, a, storage.AllMigrations()))
	t.Cleanup(func() { a.Close() })
	return registry.New(a), a
}

func TestGetOrCreateAgentIsIdempotent(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t)

	id1, err := r.GetOrCreateAgent(ctx, "claude", 1000)
	require.NoError(t, err)

	id2, err := r.GetOrCreateAgent(ctx, "claude", 2000)
	require.NoError(t, err)

	require.Equal(t, id1, id2)
}

func TestGetOrCreateTagScopedPerProject(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t)

	id1, err := r.GetOrCreateTag(ctx, 1, "auth")
	require.NoError(t, err)
	id2, err := r.GetOrCreateTag(ctx, 2, "auth")
	require.NoError(t, err)

	require.NotEqual(t, id1, id2, "same tag name in different projects must be distinct rows")

	id3, err := r.GetOrCreateTag(ctx, 1, "auth")
	require.NoError(t, err)
	require.Equal(t, id1, id3)
}

func TestLookupLayerRejectsUnknownName(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t)

	_, err := r.LookupLayer(ctx, "not-a-real-layer")
	require.Error(t, err)
}

func TestLookupLayerResolvesSeededNames(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t)

	id, err := r.LookupLayer(ctx, "business")
	require.NoError(t, err)
	require.NotZero(t, id)

	name, err := r.LayerName(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "business", name)
}
