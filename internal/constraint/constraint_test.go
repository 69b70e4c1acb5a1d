package constraint_test

import (
	"context"
	"testing"

	"github.com/sin5ddd/sqlew/internal/constraint"
	"github.com/sin5ddd/sqlew/internal/model"
	"github.com/sin5ddd/sqlew/internal/storage"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *constraint.Store {
	t.Helper()
	ctx := context.Background()
	a, err := storage.Open(ctx, storage.ConnConfig{Dialect: storage.DialectSQLite, Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, storage.RunMigrations(ctx, a, storage.AllMigrations()))
	t.Cleanup(func() { a.Close() })
	return constraint.New(a, 1)
}

func TestAddAndGetRoundtrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	c, err := s.Add(ctx, "security", "never log raw credentials", model.PriorityCritical, constraint.AddParams{
		Layer: "business", Tags: []string{"auth", "logging"}, Agent: "claude",
	})
	require.NoError(t, err)
	require.NotZero(t, c.ID)

	results, err := s.Get(ctx, nil, true)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "security", results[0].Category)
	require.Equal(t, "critical", results[0].Priority)
	require.ElementsMatch(t, []string{"auth", "logging"}, results[0].Tags)
	require.True(t, results[0].Active)
}

func TestGetFiltersByAnyOfTags(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Add(ctx, "security", "rule A", model.PriorityHigh, constraint.AddParams{Tags: []string{"auth"}})
	require.NoError(t, err)
	_, err = s.Add(ctx, "style", "rule B", model.PriorityLow, constraint.AddParams{Tags: []string{"formatting"}})
	require.NoError(t, err)

	results, err := s.Get(ctx, []string{"auth"}, false)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "rule A", results[0].Text)
}

func TestDeactivateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	c, err := s.Add(ctx, "security", "rule", model.PriorityMedium, constraint.AddParams{})
	require.NoError(t, err)

	require.NoError(t, s.Deactivate(ctx, c.ID))
	require.NoError(t, s.Deactivate(ctx, c.ID)) // second call: no-op, no error

	results, err := s.Get(ctx, nil, true)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestActivateByTagBulkActivates(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	c1, err := s.Add(ctx, "security", "rule 1", model.PriorityHigh, constraint.AddParams{Tags: []string{"plan-x"}})
	require.NoError(t, err)
	require.NoError(t, s.Deactivate(ctx, c1.ID))
	c2, err := s.Add(ctx, "security", "rule 2", model.PriorityHigh, constraint.AddParams{Tags: []string{"plan-x"}})
	require.NoError(t, err)
	require.NoError(t, s.Deactivate(ctx, c2.ID))

	n, err := s.ActivateByTag(ctx, []string{"plan-x"})
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	results, err := s.Get(ctx, nil, true)
	require.NoError(t, err)
	require.Len(t, results, 2)
}

func TestAddRejectsUnknownCategory(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Add(ctx, "not-a-category", "rule", model.PriorityLow, constraint.AddParams{})
	require.Error(t, err)
}
