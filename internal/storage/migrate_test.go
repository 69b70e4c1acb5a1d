package storage_test

import (
	"context"
	"testing"

	"github.com/sin5ddd/sqlew/internal/storage"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *storage.Adapter {
	t.Helper()
	ctx := context.Background()
	a, err := storage.Open(ctx, storage.ConnConfig{Dialect: storage.DialectSQLite, Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestRunMigrationsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	a := openTestDB(t)

	require.NoError(t, storage.RunMigrations(ctx, a, storage.AllMigrations()))
	// Re-running the full sequence against a database that already
	// reflects it must be a no-op: no duplicate-column or table-exists
	// errors, per the migration runner's idempotent-up requirement.
	require.NoError(t, storage.RunMigrations(ctx, a, storage.AllMigrations()))

	exists, err := a.TableExists(ctx, "t_decisions")
	require.NoError(t, err)
	require.True(t, exists)

	hasPlanID, err := a.ColumnExists(ctx, "t_constraints", "plan_id")
	require.NoError(t, err)
	require.True(t, hasPlanID)
}

func TestVerifyIntegrityReportsMissingTable(t *testing.T) {
	ctx := context.Background()
	a := openTestDB(t)
	require.NoError(t, storage.RunMigrations(ctx, a, storage.AllMigrations()))

	err := storage.VerifyIntegrity(ctx, a, []storage.RequiredTable{
		{Name: "t_decisions", Columns: []string{"key_id", "project_id"}},
		{Name: "t_does_not_exist"},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "t_does_not_exist")
}

func TestVerifyIntegritySucceedsAfterMigration(t *testing.T) {
	ctx := context.Background()
	a := openTestDB(t)
	require.NoError(t, storage.RunMigrations(ctx, a, storage.AllMigrations()))

	err := storage.VerifyIntegrity(ctx, a, []storage.RequiredTable{
		{Name: "m_projects", Columns: []string{"id", "name"}},
		{Name: "t_tasks", Columns: []string{"id", "status_id"}},
	})
	require.NoError(t, err)
}

func TestSeedEnumsPopulatesLayersAndStatuses(t *testing.T) {
	ctx := context.Background()
	a := openTestDB(t)
	require.NoError(t, storage.RunMigrations(ctx, a, storage.AllMigrations()))

	var count int
	require.NoError(t, a.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM m_layers").Scan(&count))
	require.Equal(t, 7, count)

	require.NoError(t, a.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM m_task_statuses").Scan(&count))
	require.Equal(t, 6, count)
}
