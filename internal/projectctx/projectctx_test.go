package projectctx_test

import (
	"context"
	"testing"

	"github.com/sin5ddd/sqlew/internal/model"
	"github.com/sin5ddd/sqlew/internal/projectctx"
	"github.com/sin5ddd/sqlew/internal/storage"
	"github.com/stretchr/testify/require"
)

func TestEnsureCreatesThenRebinds(t *testing.T) {
	ctx := context.Background()
	a, err := storage.Open(ctx, storage.ConnConfig{Dialect: storage.DialectSQLite, Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	require.NoError(t, storage.RunMigrations(ctx, a, storage.AllMigrations()))

	h1, err := projectctx.Ensure(ctx, a, "sqlew", model.DetectionGit, "/repo", 1000)
	require.NoError(t, err)
	require.NotZero(t, h1.ProjectID)

	h2, err := projectctx.Ensure(ctx, a, "sqlew", model.DetectionGit, "/repo", 2000)
	require.NoError(t, err)
	require.Equal(t, h1.ProjectID, h2.ProjectID, "rebinding an existing project must not create a second row")

	var lastActive int64
	require.NoError(t, a.DB().QueryRowContext(ctx, "SELECT last_active_ts FROM m_projects WHERE id = ?", h2.ProjectID).Scan(&lastActive))
	require.Equal(t, int64(2000), lastActive)
}
