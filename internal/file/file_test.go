package file_test

import (
	"context"
	"testing"

	"github.com/sin5ddd/sqlew/internal/file"
	"github.com/sin5ddd/sqlew/internal/model"
	"github.com/sin5ddd/sqlew/internal/storage"
	"github.com/stretchr/testify/require"
)

func newTestAdapter(t *testing.T) *storage.Adapter {
	t.Helper()
	ctx := context.Background()
	a, err := storage.Open(ctx, storage.ConnConfig{Dialect: storage.DialectSQLite, Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, storage.RunMigrations(ctx, a, storage.AllMigrations()))
	t.Cleanup(func() { a.Close() })
	return a
}

func TestRecordInsertsFileChangeRow(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t)
	s := file.New(a, 1)

	fc, err := s.Record(ctx, "internal/decision/decision.go", model.ChangeModified, file.RecordParams{
		Agent: "claude", Layer: "business", Description: "added quick_set",
	})
	require.NoError(t, err)
	require.NotZero(t, fc.ID)
	require.Equal(t, model.ChangeModified, fc.ChangeType)
	require.NotNil(t, fc.LayerID)

	var n int
	require.NoError(t, a.DB().QueryRow("SELECT COUNT(*) FROM t_file_changes").Scan(&n))
	require.Equal(t, 1, n)
}

func TestRecordRejectsEmptyPath(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t)
	s := file.New(a, 1)
	_, err := s.Record(ctx, "", model.ChangeCreated, file.RecordParams{})
	require.Error(t, err)
}

func TestRecordRejectsUnknownChangeType(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t)
	s := file.New(a, 1)
	_, err := s.Record(ctx, "x.go", model.ChangeType("renamed"), file.RecordParams{})
	require.Error(t, err)
}

func TestRecordBatchAtomicRollsBackOnInvalidChangeType(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t)
	s := file.New(a, 1)

	items := []file.BatchRecordItem{
		{Path: "a.go", ChangeType: model.ChangeCreated},
		{Path: "b.go", ChangeType: model.ChangeType("renamed")},
	}
	_, err := s.RecordBatch(ctx, items, true)
	require.Error(t, err)

	var n int
	require.NoError(t, a.DB().QueryRow("SELECT COUNT(*) FROM t_file_changes").Scan(&n))
	require.Equal(t, 0, n)
}

func TestRecordBatchAtomicSucceeds(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t)
	s := file.New(a, 1)

	items := []file.BatchRecordItem{
		{Path: "a.go", ChangeType: model.ChangeCreated},
		{Path: "b.go", ChangeType: model.ChangeModified},
	}
	res, err := s.RecordBatch(ctx, items, true)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, 2, res.Inserted)
}

func TestQueryFiltersByLayer(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t)
	s := file.New(a, 1)

	_, err := s.Record(ctx, "a.go", model.ChangeCreated, file.RecordParams{Layer: "business"})
	require.NoError(t, err)
	_, err = s.Record(ctx, "b.go", model.ChangeModified, file.RecordParams{Layer: "data"})
	require.NoError(t, err)

	results, err := s.Query(ctx, file.QueryFilter{Layer: "business"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "a.go", results[0].Path)
	require.Equal(t, "business", results[0].Layer)
}

func TestQueryRejectsUnknownLayer(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t)
	s := file.New(a, 1)
	_, err := s.Query(ctx, file.QueryFilter{Layer: "nonexistent"})
	require.Error(t, err)
}
