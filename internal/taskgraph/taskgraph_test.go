package taskgraph_test

import (
	"context"
	"testing"

	"github.com/sin5ddd/sqlew/internal/model"
	"github.com/sin5ddd/sqlew/internal/storage"
	"github.com/sin5ddd/sqlew/internal/taskgraph"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *taskgraph.Store {
	t.Helper()
	ctx := context.Background()
	a, err := storage.Open(ctx, storage.ConnConfig{Dialect: storage.DialectSQLite, Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, storage.RunMigrations(ctx, a, storage.AllMigrations()))
	t.Cleanup(func() { a.Close() })
	tick := int64(1000)
	return taskgraph.New(a, 1, func() int64 { tick++; return tick })
}

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	task, err := s.Create(ctx, "write docs", taskgraph.CreateParams{Description: "document the API", Priority: 3, Layer: "business", Tags: []string{"docs"}})
	require.NoError(t, err)
	require.NotZero(t, task.ID)

	v, err := s.Get(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, "write docs", v.Title)
	require.Equal(t, "document the API", v.Description)
	require.Equal(t, "todo", v.Status)
	require.Equal(t, "business", v.Layer)
	require.ElementsMatch(t, []string{"docs"}, v.Tags)
}

func TestMovePermittedAndRejectedEdges(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	task, err := s.Create(ctx, "a task", taskgraph.CreateParams{})
	require.NoError(t, err)

	require.NoError(t, s.Move(ctx, task.ID, model.TaskStatusInProgress, nil))

	v, err := s.Get(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, "in_progress", v.Status)

	err = s.Move(ctx, task.ID, model.TaskStatusTodo, nil)
	require.NoError(t, err)

	require.NoError(t, s.Move(ctx, task.ID, model.TaskStatusArchived, nil))

	err = s.Move(ctx, task.ID, model.TaskStatusInProgress, nil)
	require.Error(t, err, "archived is terminal")
}

func TestCompletionGateRefusesWhenAllFilesMissing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	task, err := s.Create(ctx, "a task", taskgraph.CreateParams{})
	require.NoError(t, err)
	require.NoError(t, s.Link(ctx, task.ID, taskgraph.LinkFile, "src/gone.go", ""))
	require.NoError(t, s.Move(ctx, task.ID, model.TaskStatusInProgress, nil))

	err = s.Move(ctx, task.ID, model.TaskStatusDone, func(string) bool { return false })
	require.Error(t, err)
}

func TestCompletionGatePrunesPartiallyMissingFiles(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	task, err := s.Create(ctx, "a task", taskgraph.CreateParams{})
	require.NoError(t, err)
	require.NoError(t, s.Link(ctx, task.ID, taskgraph.LinkFile, "src/present.go", ""))
	require.NoError(t, s.Link(ctx, task.ID, taskgraph.LinkFile, "src/gone.go", ""))
	require.NoError(t, s.Move(ctx, task.ID, model.TaskStatusInProgress, nil))

	exists := func(p string) bool { return p == "src/present.go" }
	require.NoError(t, s.Move(ctx, task.ID, model.TaskStatusDone, exists))

	v, err := s.Get(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, "done", v.Status)
}

// Scenario C — cyclic dependency rejected.
func TestScenarioCCyclicDependencyRejected(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	t1, err := s.Create(ctx, "T1", taskgraph.CreateParams{})
	require.NoError(t, err)
	t2, err := s.Create(ctx, "T2", taskgraph.CreateParams{})
	require.NoError(t, err)
	t3, err := s.Create(ctx, "T3", taskgraph.CreateParams{})
	require.NoError(t, err)

	require.NoError(t, s.AddDependency(ctx, t1.ID, t2.ID))
	require.NoError(t, s.AddDependency(ctx, t2.ID, t3.ID))

	err = s.AddDependency(ctx, t3.ID, t1.ID)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Circular dependency detected")
}

func TestAddDependencyRejectsSelfAndReverse(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	t1, err := s.Create(ctx, "T1", taskgraph.CreateParams{})
	require.NoError(t, err)
	t2, err := s.Create(ctx, "T2", taskgraph.CreateParams{})
	require.NoError(t, err)

	err = s.AddDependency(ctx, t1.ID, t1.ID)
	require.Error(t, err)

	require.NoError(t, s.AddDependency(ctx, t1.ID, t2.ID))
	err = s.AddDependency(ctx, t2.ID, t1.ID)
	require.Error(t, err)
}

func TestRemoveDependencyIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	t1, err := s.Create(ctx, "T1", taskgraph.CreateParams{})
	require.NoError(t, err)
	t2, err := s.Create(ctx, "T2", taskgraph.CreateParams{})
	require.NoError(t, err)

	require.NoError(t, s.AddDependency(ctx, t1.ID, t2.ID))
	require.NoError(t, s.RemoveDependency(ctx, t1.ID, t2.ID))
	require.NoError(t, s.RemoveDependency(ctx, t1.ID, t2.ID))
}

func TestCreateBatchAtomicRollsBackOnInvalidLayer(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	items := []taskgraph.BatchCreateItem{
		{Title: "first", Params: taskgraph.CreateParams{Layer: "business"}},
		{Title: "second", Params: taskgraph.CreateParams{Layer: "not_a_layer"}},
	}
	_, err := s.CreateBatch(ctx, items, true)
	require.Error(t, err)

	list, err := s.List(ctx, "", 10)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestCreateBatchAtomicSucceeds(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	items := []taskgraph.BatchCreateItem{
		{Title: "first", Params: taskgraph.CreateParams{Layer: "business"}},
		{Title: "second", Params: taskgraph.CreateParams{Layer: "data"}},
	}
	res, err := s.CreateBatch(ctx, items, true)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, 2, res.Inserted)

	list, err := s.List(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
}

func TestCreateBatchBestEffortRejectsBatchOnPreflightFailure(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	items := []taskgraph.BatchCreateItem{
		{Title: "first", Params: taskgraph.CreateParams{Layer: "business"}},
		{Title: "", Params: taskgraph.CreateParams{}},
	}
	res, err := s.CreateBatch(ctx, items, false)
	require.Error(t, err)
	require.Empty(t, res.Results)
}
