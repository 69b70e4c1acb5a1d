package dispatch_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/sin5ddd/sqlew/internal/constraint"
	"github.com/sin5ddd/sqlew/internal/decision"
	"github.com/sin5ddd/sqlew/internal/dispatch"
	"github.com/sin5ddd/sqlew/internal/file"
	"github.com/sin5ddd/sqlew/internal/message"
	"github.com/sin5ddd/sqlew/internal/model"
	"github.com/sin5ddd/sqlew/internal/retention"
	"github.com/sin5ddd/sqlew/internal/sqlerr"
	"github.com/sin5ddd/sqlew/internal/storage"
	"github.com/sin5ddd/sqlew/internal/taskgraph"
	"github.com/stretchr/testify/require"
)

func newTestBackend(t *testing.T) *dispatch.LocalBackend {
	t.Helper()
	ctx := context.Background()
	a, err := storage.Open(ctx, storage.ConnConfig{Dialect: storage.DialectSQLite, Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, storage.RunMigrations(ctx, a, storage.AllMigrations()))
	t.Cleanup(func() { a.Close() })

	return dispatch.NewLocalBackend(a, 1,
		decision.New(a, 1),
		constraint.New(a, 1),
		taskgraph.New(a, 1, func() int64 { return 1700000000 }),
		file.New(a, 1),
		message.New(a, 1, retention.Config{MessageHours: 24, FileHistoryDays: 30}),
	)
}

func TestDecodeRejectsUnknownToolAction(t *testing.T) {
	_, err := dispatch.Decode("decision", "explode", json.RawMessage(`{}`))
	require.Error(t, err)
	require.True(t, sqlerr.OfKind(err, sqlerr.KindValidation))
}

func TestDecodeRejectsMalformedParams(t *testing.T) {
	_, err := dispatch.Decode("decision", "set", json.RawMessage(`{"Key": 5}`))
	require.Error(t, err)
}

func TestDispatchDecisionSetThenGet(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	d := dispatch.New(b, nil)

	setAction, err := dispatch.Decode("decision", "set", json.RawMessage(`{"Key":"auth_method","Value":"JWT","Layer":"business"}`))
	require.NoError(t, err)
	_, err = d.Execute(ctx, setAction)
	require.NoError(t, err)

	getAction, err := dispatch.Decode("decision", "get", json.RawMessage(`{"Key":"auth_method"}`))
	require.NoError(t, err)
	result, err := d.Execute(ctx, getAction)
	require.NoError(t, err)
	got, ok := result.(*decision.GetResult)
	require.True(t, ok)
	require.Equal(t, "JWT", got.Value)
}

func TestDispatchTaskCreateThenMove(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	d := dispatch.New(b, nil)

	createAction, err := dispatch.Decode("task", "create", json.RawMessage(`{"Title":"write docs"}`))
	require.NoError(t, err)
	result, err := d.Execute(ctx, createAction)
	require.NoError(t, err)
	task, ok := result.(*model.Task)
	require.True(t, ok)
	require.Equal(t, "write docs", task.Title)

	moveRaw, err := json.Marshal(dispatch.TaskMoveParams{TaskID: task.ID, NewStatus: "in_progress"})
	require.NoError(t, err)
	moveAction, err := dispatch.Decode("task", "move", moveRaw)
	require.NoError(t, err)
	_, err = d.Execute(ctx, moveAction)
	require.NoError(t, err)
}

type fakeRemote struct {
	calls int
	err   error
}

func (f *fakeRemote) Execute(ctx context.Context, action dispatch.Action) (any, error) {
	f.calls++
	return nil, f.err
}

func TestDispatcherFallsBackToLocalOnFallbackError(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	remote := &fakeRemote{err: sqlerr.Fallback("UNSUPPORTED_TOOL")}
	d := dispatch.New(b, remote)

	setAction, err := dispatch.Decode("decision", "set", json.RawMessage(`{"Key":"k","Value":"v"}`))
	require.NoError(t, err)
	_, err = d.Execute(ctx, setAction)
	require.NoError(t, err)
	require.Equal(t, 1, remote.calls)

	got, err := b.Execute(ctx, setAction)
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestDispatcherPropagatesNonFallbackRemoteError(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	remote := &fakeRemote{err: sqlerr.Validation("key", "bad key")}
	d := dispatch.New(b, remote)

	setAction, err := dispatch.Decode("decision", "set", json.RawMessage(`{"Key":"k","Value":"v"}`))
	require.NoError(t, err)
	_, err = d.Execute(ctx, setAction)
	require.Error(t, err)
	require.True(t, sqlerr.OfKind(err, sqlerr.KindValidation))
	require.Equal(t, 1, remote.calls)
}
