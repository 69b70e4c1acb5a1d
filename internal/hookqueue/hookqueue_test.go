package hookqueue_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sin5ddd/sqlew/internal/constraint"
	"github.com/sin5ddd/sqlew/internal/decision"
	"github.com/sin5ddd/sqlew/internal/hookqueue"
	"github.com/sin5ddd/sqlew/internal/storage"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) *hookqueue.Queue {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "queue")
	q, err := hookqueue.New(dir)
	require.NoError(t, err)
	return q
}

func decisionCreateItem(key, value string) hookqueue.QueueItem {
	return hookqueue.QueueItem{
		Type: hookqueue.TypeDecision, Action: hookqueue.ActionCreate,
		Timestamp: time.Now().Format(time.RFC3339),
		Data:      map[string]any{"key": key, "value": value},
	}
}

// Scenario D.1: two successive enqueue calls with the same key dedup to
// a single item.
func TestEnqueueDeduplicatesByKey(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, q.Enqueue(decisionCreateItem("security/jwt", "HS256")))
	require.NoError(t, q.Enqueue(decisionCreateItem("security/jwt", "RS256")))

	raw, err := os.ReadFile(filepath.Join(q.Dir(), "pending.json"))
	require.NoError(t, err)
	var qf struct {
		Items []hookqueue.QueueItem `json:"items"`
	}
	require.NoError(t, json.Unmarshal(raw, &qf))
	require.Len(t, qf.Items, 1)
	require.Equal(t, "HS256", qf.Items[0].Data["value"])
}

func TestEnqueueDeduplicatesConstraintByText(t *testing.T) {
	q := newTestQueue(t)
	item := hookqueue.QueueItem{
		Type: hookqueue.TypeConstraint, Action: hookqueue.ActionCreate,
		Data: map[string]any{"text": "never log secrets"},
	}
	require.NoError(t, q.Enqueue(item))
	require.NoError(t, q.Enqueue(item))

	raw, err := os.ReadFile(filepath.Join(q.Dir(), "pending.json"))
	require.NoError(t, err)
	var qf struct {
		Items []hookqueue.QueueItem `json:"items"`
	}
	require.NoError(t, json.Unmarshal(raw, &qf))
	require.Len(t, qf.Items, 1)
}

// Scenario D.2: draining writes the decision row and empties the queue.
func TestDrainAppliesItemsAndEmptiesQueue(t *testing.T) {
	ctx := context.Background()
	a, err := storage.Open(ctx, storage.ConnConfig{Dialect: storage.DialectSQLite, Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, storage.RunMigrations(ctx, a, storage.AllMigrations()))
	t.Cleanup(func() { a.Close() })

	q := newTestQueue(t)
	require.NoError(t, q.Enqueue(decisionCreateItem("security/jwt", "HS256")))

	ap := hookqueue.NewApplier(decision.New(a, 1), constraint.New(a, 1))
	res, err := q.Drain(ctx, ap.Apply)
	require.NoError(t, err)
	require.False(t, res.Skipped)
	require.Equal(t, 1, res.Processed)
	require.Empty(t, res.Failed)

	got, err := decision.New(a, 1).Get(ctx, "security/jwt")
	require.NoError(t, err)
	require.Equal(t, "HS256", got.Value)

	raw, err := os.ReadFile(filepath.Join(q.Dir(), "pending.json"))
	require.NoError(t, err)
	var qf struct {
		Items []hookqueue.QueueItem `json:"items"`
	}
	require.NoError(t, json.Unmarshal(raw, &qf))
	require.Empty(t, qf.Items)
}

// Scenario D.3: a lock left with a timestamp older than 30s is treated
// as stale and overwritten, letting the next drain proceed.
func TestDrainOverwritesStaleLock(t *testing.T) {
	ctx := context.Background()
	a, err := storage.Open(ctx, storage.ConnConfig{Dialect: storage.DialectSQLite, Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, storage.RunMigrations(ctx, a, storage.AllMigrations()))
	t.Cleanup(func() { a.Close() })

	q := newTestQueue(t)
	require.NoError(t, q.Enqueue(decisionCreateItem("security/jwt", "HS256")))

	staleLock := map[string]any{"pid": 99999, "timestamp_ms": time.Now().Add(-45 * time.Second).UnixMilli()}
	data, err := json.Marshal(staleLock)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(q.Dir(), "pending.lock"), data, 0o644))

	ap := hookqueue.NewApplier(decision.New(a, 1), constraint.New(a, 1))
	res, err := q.Drain(ctx, ap.Apply)
	require.NoError(t, err)
	require.False(t, res.Skipped)
	require.Equal(t, 1, res.Processed)
}

// A lock younger than 30s causes the drain attempt to be abandoned.
func TestDrainSkipsWhenLockIsFresh(t *testing.T) {
	ctx := context.Background()
	a, err := storage.Open(ctx, storage.ConnConfig{Dialect: storage.DialectSQLite, Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, storage.RunMigrations(ctx, a, storage.AllMigrations()))
	t.Cleanup(func() { a.Close() })

	q := newTestQueue(t)
	require.NoError(t, q.Enqueue(decisionCreateItem("security/jwt", "HS256")))

	freshLock := map[string]any{"pid": os.Getpid(), "timestamp_ms": time.Now().UnixMilli()}
	data, err := json.Marshal(freshLock)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(q.Dir(), "pending.lock"), data, 0o644))

	ap := hookqueue.NewApplier(decision.New(a, 1), constraint.New(a, 1))
	res, err := q.Drain(ctx, ap.Apply)
	require.NoError(t, err)
	require.True(t, res.Skipped)
}

func TestDrainRetainsFailedItemsForNextDrain(t *testing.T) {
	ctx := context.Background()
	a, err := storage.Open(ctx, storage.ConnConfig{Dialect: storage.DialectSQLite, Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, storage.RunMigrations(ctx, a, storage.AllMigrations()))
	t.Cleanup(func() { a.Close() })

	q := newTestQueue(t)
	require.NoError(t, q.Enqueue(decisionCreateItem("", "")))

	ap := hookqueue.NewApplier(decision.New(a, 1), constraint.New(a, 1))
	res, err := q.Drain(ctx, ap.Apply)
	require.NoError(t, err)
	require.Len(t, res.Failed, 1)

	raw, err := os.ReadFile(filepath.Join(q.Dir(), "pending.json"))
	require.NoError(t, err)
	var qf struct {
		Items []hookqueue.QueueItem `json:"items"`
	}
	require.NoError(t, json.Unmarshal(raw, &qf))
	require.Len(t, qf.Items, 1)
}
