package batch_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/sin5ddd/sqlew/internal/batch"
	"github.com/sin5ddd/sqlew/internal/decision"
	"github.com/sin5ddd/sqlew/internal/sqlerr"
	"github.com/sin5ddd/sqlew/internal/storage"
	"github.com/stretchr/testify/require"
)

type decisionItem struct {
	Key   string
	Value string
	Layer string
}

func validDecisionItem(item decisionItem) error {
	if item.Key == "" {
		return sqlerr.Validation("key", "key must not be empty")
	}
	switch item.Layer {
	case "", "presentation", "business", "data", "infrastructure", "cross-cutting", "planning", "meta":
		return nil
	default:
		return sqlerr.Validation("layer", "invalid layer %q", item.Layer)
	}
}

func newTestAdapter(t *testing.T) *storage.Adapter {
	t.Helper()
	ctx := context.Background()
	a, err := storage.Open(ctx, storage.ConnConfig{Dialect: storage.DialectSQLite, Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, storage.RunMigrations(ctx, a, storage.AllMigrations()))
	t.Cleanup(func() { a.Close() })
	return a
}

func countDecisions(t *testing.T, a *storage.Adapter) int {
	t.Helper()
	var n int
	err := a.DB().QueryRow("SELECT COUNT(*) FROM t_decisions").Scan(&n)
	require.NoError(t, err)
	return n
}

// Scenario F: set_batch({items:[valid, invalid-layer, valid]}, atomic:true)
// throws, and the decision count before equals the count after.
func TestExecuteAtomicRollsBackEntireBatchOnFailure(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t)
	d := decision.New(a, 1)

	before := countDecisions(t, a)

	items := []decisionItem{
		{Key: "a", Value: "1", Layer: "business"},
		{Key: "b", Value: "2", Layer: "not_a_real_layer"},
		{Key: "c", Value: "3", Layer: "business"},
	}
	err := batch.ExecuteAtomic(ctx, a, items, validDecisionItem, func(ctx context.Context, tx *storage.Tx, item decisionItem) error {
		_, err := d.Set(ctx, item.Key, item.Value, decision.SetParams{Layer: item.Layer})
		return err
	})
	require.Error(t, err)

	var batchErr *sqlerr.BatchError
	require.ErrorAs(t, err, &batchErr)

	after := countDecisions(t, a)
	require.Equal(t, before, after)
}

func TestExecuteAtomicRejectsOversizedBatch(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t)
	items := make([]decisionItem, batch.MaxItems+1)
	for i := range items {
		items[i] = decisionItem{Key: fmt.Sprintf("k%d", i), Value: "v", Layer: "business"}
	}
	err := batch.ExecuteAtomic(ctx, a, items, validDecisionItem, func(context.Context, *storage.Tx, decisionItem) error {
		return nil
	})
	require.Error(t, err)
}

func TestExecuteAtomicSucceedsWhenAllValid(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t)
	d := decision.New(a, 1)
	items := []decisionItem{
		{Key: "a", Value: "1", Layer: "business"},
		{Key: "b", Value: "2", Layer: "business"},
	}
	err := batch.ExecuteAtomic(ctx, a, items, validDecisionItem, func(ctx context.Context, tx *storage.Tx, item decisionItem) error {
		_, err := d.Set(ctx, item.Key, item.Value, decision.SetParams{Layer: item.Layer})
		return err
	})
	require.NoError(t, err)
	require.Equal(t, 2, countDecisions(t, a))
}

func TestExecuteBestEffortRejectsBatchOnPreflightFailure(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t)
	d := decision.New(a, 1)
	items := []decisionItem{
		{Key: "a", Value: "1", Layer: "business"},
		{Key: "", Value: "2", Layer: "business"}, // fails preflight
	}

	res, err := batch.ExecuteBestEffort(ctx, items, validDecisionItem, func(ctx context.Context, item decisionItem) (any, error) {
		got, err := d.Set(ctx, item.Key, item.Value, decision.SetParams{Layer: item.Layer})
		return got, err
	})
	require.Error(t, err)
	require.Empty(t, res.Results)
}

func TestExecuteBestEffortContinuesPastPerItemApplyFailure(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t)
	d := decision.New(a, 1)
	items := []decisionItem{
		{Key: "a", Value: "1", Layer: "business"},
		{Key: "b", Value: "2", Layer: "business"},
	}

	callCount := 0
	res, err := batch.ExecuteBestEffort(ctx, items, validDecisionItem, func(ctx context.Context, item decisionItem) (any, error) {
		callCount++
		if item.Key == "b" {
			return nil, fmt.Errorf("simulated failure")
		}
		got, err := d.Set(ctx, item.Key, item.Value, decision.SetParams{Layer: item.Layer})
		return got, err
	})
	require.NoError(t, err)
	require.Equal(t, 2, callCount)
	require.False(t, res.Success)
	require.Equal(t, 1, res.Inserted)
	require.Equal(t, 1, res.Failed)
	require.Len(t, res.Results, 2)
}
