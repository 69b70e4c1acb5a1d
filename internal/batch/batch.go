// Package batch implements the generic atomic/best-effort batch
// executor shared by decision.SetBatch, task.CreateBatch,
// file.RecordBatch, and message.SendBatch: validate every item before
// any write, then either run the whole batch in one transaction
// (atomic) or apply each item independently (best-effort).
//
// Grounded on the teacher's transaction-wrapper convention
// (storage.Adapter.Transaction wrapping fn in one commit/rollback
// boundary, mirroring internal/storage/sqlite's withTx-style helpers)
// for the atomic path, and on golang.org/x/sync/errgroup for bounding
// concurrency on the best-effort path.
package batch

import (
	"context"
	"fmt"

	"github.com/sin5ddd/sqlew/internal/sqlerr"
	"github.com/sin5ddd/sqlew/internal/storage"
	"golang.org/x/sync/errgroup"
)

// MaxItems is the hard cap on a single batch call.
const MaxItems = 50

// Validate checks a single item's shape before any write is attempted.
type Validate[T any] func(item T) error

// ApplyTx writes one item inside the shared atomic transaction.
type ApplyTx[T any] func(ctx context.Context, tx *storage.Tx, item T) error

// ApplyIndependent writes one item using its own transaction/connection,
// for the best-effort path where items don't share a transaction.
type ApplyIndependent[T any] func(ctx context.Context, item T) (any, error)

// ItemResult is one entry of a best-effort batch's results array.
type ItemResult struct {
	Success bool
	Data    any
	Error   error
}

// Result is the best-effort batch's summary.
type Result struct {
	Success  bool
	Inserted int
	Failed   int
	Results  []ItemResult
}

// ExecuteAtomic validates every item, rejecting the whole batch with an
// aggregated *sqlerr.BatchError if any item is structurally invalid
// before opening a transaction, then runs all items in one transaction:
// the first item failure rolls back everything applied so far.
func ExecuteAtomic[T any](ctx context.Context, a *storage.Adapter, items []T, validate Validate[T], apply ApplyTx[T]) error {
	if err := preflight(items, validate); err != nil {
		return err
	}
	return a.Transaction(ctx, func(tx *storage.Tx) error {
		for i, item := range items {
			if err := apply(ctx, tx, item); err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
		}
		return nil
	})
}

// ExecuteBestEffort validates every item up front (same pre-flight
// rejection as the atomic path), then applies each item independently
// via a bounded-concurrency errgroup; a failure in one item never
// affects another's outcome.
func ExecuteBestEffort[T any](ctx context.Context, items []T, validate Validate[T], apply ApplyIndependent[T]) (Result, error) {
	if err := preflight(items, validate); err != nil {
		return Result{}, err
	}

	results := make([]ItemResult, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			data, err := apply(gctx, item)
			if err != nil {
				results[i] = ItemResult{Success: false, Error: err}
			} else {
				results[i] = ItemResult{Success: true, Data: data}
			}
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Results: results}
	for _, r := range results {
		if r.Success {
			res.Inserted++
		} else {
			res.Failed++
		}
	}
	res.Success = res.Failed == 0
	return res, nil
}

func preflight[T any](items []T, validate Validate[T]) error {
	if len(items) == 0 {
		return sqlerr.Validation("items", "batch must contain at least one item")
	}
	if len(items) > MaxItems {
		return sqlerr.Validation("items", "batch exceeds the %d item cap (got %d)", MaxItems, len(items))
	}
	var failures []sqlerr.ItemError
	for i, item := range items {
		if err := validate(item); err != nil {
			failures = append(failures, sqlerr.ItemError{Index: i, Err: err})
		}
	}
	if len(failures) > 0 {
		return &sqlerr.BatchError{Items: failures}
	}
	return nil
}
