package hookqueue

import (
	"context"
	"encoding/json"
	"os"
	"time"
)

const lockStaleAfter = 30 * time.Second

type lockInfo struct {
	PID         int   `json:"pid"`
	TimestampMS int64 `json:"timestamp_ms"`
}

// ApplyFunc applies one queue item to the store, returning an error if
// the item could not be processed (it is then retried next drain).
type ApplyFunc func(ctx context.Context, item QueueItem) error

// FailedItem pairs a queue item with the error it produced during drain.
type FailedItem struct {
	Item QueueItem
	Err  error
}

// DrainResult summarizes one drain pass.
type DrainResult struct {
	Attempted int
	Processed int
	Failed    []FailedItem
	Skipped   bool // another drain held the lock; this attempt was abandoned
}

// Drain acquires the lock (overwriting a stale or corrupt one), clears
// the queue immediately to close the re-entrant-drain race, then
// applies each item in insertion order. Items that fail are written
// back as the new queue contents for the next drain to retry.
func (q *Queue) Drain(ctx context.Context, apply ApplyFunc) (DrainResult, error) {
	acquired, err := q.acquireLock()
	if err != nil {
		return DrainResult{}, err
	}
	if !acquired {
		return DrainResult{Skipped: true}, nil
	}
	defer q.releaseLock()

	qf, err := q.read()
	if err != nil {
		return DrainResult{}, err
	}
	items := qf.Items

	if err := q.writeAtomic(queueFile{Items: []QueueItem{}}); err != nil {
		return DrainResult{}, err
	}

	var failed []FailedItem
	for _, item := range items {
		if err := apply(ctx, item); err != nil {
			failed = append(failed, FailedItem{Item: item, Err: err})
		}
	}

	if len(failed) > 0 {
		retry := make([]QueueItem, len(failed))
		for i, f := range failed {
			retry[i] = f.Item
		}
		if err := q.writeAtomic(queueFile{Items: retry}); err != nil {
			return DrainResult{Attempted: len(items), Processed: len(items) - len(failed), Failed: failed}, err
		}
	}

	return DrainResult{Attempted: len(items), Processed: len(items) - len(failed), Failed: failed}, nil
}

// acquireLock implements the stale-lock protocol: missing lock creates
// one, a lock younger than 30s abandons this attempt, a lock 30s or
// older (or unparseable) is overwritten.
func (q *Queue) acquireLock() (bool, error) {
	data, err := os.ReadFile(q.lockPath())
	if err == nil {
		var li lockInfo
		if jerr := json.Unmarshal(data, &li); jerr == nil {
			if time.Since(time.UnixMilli(li.TimestampMS)) < lockStaleAfter {
				return false, nil
			}
		}
		// stale or corrupt: fall through and overwrite.
	} else if !os.IsNotExist(err) {
		return false, err
	}

	li := lockInfo{PID: os.Getpid(), TimestampMS: time.Now().UnixMilli()}
	data, err = json.Marshal(li)
	if err != nil {
		return false, err
	}
	if err := os.WriteFile(q.lockPath(), data, 0o644); err != nil {
		return false, err
	}
	return true, nil
}

func (q *Queue) releaseLock() error {
	err := os.Remove(q.lockPath())
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
