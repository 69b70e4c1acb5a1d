// Package retention implements the auto-cleanup rules: age-based
// deletion of message/file-change rows, with an optional weekend-aware
// cutoff that skips full Saturday-Sunday spans. Decisions, decision
// history, constraints, and tasks are never auto-deleted.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/sin5ddd/sqlew/internal/storage"
)

// Config carries the autodelete settings resolved from configresolve.Config.
type Config struct {
	MessageHours    int
	FileHistoryDays int
	IgnoreWeekend   bool
}

// Result reports how many rows each rule removed.
type Result struct {
	MessagesDeleted    int64
	FileChangesDeleted int64
}

// PerformAutoCleanup deletes message/file-change rows whose retention
// window (weekend-adjusted if configured) has elapsed as of now. Call on
// every message insert and once at startup.
func PerformAutoCleanup(ctx context.Context, a *storage.Adapter, projectID int64, cfg Config, now time.Time) (Result, error) {
	var res Result

	n, err := deleteEligible(ctx, a, "t_activity_log", projectID, time.Duration(cfg.MessageHours)*time.Hour, cfg.IgnoreWeekend, now)
	if err != nil {
		return res, fmt.Errorf("cleaning activity log: %w", err)
	}
	res.MessagesDeleted = n

	n, err = deleteEligible(ctx, a, "t_file_changes", projectID, time.Duration(cfg.FileHistoryDays)*24*time.Hour, cfg.IgnoreWeekend, now)
	if err != nil {
		return res, fmt.Errorf("cleaning file changes: %w", err)
	}
	res.FileChangesDeleted = n

	return res, nil
}

// deleteEligible fetches every row whose naive (non-weekend-adjusted)
// window has already elapsed — a cheap necessary condition, since
// weekend adjustment only ever pushes eligibility later — then, when
// ignoreWeekend is set, re-checks each candidate's exact eligible time
// in Go before deleting it by id.
func deleteEligible(ctx context.Context, a *storage.Adapter, table string, projectID int64, retention time.Duration, ignoreWeekend bool, now time.Time) (int64, error) {
	db := a.DB()
	ph := a.Dialect().Placeholder
	naiveCutoff := now.Add(-retention).Unix()

	if !ignoreWeekend {
		res, err := db.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE project_id=%s AND ts < %s", table, ph(1), ph(2)),
			projectID, naiveCutoff)
		if err != nil {
			return 0, err
		}
		return res.RowsAffected()
	}

	rows, err := db.QueryContext(ctx,
		fmt.Sprintf("SELECT id, ts FROM %s WHERE project_id=%s AND ts < %s", table, ph(1), ph(2)),
		projectID, naiveCutoff)
	if err != nil {
		return 0, err
	}
	type candidate struct {
		id int64
		ts int64
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.ts); err != nil {
			rows.Close()
			return 0, err
		}
		candidates = append(candidates, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	var deleted int64
	for _, c := range candidates {
		eligible := EligibleDeletionTime(time.Unix(c.ts, 0).In(now.Location()), retention)
		if now.Before(eligible) {
			continue
		}
		if _, err := db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id=%s", table, ph(1)), c.id); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// EligibleDeletionTime computes the instant a row posted at ts becomes
// eligible for deletion under retention, skipping past any full
// Saturday-Sunday span the naive window would otherwise count against
// it. A message posted Friday 15:00 with a 24h retention is not
// eligible until Monday 15:00: the window touches Saturday, so the
// whole weekend is skipped, landing eligibility two days later than the
// naive Saturday 15:00.
func EligibleDeletionTime(ts time.Time, retention time.Duration) time.Time {
	eligible := ts.Add(retention)
	cursor := ts
	for {
		weekendStart := nextSaturdayMidnight(cursor)
		if !weekendStart.Before(eligible) {
			break
		}
		eligible = eligible.Add(48 * time.Hour)
		cursor = weekendStart.Add(48 * time.Hour)
	}
	return eligible
}

// nextSaturdayMidnight returns 00:00 of the Saturday on or after from's
// calendar day (so a from that already falls on Saturday returns that
// same day's midnight).
func nextSaturdayMidnight(from time.Time) time.Time {
	d := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, from.Location())
	for d.Weekday() != time.Saturday {
		d = d.Add(24 * time.Hour)
	}
	return d
}
