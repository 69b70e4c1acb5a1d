package retention_test

import (
	"context"
	"testing"
	"time"

	"github.com/sin5ddd/sqlew/internal/retention"
	"github.com/sin5ddd/sqlew/internal/storage"
	"github.com/stretchr/testify/require"
)

func mustLoc(t *testing.T) *time.Location {
	t.Helper()
	return time.UTC
}

func TestEligibleDeletionTimeWeekendAwareScenario(t *testing.T) {
	loc := mustLoc(t)
	// Friday 2026-08-07 15:00.
	fri := time.Date(2026, 8, 7, 15, 0, 0, 0, loc)
	require.Equal(t, time.Friday, fri.Weekday())

	eligible := retention.EligibleDeletionTime(fri, 24*time.Hour)
	wantMonday := time.Date(2026, 8, 10, 15, 0, 0, 0, loc)
	require.Equal(t, time.Monday, wantMonday.Weekday())
	require.True(t, eligible.Equal(wantMonday), "eligible=%v want=%v", eligible, wantMonday)

	justBefore := wantMonday.Add(-time.Minute)
	require.True(t, justBefore.Before(eligible), "Monday 14:59 should not yet be eligible")

	justAfter := wantMonday.Add(time.Minute)
	require.True(t, !justAfter.Before(eligible), "Monday 15:01 should be eligible")
}

func TestEligibleDeletionTimeNoWeekendInWindow(t *testing.T) {
	loc := mustLoc(t)
	// Tuesday, 24h retention never touches a weekend.
	tue := time.Date(2026, 8, 4, 10, 0, 0, 0, loc)
	eligible := retention.EligibleDeletionTime(tue, 24*time.Hour)
	require.True(t, eligible.Equal(tue.Add(24*time.Hour)))
}

func TestEligibleDeletionTimeLongRetentionSpansTwoWeekends(t *testing.T) {
	loc := mustLoc(t)
	// Friday 2026-08-07 15:00, retention of 9 days naively lands on the
	// following Sunday; two full weekends fall inside that window.
	fri := time.Date(2026, 8, 7, 15, 0, 0, 0, loc)
	eligible := retention.EligibleDeletionTime(fri, 9*24*time.Hour)
	want := fri.Add(9 * 24 * time.Hour).Add(2 * 48 * time.Hour)
	require.True(t, eligible.Equal(want), "eligible=%v want=%v", eligible, want)
}

func TestPerformAutoCleanupDeletesOnlyEligibleRows(t *testing.T) {
	ctx := context.Background()
	a, err := storage.Open(ctx, storage.ConnConfig{Dialect: storage.DialectSQLite, Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, storage.RunMigrations(ctx, a, storage.AllMigrations()))
	t.Cleanup(func() { a.Close() })

	loc := mustLoc(t)
	fri := time.Date(2026, 8, 7, 15, 0, 0, 0, loc)
	ph := a.Dialect().Placeholder
	_, err = a.DB().ExecContext(ctx,
		"INSERT INTO t_activity_log (project_id, agent_id, event_type, detail, ts) VALUES ("+ph(1)+", "+ph(2)+", "+ph(3)+", "+ph(4)+", "+ph(5)+")",
		1, 1, "message", "message from friday", fri.Unix())
	require.NoError(t, err)

	justBefore := time.Date(2026, 8, 10, 14, 59, 0, 0, loc)
	res, err := retention.PerformAutoCleanup(ctx, a, 1, retention.Config{MessageHours: 24, IgnoreWeekend: true}, justBefore)
	require.NoError(t, err)
	require.EqualValues(t, 0, res.MessagesDeleted)

	justAfter := time.Date(2026, 8, 10, 15, 1, 0, 0, loc)
	res, err = retention.PerformAutoCleanup(ctx, a, 1, retention.Config{MessageHours: 24, IgnoreWeekend: true}, justAfter)
	require.NoError(t, err)
	require.EqualValues(t, 1, res.MessagesDeleted)
}

func TestPerformAutoCleanupWithoutWeekendAwarenessUsesNaiveCutoff(t *testing.T) {
	ctx := context.Background()
	a, err := storage.Open(ctx, storage.ConnConfig{Dialect: storage.DialectSQLite, Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, storage.RunMigrations(ctx, a, storage.AllMigrations()))
	t.Cleanup(func() { a.Close() })

	loc := mustLoc(t)
	fri := time.Date(2026, 8, 7, 15, 0, 0, 0, loc)
	ph := a.Dialect().Placeholder
	_, err = a.DB().ExecContext(ctx,
		"INSERT INTO t_activity_log (project_id, agent_id, event_type, detail, ts) VALUES ("+ph(1)+", "+ph(2)+", "+ph(3)+", "+ph(4)+", "+ph(5)+")",
		1, 1, "message", "message from friday", fri.Unix())
	require.NoError(t, err)

	saturday := time.Date(2026, 8, 8, 16, 0, 0, 0, loc)
	res, err := retention.PerformAutoCleanup(ctx, a, 1, retention.Config{MessageHours: 24, IgnoreWeekend: false}, saturday)
	require.NoError(t, err)
	require.EqualValues(t, 1, res.MessagesDeleted, "naive cutoff deletes once the raw 24h window elapses, weekend or not")
}
