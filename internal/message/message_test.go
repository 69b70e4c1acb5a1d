package message_test

import (
	"context"
	"testing"
	"time"

	"github.com/sin5ddd/sqlew/internal/message"
	"github.com/sin5ddd/sqlew/internal/retention"
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

func TestSendInsertsActivityLogRow(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t)
	s := message.New(a, 1, retention.Config{MessageHours: 24, FileHistoryDays: 30})

	log, err := s.Send(ctx, "tool_call", "ran set on security/jwt", message.SendParams{Agent: "claude"})
	require.NoError(t, err)
	require.NotZero(t, log.ID)

	var n int
	require.NoError(t, a.DB().QueryRow("SELECT COUNT(*) FROM t_activity_log").Scan(&n))
	require.Equal(t, 1, n)
}

func TestSendRejectsEmptyEventType(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t)
	s := message.New(a, 1, retention.Config{MessageHours: 24, FileHistoryDays: 30})
	_, err := s.Send(ctx, "", "detail", message.SendParams{})
	require.Error(t, err)
}

func TestSendTriggersRetentionCleanup(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t)
	s := message.New(a, 1, retention.Config{MessageHours: 1, FileHistoryDays: 30})

	old := time.Now().Add(-2 * time.Hour).Unix()
	_, err := a.DB().Exec("INSERT INTO t_activity_log (project_id, agent_id, event_type, detail, ts) VALUES (1, 1, 'old', 'stale', ?)", old)
	require.NoError(t, err)

	_, err = s.Send(ctx, "tool_call", "new event", message.SendParams{Agent: "claude"})
	require.NoError(t, err)

	var n int
	require.NoError(t, a.DB().QueryRow("SELECT COUNT(*) FROM t_activity_log WHERE detail = 'stale'").Scan(&n))
	require.Equal(t, 0, n)
}

func TestSendBatchAtomicRollsBackOnEmptyEventType(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t)
	s := message.New(a, 1, retention.Config{MessageHours: 24, FileHistoryDays: 30})

	items := []message.BatchSendItem{
		{EventType: "tool_call", Detail: "ok"},
		{EventType: "", Detail: "bad"},
	}
	_, err := s.SendBatch(ctx, items, true)
	require.Error(t, err)

	var n int
	require.NoError(t, a.DB().QueryRow("SELECT COUNT(*) FROM t_activity_log").Scan(&n))
	require.Equal(t, 0, n)
}

func TestSendBatchAtomicSucceeds(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t)
	s := message.New(a, 1, retention.Config{MessageHours: 24, FileHistoryDays: 30})

	items := []message.BatchSendItem{
		{EventType: "tool_call", Detail: "ok"},
		{EventType: "tool_call", Detail: "ok2"},
	}
	res, err := s.SendBatch(ctx, items, true)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, 2, res.Inserted)
}
