// Package message implements the append-only agent message / activity
// stream (t_activity_log): short event records ("agent X did Y") posted
// by agents and pruned by retention's message_hours rule.
//
// Grounded on decision.Store's resolve-then-insert shape. Send follows
// the "on every message insert, run perform_auto_cleanup" rule by
// triggering the same cleanup internal/retention runs at startup.
package message

import (
	"context"
	"strings"
	"time"

	"github.com/sin5ddd/sqlew/internal/batch"
	"github.com/sin5ddd/sqlew/internal/model"
	"github.com/sin5ddd/sqlew/internal/registry"
	"github.com/sin5ddd/sqlew/internal/retention"
	"github.com/sin5ddd/sqlew/internal/sqlerr"
	"github.com/sin5ddd/sqlew/internal/storage"
)

// Store is the message/activity-log recorder, bound to one project.
type Store struct {
	a            *storage.Adapter
	reg          *registry.Registry
	projectID    int64
	retentionCfg retention.Config
}

func New(a *storage.Adapter, projectID int64, retentionCfg retention.Config) *Store {
	return &Store{a: a, reg: registry.New(a), projectID: projectID, retentionCfg: retentionCfg}
}

// SendParams carries the optional fields of a send call.
type SendParams struct {
	Agent string
}

// Send resolves the agent (auto-creating it), inserts one t_activity_log
// row, then runs perform_auto_cleanup against the configured retention.
func (s *Store) Send(ctx context.Context, eventType, detail string, p SendParams) (*model.ActivityLog, error) {
	if strings.TrimSpace(eventType) == "" {
		return nil, sqlerr.Validation("event_type", "event_type must not be empty")
	}
	now := time.Now()
	agentName := p.Agent
	if agentName == "" {
		agentName = "system"
	}
	agentID, err := s.reg.GetOrCreateAgent(ctx, agentName, now.Unix())
	if err != nil {
		return nil, err
	}

	log := &model.ActivityLog{ProjectID: s.projectID, AgentID: agentID, EventType: eventType, Detail: detail, TS: now.Unix()}
	err = s.a.Transaction(ctx, func(tx *storage.Tx) error {
		cols := []string{"project_id", "agent_id", "event_type", "detail", "ts"}
		vals := []any{log.ProjectID, log.AgentID, log.EventType, log.Detail, log.TS}
		id, err := storage.InsertReturning(ctx, tx, "t_activity_log", cols, vals, "id")
		if err != nil {
			return err
		}
		log.ID = id
		return nil
	})
	if err != nil {
		return nil, err
	}

	if _, err := retention.PerformAutoCleanup(ctx, s.a, s.projectID, s.retentionCfg, now); err != nil {
		return nil, err
	}
	return log, nil
}

// BatchSendItem is one entry of a send_batch call.
type BatchSendItem struct {
	EventType string
	Detail    string
	Params    SendParams
}

func validateSendItem(item BatchSendItem) error {
	if strings.TrimSpace(item.EventType) == "" {
		return sqlerr.Validation("event_type", "event_type must not be empty")
	}
	return nil
}

// SendBatch validates every item, then either runs the whole batch in one
// transaction (atomic, retention cleanup run once after commit) or sends
// each item independently. The hard cap and aggregated validation error
// follow the batch executor's standard pre-flight rules.
func (s *Store) SendBatch(ctx context.Context, items []BatchSendItem, atomic bool) (batch.Result, error) {
	if atomic {
		err := batch.ExecuteAtomic(ctx, s.a, items, validateSendItem, func(ctx context.Context, tx *storage.Tx, item BatchSendItem) error {
			agentName := item.Params.Agent
			if agentName == "" {
				agentName = "system"
			}
			now := time.Now().Unix()
			agentID, err := s.reg.GetOrCreateAgent(ctx, agentName, now)
			if err != nil {
				return err
			}
			cols := []string{"project_id", "agent_id", "event_type", "detail", "ts"}
			vals := []any{s.projectID, agentID, item.EventType, item.Detail, now}
			_, err = storage.InsertReturning(ctx, tx, "t_activity_log", cols, vals, "id")
			return err
		})
		if err != nil {
			return batch.Result{}, err
		}
		if _, err := retention.PerformAutoCleanup(ctx, s.a, s.projectID, s.retentionCfg, time.Now()); err != nil {
			return batch.Result{}, err
		}
		return batch.Result{Success: true, Inserted: len(items)}, nil
	}

	return batch.ExecuteBestEffort(ctx, items, validateSendItem, func(ctx context.Context, item BatchSendItem) (any, error) {
		return s.Send(ctx, item.EventType, item.Detail, item.Params)
	})
}
