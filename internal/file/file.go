// Package file implements the file-change tracking half of the watched
// file surface: a record of what an agent did to a path, consulted by
// the task graph's completion quality gate and bulk-deleted by retention.
//
// Grounded on decision.Store's registry-resolve-then-insert shape
// (internal/decision/decision.go): resolve agent/file/layer IDs, then
// write a single transactional row.
package file

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sin5ddd/sqlew/internal/batch"
	"github.com/sin5ddd/sqlew/internal/decision"
	"github.com/sin5ddd/sqlew/internal/model"
	"github.com/sin5ddd/sqlew/internal/registry"
	"github.com/sin5ddd/sqlew/internal/sqlerr"
	"github.com/sin5ddd/sqlew/internal/storage"
)

// Store is the file-change recorder, bound to one project.
type Store struct {
	a         *storage.Adapter
	reg       *registry.Registry
	projectID int64
}

func New(a *storage.Adapter, projectID int64) *Store {
	return &Store{a: a, reg: registry.New(a), projectID: projectID}
}

// RecordParams carries the optional fields of a record call.
type RecordParams struct {
	Agent       string
	Layer       string
	Description string
}

// Record resolves the file path and agent to their IDs (auto-creating
// both), validates the change type, and inserts one t_file_changes row.
func (s *Store) Record(ctx context.Context, path string, changeType model.ChangeType, p RecordParams) (*model.FileChange, error) {
	if err := validateRecordItem(BatchRecordItem{Path: path, ChangeType: changeType}); err != nil {
		return nil, err
	}

	fc, err := s.resolve(ctx, path, changeType, p)
	if err != nil {
		return nil, err
	}
	err = s.a.Transaction(ctx, func(tx *storage.Tx) error {
		return s.insertTx(ctx, tx, fc)
	})
	if err != nil {
		return nil, err
	}
	return fc, nil
}

func (s *Store) insertTx(ctx context.Context, tx *storage.Tx, fc *model.FileChange) error {
	cols := []string{"project_id", "file_id", "agent_id", "change_type", "layer_id", "description", "ts"}
	vals := []any{fc.ProjectID, fc.FileID, fc.AgentID, string(fc.ChangeType), fc.LayerID, fc.Description, fc.TS}
	id, err := storage.InsertReturning(ctx, tx, "t_file_changes", cols, vals, "id")
	if err != nil {
		return err
	}
	fc.ID = id
	return nil
}

// resolve builds the FileChange row (IDs resolved, not yet inserted)
// shared by Record and RecordBatch.
func (s *Store) resolve(ctx context.Context, path string, changeType model.ChangeType, p RecordParams) (*model.FileChange, error) {
	now := time.Now().Unix()
	agentName := p.Agent
	if agentName == "" {
		agentName = "system"
	}
	agentID, err := s.reg.GetOrCreateAgent(ctx, agentName, now)
	if err != nil {
		return nil, err
	}
	fileID, err := s.reg.GetOrCreateFile(ctx, s.projectID, path)
	if err != nil {
		return nil, err
	}
	var layerID *int64
	if p.Layer != "" {
		id, err := s.reg.LookupLayer(ctx, p.Layer)
		if err != nil {
			return nil, err
		}
		layerID = &id
	}
	return &model.FileChange{
		ProjectID: s.projectID, FileID: fileID, AgentID: agentID,
		ChangeType: changeType, LayerID: layerID, Description: p.Description, TS: now,
	}, nil
}

// BatchRecordItem is one entry of a record_batch call.
type BatchRecordItem struct {
	Path       string
	ChangeType model.ChangeType
	Params     RecordParams
}

func validateRecordItem(item BatchRecordItem) error {
	if strings.TrimSpace(item.Path) == "" {
		return sqlerr.Validation("path", "path must not be empty")
	}
	switch item.ChangeType {
	case model.ChangeCreated, model.ChangeModified, model.ChangeDeleted:
	default:
		return sqlerr.Validation("change_type", "invalid change_type %q (must be created, modified, or deleted)", item.ChangeType)
	}
	return nil
}

// RecordBatch validates every item, then either runs the whole batch in
// one transaction (atomic) or records each item independently.
func (s *Store) RecordBatch(ctx context.Context, items []BatchRecordItem, atomic bool) (batch.Result, error) {
	if atomic {
		err := batch.ExecuteAtomic(ctx, s.a, items, validateRecordItem, func(ctx context.Context, tx *storage.Tx, item BatchRecordItem) error {
			fc, err := s.resolve(ctx, item.Path, item.ChangeType, item.Params)
			if err != nil {
				return err
			}
			return s.insertTx(ctx, tx, fc)
		})
		if err != nil {
			return batch.Result{}, err
		}
		return batch.Result{Success: true, Inserted: len(items)}, nil
	}

	return batch.ExecuteBestEffort(ctx, items, validateRecordItem, func(ctx context.Context, item BatchRecordItem) (any, error) {
		return s.Record(ctx, item.Path, item.ChangeType, item.Params)
	})
}

// QueryFilter selects the file-change history `query files` reads,
// mirroring decision's SearchByLayer/SearchAdvanced filter shape.
type QueryFilter struct {
	Layer string
	Since string // "5m"/"1h"/"2d" or ISO8601, resolved via decision.ResolveRelativeTime
	Limit int
}

// QueryResult is one row of a file-change query: resolved path and agent
// name, not raw IDs.
type QueryResult struct {
	Path        string
	ChangeType  model.ChangeType
	Agent       string
	Layer       string
	Description string
	Timestamp   int64
}

// Query lists recorded file changes for the project, most recent first,
// filtered by f's non-empty fields.
func (s *Store) Query(ctx context.Context, f QueryFilter) ([]QueryResult, error) {
	db := s.a.DB()
	ph := s.a.Dialect().Placeholder

	where := []string{fmt.Sprintf("fc.project_id = %s", ph(1))}
	args := []any{s.projectID}
	n := 1

	if f.Layer != "" {
		layerID, err := s.reg.LookupLayer(ctx, f.Layer)
		if err != nil {
			return nil, err
		}
		n++
		where = append(where, fmt.Sprintf("fc.layer_id = %s", ph(n)))
		args = append(args, layerID)
	}
	if f.Since != "" {
		cutoff, err := decision.ResolveRelativeTime(f.Since)
		if err != nil {
			return nil, err
		}
		n++
		where = append(where, fmt.Sprintf("fc.ts > %s", ph(n)))
		args = append(args, cutoff)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(`SELECT fp.path, fc.change_type, a.name, l.name, fc.description, fc.ts
		FROM t_file_changes fc
		JOIN m_file_paths fp ON fp.id = fc.file_id
		JOIN m_agents a ON a.id = fc.agent_id
		LEFT JOIN m_layers l ON l.id = fc.layer_id
		WHERE %s
		ORDER BY fc.ts DESC
		LIMIT %d`, strings.Join(where, " AND "), limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []QueryResult
	for rows.Next() {
		var r QueryResult
		var layer *string
		var changeType string
		if err := rows.Scan(&r.Path, &changeType, &r.Agent, &layer, &r.Description, &r.Timestamp); err != nil {
			return nil, err
		}
		r.ChangeType = model.ChangeType(changeType)
		if layer != nil {
			r.Layer = *layer
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
