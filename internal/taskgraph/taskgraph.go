// Package taskgraph implements a state-machine-gated task list with a
// dependency DAG, file/decision/constraint links, and a completion
// quality gate that prunes watched files missing from disk before
// allowing a task to reach done.
package taskgraph

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"github.com/sin5ddd/sqlew/internal/batch"
	"github.com/sin5ddd/sqlew/internal/model"
	"github.com/sin5ddd/sqlew/internal/registry"
	"github.com/sin5ddd/sqlew/internal/sqlerr"
	"github.com/sin5ddd/sqlew/internal/storage"
)

const maxDependencyDepth = 100

type Store struct {
	a         *storage.Adapter
	reg       *registry.Registry
	projectID int64
	nowTS     func() int64
}

func New(a *storage.Adapter, projectID int64, nowTS func() int64) *Store {
	return &Store{a: a, reg: registry.New(a), projectID: projectID, nowTS: nowTS}
}

// CreateParams carries the optional fields of a create call.
type CreateParams struct {
	Description string
	Priority    int
	Layer       string
	Tags        []string
	Agent       string
}

// Create inserts a task in the todo state.
func (s *Store) Create(ctx context.Context, title string, p CreateParams) (*model.Task, error) {
	if strings.TrimSpace(title) == "" {
		return nil, sqlerr.Validation("title", "title must not be empty")
	}

	layerID, agentID, now, err := s.resolveCreateIDs(ctx, p)
	if err != nil {
		return nil, err
	}

	var t *model.Task
	err = s.a.Transaction(ctx, func(tx *storage.Tx) error {
		v, err := s.createTx(ctx, tx, title, layerID, agentID, now, p)
		t = v
		return err
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// resolveCreateIDs resolves the layer/agent IDs shared by Create and
// CreateBatch.
func (s *Store) resolveCreateIDs(ctx context.Context, p CreateParams) (layerID *int64, agentID, now int64, err error) {
	if p.Layer != "" {
		id, lerr := s.reg.LookupLayer(ctx, p.Layer)
		if lerr != nil {
			return nil, 0, 0, lerr
		}
		layerID = &id
	}
	agentName := p.Agent
	if agentName == "" {
		agentName = "system"
	}
	now = s.nowTS()
	agentID, err = s.reg.GetOrCreateAgent(ctx, agentName, now)
	return layerID, agentID, now, err
}

// createTx performs the write half of Create inside a caller-supplied
// transaction, so CreateBatch's atomic mode can share one transaction
// across every item.
func (s *Store) createTx(ctx context.Context, tx *storage.Tx, title string, layerID *int64, agentID, now int64, p CreateParams) (*model.Task, error) {
	t := &model.Task{
		ProjectID: s.projectID, Title: title, StatusID: model.TaskStatusTodo,
		Priority: p.Priority, LayerID: layerID, CreatedByAgentID: agentID,
		CreatedTS: now, UpdatedTS: now,
	}
	cols := []string{"project_id", "title", "status_id", "priority", "layer_id", "created_by_agent_id", "created_ts", "updated_ts"}
	vals := []any{t.ProjectID, t.Title, int(t.StatusID), t.Priority, t.LayerID, t.CreatedByAgentID, t.CreatedTS, t.UpdatedTS}
	id, err := storage.InsertReturning(ctx, tx, "t_tasks", cols, vals, "id")
	if err != nil {
		return nil, fmt.Errorf("inserting task: %w", err)
	}
	t.ID = id

	if p.Description != "" {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("INSERT INTO t_task_details (task_id, description) VALUES (%s,%s)",
				tx.Dialect().Placeholder(1), tx.Dialect().Placeholder(2)),
			t.ID, p.Description); err != nil {
			return nil, fmt.Errorf("inserting task details: %w", err)
		}
	}
	for _, tagName := range p.Tags {
		tagID, err := s.reg.GetOrCreateTag(ctx, s.projectID, tagName)
		if err != nil {
			return nil, fmt.Errorf("resolving tag %q: %w", tagName, err)
		}
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("INSERT INTO t_task_tags (task_id, tag_id) VALUES (%s,%s)",
				tx.Dialect().Placeholder(1), tx.Dialect().Placeholder(2)),
			t.ID, tagID); err != nil {
			return nil, fmt.Errorf("inserting task_tags: %w", err)
		}
	}
	return t, nil
}

// BatchCreateItem is one entry of a batch_create call.
type BatchCreateItem struct {
	Title  string
	Params CreateParams
}

// CreateBatch validates every item (non-empty title, known layer if
// given), then either runs the whole batch in one transaction (atomic)
// or creates each task independently.
func (s *Store) CreateBatch(ctx context.Context, items []BatchCreateItem, atomic bool) (batch.Result, error) {
	validate := func(item BatchCreateItem) error {
		if strings.TrimSpace(item.Title) == "" {
			return sqlerr.Validation("title", "title must not be empty")
		}
		if item.Params.Layer != "" {
			if _, err := s.reg.LookupLayer(ctx, item.Params.Layer); err != nil {
				return sqlerr.Validation("layer", "invalid layer %q", item.Params.Layer)
			}
		}
		return nil
	}

	if atomic {
		err := batch.ExecuteAtomic(ctx, s.a, items, validate, func(ctx context.Context, tx *storage.Tx, item BatchCreateItem) error {
			layerID, agentID, now, err := s.resolveCreateIDs(ctx, item.Params)
			if err != nil {
				return err
			}
			_, err = s.createTx(ctx, tx, item.Title, layerID, agentID, now, item.Params)
			return err
		})
		if err != nil {
			return batch.Result{}, err
		}
		return batch.Result{Success: true, Inserted: len(items)}, nil
	}

	return batch.ExecuteBestEffort(ctx, items, validate, func(ctx context.Context, item BatchCreateItem) (any, error) {
		return s.Create(ctx, item.Title, item.Params)
	})
}

// TaskView is the read-path projection of a task.
type TaskView struct {
	ID          int64
	Title       string
	Description string
	Status      string
	Priority    int
	Layer       string
	Tags        []string
}

// Get resolves a task's full view, including description and tag names.
func (s *Store) Get(ctx context.Context, taskID int64) (*TaskView, error) {
	db := s.a.DB()
	ph := s.a.Dialect().Placeholder

	var v TaskView
	var layerID sql.NullInt64
	var statusID int
	q := fmt.Sprintf("SELECT id, title, status_id, priority, layer_id FROM t_tasks WHERE id=%s AND project_id=%s", ph(1), ph(2))
	err := db.QueryRowContext(ctx, q, taskID, s.projectID).Scan(&v.ID, &v.Title, &statusID, &v.Priority, &layerID)
	if err == sql.ErrNoRows {
		return nil, sqlerr.NotFound("task", "task %d not found", taskID)
	}
	if err != nil {
		return nil, err
	}
	v.Status = model.TaskStatus(statusID).String()
	if layerID.Valid {
		name, err := s.reg.LayerName(ctx, layerID.Int64)
		if err != nil {
			return nil, err
		}
		v.Layer = name
	}
	_ = db.QueryRowContext(ctx, fmt.Sprintf("SELECT description FROM t_task_details WHERE task_id=%s", ph(1)), taskID).Scan(&v.Description)

	rows, err := db.QueryContext(ctx,
		fmt.Sprintf("SELECT t.name FROM t_task_tags tt JOIN m_tags t ON t.id=tt.tag_id WHERE tt.task_id=%s", ph(1)), taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		v.Tags = append(v.Tags, n)
	}
	return &v, rows.Err()
}

// List returns tasks optionally filtered by status, ordered by priority
// descending then creation order.
func (s *Store) List(ctx context.Context, status string, limit int) ([]TaskView, error) {
	db := s.a.DB()
	ph := s.a.Dialect().Placeholder

	where := fmt.Sprintf("project_id=%s", ph(1))
	args := []any{s.projectID}
	if status != "" {
		id, err := s.reg.LookupTaskStatus(ctx, status)
		if err != nil {
			return nil, err
		}
		where += fmt.Sprintf(" AND status_id=%s", ph(2))
		args = append(args, id)
	}
	query := fmt.Sprintf("SELECT id FROM t_tasks WHERE %s ORDER BY priority DESC, created_ts ASC", where)
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]TaskView, 0, len(ids))
	for _, id := range ids {
		v, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, nil
}

// UpdateParams carries the mutable fields of an update call; nil/empty
// fields leave the existing value untouched.
type UpdateParams struct {
	Title       *string
	Description *string
	Priority    *int
	Layer       *string
}

func (s *Store) Update(ctx context.Context, taskID int64, p UpdateParams) error {
	set := []string{}
	args := []any{}
	ph := s.a.Dialect().Placeholder
	n := 0

	if p.Title != nil {
		n++
		set = append(set, fmt.Sprintf("title=%s", ph(n)))
		args = append(args, *p.Title)
	}
	if p.Priority != nil {
		n++
		set = append(set, fmt.Sprintf("priority=%s", ph(n)))
		args = append(args, *p.Priority)
	}
	if p.Layer != nil {
		layerID, err := s.reg.LookupLayer(ctx, *p.Layer)
		if err != nil {
			return err
		}
		n++
		set = append(set, fmt.Sprintf("layer_id=%s", ph(n)))
		args = append(args, layerID)
	}
	n++
	set = append(set, fmt.Sprintf("updated_ts=%s", ph(n)))
	args = append(args, s.nowTS())

	n++
	args = append(args, taskID)
	whereTask := ph(n)
	n++
	args = append(args, s.projectID)
	whereProj := ph(n)

	db := s.a.DB()
	_, err := db.ExecContext(ctx,
		fmt.Sprintf("UPDATE t_tasks SET %s WHERE id=%s AND project_id=%s", strings.Join(set, ", "), whereTask, whereProj),
		args...)
	if err != nil {
		return err
	}

	if p.Description != nil {
		return s.upsertDescription(ctx, taskID, *p.Description)
	}
	return nil
}

func (s *Store) upsertDescription(ctx context.Context, taskID int64, description string) error {
	return s.a.Transaction(ctx, func(tx *storage.Tx) error {
		_, err := storage.Upsert(ctx, tx, "t_task_details",
			[]string{"task_id", "description"}, []any{taskID, description},
			[]string{"task_id"}, []string{"description"})
		return err
	})
}

// Move transitions task to newStatus if the state machine permits it,
// applying the completion quality gate when moving toward done.
func (s *Store) Move(ctx context.Context, taskID int64, newStatus model.TaskStatus, fileExists func(string) bool) error {
	db := s.a.DB()
	ph := s.a.Dialect().Placeholder

	var statusID int
	err := db.QueryRowContext(ctx, fmt.Sprintf("SELECT status_id FROM t_tasks WHERE id=%s AND project_id=%s", ph(1), ph(2)), taskID, s.projectID).Scan(&statusID)
	if err == sql.ErrNoRows {
		return sqlerr.NotFound("task", "task %d not found", taskID)
	}
	if err != nil {
		return err
	}
	from := model.TaskStatus(statusID)

	if !isPermittedMove(from, newStatus) {
		return sqlerr.Conflict("status", "cannot move task %d from %s to %s", taskID, from, newStatus)
	}

	if newStatus == model.TaskStatusDone {
		if err := s.applyCompletionGate(ctx, taskID, fileExists); err != nil {
			return err
		}
	}

	_, err = db.ExecContext(ctx,
		fmt.Sprintf("UPDATE t_tasks SET status_id=%s, updated_ts=%s WHERE id=%s AND project_id=%s", ph(1), ph(2), ph(3), ph(4)),
		int(newStatus), s.nowTS(), taskID, s.projectID)
	return err
}

// applyCompletionGate checks every watched file against the filesystem.
// All missing → refuse. Some missing → prune those links into the audit
// table and proceed. None watched, or all present → proceed untouched.
func (s *Store) applyCompletionGate(ctx context.Context, taskID int64, fileExists func(string) bool) error {
	if fileExists == nil {
		fileExists = func(p string) bool {
			_, err := os.Stat(p)
			return err == nil
		}
	}
	db := s.a.DB()
	ph := s.a.Dialect().Placeholder

	rows, err := db.QueryContext(ctx,
		fmt.Sprintf(`SELECT fp.id, fp.path FROM t_task_file_links l
			JOIN m_file_paths fp ON fp.id = l.file_id
			WHERE l.task_id=%s`, ph(1)), taskID)
	if err != nil {
		return err
	}
	type link struct {
		fileID int64
		path   string
	}
	var links []link
	for rows.Next() {
		var l link
		if err := rows.Scan(&l.fileID, &l.path); err != nil {
			rows.Close()
			return err
		}
		links = append(links, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if len(links) == 0 {
		return nil
	}

	var missing []link
	for _, l := range links {
		if !fileExists(l.path) {
			missing = append(missing, l)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	if len(missing) == len(links) {
		return sqlerr.Conflict("completion", "no work evidenced: all %d watched files for task %d are missing", len(links), taskID)
	}

	now := s.nowTS()
	return s.a.Transaction(ctx, func(tx *storage.Tx) error {
		for _, l := range missing {
			cols := []string{"project_id", "task_id", "path", "pruned_ts"}
			vals := []any{s.projectID, taskID, l.path, now}
			if _, err := storage.InsertReturning(ctx, tx, "t_task_pruned_files", cols, vals, "id"); err != nil {
				return fmt.Errorf("recording pruned file: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				fmt.Sprintf("DELETE FROM t_task_file_links WHERE task_id=%s AND file_id=%s",
					tx.Dialect().Placeholder(1), tx.Dialect().Placeholder(2)),
				taskID, l.fileID); err != nil {
				return fmt.Errorf("deleting pruned link: %w", err)
			}
		}
		return nil
	})
}

// LinkTarget is what a link call connects a task to.
type LinkTarget string

const (
	LinkDecision   LinkTarget = "decision"
	LinkFile       LinkTarget = "file"
	LinkConstraint LinkTarget = "constraint"
)

// Link attaches a task to a decision key, a watched file path, or a
// constraint (via the task_decision_links table, reused for constraints
// under the context key "constraint:"+targetKeyOrPath, with relation
// defaulting to "constraint").
func (s *Store) Link(ctx context.Context, taskID int64, target LinkTarget, targetKeyOrPath string, relation string) error {
	switch target {
	case LinkFile:
		fileID, err := s.reg.GetOrCreateFile(ctx, s.projectID, targetKeyOrPath)
		if err != nil {
			return err
		}
		ph := s.a.Dialect().Placeholder
		_, err = s.a.DB().ExecContext(ctx,
			fmt.Sprintf("INSERT INTO t_task_file_links (task_id, file_id) VALUES (%s,%s)", ph(1), ph(2)),
			taskID, fileID)
		if isUniqueViolation(err) {
			return nil
		}
		return err
	case LinkDecision:
		keyID, err := s.reg.GetOrCreateContextKey(ctx, targetKeyOrPath)
		if err != nil {
			return err
		}
		ph := s.a.Dialect().Placeholder
		_, err = s.a.DB().ExecContext(ctx,
			fmt.Sprintf("INSERT INTO t_task_decision_links (task_id, decision_key_id, relation) VALUES (%s,%s,%s)", ph(1), ph(2), ph(3)),
			taskID, keyID, relation)
		if isUniqueViolation(err) {
			return nil
		}
		return err
	case LinkConstraint:
		keyID, err := s.reg.GetOrCreateContextKey(ctx, "constraint:"+targetKeyOrPath)
		if err != nil {
			return err
		}
		ph := s.a.Dialect().Placeholder
		rel := "constraint"
		if relation != "" {
			rel = relation
		}
		_, err = s.a.DB().ExecContext(ctx,
			fmt.Sprintf("INSERT INTO t_task_decision_links (task_id, decision_key_id, relation) VALUES (%s,%s,%s)", ph(1), ph(2), ph(3)),
			taskID, keyID, rel)
		if isUniqueViolation(err) {
			return nil
		}
		return err
	default:
		return sqlerr.Validation("target", "unknown link target %q", target)
	}
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}

// Archive moves a task directly to archived, valid from any non-archived
// state per the state machine.
func (s *Store) Archive(ctx context.Context, taskID int64) error {
	return s.Move(ctx, taskID, model.TaskStatusArchived, nil)
}
