// Package constraint implements the Constraint half of the Decision &
// Constraint Store: priority-tagged rules agents must respect, with
// category/layer classification and tag-scoped bulk activation for
// plan-mode commits.
package constraint

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/sin5ddd/sqlew/internal/model"
	"github.com/sin5ddd/sqlew/internal/registry"
	"github.com/sin5ddd/sqlew/internal/sqlerr"
	"github.com/sin5ddd/sqlew/internal/storage"
)

type Store struct {
	a         *storage.Adapter
	reg       *registry.Registry
	projectID int64
}

func New(a *storage.Adapter, projectID int64) *Store {
	return &Store{a: a, reg: registry.New(a), projectID: projectID}
}

// AddParams carries the optional fields of an add call.
type AddParams struct {
	Layer string
	Tags  []string
	Agent string
	PlanID string
}

// Add resolves category/layer/tags/agent and inserts a new active
// constraint row plus its tag junctions, all in one transaction.
func (s *Store) Add(ctx context.Context, category, text string, priority model.ConstraintPriority, p AddParams) (*model.Constraint, error) {
	if strings.TrimSpace(text) == "" {
		return nil, sqlerr.Validation("constraint_text", "constraint_text must not be empty")
	}
	if priority < model.PriorityLow || priority > model.PriorityCritical {
		return nil, sqlerr.Validation("priority", "priority %d out of range", priority)
	}

	categoryID, err := s.reg.LookupConstraintCategory(ctx, category)
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

	agentName := p.Agent
	if agentName == "" {
		agentName = "system"
	}
	now := nowTS()
	agentID, err := s.reg.GetOrCreateAgent(ctx, agentName, now)
	if err != nil {
		return nil, err
	}

	c := &model.Constraint{
		ProjectID: s.projectID, CategoryID: categoryID, LayerID: layerID,
		ConstraintText: text, Priority: priority, Active: true,
		CreatedByAgentID: agentID, TS: now,
	}

	err = s.a.Transaction(ctx, func(tx *storage.Tx) error {
		cols := []string{"project_id", "category_id", "layer_id", "constraint_text", "priority", "active", "created_by_agent_id", "ts", "plan_id"}
		vals := []any{c.ProjectID, c.CategoryID, c.LayerID, c.ConstraintText, int(c.Priority), boolVal(c.Active), c.CreatedByAgentID, c.TS, nullIfEmpty(p.PlanID)}
		id, err := storage.InsertReturning(ctx, tx, "t_constraints", cols, vals, "id")
		if err != nil {
			return fmt.Errorf("inserting constraint: %w", err)
		}
		c.ID = id

		for _, tagName := range p.Tags {
			tagID, err := s.reg.GetOrCreateTag(ctx, s.projectID, tagName)
			if err != nil {
				return fmt.Errorf("resolving tag %q: %w", tagName, err)
			}
			if _, err := tx.ExecContext(ctx,
				fmt.Sprintf("INSERT INTO t_constraint_tags (constraint_id, tag_id) VALUES (%s,%s)",
					tx.Dialect().Placeholder(1), tx.Dialect().Placeholder(2)),
				c.ID, tagID); err != nil {
				return fmt.Errorf("inserting constraint_tags: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Result is the read-path projection: category/layer/tags resolved to
// names, priority as its string label.
type Result struct {
	ID         int64
	Category   string
	Layer      string
	Text       string
	Priority   string
	Active     bool
	Tags       []string
	CreatedBy  string
	Timestamp  int64
}

// Get returns every constraint matching an any-of tag filter (empty tags
// means no tag filter), optionally restricted to active-only.
func (s *Store) Get(ctx context.Context, tags []string, activeOnly bool) ([]Result, error) {
	db := s.a.DB()
	ph := s.a.Dialect().Placeholder

	where := []string{fmt.Sprintf("c.project_id = %s", ph(1))}
	args := []any{s.projectID}
	n := 1
	if activeOnly {
		where = append(where, fmt.Sprintf("c.active = %s", ph(n+1)))
		args = append(args, 1)
		n++
	}
	if len(tags) > 0 {
		placeholders := make([]string, len(tags))
		for i, t := range tags {
			n++
			placeholders[i] = ph(n)
			args = append(args, t)
		}
		where = append(where, fmt.Sprintf(`c.id IN (
			SELECT ct.constraint_id FROM t_constraint_tags ct
			JOIN m_tags t ON t.id = ct.tag_id
			WHERE t.project_id = %s AND t.name IN (%s)
		)`, ph(1), strings.Join(placeholders, ", ")))
	}

	query := fmt.Sprintf(`SELECT c.id, cc.name, c.layer_id, c.constraint_text, c.priority, c.active, c.created_by_agent_id, c.ts
		FROM t_constraints c JOIN m_constraint_categories cc ON cc.id = c.category_id
		WHERE %s ORDER BY c.priority DESC, c.ts DESC`, strings.Join(where, " AND "))

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var r Result
		var layerID sql.NullInt64
		var priority int
		var active int
		var createdByAgentID int64
		if err := rows.Scan(&r.ID, &r.Category, &layerID, &r.Text, &priority, &active, &createdByAgentID, &r.Timestamp); err != nil {
			return nil, err
		}
		r.Priority = model.ConstraintPriority(priority).String()
		r.Active = active != 0
		if layerID.Valid {
			name, err := s.reg.LayerName(ctx, layerID.Int64)
			if err != nil {
				return nil, err
			}
			r.Layer = name
		}
		rowTags, err := tagNames(ctx, db, ph, r.ID)
		if err != nil {
			return nil, err
		}
		r.Tags = rowTags
		var agentName string
		_ = db.QueryRowContext(ctx, fmt.Sprintf("SELECT name FROM m_agents WHERE id=%s", ph(1)), createdByAgentID).Scan(&agentName)
		r.CreatedBy = agentName
		out = append(out, r)
	}
	return out, rows.Err()
}

// Deactivate is idempotent: deactivating an already-inactive constraint
// is a no-op, not an error.
func (s *Store) Deactivate(ctx context.Context, constraintID int64) error {
	db := s.a.DB()
	ph := s.a.Dialect().Placeholder
	_, err := db.ExecContext(ctx,
		fmt.Sprintf("UPDATE t_constraints SET active=%s WHERE id=%s AND project_id=%s", ph(1), ph(2), ph(3)),
		0, constraintID, s.projectID)
	return err
}

// ActivateByTag bulk-activates every constraint carrying any of tags,
// for committing a set of plan-mode-staged constraints at once.
func (s *Store) ActivateByTag(ctx context.Context, tags []string) (int64, error) {
	if len(tags) == 0 {
		return 0, sqlerr.Validation("tags", "at least one tag required")
	}
	db := s.a.DB()
	ph := s.a.Dialect().Placeholder

	placeholders := make([]string, len(tags))
	args := []any{1, s.projectID}
	for i, t := range tags {
		placeholders[i] = ph(i + 3)
		args = append(args, t)
	}
	query := fmt.Sprintf(`UPDATE t_constraints SET active=%s WHERE project_id=%s AND id IN (
		SELECT ct.constraint_id FROM t_constraint_tags ct
		JOIN m_tags t ON t.id = ct.tag_id
		WHERE t.project_id = %s AND t.name IN (%s)
	)`, ph(1), ph(2), ph(2), strings.Join(placeholders, ", "))
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func tagNames(ctx context.Context, db *sql.DB, ph func(int) string, constraintID int64) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		fmt.Sprintf("SELECT t.name FROM t_constraint_tags ct JOIN m_tags t ON t.id=ct.tag_id WHERE ct.constraint_id=%s", ph(1)),
		constraintID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func boolVal(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
