// Package registry provides get-or-create helpers for the interned
// master-entity tables (agents, tags, scopes, file paths, context keys)
// and read-only lookups for the pre-seeded ones (layers, task statuses,
// constraint categories).
package registry

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sin5ddd/sqlew/internal/sqlerr"
	"github.com/sin5ddd/sqlew/internal/storage"
)

// Registry resolves interned names to IDs against one database.
type Registry struct {
	db *sql.DB
	d  storage.Dialect
}

func New(a *storage.Adapter) *Registry {
	return &Registry{db: a.DB(), d: a.Dialect()}
}

// getOrCreate is the atomic "insert-if-absent, then select" pattern: two
// concurrent calls for the same name are both safe and observe the same
// ID, enforced by the table's unique index plus this select-after-failed-
// insert sequence rather than a SELECT-then-INSERT race.
func (r *Registry) getOrCreate(ctx context.Context, table, nameCol, name string, extraCols []string, extraVals []any) (int64, error) {
	id, err := r.lookup(ctx, table, nameCol, name, extraCols, extraVals)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, err
	}

	cols := append([]string{nameCol}, extraCols...)
	vals := append([]any{name}, extraVals...)
	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = r.d.Placeholder(i + 1)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, join(cols), join(placeholders))
	if _, err := r.db.ExecContext(ctx, query, vals...); err != nil {
		// Lost the race to a concurrent insert; the row now exists under
		// the unique index, so fall through to a fresh lookup instead of
		// surfacing the constraint violation.
		id, lookupErr := r.lookup(ctx, table, nameCol, name, extraCols, extraVals)
		if lookupErr == nil {
			return id, nil
		}
		return 0, fmt.Errorf("inserting into %s: %w", table, err)
	}
	return r.lookup(ctx, table, nameCol, name, extraCols, extraVals)
}

func (r *Registry) lookup(ctx context.Context, table, nameCol, name string, extraCols []string, extraVals []any) (int64, error) {
	where := fmt.Sprintf("%s = %s", nameCol, r.d.Placeholder(1))
	args := []any{name}
	for i, c := range extraCols {
		where += fmt.Sprintf(" AND %s = %s", c, r.d.Placeholder(i+2))
		args = append(args, extraVals[i])
	}
	var id int64
	err := r.db.QueryRowContext(ctx, fmt.Sprintf("SELECT id FROM %s WHERE %s", table, where), args...).Scan(&id)
	return id, err
}

func (r *Registry) GetOrCreateAgent(ctx context.Context, name string, nowTS int64) (int64, error) {
	id, err := r.getOrCreate(ctx, "m_agents", "name", name, nil, nil)
	if err != nil {
		return 0, err
	}
	_, _ = r.db.ExecContext(ctx, fmt.Sprintf("UPDATE m_agents SET last_active_ts = %s WHERE id = %s", r.d.Placeholder(1), r.d.Placeholder(2)), nowTS, id)
	return id, nil
}

func (r *Registry) GetOrCreateFile(ctx context.Context, projectID int64, path string) (int64, error) {
	return r.getOrCreate(ctx, "m_file_paths", "path", path, []string{"project_id"}, []any{projectID})
}

func (r *Registry) GetOrCreateTag(ctx context.Context, projectID int64, name string) (int64, error) {
	return r.getOrCreate(ctx, "m_tags", "name", name, []string{"project_id"}, []any{projectID})
}

func (r *Registry) GetOrCreateScope(ctx context.Context, projectID int64, name string) (int64, error) {
	return r.getOrCreate(ctx, "m_scopes", "name", name, []string{"project_id"}, []any{projectID})
}

func (r *Registry) GetOrCreateContextKey(ctx context.Context, key string) (int64, error) {
	return r.getOrCreate(ctx, "m_context_keys", "key_name", key, nil, nil)
}

// LookupLayer resolves a layer name to its seeded ID. Layers are never
// auto-created: an unrecognized name is a caller error, not a new row.
func (r *Registry) LookupLayer(ctx context.Context, name string) (int64, error) {
	id, err := r.lookup(ctx, "m_layers", "name", name, nil, nil)
	if err == sql.ErrNoRows {
		return 0, sqlerr.NotFound("layer", "unknown layer %q", name)
	}
	return id, err
}

// LookupConstraintCategory resolves a category name to its seeded ID.
func (r *Registry) LookupConstraintCategory(ctx context.Context, name string) (int64, error) {
	id, err := r.lookup(ctx, "m_constraint_categories", "name", name, nil, nil)
	if err == sql.ErrNoRows {
		return 0, sqlerr.NotFound("category", "unknown constraint category %q", name)
	}
	return id, err
}

// LookupTaskStatus resolves a status name to its seeded ID.
func (r *Registry) LookupTaskStatus(ctx context.Context, name string) (int64, error) {
	id, err := r.lookup(ctx, "m_task_statuses", "name", name, nil, nil)
	if err == sql.ErrNoRows {
		return 0, sqlerr.NotFound("status", "unknown task status %q", name)
	}
	return id, err
}

// LayerName resolves an ID back to its name for display projections.
func (r *Registry) LayerName(ctx context.Context, id int64) (string, error) {
	var name string
	err := r.db.QueryRowContext(ctx, fmt.Sprintf("SELECT name FROM m_layers WHERE id = %s", r.d.Placeholder(1)), id).Scan(&name)
	if err == sql.ErrNoRows {
		return "", sqlerr.NotFound("layer_id", "no layer with id %d", id)
	}
	return name, err
}

func join(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}
