// Package projectctx binds the current project once at startup and hands
// out an explicit handle rather than a process-wide global, per the
// redesign note "process-wide singletons to explicit handles".
package projectctx

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sin5ddd/sqlew/internal/model"
	"github.com/sin5ddd/sqlew/internal/sqlerr"
	"github.com/sin5ddd/sqlew/internal/storage"
)

// Handle is the bound project every write operation takes as an explicit
// argument. It is immutable after Ensure returns: absence of a Handle at a
// call site is a wiring bug, not a user error, and callers should treat a
// nil Handle that way rather than defensively re-resolving it.
type Handle struct {
	ProjectID int64
	Name      string
}

// Ensure creates the project row if absent and refreshes last_active_ts,
// returning the bound Handle. Called once at startup; the returned Handle
// is then threaded explicitly through every subsequent operation instead
// of being read back from a global.
func Ensure(ctx context.Context, a *storage.Adapter, name string, source model.DetectionSource, rootPath string, nowTS int64) (*Handle, error) {
	d := a.Dialect()
	db := a.DB()

	var id int64
	err := db.QueryRowContext(ctx, fmt.Sprintf("SELECT id FROM m_projects WHERE name = %s", d.Placeholder(1)), name).Scan(&id)
	switch {
	case err == nil:
		_, uerr := db.ExecContext(ctx, fmt.Sprintf("UPDATE m_projects SET last_active_ts = %s WHERE id = %s", d.Placeholder(1), d.Placeholder(2)), nowTS, id)
		if uerr != nil {
			return nil, fmt.Errorf("refreshing project %q: %w", name, uerr)
		}
		return &Handle{ProjectID: id, Name: name}, nil
	case err == sql.ErrNoRows:
		cols := []string{"name", "display_name", "detection_source", "root_path", "created_ts", "last_active_ts", "metadata"}
		vals := []any{name, name, string(source), rootPath, nowTS, nowTS, "{}"}
		var newID int64
		insertErr := a.Transaction(ctx, func(tx *storage.Tx) error {
			var ierr error
			newID, ierr = storage.InsertReturning(ctx, tx, "m_projects", cols, vals, "id")
			return ierr
		})
		if insertErr != nil {
			return nil, fmt.Errorf("creating project %q: %w", name, insertErr)
		}
		return &Handle{ProjectID: newID, Name: name}, nil
	default:
		return nil, fmt.Errorf("looking up project %q: %w", name, err)
	}
}

// Lookup resolves an existing project by name without creating or
// touching it, for commands (db:export --project NAME) that operate on a
// project other than the one the current working directory is bound to.
func Lookup(ctx context.Context, a *storage.Adapter, name string) (id int64, resolvedName string, err error) {
	d := a.Dialect()
	err = a.DB().QueryRowContext(ctx, fmt.Sprintf("SELECT id FROM m_projects WHERE name = %s", d.Placeholder(1)), name).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, "", sqlerr.NotFound("project", "no project named %q", name)
	}
	if err != nil {
		return 0, "", fmt.Errorf("looking up project %q: %w", name, err)
	}
	return id, name, nil
}
