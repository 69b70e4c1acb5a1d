package dbtransfer

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sin5ddd/sqlew/internal/storage"
)

// ImportResult tallies what db:import actually did, so the CLI can report
// "12 decisions, 2 already present" instead of a bare success/failure.
type ImportResult struct {
	DecisionsInserted   int
	DecisionsSkipped    int
	ConstraintsInserted int
	TasksInserted       int
	FileChangesInserted int
	ActivityInserted    int
}

// Import append-merges d into destProjectID's data: every master row is
// resolved by its natural key (get-or-create for agents/tags/scopes/
// files/context-keys, lookup-only for the pre-seeded layer/status/
// category enums). Decisions, decision history and context, file changes
// and activity rows are skipped when an equivalent row is already present,
// and junction rows are insert-or-ignore; constraints, tasks and
// pruned-file rows have no natural key and are inserted on every call, so
// a repeat import of the same dump adds them (with their tag, link and
// dependency rows) again. Everything runs in one
// transaction on a single connection: sqlite3's pool is capped at one
// open connection (storage.Connect), so a background registry lookup
// against the pooled *sql.DB while this transaction holds that
// connection would deadlock; all master-row resolution below goes
// through the tx-bound helpers in this file instead of internal/registry.
func Import(ctx context.Context, a *storage.Adapter, d *ExportDump, destProjectID int64, nowTS int64) (*ImportResult, error) {
	if d.Metadata.Version != exportFormatVersion {
		return nil, fmt.Errorf("unrecognized export format version %d (expected %d)", d.Metadata.Version, exportFormatVersion)
	}

	res := &ImportResult{}
	err := a.Transaction(ctx, func(tx *storage.Tx) error {
		im := &importer{ctx: ctx, tx: tx, projectID: destProjectID, now: nowTS,
			agentIDs: map[string]int64{}, fileIDs: map[string]int64{}, tagIDs: map[string]int64{},
			scopeIDs: map[string]int64{}, keyIDs: map[string]int64{}, layerIDs: map[string]int64{},
			categoryIDs: map[string]int64{}, statusIDs: map[string]int64{}}

		for _, name := range d.Agents {
			if _, err := im.agent(name); err != nil {
				return err
			}
		}
		for _, name := range d.Files {
			if _, err := im.file(name); err != nil {
				return err
			}
		}
		for _, name := range d.Tags {
			if _, err := im.tag(name); err != nil {
				return err
			}
		}
		for _, name := range d.Scopes {
			if _, err := im.scope(name); err != nil {
				return err
			}
		}

		for _, ed := range d.Decisions {
			inserted, err := im.importDecision(ed)
			if err != nil {
				return fmt.Errorf("decision %q: %w", ed.Key, err)
			}
			if inserted {
				res.DecisionsInserted++
			} else {
				res.DecisionsSkipped++
			}
		}
		for _, h := range d.DecisionHistory {
			if err := im.importDecisionHistory(h); err != nil {
				return fmt.Errorf("decision history %q: %w", h.Key, err)
			}
		}
		for _, row := range d.DecisionTags {
			if err := im.importDecisionTag(row); err != nil {
				return fmt.Errorf("decision tag %q/%q: %w", row.Key, row.Tag, err)
			}
		}
		for _, row := range d.DecisionScopes {
			if err := im.importDecisionScope(row); err != nil {
				return fmt.Errorf("decision scope %q/%q: %w", row.Key, row.Scope, err)
			}
		}

		constraintNewID := map[int64]int64{}
		for _, ec := range d.Constraints {
			id, err := im.importConstraint(ec)
			if err != nil {
				return fmt.Errorf("constraint %q: %w", ec.ConstraintText, err)
			}
			constraintNewID[ec.ExportID] = id
			res.ConstraintsInserted++
		}
		for _, row := range d.ConstraintTags {
			if err := im.importConstraintTag(constraintNewID[row.ConstraintExportID], row.Tag); err != nil {
				return fmt.Errorf("constraint tag: %w", err)
			}
		}

		taskNewID := map[int64]int64{}
		for _, et := range d.Tasks {
			id, err := im.importTask(et)
			if err != nil {
				return fmt.Errorf("task %q: %w", et.Title, err)
			}
			taskNewID[et.ExportID] = id
			res.TasksInserted++
		}
		for _, row := range d.TaskTags {
			if err := im.importTaskTag(taskNewID[row.TaskExportID], row.Tag); err != nil {
				return fmt.Errorf("task tag: %w", err)
			}
		}
		for _, row := range d.TaskFileLinks {
			if err := im.importTaskFileLink(taskNewID[row.TaskExportID], row.Path); err != nil {
				return fmt.Errorf("task file link: %w", err)
			}
		}
		for _, row := range d.TaskDecisionLinks {
			if err := im.importTaskDecisionLink(taskNewID[row.TaskExportID], row); err != nil {
				return fmt.Errorf("task decision link: %w", err)
			}
		}
		for _, row := range d.TaskDependencies {
			if err := im.importTaskDependency(taskNewID[row.BlockerExportID], taskNewID[row.BlockedExportID], row.CreatedTS); err != nil {
				return fmt.Errorf("task dependency: %w", err)
			}
		}
		for _, row := range d.TaskPrunedFiles {
			if err := im.importPrunedFile(taskNewID[row.TaskExportID], row); err != nil {
				return fmt.Errorf("pruned file: %w", err)
			}
		}

		for _, ec := range d.DecisionContexts {
			if err := im.importDecisionContext(ec, constraintNewID, taskNewID); err != nil {
				return fmt.Errorf("decision context %q: %w", ec.Key, err)
			}
		}

		for _, fc := range d.FileChanges {
			if err := im.importFileChange(fc); err != nil {
				return fmt.Errorf("file change %q: %w", fc.Path, err)
			}
			res.FileChangesInserted++
		}

		for _, row := range d.ActivityLog {
			if err := im.importActivity(row); err != nil {
				return fmt.Errorf("activity log: %w", err)
			}
			res.ActivityInserted++
		}

		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// importer bundles the destination transaction, project, and the
// name->ID caches every row-import step consults, so a name seen twice
// in one Import call costs one round trip instead of two.
type importer struct {
	ctx       context.Context
	tx        *storage.Tx
	projectID int64
	now       int64

	agentIDs    map[string]int64
	fileIDs     map[string]int64
	tagIDs      map[string]int64
	scopeIDs    map[string]int64
	keyIDs      map[string]int64
	layerIDs    map[string]int64
	categoryIDs map[string]int64
	statusIDs   map[string]int64
}

func (im *importer) lookup(table, nameCol, name string, extraCol string, extraVal *int64) (int64, error) {
	ph1 := im.tx.Dialect().Placeholder(1)
	query := fmt.Sprintf("SELECT id FROM %s WHERE %s = %s", table, nameCol, ph1)
	args := []any{name}
	if extraCol != "" {
		query += fmt.Sprintf(" AND %s = %s", extraCol, im.tx.Dialect().Placeholder(2))
		args = append(args, *extraVal)
	}
	var id int64
	err := im.tx.QueryRowContext(im.ctx, query, args...).Scan(&id)
	return id, err
}

func (im *importer) getOrCreate(cache map[string]int64, table, nameCol, name, extraCol string, extraVal *int64) (int64, error) {
	if id, ok := cache[name]; ok {
		return id, nil
	}
	id, err := im.lookup(table, nameCol, name, extraCol, extraVal)
	if err == nil {
		cache[name] = id
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, err
	}
	cols := []string{nameCol}
	vals := []any{name}
	if extraCol != "" {
		cols = append(cols, extraCol)
		vals = append(vals, *extraVal)
	}
	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = im.tx.Dialect().Placeholder(i + 1)
	}
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, joinColumns(cols), joinColumns(placeholders))
	if _, err := im.tx.ExecContext(im.ctx, insert, vals...); err != nil {
		// Lost a race within this same transaction is impossible (single
		// connection), so a failure here is a real error.
		return 0, fmt.Errorf("inserting into %s: %w", table, err)
	}
	id, err = im.lookup(table, nameCol, name, extraCol, extraVal)
	if err != nil {
		return 0, err
	}
	cache[name] = id
	return id, nil
}

func (im *importer) agent(name string) (int64, error) {
	id, err := im.getOrCreate(im.agentIDs, "m_agents", "name", name, "", nil)
	if err != nil {
		return 0, err
	}
	_, _ = im.tx.ExecContext(im.ctx, fmt.Sprintf("UPDATE m_agents SET last_active_ts = %s WHERE id = %s",
		im.tx.Dialect().Placeholder(1), im.tx.Dialect().Placeholder(2)), im.now, id)
	return id, nil
}

func (im *importer) file(path string) (int64, error) {
	return im.getOrCreate(im.fileIDs, "m_file_paths", "path", path, "project_id", &im.projectID)
}

func (im *importer) tag(name string) (int64, error) {
	return im.getOrCreate(im.tagIDs, "m_tags", "name", name, "project_id", &im.projectID)
}

func (im *importer) scope(name string) (int64, error) {
	return im.getOrCreate(im.scopeIDs, "m_scopes", "name", name, "project_id", &im.projectID)
}

func (im *importer) key(name string) (int64, error) {
	return im.getOrCreate(im.keyIDs, "m_context_keys", "key_name", name, "", nil)
}

func (im *importer) layer(name string) (int64, error) {
	if name == "" {
		return 0, nil
	}
	if id, ok := im.layerIDs[name]; ok {
		return id, nil
	}
	id, err := im.lookup("m_layers", "name", name, "", nil)
	if err != nil {
		return 0, fmt.Errorf("unknown layer %q referenced by import: %w", name, err)
	}
	im.layerIDs[name] = id
	return id, nil
}

func (im *importer) category(name string) (int64, error) {
	if id, ok := im.categoryIDs[name]; ok {
		return id, nil
	}
	id, err := im.lookup("m_constraint_categories", "name", name, "", nil)
	if err != nil {
		return 0, fmt.Errorf("unknown constraint category %q referenced by import: %w", name, err)
	}
	im.categoryIDs[name] = id
	return id, nil
}

func (im *importer) status(name string) (int64, error) {
	if id, ok := im.statusIDs[name]; ok {
		return id, nil
	}
	id, err := im.lookup("m_task_statuses", "name", name, "", nil)
	if err != nil {
		return 0, fmt.Errorf("unknown task status %q referenced by import: %w", name, err)
	}
	im.statusIDs[name] = id
	return id, nil
}

func (im *importer) importDecision(ed ExportedDecision) (inserted bool, err error) {
	keyID, err := im.key(ed.Key)
	if err != nil {
		return false, err
	}
	ph := im.tx.Dialect().Placeholder
	var exists int
	err = im.tx.QueryRowContext(im.ctx, fmt.Sprintf("SELECT 1 FROM t_decisions WHERE key_id = %s AND project_id = %s", ph(1), ph(2)),
		keyID, im.projectID).Scan(&exists)
	if err == nil {
		return false, nil // append-merge: an existing decision value is left alone
	}
	if err != sql.ErrNoRows {
		return false, err
	}

	agentID, err := im.agent(ed.Agent)
	if err != nil {
		return false, err
	}
	layerID, err := im.layer(ed.Layer)
	if err != nil {
		return false, err
	}
	var value any
	var numeric any
	if ed.Value != nil {
		value = *ed.Value
	}
	if ed.NumericVal != nil {
		numeric = *ed.NumericVal
	}
	_, err = im.tx.ExecContext(im.ctx,
		fmt.Sprintf(`INSERT INTO t_decisions (key_id, project_id, value, numeric_value, agent_id, layer_id, version, status, ts)
		 VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s)`, ph(1), ph(2), ph(3), ph(4), ph(5), ph(6), ph(7), ph(8), ph(9)),
		keyID, im.projectID, value, numeric, agentID, layerID, ed.Version, ed.Status, ed.TS)
	return err == nil, err
}

func (im *importer) importDecisionHistory(h ExportedDecisionHistory) error {
	keyID, err := im.key(h.Key)
	if err != nil {
		return err
	}
	agentID, err := im.agent(h.Agent)
	if err != nil {
		return err
	}
	ph := im.tx.Dialect().Placeholder
	var exists int
	err = im.tx.QueryRowContext(im.ctx,
		fmt.Sprintf("SELECT 1 FROM t_decision_history WHERE key_id = %s AND project_id = %s AND version = %s AND ts = %s",
			ph(1), ph(2), ph(3), ph(4)), keyID, im.projectID, h.Version, h.TS).Scan(&exists)
	if err == nil {
		return nil
	}
	if err != sql.ErrNoRows {
		return err
	}
	_, err = im.tx.ExecContext(im.ctx,
		fmt.Sprintf("INSERT INTO t_decision_history (key_id, project_id, version, value, agent_id, ts) VALUES (%s, %s, %s, %s, %s, %s)",
			ph(1), ph(2), ph(3), ph(4), ph(5), ph(6)), keyID, im.projectID, h.Version, h.Value, agentID, h.TS)
	return err
}

func (im *importer) importDecisionTag(row ExportedDecisionTag) error {
	keyID, err := im.key(row.Key)
	if err != nil {
		return err
	}
	tagID, err := im.tag(row.Tag)
	if err != nil {
		return err
	}
	_, err = im.tx.ExecContext(im.ctx, insertIgnore(im.tx.Dialect(), "t_decision_tags", []string{"decision_key_id", "tag_id", "project_id"}),
		keyID, tagID, im.projectID)
	if err != nil {
		return err
	}
	_, err = im.tx.ExecContext(im.ctx, insertIgnore(im.tx.Dialect(), "t_tag_index", []string{"tag_name", "decision_key_id", "project_id"}),
		row.Tag, keyID, im.projectID)
	return err
}

func (im *importer) importDecisionScope(row ExportedDecisionScope) error {
	keyID, err := im.key(row.Key)
	if err != nil {
		return err
	}
	scopeID, err := im.scope(row.Scope)
	if err != nil {
		return err
	}
	_, err = im.tx.ExecContext(im.ctx, insertIgnore(im.tx.Dialect(), "t_decision_scopes", []string{"decision_key_id", "scope_id", "project_id"}),
		keyID, scopeID, im.projectID)
	return err
}

func (im *importer) importConstraint(ec ExportedConstraint) (int64, error) {
	catID, err := im.category(ec.Category)
	if err != nil {
		return 0, err
	}
	var layerID any
	if ec.Layer != "" {
		id, err := im.layer(ec.Layer)
		if err != nil {
			return 0, err
		}
		layerID = id
	}
	createdBy, err := im.agent(ec.CreatedBy)
	if err != nil {
		return 0, err
	}
	cols := []string{"project_id", "category_id", "layer_id", "constraint_text", "priority", "active", "created_by_agent_id", "ts"}
	vals := []any{im.projectID, catID, layerID, ec.ConstraintText, ec.Priority, ec.Active, createdBy, ec.TS}
	return storage.InsertReturning(im.ctx, im.tx, "t_constraints", cols, vals, "id")
}

func (im *importer) importConstraintTag(constraintID int64, tag string) error {
	tagID, err := im.tag(tag)
	if err != nil {
		return err
	}
	_, err = im.tx.ExecContext(im.ctx, insertIgnore(im.tx.Dialect(), "t_constraint_tags", []string{"constraint_id", "tag_id"}), constraintID, tagID)
	return err
}

func (im *importer) importTask(et ExportedTask) (int64, error) {
	statusID, err := im.status(et.Status)
	if err != nil {
		return 0, err
	}
	var layerID any
	if et.Layer != "" {
		id, err := im.layer(et.Layer)
		if err != nil {
			return 0, err
		}
		layerID = id
	}
	var assignedID any
	if et.Assigned != "" {
		id, err := im.agent(et.Assigned)
		if err != nil {
			return 0, err
		}
		assignedID = id
	}
	createdBy, err := im.agent(et.CreatedBy)
	if err != nil {
		return 0, err
	}
	cols := []string{"project_id", "title", "status_id", "priority", "layer_id", "assigned_agent_id", "created_by_agent_id", "created_ts", "updated_ts"}
	vals := []any{im.projectID, et.Title, statusID, et.Priority, layerID, assignedID, createdBy, et.CreatedTS, et.UpdatedTS}
	id, err := storage.InsertReturning(im.ctx, im.tx, "t_tasks", cols, vals, "id")
	if err != nil {
		return 0, err
	}
	ph := im.tx.Dialect().Placeholder
	if _, err := im.tx.ExecContext(im.ctx, fmt.Sprintf("INSERT INTO t_task_details (task_id, description) VALUES (%s, %s)", ph(1), ph(2)),
		id, et.Description); err != nil {
		return 0, err
	}
	return id, nil
}

func (im *importer) importTaskTag(taskID int64, tag string) error {
	tagID, err := im.tag(tag)
	if err != nil {
		return err
	}
	_, err = im.tx.ExecContext(im.ctx, insertIgnore(im.tx.Dialect(), "t_task_tags", []string{"task_id", "tag_id"}), taskID, tagID)
	return err
}

func (im *importer) importTaskFileLink(taskID int64, path string) error {
	fileID, err := im.file(path)
	if err != nil {
		return err
	}
	_, err = im.tx.ExecContext(im.ctx, insertIgnore(im.tx.Dialect(), "t_task_file_links", []string{"task_id", "file_id"}), taskID, fileID)
	return err
}

func (im *importer) importTaskDecisionLink(taskID int64, row ExportedTaskDecisionLink) error {
	keyID, err := im.key(row.Key)
	if err != nil {
		return err
	}
	d := im.tx.Dialect()
	ph := d.Placeholder
	_, err = im.tx.ExecContext(im.ctx,
		fmt.Sprintf("%s VALUES (%s, %s, %s)%s",
			insertIgnorePrefix(d, "t_task_decision_links", []string{"task_id", "decision_key_id", "relation"}),
			ph(1), ph(2), ph(3), conflictSuffix(d)),
		taskID, keyID, row.Relation)
	return err
}

func (im *importer) importTaskDependency(blocker, blocked, createdTS int64) error {
	_, err := im.tx.ExecContext(im.ctx,
		insertIgnore(im.tx.Dialect(), "t_task_dependencies", []string{"project_id", "blocker_task_id", "blocked_task_id", "created_ts"}),
		im.projectID, blocker, blocked, createdTS)
	return err
}

func (im *importer) importPrunedFile(taskID int64, row ExportedTaskPrunedFile) error {
	var explainingID any
	if row.ExplainingKey != "" {
		id, err := im.key(row.ExplainingKey)
		if err != nil {
			return err
		}
		explainingID = id
	}
	ph := im.tx.Dialect().Placeholder
	_, err := im.tx.ExecContext(im.ctx,
		fmt.Sprintf("INSERT INTO t_task_pruned_files (project_id, task_id, path, pruned_ts, explaining_key_id) VALUES (%s, %s, %s, %s, %s)",
			ph(1), ph(2), ph(3), ph(4), ph(5)), im.projectID, taskID, row.Path, row.PrunedTS, explainingID)
	return err
}

func (im *importer) importDecisionContext(ec ExportedDecisionContext, constraintNewID, taskNewID map[int64]int64) error {
	keyID, err := im.key(ec.Key)
	if err != nil {
		return err
	}
	agentID, err := im.agent(ec.Agent)
	if err != nil {
		return err
	}
	var relatedTask, relatedConstraint any
	if ec.RelatedTaskExport != nil {
		if id, ok := taskNewID[*ec.RelatedTaskExport]; ok {
			relatedTask = id
		}
	}
	if ec.RelatedConstraintExport != nil {
		if id, ok := constraintNewID[*ec.RelatedConstraintExport]; ok {
			relatedConstraint = id
		}
	}
	ph := im.tx.Dialect().Placeholder
	var exists int
	err = im.tx.QueryRowContext(im.ctx,
		fmt.Sprintf("SELECT 1 FROM t_decision_context WHERE decision_key_id = %s AND project_id = %s AND ts = %s",
			ph(1), ph(2), ph(3)), keyID, im.projectID, ec.TS).Scan(&exists)
	if err == nil {
		return nil
	}
	if err != sql.ErrNoRows {
		return err
	}
	_, err = im.tx.ExecContext(im.ctx,
		fmt.Sprintf(`INSERT INTO t_decision_context
		 (decision_key_id, project_id, rationale, alternatives_json, tradeoffs_json, agent_id, related_task_id, related_constraint_id, ts)
		 VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s)`,
			ph(1), ph(2), ph(3), ph(4), ph(5), ph(6), ph(7), ph(8), ph(9)),
		keyID, im.projectID, ec.Rationale, ec.AlternativesJSON, ec.TradeoffsJSON, agentID, relatedTask, relatedConstraint, ec.TS)
	return err
}

func (im *importer) importFileChange(fc ExportedFileChange) error {
	fileID, err := im.file(fc.Path)
	if err != nil {
		return err
	}
	agentID, err := im.agent(fc.Agent)
	if err != nil {
		return err
	}
	var layerID any
	if fc.Layer != "" {
		id, err := im.layer(fc.Layer)
		if err != nil {
			return err
		}
		layerID = id
	}
	ph := im.tx.Dialect().Placeholder
	var exists int
	err = im.tx.QueryRowContext(im.ctx,
		fmt.Sprintf("SELECT 1 FROM t_file_changes WHERE project_id = %s AND file_id = %s AND agent_id = %s AND ts = %s",
			ph(1), ph(2), ph(3), ph(4)), im.projectID, fileID, agentID, fc.TS).Scan(&exists)
	if err == nil {
		return nil
	}
	if err != sql.ErrNoRows {
		return err
	}
	_, err = im.tx.ExecContext(im.ctx,
		fmt.Sprintf("INSERT INTO t_file_changes (project_id, file_id, agent_id, change_type, layer_id, description, ts) VALUES (%s, %s, %s, %s, %s, %s, %s)",
			ph(1), ph(2), ph(3), ph(4), ph(5), ph(6), ph(7)),
		im.projectID, fileID, agentID, fc.ChangeType, layerID, fc.Description, fc.TS)
	return err
}

func (im *importer) importActivity(row ExportedActivity) error {
	agentID, err := im.agent(row.Agent)
	if err != nil {
		return err
	}
	ph := im.tx.Dialect().Placeholder
	var exists int
	err = im.tx.QueryRowContext(im.ctx,
		fmt.Sprintf("SELECT 1 FROM t_activity_log WHERE project_id = %s AND agent_id = %s AND event_type = %s AND ts = %s",
			ph(1), ph(2), ph(3), ph(4)), im.projectID, agentID, row.EventType, row.TS).Scan(&exists)
	if err == nil {
		return nil
	}
	if err != sql.ErrNoRows {
		return err
	}
	_, err = im.tx.ExecContext(im.ctx,
		fmt.Sprintf("INSERT INTO t_activity_log (project_id, agent_id, event_type, detail, ts) VALUES (%s, %s, %s, %s, %s)",
			ph(1), ph(2), ph(3), ph(4), ph(5)), im.projectID, agentID, row.EventType, row.Detail, row.TS)
	return err
}

// insertIgnore builds a tolerate-duplicate insert for a junction table
// whose full column list is also its primary key, so a repeat import
// doesn't fail on the unique-constraint violation for a link that
// already exists.
func insertIgnore(d storage.Dialect, table string, cols []string) string {
	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = d.Placeholder(i + 1)
	}
	return fmt.Sprintf("%s VALUES (%s)%s", insertIgnorePrefix(d, table, cols), joinColumns(placeholders), conflictSuffix(d))
}

// insertIgnorePrefix returns "VERB table (cols)" with no VALUES clause or
// conflict suffix, so callers that build their own VALUES list (e.g. one
// with a literal NULL among the placeholders) can still get the
// tolerate-duplicate behavior via conflictSuffix.
func insertIgnorePrefix(d storage.Dialect, table string, cols []string) string {
	verb := "INSERT OR IGNORE INTO"
	if d == storage.DialectMySQL {
		verb = "INSERT IGNORE INTO"
	} else if d == storage.DialectPostgres {
		verb = "INSERT INTO"
	}
	return fmt.Sprintf("%s %s (%s)", verb, table, joinColumns(cols))
}

func conflictSuffix(d storage.Dialect) string {
	if d == storage.DialectPostgres {
		return " ON CONFLICT DO NOTHING"
	}
	return ""
}

func joinColumns(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}
