package storage

import (
	"context"
	"fmt"
)

// BootstrapMigrations returns the layer-1 migrations: every master and
// transaction table, their indexes, and the seed rows for layers, task
// statuses, and constraint categories.
func BootstrapMigrations() []Migration {
	return []Migration{
		{Name: "0001_masters", Layer: LayerBootstrap, Up: createMasterTables},
		{Name: "0002_seed_enums", Layer: LayerBootstrap, Up: seedEnums},
		{Name: "0003_transactions", Layer: LayerBootstrap, Up: createTransactionTables},
		{Name: "0004_templates", Layer: LayerBootstrap, Up: createTemplateTable},
	}
}

// EnhancementMigrations returns layer-2 migrations: denormalized indexes
// and columns added after the initial shape, each self-probing so re-runs
// against an already-enhanced database are no-ops.
func EnhancementMigrations() []Migration {
	return []Migration{
		{Name: "0101_tag_index_project_scoping", Layer: LayerEnhancements, Up: addTagIndexProjectID},
		{Name: "0102_decision_context_links", Layer: LayerEnhancements, Up: addDecisionContextLinkColumns},
		{Name: "0103_template_pattern_columns", Layer: LayerEnhancements, Up: addTemplatePatternColumns},
	}
}

// UpgradeMigrations returns layer-3 migrations: version-specific schema
// evolution run after the base shape and its enhancements are in place.
func UpgradeMigrations() []Migration {
	return []Migration{
		{Name: "0201_constraint_plan_id", Layer: LayerUpgrades, Up: addConstraintPlanID},
	}
}

// AllMigrations concatenates all three layers in run order; RunMigrations
// re-sorts by layer regardless, but callers building the full list should
// use this rather than re-deriving the concatenation order by hand.
func AllMigrations() []Migration {
	var all []Migration
	all = append(all, BootstrapMigrations()...)
	all = append(all, EnhancementMigrations()...)
	all = append(all, UpgradeMigrations()...)
	return all
}

type tableDef struct {
	table string
	ddl   string
}

func masterTableDefs(dialect Dialect) []tableDef {
	pk := dialect.AutoIncrementPK()
	statements := []tableDef{
		{"m_projects", fmt.Sprintf(`CREATE TABLE m_projects (
			id %s,
			name VARCHAR(255) NOT NULL UNIQUE,
			display_name VARCHAR(255),
			detection_source VARCHAR(16) NOT NULL,
			root_path TEXT,
			created_ts BIGINT NOT NULL,
			last_active_ts BIGINT NOT NULL,
			metadata TEXT
		)`, pk)},
		{"m_agents", fmt.Sprintf(`CREATE TABLE m_agents (
			id %s,
			name VARCHAR(255) NOT NULL UNIQUE,
			last_active_ts BIGINT NOT NULL
		)`, pk)},
		{"m_file_paths", fmt.Sprintf(`CREATE TABLE m_file_paths (
			id %s,
			project_id BIGINT NOT NULL REFERENCES m_projects(id),
			path TEXT NOT NULL,
			UNIQUE(project_id, path(255))
		)`, pk)},
		{"m_context_keys", fmt.Sprintf(`CREATE TABLE m_context_keys (
			id %s,
			key_name VARCHAR(255) NOT NULL UNIQUE
		)`, pk)},
		{"m_tags", fmt.Sprintf(`CREATE TABLE m_tags (
			id %s,
			project_id BIGINT NOT NULL REFERENCES m_projects(id),
			name VARCHAR(255) NOT NULL,
			UNIQUE(project_id, name)
		)`, pk)},
		{"m_scopes", fmt.Sprintf(`CREATE TABLE m_scopes (
			id %s,
			project_id BIGINT NOT NULL REFERENCES m_projects(id),
			name VARCHAR(255) NOT NULL,
			UNIQUE(project_id, name)
		)`, pk)},
		{"m_layers", fmt.Sprintf(`CREATE TABLE m_layers (
			id %s,
			name VARCHAR(32) NOT NULL UNIQUE
		)`, pk)},
		{"m_constraint_categories", fmt.Sprintf(`CREATE TABLE m_constraint_categories (
			id %s,
			name VARCHAR(64) NOT NULL UNIQUE
		)`, pk)},
		{"m_task_statuses", fmt.Sprintf(`CREATE TABLE m_task_statuses (
			id %s,
			name VARCHAR(32) NOT NULL UNIQUE
		)`, pk)},
		{"m_config", `CREATE TABLE m_config (
			config_key VARCHAR(255) PRIMARY KEY,
			project_id BIGINT,
			value TEXT
		)`},
	}

	// MySQL's UNIQUE(...path(255)) prefix-length syntax is invalid on the
	// other two dialects; rewrite that one statement per dialect instead
	// of threading a dialect switch through every CREATE TABLE above.
	for i, s := range statements {
		if s.table == "m_file_paths" && dialect != DialectMySQL {
			statements[i].ddl = fmt.Sprintf(`CREATE TABLE m_file_paths (
				id %s,
				project_id BIGINT NOT NULL REFERENCES m_projects(id),
				path TEXT NOT NULL,
				UNIQUE(project_id, path)
			)`, pk)
		}
	}
	return statements
}

func createMasterTables(ctx context.Context, a *Adapter) error {
	for _, s := range masterTableDefs(a.dialect) {
		if err := a.CreateTableIfNotExists(ctx, s.table, s.ddl); err != nil {
			return fmt.Errorf("creating %s: %w", s.table, err)
		}
	}
	return nil
}

func seedEnums(ctx context.Context, a *Adapter) error {
	layers := []string{"presentation", "business", "data", "infrastructure", "cross-cutting", "planning", "meta"}
	statuses := []string{"todo", "in_progress", "waiting_review", "blocked", "done", "archived"}
	categories := []string{"security", "performance", "style", "architecture", "testing", "operational"}

	insertIfAbsent := func(table, col, val string) error {
		ph := a.dialect.Placeholder(1)
		var exists int
		err := a.db.QueryRowContext(ctx, fmt.Sprintf("SELECT 1 FROM %s WHERE %s = %s", table, col, ph), val).Scan(&exists)
		if err == nil {
			return nil // already seeded
		}
		ph1 := a.dialect.Placeholder(1)
		_, err = a.db.ExecContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, col, ph1), val)
		return err
	}

	for _, l := range layers {
		if err := insertIfAbsent("m_layers", "name", l); err != nil {
			return fmt.Errorf("seeding layer %s: %w", l, err)
		}
	}
	for _, s := range statuses {
		if err := insertIfAbsent("m_task_statuses", "name", s); err != nil {
			return fmt.Errorf("seeding task status %s: %w", s, err)
		}
	}
	for _, c := range categories {
		if err := insertIfAbsent("m_constraint_categories", "name", c); err != nil {
			return fmt.Errorf("seeding constraint category %s: %w", c, err)
		}
	}
	return nil
}

// transactionIndexDefs lists the CREATE INDEX statements that go with
// transactionTableDefs; kept separate because index creation probes
// existence per-dialect instead of relying on CREATE TABLE IF NOT EXISTS.
func transactionIndexDefs() []string {
	return []string{
		"CREATE INDEX idx_tag_index_tag ON t_tag_index(tag_name, project_id)",
		"CREATE INDEX idx_task_deps_blocked ON t_task_dependencies(blocked_task_id)",
		"CREATE INDEX idx_file_changes_ts ON t_file_changes(project_id, ts)",
		"CREATE INDEX idx_activity_log_ts ON t_activity_log(project_id, ts)",
		"CREATE INDEX idx_tasks_status ON t_tasks(project_id, status_id)",
	}
}

func transactionTableDefs(dialect Dialect) []tableDef {
	pk := dialect.AutoIncrementPK()
	bl := dialect.BoolType()

	return []tableDef{
		{"t_decisions", `CREATE TABLE t_decisions (
			key_id BIGINT NOT NULL REFERENCES m_context_keys(id),
			project_id BIGINT NOT NULL REFERENCES m_projects(id),
			value TEXT,
			numeric_value DOUBLE PRECISION,
			agent_id BIGINT NOT NULL REFERENCES m_agents(id),
			layer_id BIGINT NOT NULL REFERENCES m_layers(id),
			version VARCHAR(64),
			status SMALLINT NOT NULL,
			ts BIGINT NOT NULL,
			PRIMARY KEY (key_id, project_id)
		)`},
		{"t_decision_history", fmt.Sprintf(`CREATE TABLE t_decision_history (
			id %s,
			key_id BIGINT NOT NULL,
			project_id BIGINT NOT NULL,
			version VARCHAR(64),
			value TEXT,
			agent_id BIGINT NOT NULL,
			ts BIGINT NOT NULL,
			FOREIGN KEY (key_id, project_id) REFERENCES t_decisions(key_id, project_id)
		)`, pk)},
		{"t_decision_tags", `CREATE TABLE t_decision_tags (
			decision_key_id BIGINT NOT NULL,
			tag_id BIGINT NOT NULL REFERENCES m_tags(id),
			project_id BIGINT NOT NULL,
			PRIMARY KEY (decision_key_id, tag_id, project_id)
		)`},
		{"t_decision_scopes", `CREATE TABLE t_decision_scopes (
			decision_key_id BIGINT NOT NULL,
			scope_id BIGINT NOT NULL REFERENCES m_scopes(id),
			project_id BIGINT NOT NULL,
			PRIMARY KEY (decision_key_id, scope_id, project_id)
		)`},
		{"t_decision_context", fmt.Sprintf(`CREATE TABLE t_decision_context (
			id %s,
			decision_key_id BIGINT NOT NULL,
			project_id BIGINT NOT NULL,
			rationale TEXT,
			alternatives_json TEXT,
			tradeoffs_json TEXT,
			agent_id BIGINT NOT NULL,
			related_task_id BIGINT,
			related_constraint_id BIGINT,
			ts BIGINT NOT NULL
		)`, pk)},
		{"t_tag_index", `CREATE TABLE t_tag_index (
			tag_name VARCHAR(255) NOT NULL,
			decision_key_id BIGINT NOT NULL,
			project_id BIGINT NOT NULL,
			PRIMARY KEY (tag_name, decision_key_id, project_id)
		)`},
		{"t_constraints", fmt.Sprintf(`CREATE TABLE t_constraints (
			id %s,
			project_id BIGINT NOT NULL REFERENCES m_projects(id),
			category_id BIGINT NOT NULL REFERENCES m_constraint_categories(id),
			layer_id BIGINT,
			constraint_text TEXT NOT NULL,
			priority SMALLINT NOT NULL,
			active %s NOT NULL DEFAULT 1,
			created_by_agent_id BIGINT NOT NULL,
			ts BIGINT NOT NULL
		)`, pk, bl)},
		{"t_constraint_tags", `CREATE TABLE t_constraint_tags (
			constraint_id BIGINT NOT NULL,
			tag_id BIGINT NOT NULL REFERENCES m_tags(id),
			PRIMARY KEY (constraint_id, tag_id)
		)`},
		{"t_file_changes", fmt.Sprintf(`CREATE TABLE t_file_changes (
			id %s,
			project_id BIGINT NOT NULL REFERENCES m_projects(id),
			file_id BIGINT NOT NULL REFERENCES m_file_paths(id),
			agent_id BIGINT NOT NULL,
			change_type VARCHAR(16) NOT NULL,
			layer_id BIGINT,
			description TEXT,
			ts BIGINT NOT NULL
		)`, pk)},
		{"t_tasks", fmt.Sprintf(`CREATE TABLE t_tasks (
			id %s,
			project_id BIGINT NOT NULL REFERENCES m_projects(id),
			title VARCHAR(512) NOT NULL,
			status_id SMALLINT NOT NULL,
			priority INTEGER NOT NULL DEFAULT 0,
			layer_id BIGINT,
			assigned_agent_id BIGINT,
			created_by_agent_id BIGINT NOT NULL,
			created_ts BIGINT NOT NULL,
			updated_ts BIGINT NOT NULL
		)`, pk)},
		{"t_task_details", `CREATE TABLE t_task_details (
			task_id BIGINT PRIMARY KEY,
			description TEXT
		)`},
		{"t_task_tags", `CREATE TABLE t_task_tags (
			task_id BIGINT NOT NULL,
			tag_id BIGINT NOT NULL,
			PRIMARY KEY (task_id, tag_id)
		)`},
		{"t_task_file_links", `CREATE TABLE t_task_file_links (
			task_id BIGINT NOT NULL,
			file_id BIGINT NOT NULL,
			PRIMARY KEY (task_id, file_id)
		)`},
		{"t_task_decision_links", `CREATE TABLE t_task_decision_links (
			task_id BIGINT NOT NULL,
			decision_key_id BIGINT NOT NULL,
			relation VARCHAR(32),
			PRIMARY KEY (task_id, decision_key_id)
		)`},
		{"t_task_dependencies", `CREATE TABLE t_task_dependencies (
			project_id BIGINT NOT NULL,
			blocker_task_id BIGINT NOT NULL REFERENCES t_tasks(id) ON DELETE CASCADE,
			blocked_task_id BIGINT NOT NULL REFERENCES t_tasks(id) ON DELETE CASCADE,
			created_ts BIGINT NOT NULL,
			PRIMARY KEY (blocker_task_id, blocked_task_id)
		)`},
		{"t_task_pruned_files", fmt.Sprintf(`CREATE TABLE t_task_pruned_files (
			id %s,
			project_id BIGINT NOT NULL,
			task_id BIGINT NOT NULL,
			path TEXT NOT NULL,
			pruned_ts BIGINT NOT NULL,
			explaining_key_id BIGINT
		)`, pk)},
		{"t_activity_log", fmt.Sprintf(`CREATE TABLE t_activity_log (
			id %s,
			project_id BIGINT NOT NULL,
			agent_id BIGINT NOT NULL,
			event_type VARCHAR(64) NOT NULL,
			detail TEXT,
			ts BIGINT NOT NULL
		)`, pk)},
	}
}

func createTransactionTables(ctx context.Context, a *Adapter) error {
	for _, s := range transactionTableDefs(a.dialect) {
		if err := a.CreateTableIfNotExists(ctx, s.table, s.ddl); err != nil {
			return fmt.Errorf("creating %s: %w", s.table, err)
		}
	}

	// Indexes backing the hot query paths: tag-index lookups, dependency
	// graph traversal, and retention's age-ordered deletes.
	for _, idx := range transactionIndexDefs() {
		// No portable "CREATE INDEX IF NOT EXISTS" on MySQL; probe via
		// information_schema.statistics instead of catching the error.
		name := idx[len("CREATE INDEX "):]
		name = name[:indexNameEnd(name)]
		exists, err := indexExists(ctx, a, name)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if _, err := a.db.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("creating index: %w", err)
		}
	}
	return nil
}

func indexNameEnd(s string) int {
	for i, r := range s {
		if r == ' ' {
			return i
		}
	}
	return len(s)
}

func indexExists(ctx context.Context, a *Adapter, name string) (bool, error) {
	var query string
	switch a.dialect {
	case DialectSQLite:
		query = "SELECT 1 FROM sqlite_master WHERE type='index' AND name=?"
	case DialectMySQL:
		query = "SELECT 1 FROM information_schema.statistics WHERE table_schema = DATABASE() AND index_name = ? LIMIT 1"
	case DialectPostgres:
		query = "SELECT 1 FROM pg_indexes WHERE schemaname = current_schema() AND indexname = $1"
	}
	var one int
	err := a.db.QueryRowContext(ctx, query, name).Scan(&one)
	if err != nil {
		return false, nil
	}
	return true, nil
}

func templateTableDef(dialect Dialect) tableDef {
	pk := dialect.AutoIncrementPK()
	return tableDef{"t_context_templates", fmt.Sprintf(`CREATE TABLE t_context_templates (
		id %s,
		project_id BIGINT NOT NULL,
		name VARCHAR(255) NOT NULL,
		layer_id BIGINT,
		default_tags TEXT,
		default_scopes TEXT,
		default_status SMALLINT,
		metadata TEXT,
		UNIQUE(project_id, name)
	)`, pk)}
}

func createTemplateTable(ctx context.Context, a *Adapter) error {
	def := templateTableDef(a.dialect)
	return a.CreateTableIfNotExists(ctx, def.table, def.ddl)
}

// RenderBootstrapDDL renders every bootstrap-layer CREATE TABLE (and its
// indexes) as literal SQL text for the given dialect, without opening a
// connection or executing anything. db:dump uses this to emit a schema
// section ahead of the row INSERTs when --exclude-schema isn't set.
func RenderBootstrapDDL(dialect Dialect) []string {
	var out []string
	for _, d := range masterTableDefs(dialect) {
		out = append(out, d.ddl+";")
	}
	for _, d := range transactionTableDefs(dialect) {
		out = append(out, d.ddl+";")
	}
	out = append(out, transactionIndexDefs()...)
	for i := range out {
		if out[i][len(out[i])-1] != ';' {
			out[i] += ";"
		}
	}
	t := templateTableDef(dialect)
	out = append(out, t.ddl+";")
	return out
}

func addTagIndexProjectID(ctx context.Context, a *Adapter) error {
	// t_tag_index already carries project_id from creation in this
	// implementation; kept as an explicit enhancement-layer migration
	// (rather than folded into bootstrap) because the original system
	// added project scoping to its tag index after the fact, and the
	// copy-and-rename idiom below is how a SQLite deployment that
	// predates project scoping would pick it up.
	exists, err := a.ColumnExists(ctx, "t_tag_index", "project_id")
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if a.dialect != DialectSQLite {
		return a.AddColumnIfNotExists(ctx, "t_tag_index", "project_id", "BIGINT NOT NULL DEFAULT 0")
	}
	return a.RebuildSQLiteTable(ctx, "t_tag_index", `CREATE TABLE t_tag_index__new (
		tag_name VARCHAR(255) NOT NULL,
		decision_key_id BIGINT NOT NULL,
		project_id BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (tag_name, decision_key_id, project_id)
	)`, []string{"tag_name", "decision_key_id"})
}

func addDecisionContextLinkColumns(ctx context.Context, a *Adapter) error {
	for _, col := range []string{"related_task_id", "related_constraint_id"} {
		if err := a.AddColumnIfNotExists(ctx, "t_decision_context", col, "BIGINT"); err != nil {
			return fmt.Errorf("adding %s: %w", col, err)
		}
	}
	return nil
}

func addTemplatePatternColumns(ctx context.Context, a *Adapter) error {
	// key_pattern carries the "{var}" placeholder syntax set_from_template
	// substitutes into; value_hint and description are free-text guidance
	// shown to callers listing templates. Added after the initial shape
	// because the first cut of this table only stored layer/tag defaults.
	for col, ddl := range map[string]string{
		"key_pattern": "VARCHAR(255)",
		"layer":       "VARCHAR(64)",
		"tags_json":   "TEXT",
		"value_hint":  "TEXT",
		"description": "TEXT",
	} {
		if err := a.AddColumnIfNotExists(ctx, "t_context_templates", col, ddl); err != nil {
			return fmt.Errorf("adding %s: %w", col, err)
		}
	}
	return nil
}

func addConstraintPlanID(ctx context.Context, a *Adapter) error {
	// plan_id supports activate_by_tag-adjacent plan-mode workflows that
	// stage constraints under a plan identifier before committing them.
	return a.AddColumnIfNotExists(ctx, "t_constraints", "plan_id", "VARCHAR(64)")
}
