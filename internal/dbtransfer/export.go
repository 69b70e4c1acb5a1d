package dbtransfer

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sin5ddd/sqlew/internal/registry"
	"github.com/sin5ddd/sqlew/internal/storage"
)

// exportFormatVersion is bumped whenever the ExportDump shape changes in a
// way Import needs to branch on; Import rejects a version it doesn't
// recognize rather than guessing at a missing field.
const exportFormatVersion = 1

// Metadata self-describes an ExportDump: which project it came from and
// when, so Import doesn't need a side channel to know what it's looking at.
type Metadata struct {
	Version    int    `json:"version"`
	Project    string `json:"project"`
	ExportedAt int64  `json:"exported_at"`
}

// ExportDump is the self-describing JSON shape db:export emits and db:import
// consumes. Master rows are resolved to their natural keys (name, path,
// key text) instead of raw IDs, and task/constraint rows carry a
// surrogate ExportID used only to thread intra-dump links (task
// dependencies, task-file links, decision-context back-references) —
// never written to the destination database as-is, since real primary
// keys are reassigned on import (§8 property 7: "modulo ID renumbering").
type ExportDump struct {
	Metadata Metadata `json:"metadata"`

	Agents []string `json:"agents"`
	Files  []string `json:"files"`
	Tags   []string `json:"tags"`
	Scopes []string `json:"scopes"`

	Decisions         []ExportedDecision         `json:"decisions"`
	DecisionHistory   []ExportedDecisionHistory  `json:"decision_history"`
	DecisionTags      []ExportedDecisionTag      `json:"decision_tags"`
	DecisionScopes    []ExportedDecisionScope    `json:"decision_scopes"`
	DecisionContexts  []ExportedDecisionContext  `json:"decision_contexts"`

	Constraints    []ExportedConstraint    `json:"constraints"`
	ConstraintTags []ExportedConstraintTag `json:"constraint_tags"`

	FileChanges []ExportedFileChange `json:"file_changes"`

	Tasks             []ExportedTask             `json:"tasks"`
	TaskTags          []ExportedTaskTag          `json:"task_tags"`
	TaskFileLinks     []ExportedTaskFileLink     `json:"task_file_links"`
	TaskDecisionLinks []ExportedTaskDecisionLink `json:"task_decision_links"`
	TaskDependencies  []ExportedTaskDependency   `json:"task_dependencies"`
	TaskPrunedFiles   []ExportedTaskPrunedFile   `json:"task_pruned_files"`

	ActivityLog []ExportedActivity `json:"activity_log"`
}

type ExportedDecision struct {
	Key        string   `json:"key"`
	Value      *string  `json:"value,omitempty"`
	NumericVal *float64 `json:"numeric_value,omitempty"`
	Agent      string   `json:"agent"`
	Layer      string   `json:"layer"`
	Version    string   `json:"version"`
	Status     int      `json:"status"`
	TS         int64    `json:"ts"`
}

type ExportedDecisionHistory struct {
	Key     string `json:"key"`
	Version string `json:"version"`
	Value   string `json:"value"`
	Agent   string `json:"agent"`
	TS      int64  `json:"ts"`
}

type ExportedDecisionTag struct {
	Key string `json:"key"`
	Tag string `json:"tag"`
}

type ExportedDecisionScope struct {
	Key   string `json:"key"`
	Scope string `json:"scope"`
}

type ExportedDecisionContext struct {
	Key                string `json:"key"`
	Rationale          string `json:"rationale"`
	AlternativesJSON   string `json:"alternatives_json,omitempty"`
	TradeoffsJSON      string `json:"tradeoffs_json,omitempty"`
	Agent              string `json:"agent"`
	RelatedTaskExport  *int64 `json:"related_task_export_id,omitempty"`
	RelatedConstraintExport *int64 `json:"related_constraint_export_id,omitempty"`
	TS                 int64  `json:"ts"`
}

type ExportedConstraint struct {
	ExportID       int64  `json:"export_id"`
	Category       string `json:"category"`
	Layer          string `json:"layer,omitempty"`
	ConstraintText string `json:"constraint_text"`
	Priority       int    `json:"priority"`
	Active         bool   `json:"active"`
	CreatedBy      string `json:"created_by"`
	TS             int64  `json:"ts"`
}

type ExportedConstraintTag struct {
	ConstraintExportID int64  `json:"constraint_export_id"`
	Tag                string `json:"tag"`
}

type ExportedFileChange struct {
	Path        string `json:"path"`
	Agent       string `json:"agent"`
	ChangeType  string `json:"change_type"`
	Layer       string `json:"layer,omitempty"`
	Description string `json:"description,omitempty"`
	TS          int64  `json:"ts"`
}

type ExportedTask struct {
	ExportID    int64  `json:"export_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"`
	Priority    int    `json:"priority"`
	Layer       string `json:"layer,omitempty"`
	Assigned    string `json:"assigned_agent,omitempty"`
	CreatedBy   string `json:"created_by"`
	CreatedTS   int64  `json:"created_ts"`
	UpdatedTS   int64  `json:"updated_ts"`
}

type ExportedTaskTag struct {
	TaskExportID int64  `json:"task_export_id"`
	Tag          string `json:"tag"`
}

type ExportedTaskFileLink struct {
	TaskExportID int64  `json:"task_export_id"`
	Path         string `json:"path"`
}

type ExportedTaskDecisionLink struct {
	TaskExportID int64  `json:"task_export_id"`
	Key          string `json:"key"`
	Relation     string `json:"relation,omitempty"`
}

type ExportedTaskDependency struct {
	BlockerExportID int64 `json:"blocker_export_id"`
	BlockedExportID int64 `json:"blocked_export_id"`
	CreatedTS       int64 `json:"created_ts"`
}

type ExportedTaskPrunedFile struct {
	TaskExportID     int64  `json:"task_export_id"`
	Path             string `json:"path"`
	PrunedTS         int64  `json:"pruned_ts"`
	ExplainingKey    string `json:"explaining_key,omitempty"`
}

type ExportedActivity struct {
	Agent     string `json:"agent"`
	EventType string `json:"event_type"`
	Detail    string `json:"detail,omitempty"`
	TS        int64  `json:"ts"`
}

// Export builds a self-describing ExportDump of one project: master rows are
// resolved to their natural keys and filtered to only the ones the
// project's transaction rows actually reference (never the whole
// interned-string dictionary, which may be shared with other projects).
func Export(ctx context.Context, a *storage.Adapter, projectID int64, projectName string, nowTS int64) (*ExportDump, error) {
	db := a.DB()
	reg := registry.New(a)

	agentName := func(id int64) (string, error) { return nameByID(ctx, db, a.Dialect(), "m_agents", id) }
	filePath := func(id int64) (string, error) { return nameByID(ctx, db, a.Dialect(), "m_file_paths", id, "path") }

	d := &ExportDump{Metadata: Metadata{Version: exportFormatVersion, Project: projectName, ExportedAt: nowTS}}

	ph := a.Dialect().Placeholder(1)

	// t_decisions
	rows, err := db.QueryContext(ctx, fmt.Sprintf(
		`SELECT k.key_name, d.value, d.numeric_value, d.agent_id, d.layer_id, d.version, d.status, d.ts
		 FROM t_decisions d JOIN m_context_keys k ON k.id = d.key_id WHERE d.project_id = %s`, ph), projectID)
	if err != nil {
		return nil, fmt.Errorf("exporting decisions: %w", err)
	}
	for rows.Next() {
		var key string
		var value sql.NullString
		var numeric sql.NullFloat64
		var agentID, layerID int64
		var version string
		var status int
		var ts int64
		if err := rows.Scan(&key, &value, &numeric, &agentID, &layerID, &version, &status, &ts); err != nil {
			rows.Close()
			return nil, err
		}
		ag, err := agentName(agentID)
		if err != nil {
			rows.Close()
			return nil, err
		}
		ly, err := reg.LayerName(ctx, layerID)
		if err != nil {
			rows.Close()
			return nil, err
		}
		ed := ExportedDecision{Key: key, Agent: ag, Layer: ly, Version: version, Status: status, TS: ts}
		if value.Valid {
			v := value.String
			ed.Value = &v
		}
		if numeric.Valid {
			n := numeric.Float64
			ed.NumericVal = &n
		}
		d.Decisions = append(d.Decisions, ed)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// t_decision_history
	rows, err = db.QueryContext(ctx, fmt.Sprintf(
		`SELECT k.key_name, h.version, h.value, a.name, h.ts
		 FROM t_decision_history h JOIN m_context_keys k ON k.id = h.key_id
		 JOIN m_agents a ON a.id = h.agent_id WHERE h.project_id = %s ORDER BY h.ts`, ph), projectID)
	if err != nil {
		return nil, fmt.Errorf("exporting decision history: %w", err)
	}
	for rows.Next() {
		var h ExportedDecisionHistory
		if err := rows.Scan(&h.Key, &h.Version, &h.Value, &h.Agent, &h.TS); err != nil {
			rows.Close()
			return nil, err
		}
		d.DecisionHistory = append(d.DecisionHistory, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// t_decision_tags / t_decision_scopes
	rows, err = db.QueryContext(ctx, fmt.Sprintf(
		`SELECT k.key_name, t.name FROM t_decision_tags dt
		 JOIN m_context_keys k ON k.id = dt.decision_key_id
		 JOIN m_tags t ON t.id = dt.tag_id WHERE dt.project_id = %s`, ph), projectID)
	if err != nil {
		return nil, fmt.Errorf("exporting decision tags: %w", err)
	}
	for rows.Next() {
		var row ExportedDecisionTag
		if err := rows.Scan(&row.Key, &row.Tag); err != nil {
			rows.Close()
			return nil, err
		}
		d.DecisionTags = append(d.DecisionTags, row)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = db.QueryContext(ctx, fmt.Sprintf(
		`SELECT k.key_name, s.name FROM t_decision_scopes ds
		 JOIN m_context_keys k ON k.id = ds.decision_key_id
		 JOIN m_scopes s ON s.id = ds.scope_id WHERE ds.project_id = %s`, ph), projectID)
	if err != nil {
		return nil, fmt.Errorf("exporting decision scopes: %w", err)
	}
	for rows.Next() {
		var row ExportedDecisionScope
		if err := rows.Scan(&row.Key, &row.Scope); err != nil {
			rows.Close()
			return nil, err
		}
		d.DecisionScopes = append(d.DecisionScopes, row)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// constraints first (tasks reference them via export IDs built here)
	constraintExportID := map[int64]int64{}
	rows, err = db.QueryContext(ctx, fmt.Sprintf(
		`SELECT c.id, cc.name, c.layer_id, c.constraint_text, c.priority, c.active, a.name, c.ts
		 FROM t_constraints c JOIN m_constraint_categories cc ON cc.id = c.category_id
		 JOIN m_agents a ON a.id = c.created_by_agent_id WHERE c.project_id = %s ORDER BY c.id`, ph), projectID)
	if err != nil {
		return nil, fmt.Errorf("exporting constraints: %w", err)
	}
	var nextConstraintExportID int64 = 1
	for rows.Next() {
		var realID, layerID sql.NullInt64
		var cat, text, createdBy string
		var priority int
		var active bool
		var ts int64
		if err := rows.Scan(&realID, &cat, &layerID, &text, &priority, &active, &createdBy, &ts); err != nil {
			rows.Close()
			return nil, err
		}
		ec := ExportedConstraint{ExportID: nextConstraintExportID, Category: cat, ConstraintText: text,
			Priority: priority, Active: active, CreatedBy: createdBy, TS: ts}
		if layerID.Valid {
			ly, err := reg.LayerName(ctx, layerID.Int64)
			if err != nil {
				rows.Close()
				return nil, err
			}
			ec.Layer = ly
		}
		constraintExportID[realID.Int64] = nextConstraintExportID
		d.Constraints = append(d.Constraints, ec)
		nextConstraintExportID++
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = db.QueryContext(ctx, fmt.Sprintf(
		`SELECT ct.constraint_id, t.name FROM t_constraint_tags ct
		 JOIN t_constraints c ON c.id = ct.constraint_id
		 JOIN m_tags t ON t.id = ct.tag_id WHERE c.project_id = %s`, ph), projectID)
	if err != nil {
		return nil, fmt.Errorf("exporting constraint tags: %w", err)
	}
	for rows.Next() {
		var realID int64
		var tag string
		if err := rows.Scan(&realID, &tag); err != nil {
			rows.Close()
			return nil, err
		}
		d.ConstraintTags = append(d.ConstraintTags, ExportedConstraintTag{ConstraintExportID: constraintExportID[realID], Tag: tag})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// decision contexts (may reference a constraint's or task's export id)
	rows, err = db.QueryContext(ctx, fmt.Sprintf(
		`SELECT k.key_name, dc.rationale, dc.alternatives_json, dc.tradeoffs_json, a.name,
		        dc.related_task_id, dc.related_constraint_id, dc.ts
		 FROM t_decision_context dc JOIN m_context_keys k ON k.id = dc.decision_key_id
		 JOIN m_agents a ON a.id = dc.agent_id WHERE dc.project_id = %s ORDER BY dc.id`, ph), projectID)
	if err != nil {
		return nil, fmt.Errorf("exporting decision contexts: %w", err)
	}
	var pendingContexts []struct {
		ec            ExportedDecisionContext
		relatedTaskID *int64
	}
	for rows.Next() {
		var key, rationale, alt, trade, agent string
		var relatedTask, relatedConstraint sql.NullInt64
		var ts int64
		if err := rows.Scan(&key, &rationale, &alt, &trade, &agent, &relatedTask, &relatedConstraint, &ts); err != nil {
			rows.Close()
			return nil, err
		}
		ec := ExportedDecisionContext{Key: key, Rationale: rationale, AlternativesJSON: alt, TradeoffsJSON: trade, Agent: agent, TS: ts}
		var relTask *int64
		if relatedTask.Valid {
			v := relatedTask.Int64
			relTask = &v
		}
		if relatedConstraint.Valid {
			if id, ok := constraintExportID[relatedConstraint.Int64]; ok {
				ec.RelatedConstraintExport = &id
			}
		}
		pendingContexts = append(pendingContexts, struct {
			ec            ExportedDecisionContext
			relatedTaskID *int64
		}{ec, relTask})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// tasks (need the export ID map before resolving decision-context task refs)
	taskExportID := map[int64]int64{}
	rows, err = db.QueryContext(ctx, fmt.Sprintf(
		`SELECT t.id, t.title, td.description, ts_.name, t.priority, t.layer_id, t.assigned_agent_id, a.name, t.created_ts, t.updated_ts
		 FROM t_tasks t JOIN m_task_statuses ts_ ON ts_.id = t.status_id
		 JOIN m_agents a ON a.id = t.created_by_agent_id
		 LEFT JOIN t_task_details td ON td.task_id = t.id
		 WHERE t.project_id = %s ORDER BY t.id`, ph), projectID)
	if err != nil {
		return nil, fmt.Errorf("exporting tasks: %w", err)
	}
	var nextTaskExportID int64 = 1
	for rows.Next() {
		var realID int64
		var title, status, createdBy string
		var description sql.NullString
		var priority int
		var layerID, assignedAgentID sql.NullInt64
		var createdTS, updatedTS int64
		if err := rows.Scan(&realID, &title, &description, &status, &priority, &layerID, &assignedAgentID, &createdBy, &createdTS, &updatedTS); err != nil {
			rows.Close()
			return nil, err
		}
		et := ExportedTask{ExportID: nextTaskExportID, Title: title, Status: status, Priority: priority,
			CreatedBy: createdBy, CreatedTS: createdTS, UpdatedTS: updatedTS}
		if description.Valid {
			et.Description = description.String
		}
		if layerID.Valid {
			ly, err := reg.LayerName(ctx, layerID.Int64)
			if err != nil {
				rows.Close()
				return nil, err
			}
			et.Layer = ly
		}
		if assignedAgentID.Valid {
			n, err := agentName(assignedAgentID.Int64)
			if err != nil {
				rows.Close()
				return nil, err
			}
			et.Assigned = n
		}
		taskExportID[realID] = nextTaskExportID
		d.Tasks = append(d.Tasks, et)
		nextTaskExportID++
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, pc := range pendingContexts {
		if pc.relatedTaskID != nil {
			if id, ok := taskExportID[*pc.relatedTaskID]; ok {
				pc.ec.RelatedTaskExport = &id
			}
		}
		d.DecisionContexts = append(d.DecisionContexts, pc.ec)
	}

	rows, err = db.QueryContext(ctx, fmt.Sprintf(
		`SELECT tt.task_id, t.name FROM t_task_tags tt
		 JOIN t_tasks ta ON ta.id = tt.task_id
		 JOIN m_tags t ON t.id = tt.tag_id WHERE ta.project_id = %s`, ph), projectID)
	if err != nil {
		return nil, fmt.Errorf("exporting task tags: %w", err)
	}
	for rows.Next() {
		var realID int64
		var tag string
		if err := rows.Scan(&realID, &tag); err != nil {
			rows.Close()
			return nil, err
		}
		d.TaskTags = append(d.TaskTags, ExportedTaskTag{TaskExportID: taskExportID[realID], Tag: tag})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = db.QueryContext(ctx, fmt.Sprintf(
		`SELECT tf.task_id, f.path FROM t_task_file_links tf
		 JOIN t_tasks ta ON ta.id = tf.task_id
		 JOIN m_file_paths f ON f.id = tf.file_id WHERE ta.project_id = %s`, ph), projectID)
	if err != nil {
		return nil, fmt.Errorf("exporting task file links: %w", err)
	}
	for rows.Next() {
		var realID int64
		var path string
		if err := rows.Scan(&realID, &path); err != nil {
			rows.Close()
			return nil, err
		}
		d.TaskFileLinks = append(d.TaskFileLinks, ExportedTaskFileLink{TaskExportID: taskExportID[realID], Path: path})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = db.QueryContext(ctx, fmt.Sprintf(
		`SELECT tl.task_id, k.key_name, tl.relation FROM t_task_decision_links tl
		 JOIN t_tasks ta ON ta.id = tl.task_id
		 JOIN m_context_keys k ON k.id = tl.decision_key_id WHERE ta.project_id = %s`, ph), projectID)
	if err != nil {
		return nil, fmt.Errorf("exporting task decision links: %w", err)
	}
	for rows.Next() {
		var realID int64
		var key string
		var relation sql.NullString
		if err := rows.Scan(&realID, &key, &relation); err != nil {
			rows.Close()
			return nil, err
		}
		d.TaskDecisionLinks = append(d.TaskDecisionLinks, ExportedTaskDecisionLink{TaskExportID: taskExportID[realID], Key: key, Relation: relation.String})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = db.QueryContext(ctx, fmt.Sprintf(
		`SELECT blocker_task_id, blocked_task_id, created_ts FROM t_task_dependencies WHERE project_id = %s`, ph), projectID)
	if err != nil {
		return nil, fmt.Errorf("exporting task dependencies: %w", err)
	}
	for rows.Next() {
		var blocker, blocked, ts int64
		if err := rows.Scan(&blocker, &blocked, &ts); err != nil {
			rows.Close()
			return nil, err
		}
		d.TaskDependencies = append(d.TaskDependencies, ExportedTaskDependency{
			BlockerExportID: taskExportID[blocker], BlockedExportID: taskExportID[blocked], CreatedTS: ts})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = db.QueryContext(ctx, fmt.Sprintf(
		`SELECT pf.task_id, pf.path, pf.pruned_ts, k.key_name FROM t_task_pruned_files pf
		 LEFT JOIN m_context_keys k ON k.id = pf.explaining_key_id
		 WHERE pf.project_id = %s`, ph), projectID)
	if err != nil {
		return nil, fmt.Errorf("exporting pruned files: %w", err)
	}
	for rows.Next() {
		var realID, ts int64
		var path string
		var explainKey sql.NullString
		if err := rows.Scan(&realID, &path, &ts, &explainKey); err != nil {
			rows.Close()
			return nil, err
		}
		d.TaskPrunedFiles = append(d.TaskPrunedFiles, ExportedTaskPrunedFile{
			TaskExportID: taskExportID[realID], Path: path, PrunedTS: ts, ExplainingKey: explainKey.String})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = db.QueryContext(ctx, fmt.Sprintf(
		`SELECT f.file_id, a.name, fc.change_type, fc.layer_id, fc.description, fc.ts
		 FROM t_file_changes fc JOIN m_file_paths f ON f.id = fc.file_id
		 JOIN m_agents a ON a.id = fc.agent_id WHERE fc.project_id = %s ORDER BY fc.ts`, ph), projectID)
	if err != nil {
		return nil, fmt.Errorf("exporting file changes: %w", err)
	}
	pathByID := map[int64]string{}
	for rows.Next() {
		var fileID int64
		var agent, changeType string
		var layerID sql.NullInt64
		var description sql.NullString
		var ts int64
		if err := rows.Scan(&fileID, &agent, &changeType, &layerID, &description, &ts); err != nil {
			rows.Close()
			return nil, err
		}
		path, ok := pathByID[fileID]
		if !ok {
			p, err := filePath(fileID)
			if err != nil {
				rows.Close()
				return nil, err
			}
			path = p
			pathByID[fileID] = path
		}
		efc := ExportedFileChange{Path: path, Agent: agent, ChangeType: changeType, TS: ts}
		if layerID.Valid {
			ly, err := reg.LayerName(ctx, layerID.Int64)
			if err != nil {
				rows.Close()
				return nil, err
			}
			efc.Layer = ly
		}
		if description.Valid {
			efc.Description = description.String
		}
		d.FileChanges = append(d.FileChanges, efc)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = db.QueryContext(ctx, fmt.Sprintf(
		`SELECT a.name, al.event_type, al.detail, al.ts FROM t_activity_log al
		 JOIN m_agents a ON a.id = al.agent_id WHERE al.project_id = %s ORDER BY al.ts`, ph), projectID)
	if err != nil {
		return nil, fmt.Errorf("exporting activity log: %w", err)
	}
	for rows.Next() {
		var row ExportedActivity
		var detail sql.NullString
		if err := rows.Scan(&row.Agent, &row.EventType, &detail, &row.TS); err != nil {
			rows.Close()
			return nil, err
		}
		row.Detail = detail.String
		d.ActivityLog = append(d.ActivityLog, row)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	d.Agents = collectNames(d)
	return d, nil
}

// collectNames gathers every distinct agent/tag/scope/file name referenced
// anywhere in the dump, so Import can get-or-create the master rows it
// needs before touching any transaction table.
func collectNames(d *ExportDump) []string {
	seen := map[string]bool{}
	var names []string
	add := func(n string) {
		if n == "" || seen[n] {
			return
		}
		seen[n] = true
		names = append(names, n)
	}
	for _, x := range d.Decisions {
		add(x.Agent)
	}
	for _, x := range d.DecisionHistory {
		add(x.Agent)
	}
	for _, x := range d.DecisionContexts {
		add(x.Agent)
	}
	for _, x := range d.Constraints {
		add(x.CreatedBy)
	}
	for _, x := range d.FileChanges {
		add(x.Agent)
	}
	for _, x := range d.Tasks {
		add(x.CreatedBy)
		add(x.Assigned)
	}
	for _, x := range d.ActivityLog {
		add(x.Agent)
	}
	d.Tags = collectTags(d)
	d.Scopes = collectScopes(d)
	d.Files = collectFiles(d)
	return names
}

func collectTags(d *ExportDump) []string {
	seen := map[string]bool{}
	var out []string
	add := func(n string) {
		if n == "" || seen[n] {
			return
		}
		seen[n] = true
		out = append(out, n)
	}
	for _, x := range d.DecisionTags {
		add(x.Tag)
	}
	for _, x := range d.ConstraintTags {
		add(x.Tag)
	}
	for _, x := range d.TaskTags {
		add(x.Tag)
	}
	return out
}

func collectScopes(d *ExportDump) []string {
	seen := map[string]bool{}
	var out []string
	for _, x := range d.DecisionScopes {
		if x.Scope != "" && !seen[x.Scope] {
			seen[x.Scope] = true
			out = append(out, x.Scope)
		}
	}
	return out
}

func collectFiles(d *ExportDump) []string {
	seen := map[string]bool{}
	var out []string
	add := func(n string) {
		if n == "" || seen[n] {
			return
		}
		seen[n] = true
		out = append(out, n)
	}
	for _, x := range d.FileChanges {
		add(x.Path)
	}
	for _, x := range d.TaskFileLinks {
		add(x.Path)
	}
	for _, x := range d.TaskPrunedFiles {
		add(x.Path)
	}
	return out
}

func nameByID(ctx context.Context, db *sql.DB, dialect storage.Dialect, table string, id int64, nameCol ...string) (string, error) {
	col := "name"
	if len(nameCol) > 0 {
		col = nameCol[0]
	}
	var name string
	err := db.QueryRowContext(ctx, fmt.Sprintf("SELECT %s FROM %s WHERE id = %s", col, table, dialect.Placeholder(1)), id).Scan(&name)
	return name, err
}
