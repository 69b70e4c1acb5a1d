// Package decision implements the decision half of the shared context
// store: set/get/version/search over named, versioned key-value
// decisions, with tag-index maintenance and JSON rationale validation.
// The constraint side lives in the sibling internal/constraint package.
package decision

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sin5ddd/sqlew/internal/batch"
	"github.com/sin5ddd/sqlew/internal/model"
	"github.com/sin5ddd/sqlew/internal/registry"
	"github.com/sin5ddd/sqlew/internal/sqlerr"
	"github.com/sin5ddd/sqlew/internal/storage"
)

// Store is the decision half of the store, bound to one project.
type Store struct {
	a         *storage.Adapter
	reg       *registry.Registry
	projectID int64
}

func New(a *storage.Adapter, projectID int64) *Store {
	return &Store{a: a, reg: registry.New(a), projectID: projectID}
}

// SetParams carries the optional fields of a set/quick_set call.
type SetParams struct {
	Layer   string
	Tags    []string
	Scopes  []string
	Agent   string
	Version string
	Status  model.DecisionStatus
	// NumericValue, when non-nil, routes the write to the numeric sibling
	// column instead of the string value column; the two are mutually
	// exclusive per key.
	NumericValue *float64
}

// Set resolves every referenced ID (auto-creating tags/scopes/agents,
// rejecting unknown layers), and upserts the decision. If a row already
// exists for (key, project), its prior (version, value, agent, ts) is
// appended to history before the overwrite, and the tag index is updated
// atomically for added/removed tags, all within one transaction.
func (s *Store) Set(ctx context.Context, key, value string, p SetParams) (*model.Decision, error) {
	if strings.TrimSpace(key) == "" {
		return nil, sqlerr.Validation("key", "key must not be empty")
	}

	keyID, agentID, layerID, status, now, err := s.resolveIDs(ctx, key, p)
	if err != nil {
		return nil, err
	}

	var result *model.Decision
	err = s.a.Transaction(ctx, func(tx *storage.Tx) error {
		r, err := s.setTx(ctx, tx, key, keyID, value, agentID, layerID, status, now, p)
		result = r
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// setTx performs the write half of Set inside a caller-supplied
// transaction, so SetBatch's atomic mode can share one transaction
// across every item instead of nesting one per item.
func (s *Store) setTx(ctx context.Context, tx *storage.Tx, key string, keyID int64, value string, agentID, layerID int64, status model.DecisionStatus, now int64, p SetParams) (*model.Decision, error) {
	prior, priorErr := getDecisionTx(ctx, tx, keyID, s.projectID)
	if priorErr != nil && priorErr != sql.ErrNoRows {
		return nil, priorErr
	}
	if priorErr == nil {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("INSERT INTO t_decision_history (key_id, project_id, version, value, agent_id, ts) VALUES (%s,%s,%s,%s,%s,%s)",
				tx.Dialect().Placeholder(1), tx.Dialect().Placeholder(2), tx.Dialect().Placeholder(3),
				tx.Dialect().Placeholder(4), tx.Dialect().Placeholder(5), tx.Dialect().Placeholder(6)),
			keyID, s.projectID, prior.Version, prior.Value, prior.AgentID, prior.TS); err != nil {
			return nil, fmt.Errorf("appending history: %w", err)
		}
	}

	cols := []string{"key_id", "project_id", "value", "numeric_value", "agent_id", "layer_id", "version", "status", "ts"}
	var numeric any
	val := value
	if p.NumericValue != nil {
		numeric = *p.NumericValue
		val = "" // mutually exclusive with string value
	}
	vals := []any{keyID, s.projectID, val, numeric, agentID, layerID, p.Version, int(status), now}
	if _, err := storage.Upsert(ctx, tx, "t_decisions", cols, vals,
		[]string{"key_id", "project_id"},
		[]string{"value", "numeric_value", "agent_id", "layer_id", "version", "status", "ts"}); err != nil {
		return nil, fmt.Errorf("upserting decision: %w", err)
	}

	if err := s.reconcileTagsAndScopesTx(ctx, tx, keyID, p.Tags, p.Scopes); err != nil {
		return nil, err
	}

	return &model.Decision{
		KeyID: keyID, ProjectID: s.projectID, Key: key, Value: value,
		NumericVal: p.NumericValue, AgentID: agentID, LayerID: layerID,
		Version: p.Version, Status: status, TS: now,
	}, nil
}

// resolveIDs resolves the layer/agent/key IDs common to Set and SetBatch,
// so SetBatch's pre-flight validation and atomic apply share one path for
// ID resolution with Set itself.
func (s *Store) resolveIDs(ctx context.Context, key string, p SetParams) (keyID, agentID, layerID int64, status model.DecisionStatus, now int64, err error) {
	layerName := p.Layer
	if layerName == "" {
		layerName = string(model.LayerCrossCutting)
	}
	layerID, err = s.reg.LookupLayer(ctx, layerName)
	if err != nil {
		return
	}
	agentName := p.Agent
	if agentName == "" {
		agentName = "system"
	}
	now = nowTS()
	agentID, err = s.reg.GetOrCreateAgent(ctx, agentName, now)
	if err != nil {
		err = fmt.Errorf("resolving agent: %w", err)
		return
	}
	keyID, err = s.reg.GetOrCreateContextKey(ctx, key)
	if err != nil {
		err = fmt.Errorf("resolving context key: %w", err)
		return
	}
	status = p.Status
	if status == 0 {
		status = model.DecisionActive
	}
	return
}

// BatchItem is one entry of a set_batch call.
type BatchItem struct {
	Key    string
	Value  string
	Params SetParams
}

// SetBatch validates every item (non-empty key, known layer if given),
// then either runs the whole batch in one transaction (atomic) or applies
// each item independently via batch.ExecuteBestEffort.
func (s *Store) SetBatch(ctx context.Context, items []BatchItem, atomic bool) (batch.Result, error) {
	validate := func(item BatchItem) error {
		if strings.TrimSpace(item.Key) == "" {
			return sqlerr.Validation("key", "key must not be empty")
		}
		if item.Params.Layer != "" {
			if _, err := s.reg.LookupLayer(ctx, item.Params.Layer); err != nil {
				return sqlerr.Validation("layer", "invalid layer %q", item.Params.Layer)
			}
		}
		return nil
	}

	if atomic {
		err := batch.ExecuteAtomic(ctx, s.a, items, validate, func(ctx context.Context, tx *storage.Tx, item BatchItem) error {
			keyID, agentID, layerID, status, now, err := s.resolveIDs(ctx, item.Key, item.Params)
			if err != nil {
				return err
			}
			_, err = s.setTx(ctx, tx, item.Key, keyID, item.Value, agentID, layerID, status, now, item.Params)
			return err
		})
		if err != nil {
			return batch.Result{}, err
		}
		return batch.Result{Success: true, Inserted: len(items)}, nil
	}

	return batch.ExecuteBestEffort(ctx, items, validate, func(ctx context.Context, item BatchItem) (any, error) {
		return s.Set(ctx, item.Key, item.Value, item.Params)
	})
}

// reconcileTagsAndScopesTx resolves wantTags/wantScopes to IDs and updates
// the junction tables (and, in lockstep, the denormalized tag index) so
// that afterward decision_tags and the index agree exactly, per the tag
// index invariant: inserting rows for newly added tags and deleting rows,
// from both tables, for ones no longer present.
func (s *Store) reconcileTagsAndScopesTx(ctx context.Context, tx *storage.Tx, keyID int64, wantTags, wantScopes []string) error {
	currentTags, err := currentTagNamesTx(ctx, tx, keyID, s.projectID)
	if err != nil {
		return err
	}
	wantSet := toSet(wantTags)
	curSet := toSet(currentTags)

	for name := range wantSet {
		if curSet[name] {
			continue
		}
		tagID, err := s.reg.GetOrCreateTag(ctx, s.projectID, name)
		if err != nil {
			return fmt.Errorf("resolving tag %q: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("INSERT INTO t_decision_tags (decision_key_id, tag_id, project_id) VALUES (%s,%s,%s)",
				tx.Dialect().Placeholder(1), tx.Dialect().Placeholder(2), tx.Dialect().Placeholder(3)),
			keyID, tagID, s.projectID); err != nil {
			return fmt.Errorf("inserting decision_tags: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("INSERT INTO t_tag_index (tag_name, decision_key_id, project_id) VALUES (%s,%s,%s)",
				tx.Dialect().Placeholder(1), tx.Dialect().Placeholder(2), tx.Dialect().Placeholder(3)),
			name, keyID, s.projectID); err != nil {
			return fmt.Errorf("inserting tag_index: %w", err)
		}
	}

	for name := range curSet {
		if wantSet[name] || len(wantTags) == 0 {
			// An empty wantTags means "tags not specified this call":
			// leave existing tags untouched rather than clearing them.
			continue
		}
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM t_decision_tags WHERE decision_key_id=%s AND project_id=%s AND tag_id IN (SELECT id FROM m_tags WHERE project_id=%s AND name=%s)",
				tx.Dialect().Placeholder(1), tx.Dialect().Placeholder(2), tx.Dialect().Placeholder(3), tx.Dialect().Placeholder(4)),
			keyID, s.projectID, s.projectID, name); err != nil {
			return fmt.Errorf("deleting decision_tags: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM t_tag_index WHERE decision_key_id=%s AND project_id=%s AND tag_name=%s",
				tx.Dialect().Placeholder(1), tx.Dialect().Placeholder(2), tx.Dialect().Placeholder(3)),
			keyID, s.projectID, name); err != nil {
			return fmt.Errorf("deleting tag_index: %w", err)
		}
	}

	for _, name := range wantScopes {
		scopeID, err := s.reg.GetOrCreateScope(ctx, s.projectID, name)
		if err != nil {
			return fmt.Errorf("resolving scope %q: %w", name, err)
		}
		var exists int
		q := fmt.Sprintf("SELECT 1 FROM t_decision_scopes WHERE decision_key_id=%s AND scope_id=%s AND project_id=%s",
			tx.Dialect().Placeholder(1), tx.Dialect().Placeholder(2), tx.Dialect().Placeholder(3))
		if err := tx.QueryRowContext(ctx, q, keyID, scopeID, s.projectID).Scan(&exists); err == sql.ErrNoRows {
			if _, err := tx.ExecContext(ctx,
				fmt.Sprintf("INSERT INTO t_decision_scopes (decision_key_id, scope_id, project_id) VALUES (%s,%s,%s)",
					tx.Dialect().Placeholder(1), tx.Dialect().Placeholder(2), tx.Dialect().Placeholder(3)),
				keyID, scopeID, s.projectID); err != nil {
				return fmt.Errorf("inserting decision_scopes: %w", err)
			}
		} else if err != nil {
			return err
		}
	}

	return nil
}

func currentTagNamesTx(ctx context.Context, tx *storage.Tx, keyID, projectID int64) ([]string, error) {
	rows, err := tx.QueryContext(ctx,
		fmt.Sprintf("SELECT t.name FROM t_decision_tags dt JOIN m_tags t ON t.id = dt.tag_id WHERE dt.decision_key_id=%s AND dt.project_id=%s",
			tx.Dialect().Placeholder(1), tx.Dialect().Placeholder(2)),
		keyID, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func toSet(ss []string) map[string]bool {
	m := make(map[string]bool, len(ss))
	for _, s := range ss {
		m[s] = true
	}
	return m
}

func getDecisionTx(ctx context.Context, tx *storage.Tx, keyID, projectID int64) (*model.Decision, error) {
	row := tx.QueryRowContext(ctx,
		fmt.Sprintf("SELECT value, agent_id, layer_id, version, status, ts FROM t_decisions WHERE key_id=%s AND project_id=%s",
			tx.Dialect().Placeholder(1), tx.Dialect().Placeholder(2)),
		keyID, projectID)
	var d model.Decision
	var status int
	if err := row.Scan(&d.Value, &d.AgentID, &d.LayerID, &d.Version, &status, &d.TS); err != nil {
		return nil, err
	}
	d.KeyID, d.ProjectID, d.Status = keyID, projectID, model.DecisionStatus(status)
	return &d, nil
}

// Get resolves a decision's current value and metadata, pulling tag and
// scope names, layer name, agent name, and an ISO8601 timestamp.
func (s *Store) Get(ctx context.Context, key string) (*GetResult, error) {
	d := s.a.DB()
	ph := s.a.Dialect().Placeholder

	var keyID int64
	err := d.QueryRowContext(ctx, fmt.Sprintf("SELECT id FROM m_context_keys WHERE key_name=%s", ph(1)), key).Scan(&keyID)
	if err == sql.ErrNoRows {
		return nil, sqlerr.NotFound("key", "decision key %q not found", key)
	}
	if err != nil {
		return nil, err
	}

	var value string
	var numeric sql.NullFloat64
	var agentID, layerID int64
	var version string
	var status int
	var ts int64
	q := fmt.Sprintf("SELECT value, numeric_value, agent_id, layer_id, version, status, ts FROM t_decisions WHERE key_id=%s AND project_id=%s", ph(1), ph(2))
	err = d.QueryRowContext(ctx, q, keyID, s.projectID).Scan(&value, &numeric, &agentID, &layerID, &version, &status, &ts)
	if err == sql.ErrNoRows {
		return nil, sqlerr.NotFound("key", "decision %q has no value in this project", key)
	}
	if err != nil {
		return nil, err
	}

	layerName, err := s.reg.LayerName(ctx, layerID)
	if err != nil {
		return nil, err
	}
	tags, err := currentTagNames(ctx, d, ph, keyID, s.projectID)
	if err != nil {
		return nil, err
	}
	scopes, err := currentScopeNames(ctx, d, ph, keyID, s.projectID)
	if err != nil {
		return nil, err
	}
	var agentName string
	_ = d.QueryRowContext(ctx, fmt.Sprintf("SELECT name FROM m_agents WHERE id=%s", ph(1)), agentID).Scan(&agentName)

	res := &GetResult{
		Key: key, Value: value, Layer: layerName, Tags: tags, Scopes: scopes,
		Agent: agentName, Version: version, Status: model.DecisionStatus(status).String(),
		Timestamp: time.Unix(ts, 0).UTC().Format(time.RFC3339),
	}
	if numeric.Valid {
		res.NumericValue = &numeric.Float64
	}
	return res, nil
}

// GetResult is the read-path projection of a decision: metadata names are
// resolved, not left as IDs, and status/timestamp are display-ready.
type GetResult struct {
	Key          string
	Value        string
	NumericValue *float64
	Layer        string
	Tags         []string
	Scopes       []string
	Agent        string
	Version      string
	Status       string
	Timestamp    string
}

func currentTagNames(ctx context.Context, db *sql.DB, ph func(int) string, keyID, projectID int64) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		fmt.Sprintf("SELECT t.name FROM t_decision_tags dt JOIN m_tags t ON t.id=dt.tag_id WHERE dt.decision_key_id=%s AND dt.project_id=%s", ph(1), ph(2)),
		keyID, projectID)
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

func currentScopeNames(ctx context.Context, db *sql.DB, ph func(int) string, keyID, projectID int64) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		fmt.Sprintf("SELECT s.name FROM t_decision_scopes ds JOIN m_scopes s ON s.id=ds.scope_id WHERE ds.decision_key_id=%s AND ds.project_id=%s", ph(1), ph(2)),
		keyID, projectID)
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

// QuickSet infers layer and a baseline tag from key's first path segment
// via the prefix table (quickset.go), then delegates to Set. Explicit
// fields in p still win over the inference.
func (s *Store) QuickSet(ctx context.Context, key, value string, p SetParams) (*model.Decision, error) {
	inferred := InferFromPrefix(key)
	if p.Layer == "" {
		p.Layer = inferred.Layer
	}
	if len(p.Tags) == 0 && inferred.Tag != "" {
		p.Tags = []string{inferred.Tag}
	}
	return s.Set(ctx, key, value, p)
}

// GetVersions returns history rows ordered by ts descending; an empty
// slice (not an error) if the key exists but was never mutated; a
// not-found error if the key never existed at all.
func (s *Store) GetVersions(ctx context.Context, key string) ([]model.DecisionHistory, error) {
	db := s.a.DB()
	ph := s.a.Dialect().Placeholder

	var keyID int64
	err := db.QueryRowContext(ctx, fmt.Sprintf("SELECT id FROM m_context_keys WHERE key_name=%s", ph(1)), key).Scan(&keyID)
	if err == sql.ErrNoRows {
		return nil, sqlerr.NotFound("key", "decision key %q not found", key)
	}
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		fmt.Sprintf("SELECT id, version, value, agent_id, ts FROM t_decision_history WHERE key_id=%s AND project_id=%s ORDER BY ts DESC", ph(1), ph(2)),
		keyID, s.projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.DecisionHistory
	for rows.Next() {
		var h model.DecisionHistory
		if err := rows.Scan(&h.ID, &h.Version, &h.Value, &h.AgentID, &h.TS); err != nil {
			return nil, err
		}
		h.KeyID, h.ProjectID = keyID, s.projectID
		out = append(out, h)
	}
	return out, rows.Err()
}

// AddDecisionContext validates alternatives_json (must decode as a JSON
// array if present) and tradeoffs_json (must decode as a JSON object with
// only pros[]/cons[]) before inserting.
func (s *Store) AddDecisionContext(ctx context.Context, key, rationale, alternativesJSON, tradeoffsJSON, agent string, relatedTaskID, relatedConstraintID *int64) (*model.DecisionContext, error) {
	if alternativesJSON != "" {
		var arr []any
		if err := json.Unmarshal([]byte(alternativesJSON), &arr); err != nil {
			return nil, sqlerr.Validation("alternatives_json", "must be a JSON array: %v", err)
		}
	}
	if tradeoffsJSON != "" {
		var t model.Tradeoffs
		dec := json.NewDecoder(strings.NewReader(tradeoffsJSON))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&t); err != nil {
			return nil, sqlerr.Validation("tradeoffs_json", "must be a JSON object with only pros[]/cons[]: %v", err)
		}
	}

	db := s.a.DB()
	ph := s.a.Dialect().Placeholder
	var keyID int64
	err := db.QueryRowContext(ctx, fmt.Sprintf("SELECT id FROM m_context_keys WHERE key_name=%s", ph(1)), key).Scan(&keyID)
	if err == sql.ErrNoRows {
		return nil, sqlerr.NotFound("key", "decision key %q not found", key)
	}
	if err != nil {
		return nil, err
	}

	now := nowTS()
	agentID, err := s.reg.GetOrCreateAgent(ctx, agent, now)
	if err != nil {
		return nil, err
	}

	dc := &model.DecisionContext{
		KeyID: keyID, ProjectID: s.projectID, Rationale: rationale,
		AlternativesJSON: alternativesJSON, TradeoffsJSON: tradeoffsJSON,
		AgentID: agentID, RelatedTaskID: relatedTaskID, RelatedConstraintID: relatedConstraintID, TS: now,
	}
	err = s.a.Transaction(ctx, func(tx *storage.Tx) error {
		cols := []string{"decision_key_id", "project_id", "rationale", "alternatives_json", "tradeoffs_json", "agent_id", "related_task_id", "related_constraint_id", "ts"}
		vals := []any{dc.KeyID, dc.ProjectID, dc.Rationale, nullIfEmpty(dc.AlternativesJSON), nullIfEmpty(dc.TradeoffsJSON), dc.AgentID, dc.RelatedTaskID, dc.RelatedConstraintID, dc.TS}
		id, err := storage.InsertReturning(ctx, tx, "t_decision_context", cols, vals, "id")
		if err != nil {
			return err
		}
		dc.ID = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dc, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// HasUpdates is a cheap existence check across decision/constraint/task/
// file tables filtered by project and since.
func (s *Store) HasUpdates(ctx context.Context, since int64) (bool, error) {
	db := s.a.DB()
	ph := s.a.Dialect().Placeholder
	queries := []string{
		fmt.Sprintf("SELECT 1 FROM t_decisions WHERE project_id=%s AND ts > %s LIMIT 1", ph(1), ph(2)),
		fmt.Sprintf("SELECT 1 FROM t_constraints WHERE project_id=%s AND ts > %s LIMIT 1", ph(1), ph(2)),
		fmt.Sprintf("SELECT 1 FROM t_tasks WHERE project_id=%s AND updated_ts > %s LIMIT 1", ph(1), ph(2)),
		fmt.Sprintf("SELECT 1 FROM t_file_changes WHERE project_id=%s AND ts > %s LIMIT 1", ph(1), ph(2)),
	}
	for _, q := range queries {
		var one int
		err := db.QueryRowContext(ctx, q, s.projectID, since).Scan(&one)
		if err == nil {
			return true, nil
		}
		if err != sql.ErrNoRows {
			return false, err
		}
	}
	return false, nil
}

func nowTS() int64 { return time.Now().Unix() }
