package decision

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/sin5ddd/sqlew/internal/model"
	"github.com/sin5ddd/sqlew/internal/sqlerr"
	"github.com/sin5ddd/sqlew/internal/storage"
)

// Template is a reusable decision shape: a key pattern plus defaults for
// layer/tags/value, instantiated by SetFromTemplate.
type Template struct {
	ID          int64
	ProjectID   int64
	Name        string
	KeyPattern  string
	Layer       string
	Tags        []string
	ValueHint   string
	Description string
}

// CreateTemplate persists a named template scoped to the project.
func (s *Store) CreateTemplate(ctx context.Context, name, keyPattern, layer string, tags []string, valueHint, description string) (*Template, error) {
	if strings.TrimSpace(name) == "" {
		return nil, sqlerr.Validation("name", "template name must not be empty")
	}
	if strings.TrimSpace(keyPattern) == "" {
		return nil, sqlerr.Validation("key_pattern", "key_pattern must not be empty")
	}

	t := &Template{
		ProjectID: s.projectID, Name: name, KeyPattern: keyPattern,
		Layer: layer, Tags: tags, ValueHint: valueHint, Description: description,
	}
	err := s.a.Transaction(ctx, func(tx *storage.Tx) error {
		cols := []string{"project_id", "name", "key_pattern", "layer", "tags_json", "value_hint", "description"}
		vals := []any{t.ProjectID, t.Name, t.KeyPattern, t.Layer, tagsToJSON(t.Tags), t.ValueHint, t.Description}
		id, err := storage.InsertReturning(ctx, tx, "t_context_templates", cols, vals, "id")
		if err != nil {
			return fmt.Errorf("inserting template: %w", err)
		}
		t.ID = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListTemplates returns every template defined for the project.
func (s *Store) ListTemplates(ctx context.Context) ([]Template, error) {
	db := s.a.DB()
	ph := s.a.Dialect().Placeholder
	rows, err := db.QueryContext(ctx,
		fmt.Sprintf("SELECT id, name, key_pattern, layer, tags_json, value_hint, description FROM t_context_templates WHERE project_id=%s ORDER BY name", ph(1)),
		s.projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Template
	for rows.Next() {
		var t Template
		var tagsJSON, valueHint, description sql.NullString
		if err := rows.Scan(&t.ID, &t.Name, &t.KeyPattern, &t.Layer, &tagsJSON, &valueHint, &description); err != nil {
			return nil, err
		}
		t.ProjectID = s.projectID
		t.Tags = jsonToTags(tagsJSON.String)
		t.ValueHint = valueHint.String
		t.Description = description.String
		out = append(out, t)
	}
	return out, rows.Err()
}

// SetFromTemplate looks up a template by name, substitutes keyVars into its
// key_pattern ("{var}" placeholders), and calls Set with the template's
// layer/tags as defaults (explicit overrides in p still win).
func (s *Store) SetFromTemplate(ctx context.Context, templateName string, keyVars map[string]string, value string, p SetParams) (*model.Decision, error) {
	db := s.a.DB()
	ph := s.a.Dialect().Placeholder

	var t Template
	var tagsJSON sql.NullString
	q := fmt.Sprintf("SELECT id, key_pattern, layer, tags_json FROM t_context_templates WHERE project_id=%s AND name=%s", ph(1), ph(2))
	err := db.QueryRowContext(ctx, q, s.projectID, templateName).Scan(&t.ID, &t.KeyPattern, &t.Layer, &tagsJSON)
	if err == sql.ErrNoRows {
		return nil, sqlerr.NotFound("template", "template %q not found", templateName)
	}
	if err != nil {
		return nil, err
	}

	key := t.KeyPattern
	for k, v := range keyVars {
		key = strings.ReplaceAll(key, "{"+k+"}", v)
	}
	if strings.Contains(key, "{") {
		return nil, sqlerr.Validation("key_vars", "key_pattern %q still has unresolved placeholders after substitution", t.KeyPattern)
	}

	if p.Layer == "" {
		p.Layer = t.Layer
	}
	if len(p.Tags) == 0 {
		p.Tags = jsonToTags(tagsJSON.String)
	}
	return s.Set(ctx, key, value, p)
}

func tagsToJSON(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, t := range tags {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(t, `"`, `\"`))
		b.WriteByte('"')
	}
	b.WriteByte(']')
	return b.String()
}

func jsonToTags(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "[]" {
		return nil
	}
	raw = strings.TrimPrefix(raw, "[")
	raw = strings.TrimSuffix(raw, "]")
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		p = strings.Trim(p, `"`)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
