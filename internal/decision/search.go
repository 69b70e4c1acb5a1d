package decision

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// MatchMode selects how search_by_tags combines the requested tags.
type MatchMode int

const (
	MatchAny MatchMode = iota // OR: any tag present
	MatchAll                  // AND: all tags present
)

// SearchResult is one row of a tag/layer/advanced search: resolved
// metadata, not raw IDs, ordered most-recent ts descending.
type SearchResult struct {
	Key       string
	Value     string
	Layer     string
	Tags      []string
	Status    string
	Timestamp int64
}

// SearchByTags queries the denormalized tag index (never the full table),
// groups matches by decision, applies mode, then joins for metadata.
func (s *Store) SearchByTags(ctx context.Context, tags []string, mode MatchMode, layer, status string, limit int) ([]SearchResult, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	db := s.a.DB()
	ph := s.a.Dialect().Placeholder

	placeholders := make([]string, len(tags))
	args := make([]any, 0, len(tags)+2)
	args = append(args, s.projectID)
	for i, t := range tags {
		placeholders[i] = ph(i + 2)
		args = append(args, t)
	}
	query := fmt.Sprintf(`SELECT ti.decision_key_id, COUNT(DISTINCT ti.tag_name) AS matched
		FROM t_tag_index ti
		WHERE ti.project_id = %s AND ti.tag_name IN (%s)
		GROUP BY ti.decision_key_id`, ph(1), strings.Join(placeholders, ", "))

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keyIDs []int64
	for rows.Next() {
		var keyID int64
		var matched int
		if err := rows.Scan(&keyID, &matched); err != nil {
			return nil, err
		}
		if mode == MatchAll && matched < len(tags) {
			continue
		}
		keyIDs = append(keyIDs, keyID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return s.resolveDecisions(ctx, keyIDs, layer, status, limit)
}

// SearchByLayer is a straight projection with optional tag aggregation:
// when includeTags is false, each result's Tags is left nil.
func (s *Store) SearchByLayer(ctx context.Context, layer, status string, includeTags bool, limit int) ([]SearchResult, error) {
	res, err := s.searchFiltered(ctx, AdvancedFilter{Layers: []string{layer}, Status: status, Limit: limit})
	if err != nil || includeTags {
		return res, err
	}
	for i := range res {
		res[i].Tags = nil
	}
	return res, nil
}

// AdvancedFilter is the conjunctive filter set accepted by SearchAdvanced.
type AdvancedFilter struct {
	Layers      []string
	TagsAny     []string
	TagsAll     []string
	UpdatedAfter string // "5m", "1h", "2d", or ISO8601
	Version     string
	Status      string
	Limit       int
}

// SearchAdvanced applies every non-empty field of f as an AND'd filter.
// UpdatedAfter accepts a short relative duration ("5m","1h","2d") or a
// full ISO8601 timestamp.
func (s *Store) SearchAdvanced(ctx context.Context, f AdvancedFilter) ([]SearchResult, error) {
	return s.searchFiltered(ctx, f)
}

func (s *Store) searchFiltered(ctx context.Context, f AdvancedFilter) ([]SearchResult, error) {
	db := s.a.DB()
	ph := s.a.Dialect().Placeholder

	where := []string{fmt.Sprintf("d.project_id = %s", ph(1))}
	args := []any{s.projectID}
	n := 1

	if len(f.Layers) > 0 {
		placeholders := make([]string, len(f.Layers))
		for i, l := range f.Layers {
			layerID, err := s.reg.LookupLayer(ctx, l)
			if err != nil {
				return nil, err
			}
			n++
			placeholders[i] = ph(n)
			args = append(args, layerID)
		}
		where = append(where, fmt.Sprintf("d.layer_id IN (%s)", strings.Join(placeholders, ", ")))
	}
	if f.Status != "" {
		st, err := parseStatus(f.Status)
		if err != nil {
			return nil, err
		}
		n++
		where = append(where, fmt.Sprintf("d.status = %s", ph(n)))
		args = append(args, int(st))
	}
	if f.Version != "" {
		n++
		where = append(where, fmt.Sprintf("d.version = %s", ph(n)))
		args = append(args, f.Version)
	}
	if f.UpdatedAfter != "" {
		ts, err := resolveUpdatedAfter(f.UpdatedAfter)
		if err != nil {
			return nil, err
		}
		n++
		where = append(where, fmt.Sprintf("d.ts > %s", ph(n)))
		args = append(args, ts)
	}

	query := fmt.Sprintf(`SELECT d.key_id, ck.key_name, d.value, d.layer_id, d.status, d.ts
		FROM t_decisions d JOIN m_context_keys ck ON ck.id = d.key_id
		WHERE %s ORDER BY d.ts DESC`, strings.Join(where, " AND "))
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var keyID, layerID int64
		var key, value string
		var status int
		var ts int64
		if err := rows.Scan(&keyID, &key, &value, &layerID, &status, &ts); err != nil {
			return nil, err
		}
		layerName, err := s.reg.LayerName(ctx, layerID)
		if err != nil {
			return nil, err
		}
		tags, err := currentTagNames(ctx, db, ph, keyID, s.projectID)
		if err != nil {
			return nil, err
		}
		if len(f.TagsAll) > 0 && !containsAll(tags, f.TagsAll) {
			continue
		}
		if len(f.TagsAny) > 0 && !containsAny(tags, f.TagsAny) {
			continue
		}
		out = append(out, SearchResult{
			Key: key, Value: value, Layer: layerName, Tags: tags,
			Status: decisionStatusName(status), Timestamp: ts,
		})
	}
	return out, rows.Err()
}

func (s *Store) resolveDecisions(ctx context.Context, keyIDs []int64, layer, status string, limit int) ([]SearchResult, error) {
	if len(keyIDs) == 0 {
		return nil, nil
	}
	db := s.a.DB()
	ph := s.a.Dialect().Placeholder

	placeholders := make([]string, len(keyIDs))
	args := make([]any, 0, len(keyIDs)+1)
	args = append(args, s.projectID)
	for i, id := range keyIDs {
		placeholders[i] = ph(i + 2)
		args = append(args, id)
	}
	query := fmt.Sprintf(`SELECT d.key_id, ck.key_name, d.value, d.layer_id, d.status, d.ts
		FROM t_decisions d JOIN m_context_keys ck ON ck.id = d.key_id
		WHERE d.project_id = %s AND d.key_id IN (%s) ORDER BY d.ts DESC`,
		ph(1), strings.Join(placeholders, ", "))
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var keyID, layerID int64
		var key, value string
		var st int
		var ts int64
		if err := rows.Scan(&keyID, &key, &value, &layerID, &st, &ts); err != nil {
			return nil, err
		}
		if layer != "" {
			layerID2, err := s.reg.LookupLayer(ctx, layer)
			if err != nil {
				return nil, err
			}
			if layerID2 != layerID {
				continue
			}
		}
		if status != "" {
			want, err := parseStatus(status)
			if err != nil {
				return nil, err
			}
			if int(want) != st {
				continue
			}
		}
		layerName, err := s.reg.LayerName(ctx, layerID)
		if err != nil {
			return nil, err
		}
		tags, err := currentTagNames(ctx, db, ph, keyID, s.projectID)
		if err != nil {
			return nil, err
		}
		out = append(out, SearchResult{Key: key, Value: value, Layer: layerName, Tags: tags, Status: decisionStatusName(st), Timestamp: ts})
	}
	return out, rows.Err()
}

// ResolveRelativeTime exposes resolveUpdatedAfter's "5m"/"1h"/"2d"/ISO8601
// cutoff parsing to other packages (file's query --since, cmd/sqlew's
// query command) so there is one parser for this shorthand, not one per
// caller.
func ResolveRelativeTime(raw string) (int64, error) {
	return resolveUpdatedAfter(raw)
}

// resolveUpdatedAfter parses a short relative duration or ISO8601 into a
// Unix epoch cutoff: "5m"/"1h"/"2d" style shorthand goes through
// parseShortDuration, then RFC3339 is tried, and any other text is handed
// to the olebedev/when natural-language parser.
func resolveUpdatedAfter(raw string) (int64, error) {
	if d, err := parseShortDuration(raw); err == nil {
		return time.Now().Add(-d).Unix(), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.Unix(), nil
	}
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	res, err := w.Parse(raw, time.Now())
	if err != nil || res == nil {
		return 0, fmt.Errorf("updated_after: could not parse %q", raw)
	}
	return res.Time.Unix(), nil
}

// parseShortDuration handles the "5m","1h","2d" shorthand literally named
// which time.ParseDuration almost but doesn't quite cover (it has
// no "d" unit).
func parseShortDuration(raw string) (time.Duration, error) {
	if len(raw) < 2 {
		return 0, fmt.Errorf("too short")
	}
	unit := raw[len(raw)-1]
	numPart := raw[:len(raw)-1]
	n, err := strconv.Atoi(numPart)
	if err != nil {
		return 0, err
	}
	switch unit {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown unit %q", string(unit))
	}
}

func parseStatus(s string) (int, error) {
	switch strings.ToLower(s) {
	case "active":
		return 1, nil
	case "deprecated":
		return 2, nil
	case "draft":
		return 3, nil
	default:
		return 0, fmt.Errorf("unknown decision status %q", s)
	}
}

func decisionStatusName(n int) string {
	switch n {
	case 1:
		return "active"
	case 2:
		return "deprecated"
	case 3:
		return "draft"
	default:
		return "unknown"
	}
}

func containsAll(haystack, needles []string) bool {
	set := toSet(haystack)
	for _, n := range needles {
		if !set[n] {
			return false
		}
	}
	return true
}

func containsAny(haystack, needles []string) bool {
	set := toSet(haystack)
	for _, n := range needles {
		if set[n] {
			return true
		}
	}
	return false
}
