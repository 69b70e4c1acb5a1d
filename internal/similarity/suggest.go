package similarity

import (
	"context"
	"fmt"
	"strings"

	"github.com/sin5ddd/sqlew/internal/storage"
)

// Suggest pulls candidate decisions from the denormalized tag index only
// (never scanning the full decisions table), scores each against
// (key, tags), and returns them ranked by composite score.
func Suggest(ctx context.Context, a *storage.Adapter, projectID int64, key string, tags []string) ([]Score, error) {
	candidates, err := candidatesFromTagIndex(ctx, a, projectID, tags, key)
	if err != nil {
		return nil, err
	}
	return RankCandidates(key, tags, candidates), nil
}

func candidatesFromTagIndex(ctx context.Context, a *storage.Adapter, projectID int64, tags []string, excludeKey string) ([]Candidate, error) {
	db := a.DB()
	ph := a.Dialect().Placeholder

	var keyIDs []int64
	if len(tags) > 0 {
		placeholders := make([]string, len(tags))
		args := make([]any, 0, len(tags)+1)
		args = append(args, projectID)
		for i, t := range tags {
			placeholders[i] = ph(i + 2)
			args = append(args, t)
		}
		rows, err := db.QueryContext(ctx,
			fmt.Sprintf("SELECT DISTINCT decision_key_id FROM t_tag_index WHERE project_id=%s AND tag_name IN (%s)", ph(1), strings.Join(placeholders, ", ")),
			args...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, err
			}
			keyIDs = append(keyIDs, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	} else {
		rows, err := db.QueryContext(ctx,
			fmt.Sprintf("SELECT key_id FROM t_decisions WHERE project_id=%s", ph(1)), projectID)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, err
			}
			keyIDs = append(keyIDs, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}

	out := make([]Candidate, 0, len(keyIDs))
	for _, keyID := range keyIDs {
		var name string
		err := db.QueryRowContext(ctx, fmt.Sprintf("SELECT key_name FROM m_context_keys WHERE id=%s", ph(1)), keyID).Scan(&name)
		if err != nil {
			continue
		}
		if name == excludeKey {
			continue
		}
		candTags, err := tagNamesForKey(ctx, a, keyID, projectID)
		if err != nil {
			return nil, err
		}
		out = append(out, Candidate{Key: name, Tags: candTags})
	}
	return out, nil
}

func tagNamesForKey(ctx context.Context, a *storage.Adapter, keyID, projectID int64) ([]string, error) {
	db := a.DB()
	ph := a.Dialect().Placeholder
	rows, err := db.QueryContext(ctx,
		fmt.Sprintf("SELECT tag_name FROM t_tag_index WHERE decision_key_id=%s AND project_id=%s", ph(1), ph(2)),
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
