package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/sin5ddd/sqlew/internal/sqlerr"
)

// RequiredTable names a table and the columns verification must find on
// it. Columns is not exhaustive of the live schema; it lists only the
// columns a caller depends on existing.
type RequiredTable struct {
	Name    string
	Columns []string
}

// VerifyIntegrity checks that every table in required exists with every
// named column present, returning a *sqlerr.Error of KindSchemaMismatch
// naming every missing item (not just the first) when it doesn't, with a
// remediation hint. Startup calls this after migrations and aborts the
// process on error.
func VerifyIntegrity(ctx context.Context, a *Adapter, required []RequiredTable) error {
	var missing []string

	for _, rt := range required {
		exists, err := a.TableExists(ctx, rt.Name)
		if err != nil {
			return fmt.Errorf("checking table %s: %w", rt.Name, err)
		}
		if !exists {
			missing = append(missing, fmt.Sprintf("table %s", rt.Name))
			continue
		}
		for _, col := range rt.Columns {
			ok, err := a.ColumnExists(ctx, rt.Name, col)
			if err != nil {
				return fmt.Errorf("checking column %s.%s: %w", rt.Name, col, err)
			}
			if !ok {
				missing = append(missing, fmt.Sprintf("column %s.%s", rt.Name, col))
			}
		}
	}

	if len(missing) == 0 {
		return nil
	}

	hint := "remediation: back up the database file, then either re-run migrations against a fresh " +
		"schema, point --db at a known-good database, or restore from backup"
	return sqlerr.SchemaMismatch("missing: %s (%s)", strings.Join(missing, "; "), hint)
}
