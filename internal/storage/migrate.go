package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sin5ddd/sqlew/internal/sqlerr"
)

// Layer partitions migrations into the three groups run in order: tables,
// indexes and seed data first; then column additions and denormalized
// indexes; then version-specific schema evolution.
type Layer int

const (
	LayerBootstrap Layer = iota
	LayerEnhancements
	LayerUpgrades
)

// Migration is one ordered, idempotent schema step. Up must probe before
// create/alter so that re-running it against a database that already
// reflects it is a no-op. Down is optional; when present, running it twice
// must not fail either.
type Migration struct {
	Name  string
	Layer Layer
	Up    func(ctx context.Context, a *Adapter) error
	Down  func(ctx context.Context, a *Adapter) error
}

// migrationsTable records which migrations have already run, so a restart
// doesn't re-probe every table on every startup. Its absence with schema
// objects already present (partial-state recovery) is handled by every
// migration's own idempotence, not by this table.
const migrationsTable = "schema_migrations"

func (a *Adapter) ensureMigrationsTable(ctx context.Context) error {
	exists, err := a.TableExists(ctx, migrationsTable)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	ddl := fmt.Sprintf(`CREATE TABLE %s (
		name VARCHAR(255) PRIMARY KEY,
		applied_ts BIGINT NOT NULL
	)`, migrationsTable)
	_, err = a.db.ExecContext(ctx, ddl)
	return err
}

func (a *Adapter) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	applied := make(map[string]bool)
	rows, err := a.db.QueryContext(ctx, fmt.Sprintf("SELECT name FROM %s", migrationsTable))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

// RunMigrations applies every migration in migrations, ordered by layer
// then by slice position within the layer, skipping any already recorded
// in schema_migrations. Each Up still probes its own target objects: even
// a migration recorded as applied must tolerate being re-run against a
// database that was restored from an out-of-band backup mid-sequence.
func RunMigrations(ctx context.Context, a *Adapter, migrations []Migration) error {
	if err := a.ensureMigrationsTable(ctx); err != nil {
		return fmt.Errorf("ensuring migrations table: %w", err)
	}
	applied, err := a.appliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("loading applied migrations: %w", err)
	}

	ordered := make([]Migration, len(migrations))
	copy(ordered, migrations)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Layer < ordered[j].Layer })

	for _, m := range ordered {
		if applied[m.Name] {
			continue
		}
		if err := m.Up(ctx, a); err != nil {
			return fmt.Errorf("migration %q: %w", m.Name, err)
		}
		ph := a.dialect.Placeholder(1)
		ph2 := a.dialect.Placeholder(2)
		_, err := a.db.ExecContext(ctx,
			fmt.Sprintf("INSERT INTO %s (name, applied_ts) VALUES (%s, %s)", migrationsTable, ph, ph2),
			m.Name, currentUnixSeconds(a, ctx))
		if err != nil {
			return fmt.Errorf("recording migration %q: %w", m.Name, err)
		}
	}
	return nil
}

func currentUnixSeconds(a *Adapter, ctx context.Context) int64 {
	var ts int64
	_ = a.db.QueryRowContext(ctx, fmt.Sprintf("SELECT %s", a.dialect.CurrentTimestamp())).Scan(&ts)
	return ts
}

// AddColumnIfNotExists runs an ALTER TABLE ADD COLUMN only when column is
// absent from table, the idempotence idiom every enhancement-layer
// migration uses instead of catching a "duplicate column" error.
func (a *Adapter) AddColumnIfNotExists(ctx context.Context, table, column, columnDef string) error {
	exists, err := a.ColumnExists(ctx, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = a.db.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, columnDef))
	return err
}

// CreateTableIfNotExists runs ddl only when table doesn't already exist.
func (a *Adapter) CreateTableIfNotExists(ctx context.Context, table, ddl string) error {
	exists, err := a.TableExists(ctx, table)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = a.db.ExecContext(ctx, ddl)
	return err
}

// RebuildSQLiteTable implements the copy-and-rename idiom SQLite requires
// for changes ALTER TABLE cannot express (dropping/altering a FK clause,
// narrowing a column): create the shadow table under a temporary name,
// copy rows across the given column list, drop the original, and rename
// the shadow into its place. On MySQL/Postgres, which support the
// equivalent ALTER directly, it returns a validation error.
func (a *Adapter) RebuildSQLiteTable(ctx context.Context, table, newDDL string, copyCols []string) error {
	if a.dialect != DialectSQLite {
		return sqlerr.Wrap(sqlerr.KindValidation, table, nil,
			"RebuildSQLiteTable called against non-SQLite dialect %v", a.dialect)
	}
	tmp := table + "__new"
	return a.Transaction(ctx, func(tx *Tx) error {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", tmp)); err != nil {
			return err
		}
		// Caller supplies DDL already naming tmp; this just guards against
		// a copy-paste mistake naming the live table instead.
		if !strings.Contains(newDDL, tmp) {
			return sqlerr.Wrap(sqlerr.KindValidation, table, nil,
				"shadow-table DDL does not create %s", tmp)
		}
		if _, err := tx.ExecContext(ctx, newDDL); err != nil {
			return fmt.Errorf("creating shadow table %s: %w", tmp, err)
		}
		cols := joinStrs(copyCols)
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s", tmp, cols, cols, table)); err != nil {
			return fmt.Errorf("copying rows into %s: %w", tmp, err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE %s", table)); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s RENAME TO %s", tmp, table)); err != nil {
			return err
		}
		return nil
	})
}
