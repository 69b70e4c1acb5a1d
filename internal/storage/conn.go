package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// ConnConfig describes how to reach one of the three backends. Only the
// fields relevant to Dialect need be set; the rest are ignored.
type ConnConfig struct {
	Dialect Dialect

	// SQLite
	Path     string
	ReadOnly bool

	// MySQL / Postgres
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string

	// ConnectRetry bounds how long Connect retries a transient connection
	// failure (container databases that aren't up yet, etc.). Zero means
	// a single attempt, no retry.
	ConnectRetry time.Duration
}

// Adapter is the uniform surface over SQLite, MySQL, and PostgreSQL.
// All boolean and enum values travel as small integers; timestamps are
// Unix epoch seconds everywhere in rows.
type Adapter struct {
	db      *sql.DB
	dialect Dialect
}

// Connect opens the pool for cfg.Dialect and, when ConnectRetry is set,
// retries transient failures with exponential backoff — the same pattern
// the dolt backend uses for its embedded-server warm-up window, adapted
// here to any remote database that might not be listening yet.
func Connect(ctx context.Context, cfg ConnConfig) (*Adapter, error) {
	driver, dsn, err := dsnFor(cfg)
	if err != nil {
		return nil, err
	}

	var db *sql.DB
	open := func() error {
		d, err := sql.Open(driver, dsn)
		if err != nil {
			return err
		}
		if err := d.PingContext(ctx); err != nil {
			d.Close()
			return err
		}
		db = d
		return nil
	}

	if cfg.ConnectRetry > 0 {
		b := backoff.NewExponentialBackOff()
		b.MaxElapsedTime = cfg.ConnectRetry
		if err := backoff.Retry(open, backoff.WithContext(b, ctx)); err != nil {
			return nil, fmt.Errorf("connecting to %s: %w", cfg.Dialect, err)
		}
	} else if err := open(); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", cfg.Dialect, err)
	}

	if cfg.Dialect == DialectSQLite {
		db.SetMaxOpenConns(1) // SQLite: one writer; WAL handles concurrent readers
	}

	return &Adapter{db: db, dialect: cfg.Dialect}, nil
}

func dsnFor(cfg ConnConfig) (driver, dsn string, err error) {
	switch cfg.Dialect {
	case DialectSQLite:
		return "sqlite3", SQLiteConnString(cfg.Path, cfg.ReadOnly), nil
	case DialectMySQL:
		host, port := cfg.Host, cfg.Port
		if host == "" {
			host = "127.0.0.1"
		}
		if port == 0 {
			port = 3306
		}
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
			cfg.User, cfg.Password, host, port, cfg.Database)
		return "mysql", dsn, nil
	case DialectPostgres:
		host, port := cfg.Host, cfg.Port
		if host == "" {
			host = "127.0.0.1"
		}
		if port == 0 {
			port = 5432
		}
		ssl := cfg.SSLMode
		if ssl == "" {
			ssl = "prefer"
		}
		dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			cfg.User, cfg.Password, host, port, cfg.Database, ssl)
		return "pgx", dsn, nil
	default:
		return "", "", fmt.Errorf("unsupported dialect %v", cfg.Dialect)
	}
}

// Initialize applies per-session settings: UTF8MB4 + UTC + strict mode for
// MySQL, WAL + foreign_keys + synchronous + busy_timeout for SQLite,
// nothing beyond the schema search path for PostgreSQL.
func (a *Adapter) Initialize(ctx context.Context) error {
	switch a.dialect {
	case DialectSQLite:
		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA foreign_keys=ON",
			"PRAGMA synchronous=NORMAL",
			"PRAGMA busy_timeout=10000",
		} {
			if _, err := a.db.ExecContext(ctx, pragma); err != nil {
				return fmt.Errorf("applying %s: %w", pragma, err)
			}
		}
	case DialectMySQL:
		for _, stmt := range []string{
			"SET NAMES utf8mb4",
			"SET time_zone = '+00:00'",
			"SET sql_mode = 'STRICT_TRANS_TABLES,NO_ENGINE_SUBSTITUTION'",
		} {
			if _, err := a.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("applying %s: %w", stmt, err)
			}
		}
	case DialectPostgres:
		// No session settings required beyond the default search_path.
	}
	return nil
}

func (a *Adapter) Dialect() Dialect { return a.dialect }
func (a *Adapter) DB() *sql.DB      { return a.db }
func (a *Adapter) Close() error     { return a.db.Close() }

// TableExists queries information_schema/sqlite_master for name. MySQL's
// case sensitivity for table names depends on the host filesystem; this is
// observable behavior inherited from the engine, not compensated for here.
func (a *Adapter) TableExists(ctx context.Context, name string) (bool, error) {
	var query string
	var args []any
	switch a.dialect {
	case DialectSQLite:
		query = "SELECT 1 FROM sqlite_master WHERE type='table' AND name=?"
		args = []any{name}
	case DialectMySQL:
		query = "SELECT 1 FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?"
		args = []any{name}
	case DialectPostgres:
		query = "SELECT 1 FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1"
		args = []any{name}
	}
	var one int
	err := a.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ColumnExists is the per-migration probe used to keep `up` idempotent:
// re-running a migration on a database that already reflects it must be a
// no-op (no "duplicate column" error).
func (a *Adapter) ColumnExists(ctx context.Context, table, column string) (bool, error) {
	switch a.dialect {
	case DialectSQLite:
		rows, err := a.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
		if err != nil {
			return false, err
		}
		defer rows.Close()
		cols, err := rows.Columns()
		if err != nil {
			return false, err
		}
		for rows.Next() {
			vals := make([]any, len(cols))
			ptrs := make([]any, len(cols))
			for i := range vals {
				ptrs[i] = &vals[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				return false, err
			}
			for i, c := range cols {
				if strings.EqualFold(c, "name") {
					if name, ok := vals[i].(string); ok && name == column {
						return true, nil
					}
					if b, ok := vals[i].([]byte); ok && string(b) == column {
						return true, nil
					}
				}
			}
		}
		return false, rows.Err()
	case DialectMySQL:
		var one int
		err := a.db.QueryRowContext(ctx,
			"SELECT 1 FROM information_schema.columns WHERE table_schema = DATABASE() AND table_name = ? AND column_name = ?",
			table, column).Scan(&one)
		if err == sql.ErrNoRows {
			return false, nil
		}
		return err == nil, err
	case DialectPostgres:
		var one int
		err := a.db.QueryRowContext(ctx,
			"SELECT 1 FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = $1 AND column_name = $2",
			table, column).Scan(&one)
		if err == sql.ErrNoRows {
			return false, nil
		}
		return err == nil, err
	default:
		return false, fmt.Errorf("unsupported dialect %v", a.dialect)
	}
}

// resolvedSQLitePath strips the connection-string trailer off a SQLite
// path, for callers that need the bare file path.
func resolvedSQLitePath(connString string) string {
	s := strings.TrimPrefix(connString, "file:")
	if i := strings.IndexByte(s, '?'); i >= 0 {
		s = s[:i]
	}
	return s
}
