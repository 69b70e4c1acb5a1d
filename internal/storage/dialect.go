package storage

import "fmt"

// Dialect identifies which SQL engine an Adapter talks to. Every dialect
// implements the same logical surface but with different fragment
// syntax for upserts, JSON access, string aggregation, and RETURNING.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectMySQL
	DialectPostgres
)

func (d Dialect) String() string {
	switch d {
	case DialectSQLite:
		return "sqlite"
	case DialectMySQL:
		return "mysql"
	case DialectPostgres:
		return "postgres"
	default:
		return "unknown"
	}
}

func ParseDialect(s string) (Dialect, error) {
	switch s {
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "mysql", "mariadb":
		return DialectMySQL, nil
	case "postgres", "postgresql":
		return DialectPostgres, nil
	default:
		return 0, fmt.Errorf("unknown database type %q (supported: sqlite, mysql, postgres)", s)
	}
}

// Placeholder returns the positional-parameter marker for the i'th bound
// value (1-indexed), which differs between $N (Postgres) and ? (SQLite,
// MySQL).
func (d Dialect) Placeholder(i int) string {
	if d == DialectPostgres {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

// AutoIncrementPK returns the column-definition fragment for an
// auto-incrementing integer primary key in CREATE TABLE statements.
func (d Dialect) AutoIncrementPK() string {
	switch d {
	case DialectSQLite:
		return "INTEGER PRIMARY KEY AUTOINCREMENT"
	case DialectMySQL:
		return "BIGINT PRIMARY KEY AUTO_INCREMENT"
	case DialectPostgres:
		return "BIGSERIAL PRIMARY KEY"
	default:
		return "INTEGER PRIMARY KEY"
	}
}

// BoolType returns the column type used to store the small-integer
// booleans the rest of the engine treats uniformly as 0/1.
func (d Dialect) BoolType() string {
	switch d {
	case DialectPostgres:
		return "SMALLINT"
	default:
		return "TINYINT"
	}
}

// JSONExtract produces a dialect-correct fragment extracting path from a
// JSON column. path is a simple dotted key, e.g. "pros".
func (d Dialect) JSONExtract(col, path string) string {
	switch d {
	case DialectSQLite:
		return fmt.Sprintf("json_extract(%s, '$.%s')", col, path)
	case DialectMySQL:
		return fmt.Sprintf("JSON_EXTRACT(%s, '$.%s')", col, path)
	case DialectPostgres:
		return fmt.Sprintf("%s->>'%s'", col, path)
	default:
		return col
	}
}

// JSONBuildObject produces a dialect-correct object-construction fragment
// from an ordered list of (key, valueExpr) pairs.
func (d Dialect) JSONBuildObject(fields [][2]string) string {
	switch d {
	case DialectMySQL:
		s := "JSON_OBJECT("
		for i, f := range fields {
			if i > 0 {
				s += ", "
			}
			s += fmt.Sprintf("'%s', %s", f[0], f[1])
		}
		return s + ")"
	case DialectPostgres:
		s := "json_build_object("
		for i, f := range fields {
			if i > 0 {
				s += ", "
			}
			s += fmt.Sprintf("'%s', %s", f[0], f[1])
		}
		return s + ")"
	default: // SQLite
		s := "json_object("
		for i, f := range fields {
			if i > 0 {
				s += ", "
			}
			s += fmt.Sprintf("'%s', %s", f[0], f[1])
		}
		return s + ")"
	}
}

// StringAgg produces a dialect-correct string-aggregation fragment.
func (d Dialect) StringAgg(col, sep string) string {
	switch d {
	case DialectSQLite:
		return fmt.Sprintf("group_concat(%s, '%s')", col, sep)
	case DialectMySQL:
		return fmt.Sprintf("GROUP_CONCAT(%s SEPARATOR '%s')", col, sep)
	case DialectPostgres:
		return fmt.Sprintf("string_agg(%s, '%s')", col, sep)
	default:
		return col
	}
}

// Concat produces a dialect-correct string-concatenation fragment.
func (d Dialect) Concat(vals ...string) string {
	if d == DialectMySQL {
		s := "CONCAT("
		for i, v := range vals {
			if i > 0 {
				s += ", "
			}
			s += v
		}
		return s + ")"
	}
	s := ""
	for i, v := range vals {
		if i > 0 {
			s += " || "
		}
		s += v
	}
	return s
}

// CurrentTimestamp returns a fragment producing the current Unix epoch
// second, so every row's timestamp column is written in one uniform unit
// regardless of backend.
func (d Dialect) CurrentTimestamp() string {
	switch d {
	case DialectSQLite:
		return "CAST(strftime('%s','now') AS INTEGER)"
	case DialectMySQL:
		return "UNIX_TIMESTAMP()"
	case DialectPostgres:
		return "EXTRACT(EPOCH FROM now())::BIGINT"
	default:
		return "0"
	}
}

// FromUnixEpoch converts an integer-epoch column to the backend's native
// timestamp type, used only in display projections.
func (d Dialect) FromUnixEpoch(col string) string {
	switch d {
	case DialectSQLite:
		return fmt.Sprintf("datetime(%s, 'unixepoch')", col)
	case DialectMySQL:
		return fmt.Sprintf("FROM_UNIXTIME(%s)", col)
	case DialectPostgres:
		return fmt.Sprintf("to_timestamp(%s)", col)
	default:
		return col
	}
}

// ToUnixEpoch converts a native timestamp column to an integer epoch
// second.
func (d Dialect) ToUnixEpoch(col string) string {
	switch d {
	case DialectSQLite:
		return fmt.Sprintf("CAST(strftime('%%s', %s) AS INTEGER)", col)
	case DialectMySQL:
		return fmt.Sprintf("UNIX_TIMESTAMP(%s)", col)
	case DialectPostgres:
		return fmt.Sprintf("EXTRACT(EPOCH FROM %s)::BIGINT", col)
	default:
		return col
	}
}

// UpsertSQL builds an INSERT ... ON CONFLICT/ON DUPLICATE KEY statement.
// cols is the full ordered column list being inserted; conflictCols names
// the unique/PK columns that trigger the update path; updateCols names
// the columns to overwrite on conflict (excluded from conflictCols).
func (d Dialect) UpsertSQL(table string, cols, conflictCols, updateCols []string) string {
	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = d.Placeholder(i + 1)
	}
	base := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, joinCols(cols), joinStrs(placeholders))

	switch d {
	case DialectMySQL:
		set := make([]string, len(updateCols))
		for i, c := range updateCols {
			set[i] = fmt.Sprintf("%s = VALUES(%s)", c, c)
		}
		return base + " ON DUPLICATE KEY UPDATE " + joinStrs(set)
	default: // SQLite, Postgres
		set := make([]string, len(updateCols))
		for i, c := range updateCols {
			set[i] = fmt.Sprintf("%s = excluded.%s", c, c)
		}
		return base + fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", joinCols(conflictCols), joinStrs(set))
	}
}

func joinCols(cols []string) string { return joinStrs(cols) }

func joinStrs(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}
