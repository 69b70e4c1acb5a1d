package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// Tx wraps a *sql.Tx with the nested-savepoint support every multi-step
// write in the engine needs (decision set + history append, task move +
// pruning audit, and so on all run inside one outer transaction).
type Tx struct {
	tx      *sql.Tx
	dialect Dialect
	spCount int
}

func (t *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, query, args...)
}

func (t *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, query, args...)
}

func (t *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, query, args...)
}

func (t *Tx) Dialect() Dialect { return t.dialect }

// Savepoint runs fn inside a nested savepoint, rolling back only fn's
// effects on error so the outer transaction can continue. Nothing in this
// repository calls it: atomic batches run every item directly in one
// transaction, and non-atomic batches use separate top-level transactions.
func (t *Tx) Savepoint(ctx context.Context, fn func(*Tx) error) error {
	t.spCount++
	name := fmt.Sprintf("sp_%d", t.spCount)
	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("creating savepoint: %w", err)
	}
	if err := fn(t); err != nil {
		if _, rbErr := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return fmt.Errorf("%w (rollback to savepoint also failed: %v)", err, rbErr)
		}
		return err
	}
	_, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name)
	return err
}

// Transaction wraps fn in a single transaction boundary, the unit of
// mutation every logical operation in the engine runs inside.
func (a *Adapter) Transaction(ctx context.Context, fn func(*Tx) error) error {
	sqlTx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	tx := &Tx{tx: sqlTx, dialect: a.dialect}
	if err := fn(tx); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// InsertReturning inserts row and returns the new primary-key value.
// SQLite and PostgreSQL use RETURNING; MySQL inserts then reads back via
// LAST_INSERT_ID() bound to the same connection, so it must run on a Tx
// (a pooled *sql.DB call could observe another connection's insert id).
func InsertReturning(ctx context.Context, tx *Tx, table string, cols []string, vals []any, pkCol string) (int64, error) {
	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = tx.dialect.Placeholder(i + 1)
	}
	base := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, joinCols(cols), joinStrs(placeholders))

	switch tx.dialect {
	case DialectSQLite, DialectPostgres:
		var id int64
		query := base + fmt.Sprintf(" RETURNING %s", pkCol)
		if err := tx.tx.QueryRowContext(ctx, query, vals...).Scan(&id); err != nil {
			return 0, fmt.Errorf("insert into %s: %w", table, err)
		}
		return id, nil
	case DialectMySQL:
		res, err := tx.tx.ExecContext(ctx, base, vals...)
		if err != nil {
			return 0, fmt.Errorf("insert into %s: %w", table, err)
		}
		return res.LastInsertId()
	default:
		return 0, fmt.Errorf("unsupported dialect %v", tx.dialect)
	}
}

// Upsert maps row to an INSERT ... ON CONFLICT/ON DUPLICATE KEY UPDATE
// statement and returns the number of affected rows.
func Upsert(ctx context.Context, tx *Tx, table string, cols []string, vals []any, conflictCols, updateCols []string) (int64, error) {
	query := tx.dialect.UpsertSQL(table, cols, conflictCols, updateCols)
	res, err := tx.tx.ExecContext(ctx, query, vals...)
	if err != nil {
		return 0, fmt.Errorf("upsert into %s: %w", table, err)
	}
	return res.RowsAffected()
}
