// Package storage is the relational store behind the dispatch engine. It
// speaks SQLite (modernc, local and tests) and PostgreSQL (lib/pq) through
// database/sql; queries are written with ? placeholders and rebound per
// driver.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	_ "modernc.org/sqlite"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")
	// ErrStale is returned by conditional updates when the row no longer
	// has the expected status.
	ErrStale = errors.New("row changed concurrently")
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries holds every statement; it runs against either the pool or a
// transaction.
type Queries struct {
	db     execer
	driver string
}

func (q *Queries) rebind(query string) string {
	if q.driver != "postgres" {
		return query
	}
	return Rebind(query)
}

func (q *Queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return q.db.ExecContext(ctx, q.rebind(query), args...)
}

func (q *Queries) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return q.db.QueryContext(ctx, q.rebind(query), args...)
}

func (q *Queries) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return q.db.QueryRowContext(ctx, q.rebind(query), args...)
}

// lockSuffix is appended to reads that precede a write in the same
// transaction. SQLite serializes writers on its single connection.
func (q *Queries) lockSuffix() string {
	if q.driver == "postgres" {
		return " FOR UPDATE"
	}
	return ""
}

type DB struct {
	*Queries
	sql    *sql.DB
	driver string
}

// Open connects to driver ("sqlite" or "postgres"). For sqlite, dsn may be a
// plain file path.
func Open(driver, dsn string) (*DB, error) {
	switch driver {
	case "sqlite":
		if !strings.HasPrefix(dsn, "file:") {
			dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", dsn)
		}
		sqlDB, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
		return wrap(sqlDB, driver), nil
	case "postgres":
		sqlDB, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return wrap(sqlDB, driver), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
}

func wrap(sqlDB *sql.DB, driver string) *DB {
	return &DB{Queries: &Queries{db: sqlDB, driver: driver}, sql: sqlDB, driver: driver}
}

func (db *DB) Driver() string { return db.driver }

func (db *DB) Ping(ctx context.Context) error { return db.sql.PingContext(ctx) }

func (db *DB) Close() error { return db.sql.Close() }

type Tx struct {
	*Queries
	tx         *sql.Tx
	savepoints int
}

func (db *DB) Begin(ctx context.Context) (*Tx, error) {
	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &Tx{Queries: &Queries{db: tx, driver: db.driver}, tx: tx}, nil
}

func (tx *Tx) Commit() error { return tx.tx.Commit() }

func (tx *Tx) Rollback() error { return tx.tx.Rollback() }

// InTx runs fn in a transaction, committing when fn returns nil.
func (db *DB) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Savepoint runs fn inside a savepoint. If fn fails, only its writes are
// undone and the enclosing transaction stays usable.
func (tx *Tx) Savepoint(ctx context.Context, fn func() error) error {
	tx.savepoints++
	name := fmt.Sprintf("sp_%d", tx.savepoints)
	if _, err := tx.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}
	if err := fn(); err != nil {
		if _, rbErr := tx.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback to savepoint: %w", rbErr))
		}
		_, _ = tx.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name)
		return err
	}
	if _, err := tx.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	return nil
}

// Rebind rewrites ? placeholders into PostgreSQL's $n form.
func Rebind(query string) string {
	n := 0
	var b strings.Builder
	b.Grow(len(query) + 8)
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
