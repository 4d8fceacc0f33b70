// Package store persists calls, transcript segments and analyses in a
// relational database (PostgreSQL in production, SQLite for local dev and tests).
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx" driver
	_ "modernc.org/sqlite"             // registers "sqlite" driver
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store owns the database handle and hands out transactional Queries.
type Store struct {
	*Queries
	db *sql.DB
}

// Open connects to the database named by url and applies pending migrations.
// postgres:// and postgresql:// URLs use pgx; sqlite:<path>, file:<path> and
// :memory: use the pure-Go SQLite driver.
func Open(ctx context.Context, url string) (*Store, error) {
	driver, dsn, d, err := parseURL(url)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("store open: %w", err)
	}
	if d == dialectSQLite {
		// a single connection keeps :memory: databases coherent and serializes writers
		db.SetMaxOpenConns(1)
	}
	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store ping: %w", err)
	}
	if err = migrate(ctx, db, d); err != nil {
		db.Close()
		return nil, fmt.Errorf("store migrate: %w", err)
	}
	return &Store{Queries: &Queries{db: db, dialect: d}, db: db}, nil
}

func parseURL(url string) (driver, dsn string, d dialect, err error) {
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return "pgx", url, dialectPostgres, nil
	case url == ":memory:":
		return "sqlite", "file::memory:?_pragma=foreign_keys(1)", dialectSQLite, nil
	case strings.HasPrefix(url, "sqlite:"), strings.HasPrefix(url, "file:"):
		path := strings.TrimPrefix(strings.TrimPrefix(url, "sqlite:"), "file:")
		if strings.HasPrefix(path, "///") {
			path = path[3:] // sqlite:///relative, sqlite:////absolute
		} else {
			path = strings.TrimPrefix(path, "//")
		}
		if path == "" || path == ":memory:" {
			return "sqlite", "file::memory:?_pragma=foreign_keys(1)", dialectSQLite, nil
		}
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return "sqlite", "file:" + path + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", dialectSQLite, nil
	default:
		return "", "", 0, fmt.Errorf("unsupported database url %q", url)
	}
}

func migrate(ctx context.Context, db *sql.DB, d dialect) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`)
	if err != nil {
		return err
	}

	var current int
	row := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), -1) FROM schema_version`)
	if err = row.Scan(&current); err != nil {
		return err
	}

	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	for i := current + 1; i < len(entries); i++ {
		data, readErr := migrationFS.ReadFile("migrations/" + entries[i].Name())
		if readErr != nil {
			return fmt.Errorf("read migration %d: %w", i, readErr)
		}
		if _, execErr := db.ExecContext(ctx, string(data)); execErr != nil {
			return fmt.Errorf("migration %d: %w", i, execErr)
		}
		if _, execErr := db.ExecContext(ctx, rebind(d, `INSERT INTO schema_version (version) VALUES (?)`), i); execErr != nil {
			return fmt.Errorf("migration %d record: %w", i, execErr)
		}
	}
	return nil
}

// WithTx runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(q *Queries) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&Queries{db: tx, dialect: s.dialect}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func rebind(d dialect, query string) string {
	if d != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
