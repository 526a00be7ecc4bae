package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// DefaultHistoryTable stores applied migration records.
const DefaultHistoryTable = "migratectl_schema_history"

// appliedAtLayout is fixed width so the column sorts lexically.
const appliedAtLayout = "2006-01-02T15:04:05.000000000Z"

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ErrInvalidTable is returned for history table names that are not plain identifiers.
var ErrInvalidTable = errors.New("invalid history table name")

// Dialect selects placeholder syntax for the history queries.
type Dialect int

const (
	// Postgres uses $n placeholders.
	Postgres Dialect = iota
	// MySQL uses ? placeholders.
	MySQL
	// SQLite uses ? placeholders.
	SQLite
)

func (d Dialect) String() string {
	switch d {
	case Postgres:
		return "postgres"
	case MySQL:
		return "mysql"
	case SQLite:
		return "sqlite"
	default:
		return fmt.Sprintf("dialect(%d)", int(d))
	}
}

// Placeholder returns the bind parameter for the n-th argument, starting at 1.
func (d Dialect) Placeholder(n int) string {
	if d == Postgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// AppliedMigration is a row of the history table.
type AppliedMigration struct {
	Name      string
	Checksum  string
	AppliedAt time.Time
}

// HistoryStore persists records of applied migrations.
type HistoryStore interface {
	// Ensure creates the history table if it does not exist.
	Ensure(ctx context.Context, q DBTX) error
	// Applied returns every applied migration ordered by application time.
	Applied(ctx context.Context, q DBTX) ([]AppliedMigration, error)
	// Record stores m as applied at the given time.
	Record(ctx context.Context, q DBTX, m Migration, at time.Time) error
}

// SQLHistory is a HistoryStore backed by a table in the target database.
type SQLHistory struct {
	dialect Dialect
	table   string
}

// NewSQLHistory validates table and returns a store for dialect.
// An empty table name selects DefaultHistoryTable.
func NewSQLHistory(dialect Dialect, table string) (*SQLHistory, error) {
	table = strings.TrimSpace(table)
	if table == "" {
		table = DefaultHistoryTable
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTable, table)
	}
	return &SQLHistory{dialect: dialect, table: table}, nil
}

// Ensure creates the history table if needed.
func (h *SQLHistory) Ensure(ctx context.Context, q DBTX) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	name       VARCHAR(255) NOT NULL PRIMARY KEY,
	checksum   VARCHAR(64)  NOT NULL,
	applied_at VARCHAR(64)  NOT NULL
)`, h.table)
	if _, err := q.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create history table %s: %w", h.table, err)
	}
	return nil
}

// Applied returns the recorded migrations.
func (h *SQLHistory) Applied(ctx context.Context, q DBTX) ([]AppliedMigration, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf(`SELECT name, checksum, applied_at FROM %s ORDER BY applied_at, name`, h.table))
	if err != nil {
		return nil, fmt.Errorf("query history table %s: %w", h.table, err)
	}
	defer rows.Close()

	var result []AppliedMigration
	for rows.Next() {
		var (
			m  AppliedMigration
			at string
		)
		if err := rows.Scan(&m.Name, &m.Checksum, &at); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		m.AppliedAt, err = time.Parse(appliedAtLayout, at)
		if err != nil {
			return nil, fmt.Errorf("parse applied_at for %s: %w", m.Name, err)
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

// Record inserts a history row for m.
func (h *SQLHistory) Record(ctx context.Context, q DBTX, m Migration, at time.Time) error {
	stmt := fmt.Sprintf(`INSERT INTO %s (name, checksum, applied_at) VALUES (%s, %s, %s)`,
		h.table, h.dialect.Placeholder(1), h.dialect.Placeholder(2), h.dialect.Placeholder(3))
	if _, err := q.ExecContext(ctx, stmt, m.Name, m.Checksum(), at.UTC().Format(appliedAtLayout)); err != nil {
		return fmt.Errorf("record migration %s: %w", m.Name, err)
	}
	return nil
}
