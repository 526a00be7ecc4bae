package migrate

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestRunner(t *testing.T, opts Options) (*Runner, *SQLHistory) {
	t.Helper()
	history, err := NewSQLHistory(SQLite, "")
	require.NoError(t, err)
	r := NewRunner(history, opts, slog.New(slog.NewTextHandler(io.Discard, nil)))
	tick := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
	return r, history
}

func countRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

var baseBatch = []Migration{
	{Name: "001_init", SQL: "CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT NOT NULL);"},
	{Name: "002_seed", SQL: "INSERT INTO items (id, name) VALUES (1, 'a'); INSERT INTO items (id, name) VALUES (2, 'b');"},
}

func TestRunAppliesInOrderAndRecords(t *testing.T) {
	db := newTestDB(t)
	r, history := newTestRunner(t, Options{})
	ctx := context.Background()

	summary, err := r.Run(ctx, db, baseBatch)
	require.NoError(t, err)
	require.Equal(t, []string{"001_init", "002_seed"}, summary.Applied)
	require.Empty(t, summary.Skipped)
	require.Equal(t, 2, countRows(t, db, "items"))

	applied, err := history.Applied(ctx, db)
	require.NoError(t, err)
	require.Len(t, applied, 2)
	require.Equal(t, "001_init", applied[0].Name)
	require.Equal(t, baseBatch[0].Checksum(), applied[0].Checksum)
	require.True(t, applied[0].AppliedAt.Before(applied[1].AppliedAt))
}

func TestRunIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	r, _ := newTestRunner(t, Options{})
	ctx := context.Background()

	_, err := r.Run(ctx, db, baseBatch)
	require.NoError(t, err)

	summary, err := r.Run(ctx, db, baseBatch)
	require.NoError(t, err)
	require.Empty(t, summary.Applied)
	require.Equal(t, []string{"001_init", "002_seed"}, summary.Skipped)
	require.Equal(t, 2, countRows(t, db, "items"))
}

func TestRunAppliesOnlyNewMigrations(t *testing.T) {
	db := newTestDB(t)
	r, _ := newTestRunner(t, Options{})
	ctx := context.Background()

	_, err := r.Run(ctx, db, baseBatch[:1])
	require.NoError(t, err)

	summary, err := r.Run(ctx, db, baseBatch)
	require.NoError(t, err)
	require.Equal(t, []string{"002_seed"}, summary.Applied)
	require.Equal(t, []string{"001_init"}, summary.Skipped)
}

func TestRunRejectsDuplicates(t *testing.T) {
	db := newTestDB(t)
	r, _ := newTestRunner(t, Options{})

	_, err := r.Run(context.Background(), db, []Migration{baseBatch[0], baseBatch[0]})
	require.ErrorIs(t, err, ErrDuplicateName)
}

func TestRunDetectsDivergence(t *testing.T) {
	db := newTestDB(t)
	r, _ := newTestRunner(t, Options{})
	ctx := context.Background()

	_, err := r.Run(ctx, db, baseBatch[:1])
	require.NoError(t, err)

	changed := []Migration{{Name: "001_init", SQL: "CREATE TABLE items (id INTEGER PRIMARY KEY);"}}
	_, err = r.Run(ctx, db, changed)
	require.ErrorIs(t, err, ErrDivergent)

	lenient, _ := newTestRunner(t, Options{AllowDivergent: true})
	summary, err := lenient.Run(ctx, db, changed)
	require.NoError(t, err)
	require.Equal(t, []string{"001_init"}, summary.Skipped)
}

func TestRunDetectsMissing(t *testing.T) {
	db := newTestDB(t)
	r, _ := newTestRunner(t, Options{})
	ctx := context.Background()

	_, err := r.Run(ctx, db, baseBatch)
	require.NoError(t, err)

	_, err = r.Run(ctx, db, baseBatch[1:])
	require.ErrorIs(t, err, ErrMissing)

	lenient, _ := newTestRunner(t, Options{AllowMissing: true})
	_, err = lenient.Run(ctx, db, baseBatch[1:])
	require.NoError(t, err)
}

func TestRunStopsAtFailingMigration(t *testing.T) {
	db := newTestDB(t)
	r, history := newTestRunner(t, Options{})
	ctx := context.Background()

	batch := []Migration{
		baseBatch[0],
		{Name: "002_broken", SQL: "INSERT INTO nowhere VALUES (1);"},
		{Name: "003_never", SQL: "CREATE TABLE never (id INTEGER);"},
	}
	summary, err := r.Run(ctx, db, batch)
	require.Error(t, err)
	require.Contains(t, err.Error(), "002_broken")
	require.Equal(t, []string{"001_init"}, summary.Applied)

	applied, err := history.Applied(ctx, db)
	require.NoError(t, err)
	require.Len(t, applied, 1)
}

func TestRunGroupedRollsBackEverything(t *testing.T) {
	db := newTestDB(t)
	r, history := newTestRunner(t, Options{Grouped: true})
	ctx := context.Background()

	batch := []Migration{
		baseBatch[0],
		{Name: "002_broken", SQL: "INSERT INTO nowhere VALUES (1);"},
	}
	_, err := r.Run(ctx, db, batch)
	require.Error(t, err)

	applied, err := history.Applied(ctx, db)
	require.NoError(t, err)
	require.Empty(t, applied)

	summary, err := r.Run(ctx, db, baseBatch)
	require.NoError(t, err)
	require.Equal(t, []string{"001_init", "002_seed"}, summary.Applied)
}

func TestRunRecordsEmptyMigration(t *testing.T) {
	db := newTestDB(t)
	r, _ := newTestRunner(t, Options{})

	summary, err := r.Run(context.Background(), db, []Migration{{Name: "001_noop", SQL: "  \n"}})
	require.NoError(t, err)
	require.Equal(t, []string{"001_noop"}, summary.Applied)
}

func TestStatus(t *testing.T) {
	db := newTestDB(t)
	r, _ := newTestRunner(t, Options{})
	ctx := context.Background()

	_, err := r.Run(ctx, db, []Migration{
		baseBatch[0],
		{Name: "000_gone", SQL: "SELECT 1;"},
	})
	require.NoError(t, err)

	entries, err := r.Status(ctx, db, []Migration{
		{Name: "001_init", SQL: "CREATE TABLE changed (id INTEGER);"},
		baseBatch[1],
	})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, StateDivergent, entries[0].State)
	require.NotEmpty(t, entries[0].AppliedAt)
	require.Equal(t, StatePending, entries[1].State)
	require.Equal(t, "000_gone", entries[2].Name)
	require.Equal(t, StateMissing, entries[2].State)
}

func TestNewSQLHistoryValidatesTable(t *testing.T) {
	_, err := NewSQLHistory(Postgres, "bad;name")
	require.ErrorIs(t, err, ErrInvalidTable)

	h, err := NewSQLHistory(Postgres, "custom_history")
	require.NoError(t, err)
	require.Equal(t, "custom_history", h.table)
}

func TestDialectPlaceholder(t *testing.T) {
	require.Equal(t, "$2", Postgres.Placeholder(2))
	require.Equal(t, "?", MySQL.Placeholder(2))
	require.Equal(t, "?", SQLite.Placeholder(1))
	require.Equal(t, "sqlite", SQLite.String())
}

func TestChecksumIsStable(t *testing.T) {
	m := Migration{Name: "x", SQL: "SELECT 1;"}
	require.Len(t, m.Checksum(), 64)
	require.Equal(t, m.Checksum(), Migration{Name: "y", SQL: "SELECT 1;"}.Checksum())
	require.NotEqual(t, m.Checksum(), Migration{Name: "x", SQL: "SELECT 2;"}.Checksum())
}
