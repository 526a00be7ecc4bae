// Package migrate applies rendered SQL migrations to a database and tracks
// them in a history table.
package migrate

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

var (
	// ErrDuplicateName is returned when a batch contains the same name twice.
	ErrDuplicateName = errors.New("duplicate migration name")
	// ErrDivergent is returned when an applied migration's SQL has changed.
	ErrDivergent = errors.New("applied migration has diverged")
	// ErrMissing is returned when an applied migration is absent from the batch.
	ErrMissing = errors.New("applied migration is missing")
)

// Migration is one named unit of SQL.
type Migration struct {
	Name string
	SQL  string
}

// Checksum returns the hex SHA-256 of the migration SQL.
func (m Migration) Checksum() string {
	sum := sha256.Sum256([]byte(m.SQL))
	return hex.EncodeToString(sum[:])
}

// Options tunes Runner checks.
type Options struct {
	// AllowDivergent lets a run continue when applied SQL has changed.
	AllowDivergent bool
	// AllowMissing lets a run continue when applied migrations are absent.
	AllowMissing bool
	// Grouped applies every pending migration in a single transaction.
	Grouped bool
}

// Summary describes what a run did.
type Summary struct {
	Applied []string `json:"applied" yaml:"applied"`
	Skipped []string `json:"skipped" yaml:"skipped"`
}

// State of a migration relative to the history table.
type State string

const (
	StateApplied   State = "applied"
	StatePending   State = "pending"
	StateDivergent State = "divergent"
	StateMissing   State = "missing"
)

// StatusEntry reports one migration's state.
type StatusEntry struct {
	Name      string `json:"name" yaml:"name"`
	State     State  `json:"state" yaml:"state"`
	Checksum  string `json:"checksum,omitempty" yaml:"checksum,omitempty"`
	AppliedAt string `json:"appliedAt,omitempty" yaml:"appliedAt,omitempty"`
}

// Runner applies migration batches.
type Runner struct {
	history HistoryStore
	opts    Options
	logger  *slog.Logger
	now     func() time.Time
}

// NewRunner creates a Runner backed by history.
func NewRunner(history HistoryStore, opts Options, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{history: history, opts: opts, logger: logger, now: time.Now}
}

// Run applies every migration in the batch that is not yet recorded, in batch order.
func (r *Runner) Run(ctx context.Context, db *sql.DB, migrations []Migration) (Summary, error) {
	var summary Summary

	if err := checkUnique(migrations); err != nil {
		return summary, err
	}
	if err := r.history.Ensure(ctx, db); err != nil {
		return summary, err
	}
	applied, err := r.history.Applied(ctx, db)
	if err != nil {
		return summary, err
	}

	byName := make(map[string]AppliedMigration, len(applied))
	for _, a := range applied {
		byName[a.Name] = a
	}
	if err := r.verify(migrations, applied, byName); err != nil {
		return summary, err
	}

	var pending []Migration
	for _, m := range migrations {
		if _, ok := byName[m.Name]; ok {
			summary.Skipped = append(summary.Skipped, m.Name)
			continue
		}
		pending = append(pending, m)
	}

	if len(pending) == 0 {
		r.logger.Info("database is up to date", "migrations", len(migrations))
		return summary, nil
	}

	if r.opts.Grouped {
		if err := r.applyGrouped(ctx, db, pending); err != nil {
			return summary, err
		}
		for _, m := range pending {
			summary.Applied = append(summary.Applied, m.Name)
		}
		return summary, nil
	}

	for _, m := range pending {
		if err := r.applyOne(ctx, db, m); err != nil {
			return summary, err
		}
		summary.Applied = append(summary.Applied, m.Name)
	}
	return summary, nil
}

// Status compares the batch with the history table without changing anything.
func (r *Runner) Status(ctx context.Context, db *sql.DB, migrations []Migration) ([]StatusEntry, error) {
	if err := checkUnique(migrations); err != nil {
		return nil, err
	}
	if err := r.history.Ensure(ctx, db); err != nil {
		return nil, err
	}
	applied, err := r.history.Applied(ctx, db)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]AppliedMigration, len(applied))
	for _, a := range applied {
		byName[a.Name] = a
	}

	entries := make([]StatusEntry, 0, len(migrations))
	inBatch := make(map[string]struct{}, len(migrations))
	for _, m := range migrations {
		inBatch[m.Name] = struct{}{}
		entry := StatusEntry{Name: m.Name, State: StatePending, Checksum: m.Checksum()}
		if a, ok := byName[m.Name]; ok {
			entry.State = StateApplied
			entry.AppliedAt = a.AppliedAt.UTC().Format(time.RFC3339)
			if a.Checksum != entry.Checksum {
				entry.State = StateDivergent
			}
		}
		entries = append(entries, entry)
	}
	for _, a := range applied {
		if _, ok := inBatch[a.Name]; ok {
			continue
		}
		entries = append(entries, StatusEntry{
			Name:      a.Name,
			State:     StateMissing,
			Checksum:  a.Checksum,
			AppliedAt: a.AppliedAt.UTC().Format(time.RFC3339),
		})
	}
	return entries, nil
}

func (r *Runner) verify(migrations []Migration, applied []AppliedMigration, byName map[string]AppliedMigration) error {
	inBatch := make(map[string]struct{}, len(migrations))
	for _, m := range migrations {
		inBatch[m.Name] = struct{}{}
		a, ok := byName[m.Name]
		if !ok || a.Checksum == m.Checksum() {
			continue
		}
		if !r.opts.AllowDivergent {
			return fmt.Errorf("%w: %s", ErrDivergent, m.Name)
		}
		r.logger.Warn("applied migration has changed", "migration", m.Name)
	}

	for _, a := range applied {
		if _, ok := inBatch[a.Name]; ok {
			continue
		}
		if !r.opts.AllowMissing {
			return fmt.Errorf("%w: %s", ErrMissing, a.Name)
		}
		r.logger.Warn("applied migration not found in batch", "migration", a.Name)
	}
	return nil
}

func (r *Runner) applyOne(ctx context.Context, db *sql.DB, m Migration) error {
	r.logger.Info("applying migration", "migration", m.Name)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx for %s: %w", m.Name, err)
	}
	if err := r.exec(ctx, tx, m); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", m.Name, err)
	}
	return nil
}

func (r *Runner) applyGrouped(ctx context.Context, db *sql.DB, pending []Migration) error {
	r.logger.Info("applying migrations in one transaction", "count", len(pending))

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin grouped tx: %w", err)
	}
	for _, m := range pending {
		r.logger.Info("applying migration", "migration", m.Name)
		if err := r.exec(ctx, tx, m); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit grouped tx: %w", err)
	}
	return nil
}

func (r *Runner) exec(ctx context.Context, tx *sql.Tx, m Migration) error {
	if strings.TrimSpace(m.SQL) != "" {
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			return fmt.Errorf("execute %s: %w", m.Name, err)
		}
	}
	return r.history.Record(ctx, tx, m, r.now())
}

func checkUnique(migrations []Migration) error {
	seen := make(map[string]struct{}, len(migrations))
	for _, m := range migrations {
		if _, dup := seen[m.Name]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateName, m.Name)
		}
		seen[m.Name] = struct{}{}
	}
	return nil
}
