// Package invoke hands the collected migration batch to the migration engine.
package invoke

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/codex-k8s/migratectl/internal/db"
	"github.com/codex-k8s/migratectl/internal/migrate"
)

// ExecutionError wraps any failure reported while applying migrations.
type ExecutionError struct {
	Err error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("apply migrations: %v", e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

type openFunc func(ctx context.Context, cfg db.Config) (*sql.DB, migrate.Dialect, error)

// Invoker opens a database session and runs the engine against it.
type Invoker struct {
	cfg    db.Config
	opts   migrate.Options
	logger *slog.Logger
	open   openFunc
}

// New constructs an Invoker for the database described by cfg.
func New(cfg db.Config, opts migrate.Options, logger *slog.Logger) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{cfg: cfg, opts: opts, logger: logger, open: db.Open}
}

// Apply runs the engine once with the complete batch. Failures are not retried.
func (i *Invoker) Apply(ctx context.Context, migrations []migrate.Migration) (migrate.Summary, error) {
	var summary migrate.Summary
	err := i.withRunner(ctx, func(conn *sql.DB, runner *migrate.Runner) error {
		i.logger.Info("running migrations", "count", len(migrations))
		var err error
		summary, err = runner.Run(ctx, conn, migrations)
		return err
	})
	if err != nil {
		return summary, &ExecutionError{Err: err}
	}
	i.logger.Info("migrations complete", "applied", len(summary.Applied), "skipped", len(summary.Skipped))
	return summary, nil
}

// Status reports each migration's state without applying anything.
func (i *Invoker) Status(ctx context.Context, migrations []migrate.Migration) ([]migrate.StatusEntry, error) {
	var entries []migrate.StatusEntry
	err := i.withRunner(ctx, func(conn *sql.DB, runner *migrate.Runner) error {
		var err error
		entries, err = runner.Status(ctx, conn, migrations)
		return err
	})
	if err != nil {
		return nil, &ExecutionError{Err: err}
	}
	return entries, nil
}

func (i *Invoker) withRunner(ctx context.Context, fn func(*sql.DB, *migrate.Runner) error) error {
	conn, dialect, err := i.open(ctx, i.cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			i.logger.Warn("close database", "error", cerr)
		}
	}()

	history, err := migrate.NewSQLHistory(dialect, i.cfg.Table)
	if err != nil {
		return err
	}
	return fn(conn, migrate.NewRunner(history, i.opts, i.logger))
}
