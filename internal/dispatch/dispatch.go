// Package dispatch routes each rendered migration according to the run mode.
package dispatch

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/codex-k8s/migratectl/internal/migrate"
	"github.com/codex-k8s/migratectl/internal/render"
)

// DefaultOutputDir is where dry-run artifacts go when no directory is given.
const DefaultOutputDir = "./target/migrations"

var (
	// ErrUnknownMode is returned for a Mode that is neither DryRun nor Apply.
	ErrUnknownMode = errors.New("unknown dispatch mode")
	// ErrDuplicateName is returned when two sources share a logical name.
	ErrDuplicateName = errors.New("duplicate migration name")
)

// Mode selects what happens to rendered SQL.
type Mode interface {
	mode()
	String() string
}

// DryRun writes every rendered migration to OutputDir as {name}.sql.
type DryRun struct {
	OutputDir string
}

// Apply collects rendered migrations for the migration engine.
type Apply struct{}

func (DryRun) mode()          {}
func (Apply) mode()           {}
func (DryRun) String() string { return "dry-run" }
func (Apply) String() string  { return "apply" }

// IoError reports a filesystem failure while writing dry-run artifacts.
type IoError struct {
	Op   string
	Path string
	Err  error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Path, e.Err)
}

func (e *IoError) Unwrap() error { return e.Err }

// Dispatcher applies one Mode to a sequence of rendered migrations.
type Dispatcher struct {
	fs      afero.Fs
	mode    Mode
	logger  *slog.Logger
	seen    map[string]struct{}
	pending []migrate.Migration
	written []string
}

// New constructs a Dispatcher. A nil fs uses the OS filesystem.
func New(fsys afero.Fs, mode Mode, logger *slog.Logger) *Dispatcher {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{fs: fsys, mode: mode, logger: logger, seen: map[string]struct{}{}}
}

// Dispatch handles one rendered migration.
func (d *Dispatcher) Dispatch(m render.Rendered) error {
	if _, dup := d.seen[m.Name]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateName, m.Name)
	}

	switch mode := d.mode.(type) {
	case DryRun:
		if err := d.write(mode.OutputDir, m); err != nil {
			return err
		}
	case *DryRun:
		if err := d.write(mode.OutputDir, m); err != nil {
			return err
		}
	case Apply, *Apply:
		d.pending = append(d.pending, migrate.Migration{Name: m.Name, SQL: m.SQL})
	default:
		return fmt.Errorf("%w: %T", ErrUnknownMode, d.mode)
	}

	d.seen[m.Name] = struct{}{}
	return nil
}

// Pending returns the migrations collected in Apply mode, in dispatch order.
func (d *Dispatcher) Pending() []migrate.Migration {
	out := make([]migrate.Migration, len(d.pending))
	copy(out, d.pending)
	return out
}

// Written returns the dry-run artifact paths, in dispatch order.
func (d *Dispatcher) Written() []string {
	out := make([]string, len(d.written))
	copy(out, d.written)
	return out
}

func (d *Dispatcher) write(dir string, m render.Rendered) error {
	if dir == "" {
		dir = DefaultOutputDir
	}
	if err := d.fs.MkdirAll(dir, 0o755); err != nil {
		return &IoError{Op: "create output directory", Path: dir, Err: err}
	}

	path := filepath.Join(dir, m.Name+".sql")
	if err := afero.WriteFile(d.fs, path, []byte(m.SQL), 0o644); err != nil {
		return &IoError{Op: "write migration", Path: path, Err: err}
	}

	d.logger.Info("wrote migration", "migration", m.Name, "path", path)
	d.written = append(d.written, path)
	return nil
}
