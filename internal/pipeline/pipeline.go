// Package pipeline runs discovery, rendering, dispatch and execution for one invocation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/afero"

	"github.com/codex-k8s/migratectl/internal/discover"
	"github.com/codex-k8s/migratectl/internal/dispatch"
	"github.com/codex-k8s/migratectl/internal/migrate"
	"github.com/codex-k8s/migratectl/internal/render"
	"github.com/codex-k8s/migratectl/internal/tmplctx"
)

var (
	// ErrRenderFailures is returned in strict mode when any template failed to render.
	ErrRenderFailures = errors.New("some migrations failed to render")
	// ErrNoApplier is returned when Apply mode runs without an engine.
	ErrNoApplier = errors.New("apply mode requires a migration engine")
)

// Applier runs a complete migration batch against the database.
type Applier interface {
	Apply(ctx context.Context, migrations []migrate.Migration) (migrate.Summary, error)
}

// Config selects what a run does.
type Config struct {
	// Root is the directory scanned for migration templates.
	Root string
	// Mode is dispatch.DryRun or dispatch.Apply.
	Mode dispatch.Mode
	// Strict turns any render failure into a run failure.
	Strict bool
}

// Report describes a finished run.
type Report struct {
	Mode       string           `json:"mode" yaml:"mode"`
	Discovered []string         `json:"discovered" yaml:"discovered"`
	Rendered   []string         `json:"rendered" yaml:"rendered"`
	Failed     []string         `json:"failed" yaml:"failed"`
	Written    []string         `json:"written,omitempty" yaml:"written,omitempty"`
	Summary    *migrate.Summary `json:"summary,omitempty" yaml:"summary,omitempty"`
}

// Pipeline wires the stages together.
type Pipeline struct {
	fs      afero.Fs
	tctx    *tmplctx.Context
	applier Applier
	logger  *slog.Logger
}

// New constructs a Pipeline. applier may be nil when only DryRun is used.
func New(fsys afero.Fs, tctx *tmplctx.Context, applier Applier, logger *slog.Logger) *Pipeline {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{fs: fsys, tctx: tctx, applier: applier, logger: logger}
}

// Run discovers and renders every migration under cfg.Root, dispatching each
// success in order. In Apply mode the engine is invoked once, after the loop.
func (p *Pipeline) Run(ctx context.Context, cfg Config) (Report, error) {
	report := Report{}
	if cfg.Mode == nil {
		cfg.Mode = dispatch.DryRun{OutputDir: dispatch.DefaultOutputDir}
	}
	report.Mode = cfg.Mode.String()

	sources, err := discover.New(p.fs, p.logger).SkipDirs(outputDir(cfg.Mode)).Discover(cfg.Root)
	if err != nil {
		return report, err
	}
	for _, src := range sources {
		report.Discovered = append(report.Discovered, src.Name)
	}

	d := dispatch.New(p.fs, cfg.Mode, p.logger)
	res, err := render.NewRenderer(p.fs, p.tctx, p.logger).Fold(sources, d.Dispatch)
	report.Rendered = renderedNames(res)
	report.Failed = res.FailedNames()
	report.Written = d.Written()
	if err != nil {
		return report, err
	}

	if len(res.Failures) > 0 {
		p.logger.Warn("some migrations failed to render", "failed", len(res.Failures), "rendered", len(res.Rendered))
		if cfg.Strict {
			return report, fmt.Errorf("%w: %s", ErrRenderFailures, strings.Join(report.Failed, ", "))
		}
	}

	switch cfg.Mode.(type) {
	case dispatch.Apply, *dispatch.Apply:
		if p.applier == nil {
			return report, ErrNoApplier
		}
		summary, err := p.applier.Apply(ctx, d.Pending())
		report.Summary = &summary
		if err != nil {
			return report, err
		}
	}
	return report, nil
}

// Collect renders every migration under root without dispatching it anywhere
// and returns the batch the engine would receive. Directories in skip are not scanned.
func (p *Pipeline) Collect(root string, skip ...string) ([]migrate.Migration, render.Result, error) {
	sources, err := discover.New(p.fs, p.logger).SkipDirs(skip...).Discover(root)
	if err != nil {
		return nil, render.Result{}, err
	}

	d := dispatch.New(p.fs, dispatch.Apply{}, p.logger)
	res, err := render.NewRenderer(p.fs, p.tctx, p.logger).Fold(sources, d.Dispatch)
	if err != nil {
		return nil, res, err
	}
	return d.Pending(), res, nil
}

// outputDir is the dry-run artifact directory, which is never scanned for sources.
func outputDir(mode dispatch.Mode) string {
	var dir string
	switch m := mode.(type) {
	case dispatch.DryRun:
		dir = m.OutputDir
	case *dispatch.DryRun:
		dir = m.OutputDir
	default:
		return ""
	}
	if dir == "" {
		dir = dispatch.DefaultOutputDir
	}
	return dir
}

func renderedNames(res render.Result) []string {
	out := make([]string, 0, len(res.Rendered))
	for _, r := range res.Rendered {
		out = append(out, r.Name)
	}
	return out
}
