// Package render turns discovered migration templates into SQL.
package render

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"text/template"

	"github.com/spf13/afero"

	"github.com/codex-k8s/migratectl/internal/discover"
	"github.com/codex-k8s/migratectl/internal/logging"
	"github.com/codex-k8s/migratectl/internal/tmplctx"
)

// Outcome is the result of rendering one source: either Rendered or Failed.
type Outcome interface {
	outcome()
}

// Rendered is a successfully rendered migration.
type Rendered struct {
	Name string
	SQL  string
}

// Failed is a migration whose template did not render.
type Failed struct {
	Name string
	Err  error
}

func (Rendered) outcome() {}
func (Failed) outcome()   {}

func (f Failed) Error() string {
	return fmt.Sprintf("migration %s failed to render: %v", f.Name, f.Err)
}

func (f Failed) Unwrap() error { return f.Err }

// Result accumulates outcomes in discovery order.
type Result struct {
	Rendered []Rendered
	Failures []Failed
}

// FailedNames returns the names of migrations that failed to render.
func (r Result) FailedNames() []string {
	out := make([]string, 0, len(r.Failures))
	for _, f := range r.Failures {
		out = append(out, f.Name)
	}
	return out
}

// Renderer reads migration files and renders them with a template context.
type Renderer struct {
	fs     afero.Fs
	funcs  template.FuncMap
	logger *slog.Logger
}

// NewRenderer constructs a Renderer. A nil fs uses the OS filesystem.
func NewRenderer(fsys afero.Fs, tctx *tmplctx.Context, logger *slog.Logger) *Renderer {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{fs: fsys, funcs: tctx.FuncMap(), logger: logger}
}

// Render reads src and renders it. A read failure is returned as an error;
// a template failure is reported as a Failed outcome.
func (r *Renderer) Render(src discover.Source) (Outcome, error) {
	r.logger.Info("reading migration file", "path", src.Path)

	raw, err := afero.ReadFile(r.fs, src.Path)
	if err != nil {
		return nil, fmt.Errorf("read migration %q: %w", src.Path, err)
	}

	rendered, err := RenderTemplate(src.Name, raw, r.funcs)
	if err != nil {
		return Failed{Name: src.Name, Err: err}, nil
	}

	sql := string(rendered)
	r.logger.Log(context.Background(), slog.Level(logging.LevelTrace), "templated SQL", "migration", src.Name, "sql", sql)
	return Rendered{Name: src.Name, SQL: sql}, nil
}

// Fold renders every source in order. Each successful render is passed to
// onRendered before the next source is read; render failures are logged and
// collected without stopping the loop. Read failures and onRendered errors abort.
func (r *Renderer) Fold(sources []discover.Source, onRendered func(Rendered) error) (Result, error) {
	var res Result
	for _, src := range sources {
		outcome, err := r.Render(src)
		if err != nil {
			return res, err
		}

		switch o := outcome.(type) {
		case Rendered:
			if onRendered != nil {
				if err := onRendered(o); err != nil {
					return res, err
				}
			}
			res.Rendered = append(res.Rendered, o)
		case Failed:
			r.logger.Error("migration failed to render", "migration", o.Name, "error", o.Err)
			res.Failures = append(res.Failures, o)
		}
	}
	return res, nil
}

// RenderAll renders every source in order without a per-migration callback.
func (r *Renderer) RenderAll(sources []discover.Source) (Result, error) {
	return r.Fold(sources, nil)
}

// RenderTemplate renders raw with funcs as the only exposed helpers.
// text/template is used so SQL is never HTML-escaped.
func RenderTemplate(name string, raw []byte, funcs template.FuncMap) ([]byte, error) {
	tmpl, err := template.New(name).Funcs(funcs).Option("missingkey=error").Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("parse template %q: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, nil); err != nil {
		return nil, fmt.Errorf("execute template %q: %w", name, err)
	}
	return buf.Bytes(), nil
}
