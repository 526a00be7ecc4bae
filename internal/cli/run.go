package cli

import (
	"errors"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/codex-k8s/migratectl/internal/ci"
	"github.com/codex-k8s/migratectl/internal/db"
	"github.com/codex-k8s/migratectl/internal/dispatch"
	"github.com/codex-k8s/migratectl/internal/env"
	"github.com/codex-k8s/migratectl/internal/ghoutput"
	"github.com/codex-k8s/migratectl/internal/invoke"
	"github.com/codex-k8s/migratectl/internal/migrate"
	"github.com/codex-k8s/migratectl/internal/pipeline"
	"github.com/codex-k8s/migratectl/internal/secrets"
	"github.com/codex-k8s/migratectl/internal/tmplctx"
)

// ErrPathRequired is returned when no migrations directory is configured.
var ErrPathRequired = errors.New("--path (or MIGRATECTL_PATH) is required")

// runMigrations executes the root command: render every migration and either
// write it to disk or apply the batch to the database.
func runMigrations(cmd *cobra.Command, opts *Options) error {
	logger := LoggerFromContext(cmd.Context())

	if strings.TrimSpace(opts.Path) == "" {
		return ErrPathRequired
	}

	tctx, err := buildTemplateContext(opts)
	if err != nil {
		return err
	}

	var (
		mode    dispatch.Mode
		applier pipeline.Applier
	)
	if opts.DryRun {
		mode = dispatch.DryRun{OutputDir: outputDir(opts)}
	} else {
		dbCfg, err := db.LoadConfig(opts.vars)
		if err != nil {
			return err
		}
		mode = dispatch.Apply{}
		applier = invoke.New(dbCfg, engineOptions(opts), logger)
	}

	logger.Info("running migratectl", "path", opts.Path, "mode", mode.String(), "vault", opts.EnableVault)

	p := pipeline.New(afero.NewOsFs(), tctx, applier, logger)
	report, runErr := p.Run(cmd.Context(), pipeline.Config{
		Root:   opts.Path,
		Mode:   mode,
		Strict: opts.Strict,
	})

	if err := ghoutput.Write(opts.vars, reportOutputs(report)); err != nil {
		logger.Warn("failed to write GitHub outputs", "error", err)
	}
	if runErr != nil {
		return runErr
	}

	logger.Info("migratectl finished",
		"rendered", len(report.Rendered),
		"failed", len(report.Failed),
		"written", len(report.Written))
	return nil
}

// buildTemplateContext runs the vault safety check and assembles template functions.
func buildTemplateContext(opts *Options) (*tmplctx.Context, error) {
	vars := opts.vars
	return tmplctx.Build(tmplctx.Options{
		Env:          vars,
		VaultEnabled: opts.EnableVault,
		LogLevel:     opts.LogLevel,
		CI:           ci.Detect(vars),
		NewVaultClient: func() (tmplctx.VaultClient, error) {
			return newVaultClient(vars)
		},
	})
}

func newVaultClient(vars env.Vars) (tmplctx.VaultClient, error) {
	cfg, err := secrets.LoadConfig(vars)
	if err != nil {
		return nil, err
	}
	client, err := secrets.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// outputDir resolves the dry-run artifact directory.
func outputDir(opts *Options) string {
	if dir := strings.TrimSpace(opts.OutputDir); dir != "" {
		return dir
	}
	return dispatch.DefaultOutputDir
}

func engineOptions(opts *Options) migrate.Options {
	return migrate.Options{
		AllowDivergent: opts.AllowDivergent,
		AllowMissing:   opts.AllowMissing,
		Grouped:        opts.Grouped,
	}
}

func reportOutputs(report pipeline.Report) map[string]string {
	out := map[string]string{
		"mode":     report.Mode,
		"rendered": strconv.Itoa(len(report.Rendered)),
		"failed":   strconv.Itoa(len(report.Failed)),
	}
	if len(report.Failed) > 0 {
		out["failed_names"] = strings.Join(report.Failed, "\n")
	}
	if report.Summary != nil {
		out["applied"] = strconv.Itoa(len(report.Summary.Applied))
	}
	return out
}
