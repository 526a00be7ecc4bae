// Package cli defines the command-line interface for migratectl.
package cli

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/codex-k8s/migratectl/internal/dispatch"
	"github.com/codex-k8s/migratectl/internal/env"
	"github.com/codex-k8s/migratectl/internal/logging"
)

const (
	// defaultEnvFile is loaded when present and no --env-file is given.
	defaultEnvFile = ".env"
)

// Options stores global CLI options shared between commands.
type Options struct {
	Path           string
	EnableVault    bool
	DryRun         bool
	OutputDir      string
	Strict         bool
	Grouped        bool
	AllowDivergent bool
	AllowMissing   bool
	EnvFiles       []string
	LogLevel       logging.Level

	// vars is the merged environment snapshot resolved before the command runs.
	vars env.Vars
}

// Execute builds the root command, runs it with the provided args and logger, and returns any error.
func Execute(args []string, logger *slog.Logger) error {
	if logger == nil {
		logger = logging.NewLogger(os.Stderr, logging.LevelInfo)
	}

	rootOpts := &Options{
		OutputDir: dispatch.DefaultOutputDir,
		LogLevel:  logging.LevelInfo,
	}

	rootCmd := newRootCommand(rootOpts, logger)
	rootCmd.SetArgs(args)

	return rootCmd.Execute()
}

// newRootCommand constructs the root cobra.Command with global flags and subcommands.
func newRootCommand(opts *Options, logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migratectl",
		Short: "migratectl renders templated SQL migrations and applies them",
		Long: "migratectl discovers templated SQL migration files, renders them with environment and Vault lookups, " +
			"and either writes the rendered SQL to disk (--dry-run) or applies it to the target database.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			vars, err := env.Resolve("", envFilesToLoad(opts.EnvFiles), defaultEnvFile)
			if err != nil {
				return err
			}
			opts.vars = vars

			if err := applyEnvDefaults(cmd, opts, vars); err != nil {
				return err
			}

			level := logging.ParseLevel(cmd.Flag("log-level").Value.String())
			opts.LogLevel = level
			logger = logging.NewLogger(cmd.ErrOrStderr(), level)
			cmd.SetContext(context.WithValue(cmd.Context(), loggerKey{}, logger))
			logger.Debug("logger initialized", "level", level)
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrations(cmd, opts)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.Path, "path", "p", "", "Directory containing migration templates")
	cmd.PersistentFlags().BoolVarP(&opts.EnableVault, "enable-vault", "e", false, "Expose make_vault_client to templates")
	cmd.PersistentFlags().StringSliceVar(&opts.EnvFiles, "env-file", nil, "Env files to load before running (default .env when present)")
	cmd.PersistentFlags().String("log-level", "info", "Log level (trace, debug, info, warn, error)")

	cmd.Flags().BoolVarP(&opts.DryRun, "dry-run", "d", false, "Write rendered SQL to --output-dir instead of applying it")
	cmd.Flags().StringVarP(&opts.OutputDir, "output-dir", "o", dispatch.DefaultOutputDir, "Output directory for dry-run artifacts")
	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "Fail the run when any migration fails to render")
	cmd.Flags().BoolVar(&opts.Grouped, "grouped", false, "Apply all pending migrations in a single transaction")
	cmd.Flags().BoolVar(&opts.AllowDivergent, "allow-divergent", false, "Continue when an applied migration's SQL has changed")
	cmd.Flags().BoolVar(&opts.AllowMissing, "allow-missing", false, "Continue when an applied migration is no longer on disk")

	cmd.AddCommand(
		newStatusCommand(opts),
	)

	return cmd
}

func envFilesToLoad(files []string) []string {
	if len(files) == 0 {
		return []string{defaultEnvFile}
	}
	return files
}

// loggerKey is a private context key used to store a logger in command contexts.
type loggerKey struct{}

// LoggerFromContext extracts a logger from the context or falls back to a default logger.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return logging.NewLogger(os.Stderr, logging.LevelInfo)
	}
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return logging.NewLogger(os.Stderr, logging.LevelInfo)
}
