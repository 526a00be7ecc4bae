package cli

import (
	"fmt"
	"strings"

	envparse "github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"

	"github.com/codex-k8s/migratectl/internal/env"
)

// baseEnv defines root CLI defaults sourced from MIGRATECTL_* env vars.
type baseEnv struct {
	// Path is the migrations directory from MIGRATECTL_PATH.
	Path string `env:"MIGRATECTL_PATH"`
	// EnableVault toggles the vault client from MIGRATECTL_ENABLE_VAULT.
	EnableVault bool `env:"MIGRATECTL_ENABLE_VAULT"`
	// DryRun toggles dry-run mode from MIGRATECTL_DRY_RUN.
	DryRun bool `env:"MIGRATECTL_DRY_RUN"`
	// OutputDir is the dry-run output directory from MIGRATECTL_OUTPUT_DIR.
	OutputDir string `env:"MIGRATECTL_OUTPUT_DIR"`
	// Strict toggles strict render failures from MIGRATECTL_STRICT.
	Strict bool `env:"MIGRATECTL_STRICT"`
	// Grouped toggles single-transaction apply from MIGRATECTL_GROUPED.
	Grouped bool `env:"MIGRATECTL_GROUPED"`
	// LogLevel is the logging level from MIGRATECTL_LOG_LEVEL.
	LogLevel string `env:"MIGRATECTL_LOG_LEVEL"`
	// LegacyLogLevel is LOG_LEVEL, used when MIGRATECTL_LOG_LEVEL is unset.
	LegacyLogLevel string `env:"LOG_LEVEL"`
}

// statusEnv captures env inputs for the status command.
type statusEnv struct {
	// Format is the output format from MIGRATECTL_STATUS_FORMAT.
	Format string `env:"MIGRATECTL_STATUS_FORMAT"`
}

// parseEnv fills target from vars via caarlos0/env.
func parseEnv(target any, vars env.Vars) error {
	if err := envparse.ParseWithOptions(target, envparse.Options{Environment: vars}); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	return nil
}

// applyEnvDefaults fills options from MIGRATECTL_* variables for flags the user did not set.
func applyEnvDefaults(cmd *cobra.Command, opts *Options, vars env.Vars) error {
	var e baseEnv
	if err := parseEnv(&e, vars); err != nil {
		return err
	}

	flags := cmd.Flags()
	if !flags.Changed("path") && vars.Present("MIGRATECTL_PATH") {
		opts.Path = strings.TrimSpace(e.Path)
	}
	if !flags.Changed("enable-vault") && vars.Present("MIGRATECTL_ENABLE_VAULT") {
		opts.EnableVault = e.EnableVault
	}
	if !flags.Changed("dry-run") && vars.Present("MIGRATECTL_DRY_RUN") {
		opts.DryRun = e.DryRun
	}
	if !flags.Changed("output-dir") && vars.Present("MIGRATECTL_OUTPUT_DIR") {
		opts.OutputDir = strings.TrimSpace(e.OutputDir)
	}
	if !flags.Changed("strict") && vars.Present("MIGRATECTL_STRICT") {
		opts.Strict = e.Strict
	}
	if !flags.Changed("grouped") && vars.Present("MIGRATECTL_GROUPED") {
		opts.Grouped = e.Grouped
	}
	if !flags.Changed("log-level") {
		level := e.LogLevel
		if strings.TrimSpace(level) == "" {
			level = e.LegacyLogLevel
		}
		if strings.TrimSpace(level) != "" {
			if err := flags.Set("log-level", level); err != nil {
				return err
			}
		}
	}
	return nil
}
