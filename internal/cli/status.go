package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/codex-k8s/migratectl/internal/db"
	"github.com/codex-k8s/migratectl/internal/invoke"
	"github.com/codex-k8s/migratectl/internal/migrate"
	"github.com/codex-k8s/migratectl/internal/pipeline"
)

// statusReport is the document printed by the status command.
type statusReport struct {
	Migrations []migrate.StatusEntry `json:"migrations" yaml:"migrations"`
	Failed     []string              `json:"failed,omitempty" yaml:"failed,omitempty"`
}

// newStatusCommand creates the "status" subcommand that compares rendered migrations with the database.
func newStatusCommand(opts *Options) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := LoggerFromContext(cmd.Context())

			if strings.TrimSpace(opts.Path) == "" {
				return ErrPathRequired
			}
			if !cmd.Flags().Changed("format") {
				var e statusEnv
				if err := parseEnv(&e, opts.vars); err != nil {
					return err
				}
				if strings.TrimSpace(e.Format) != "" {
					format = e.Format
				}
			}

			tctx, err := buildTemplateContext(opts)
			if err != nil {
				return err
			}

			batch, res, err := pipeline.New(afero.NewOsFs(), tctx, nil, logger).Collect(opts.Path, outputDir(opts))
			if err != nil {
				return err
			}

			dbCfg, err := db.LoadConfig(opts.vars)
			if err != nil {
				return err
			}
			entries, err := invoke.New(dbCfg, engineOptions(opts), logger).Status(cmd.Context(), batch)
			if err != nil {
				return err
			}

			return writeStatus(cmd.OutOrStdout(), format, statusReport{
				Migrations: entries,
				Failed:     res.FailedNames(),
			})
		},
	}

	cmd.Flags().StringVar(&format, "format", "yaml", "Output format (yaml, json)")

	return cmd
}

func writeStatus(w io.Writer, format string, report statusReport) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			_ = enc.Close()
			return fmt.Errorf("encode status: %w", err)
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	default:
		return fmt.Errorf("unsupported format %q (want yaml or json)", format)
	}
}
