package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jacentio/ddbmigrate/internal/app"
	"github.com/jacentio/ddbmigrate/internal/config"
	"github.com/jacentio/ddbmigrate/internal/logging"
	"github.com/jacentio/ddbmigrate/pipeline"
)

// exitError carries a non-zero exit code for a run that completed with failures.
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

type options struct {
	envFiles           []string
	exportDir          string
	only               []string
	skip               []string
	require            []string
	dryRun             bool
	resume             bool
	recreateMismatched bool
	runID              string
	summaryFile        string
	noExport           bool
}

func newRootCmd() *cobra.Command {
	return newRootCmdWithOptions(&options{})
}

func newRootCmdWithOptions(opts *options) *cobra.Command {
	root := &cobra.Command{
		Use:   "ddbmigrate",
		Short: "Migrate a hierarchical document store into flat DynamoDB tables",
		Long: `ddbmigrate exports every collection of a Firestore database into JSON snapshots,
creates one DynamoDB table per collection path (orders, orders__items, ...) and writes every
document as an item keyed by its id and the chain of its ancestor ids.

Settings come from the environment (see FIRESTORE_EXPORT_DIR, AWS_REGION, BATCH_SIZE, ...),
an optional .env file and an optional YAML plan file; flags override them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringSliceVar(&opts.envFiles, "env-file", nil, "env files to load (default: .env if present)")
	pf.StringVar(&opts.exportDir, "export-dir", "", "snapshot directory (overrides FIRESTORE_EXPORT_DIR)")
	pf.StringSliceVar(&opts.only, "only", nil, "top-level collections to migrate (comma-separated)")
	pf.StringSliceVar(&opts.skip, "skip", nil, "top-level collections to leave out (comma-separated)")
	pf.StringSliceVar(&opts.require, "require", nil, "tables whose provisioning failure aborts the run")
	pf.BoolVar(&opts.dryRun, "dry-run", false, "report what would change without touching DynamoDB")
	pf.BoolVar(&opts.recreateMismatched, "recreate-mismatched", false, "delete and recreate tables whose key schema differs (destroys data)")
	pf.StringVar(&opts.runID, "run-id", "", "run identifier; reuse it to skip records a previous attempt wrote")
	pf.StringVar(&opts.summaryFile, "summary", "", "write the JSON summary to this file instead of stdout")

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export top-level collections into snapshot files",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return execute(cmd, opts, true, func(ctx context.Context, p *pipeline.Pipeline, sum *pipeline.Summary) error {
				return p.Export(ctx, sum)
			})
		},
	}
	exportCmd.Flags().BoolVar(&opts.resume, "resume", false, "skip collections that already have a snapshot")

	provisionCmd := &cobra.Command{
		Use:   "provision",
		Short: "Create or reconcile the tables implied by the snapshots",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return execute(cmd, opts, false, func(ctx context.Context, p *pipeline.Pipeline, sum *pipeline.Summary) error {
				return p.Provision(ctx, sum)
			})
		},
	}

	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Flatten the snapshots and write their records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return execute(cmd, opts, false, func(ctx context.Context, p *pipeline.Pipeline, sum *pipeline.Summary) error {
				return p.Import(ctx, sum)
			})
		},
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Export, provision and import in one go",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return execute(cmd, opts, !opts.noExport, func(ctx context.Context, p *pipeline.Pipeline, sum *pipeline.Summary) error {
				if !opts.noExport {
					if err := p.Export(ctx, sum); err != nil {
						return err
					}
				}
				if err := p.Provision(ctx, sum); err != nil {
					return err
				}
				return p.Import(ctx, sum)
			})
		},
	}
	runCmd.Flags().BoolVar(&opts.resume, "resume", false, "skip exporting collections that already have a snapshot")
	runCmd.Flags().BoolVar(&opts.noExport, "no-export", false, "use the existing snapshots")

	root.AddCommand(exportCmd, provisionCmd, importCmd, runCmd)
	return root
}

// loadConfig loads the configuration and applies the flags on top.
func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	cfg, err := config.Load(opts.envFiles...)
	if err != nil {
		return nil, err
	}
	applyFlags(cmd, opts, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFlags(cmd *cobra.Command, opts *options, cfg *config.Config) {
	if opts.exportDir != "" {
		cfg.ExportDir = opts.exportDir
	}
	if cmd.Flags().Changed("recreate-mismatched") {
		cfg.RecreateMismatched = opts.recreateMismatched
	}
	cfg.Plan = cfg.Plan.Merge(config.Plan{Only: opts.only, Skip: opts.skip, Required: opts.require})
}

type pass func(ctx context.Context, p *pipeline.Pipeline, sum *pipeline.Summary) error

// execute wires a runtime, runs pass and reports its summary. A pass that completes with
// failures yields an *exitError.
func execute(cmd *cobra.Command, opts *options, withSource bool, run pass) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	logger, err := logging.New(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	rt, err := app.Build(ctx, cfg, logger, app.Options{
		WithSource: withSource,
		DryRun:     opts.dryRun,
		Resume:     opts.resume,
		RunID:      opts.runID,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("failed to close connections", "error", err)
		}
	}()

	sum := rt.Pipeline.NewSummary()
	runErr := run(ctx, rt.Pipeline, sum)
	sum.Finish()
	if runErr != nil {
		logger.Error("run aborted", "error", runErr)
	}

	if err := rt.Finish(); err != nil {
		logger.Warn("failed to write metrics", "error", err)
	}
	if err := writeSummary(cmd.OutOrStdout(), opts.summaryFile, sum, logger); err != nil {
		return err
	}

	code := sum.ExitCode()
	if runErr != nil {
		code = 1
	}
	if code != 0 {
		return &exitError{code: code}
	}
	return nil
}

func writeSummary(stdout io.Writer, path string, sum *pipeline.Summary, logger *slog.Logger) error {
	if path == "" {
		return sum.WriteJSON(stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create summary file: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			logger.Warn("failed to close summary file", "error", err)
		}
	}()
	return sum.WriteJSON(f)
}
