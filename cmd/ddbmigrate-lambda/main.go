// Command ddbmigrate-lambda runs migrations inside AWS Lambda. Configuration comes from the
// function's environment; the invocation payload narrows each run.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/jacentio/ddbmigrate/internal/app"
	"github.com/jacentio/ddbmigrate/internal/config"
	"github.com/jacentio/ddbmigrate/internal/logging"
	"github.com/jacentio/ddbmigrate/invoke"
	"github.com/jacentio/ddbmigrate/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger, err := logging.New(os.Stderr, cfg.LogLevel, "json")
	if err != nil {
		slog.Error("invalid logging configuration", "error", err)
		os.Exit(1)
	}

	build := func(ctx context.Context, runID string, ev invoke.MigrateEvent) (*pipeline.Pipeline, func(), error) {
		c := *cfg
		c.Plan = c.Plan.Merge(config.Plan{Only: ev.Only, Skip: ev.Skip, Required: ev.Required})

		rt, err := app.Build(ctx, &c, logger, app.Options{
			WithSource: ev.Export,
			DryRun:     ev.DryRun,
			Resume:     ev.Resume,
			RunID:      runID,
		})
		if err != nil {
			return nil, nil, err
		}
		release := func() {
			if err := rt.Finish(); err != nil {
				logger.Warn("failed to write metrics", "error", err)
			}
			if err := rt.Close(context.Background()); err != nil {
				logger.Warn("failed to close runtime", "error", err)
			}
		}
		return rt.Pipeline, release, nil
	}

	lambda.Start(invoke.NewHandler(build, logger).Handle)
}
