// Package app wires a pipeline from a loaded configuration, for the CLI and the Lambda entrypoint.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jacentio/ddbmigrate/internal/config"
	"github.com/jacentio/ddbmigrate/internal/dedup"
	"github.com/jacentio/ddbmigrate/internal/metrics"
	"github.com/jacentio/ddbmigrate/pipeline"
	"github.com/jacentio/ddbmigrate/snapshot"
	"github.com/jacentio/ddbmigrate/source/firestore"
	"github.com/jacentio/ddbmigrate/source/mongo"
	"github.com/jacentio/ddbmigrate/store"
	"github.com/jacentio/ddbmigrate/tree"
)

// Options select what a Runtime needs beyond the configuration.
type Options struct {
	// WithSource opens the configured source store for the export pass.
	WithSource bool

	DryRun bool
	Resume bool
	RunID  string
}

// Runtime holds a wired pipeline and the resources it owns.
type Runtime struct {
	Config   *config.Config
	Metrics  *metrics.Collector
	Pipeline *pipeline.Pipeline

	logger  *slog.Logger
	closers []func(context.Context) error
}

// Build opens the target client, the written-key ledger, if requested, the source store, and
// wires them into a pipeline. Call Close when done.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	rt := &Runtime{Config: cfg, Metrics: metrics.NewCollector(), logger: logger}

	client, err := NewDynamoClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	deps := pipeline.Deps{
		Snapshots: snapshot.NewDirStore(cfg.ExportDir),
		Client:    client,
		Export:    cfg.Export(),
		Store:     cfg.Store(),
	}

	if opts.WithSource {
		src, err := rt.openSource(ctx)
		if err != nil {
			rt.Close(ctx)
			return nil, err
		}
		deps.Source = src
	}

	if cfg.RedisURL != "" {
		ledger, err := rt.openLedger(ctx, opts.RunID)
		if err != nil {
			rt.Close(ctx)
			return nil, err
		}
		deps.Written = ledger
	}

	p := pipeline.New(deps, pipeline.Config{
		TableConcurrency: cfg.TableConcurrency,
		DryRun:           opts.DryRun,
		Resume:           opts.Resume,
		Include:          cfg.Plan.Include,
		Required:         cfg.Plan.Required,
		RunID:            opts.RunID,
	}, logger)
	p.SetObserver(rt.Metrics)
	rt.Pipeline = p
	return rt, nil
}

// NewDynamoClient creates a DynamoDB client for the configured region, profile and endpoint.
func NewDynamoClient(ctx context.Context, cfg *config.Config) (*dynamodb.Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.AWSRegion)}
	if cfg.AWSProfile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(cfg.AWSProfile))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.DynamoEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.DynamoEndpoint)
		}
	}), nil
}

var _ store.Client = (*dynamodb.Client)(nil)

func (rt *Runtime) openSource(ctx context.Context) (tree.Source, error) {
	cfg := rt.Config
	switch cfg.Source {
	case config.SourceMongo:
		root := ""
		if cfg.FirebaseProjectID != "" {
			root = "projects/" + cfg.FirebaseProjectID + "/databases/(default)/documents"
		}
		src, disconnect, err := mongo.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase, root)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, disconnect)
		return src, nil
	default:
		src, err := firestore.Open(ctx, cfg.FirebaseProjectID, cfg.FirebaseCredentials)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, func(context.Context) error { return src.Close() })
		return src, nil
	}
}

// openLedger connects the Redis ledger of written keys shared by every attempt of runID.
func (rt *Runtime) openLedger(ctx context.Context, runID string) (dedup.Ledger, error) {
	opts, err := redis.ParseURL(rt.Config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	rt.closers = append(rt.closers, func(context.Context) error { return client.Close() })

	prefix := "ddbmigrate:" + runID
	rt.logger.Info("tracking written records in redis", "prefix", prefix)
	return dedup.NewRedisSet(client, prefix, rt.Config.DedupTTL), nil
}

// Finish writes the metrics file, if one is configured.
func (rt *Runtime) Finish() error {
	if rt.Config.MetricsFile == "" {
		return nil
	}
	if err := rt.Metrics.WriteTextfile(rt.Config.MetricsFile); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}

// Close releases the source and key set connections.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
