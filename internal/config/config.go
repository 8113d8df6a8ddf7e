// Package config loads the migration settings from the environment, an optional .env file and
// an optional YAML plan file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/jacentio/ddbmigrate/store"
	"github.com/jacentio/ddbmigrate/tree"
)

// ErrInvalid is returned when a loaded configuration fails validation.
var ErrInvalid = errors.New("ddbmigrate: invalid configuration")

const (
	SourceFirestore = "firestore"
	SourceMongo     = "mongo"
)

// Config holds every setting of a migration run.
type Config struct {
	// ExportDir is the directory holding one snapshot file per top-level collection.
	ExportDir string `env:"FIRESTORE_EXPORT_DIR" envDefault:"firestore-export" validate:"required"`

	// Source selects the source store adapter.
	Source string `env:"SOURCE" envDefault:"firestore" validate:"oneof=firestore mongo"`

	FirebaseProjectID   string `env:"FIREBASE_PROJECT_ID"`
	FirebaseCredentials string `env:"FIREBASE_SERVICE_ACCOUNT"`

	MongoURI      string `env:"MONGODB_URI" envDefault:"mongodb://localhost:27017" validate:"required_if=Source mongo"`
	MongoDatabase string `env:"MONGODB_DATABASE" envDefault:"firestore_default" validate:"required_if=Source mongo"`

	AWSRegion  string `env:"AWS_REGION" envDefault:"us-east-1" validate:"required"`
	AWSProfile string `env:"AWS_PROFILE"`

	// DynamoEndpoint overrides the DynamoDB endpoint, e.g. for DynamoDB Local.
	DynamoEndpoint string `env:"DYNAMODB_ENDPOINT" validate:"omitempty,url"`

	BatchSize          int           `env:"BATCH_SIZE" envDefault:"25" validate:"min=1,max=25"`
	WriteConcurrency   int           `env:"WRITE_CONCURRENCY" envDefault:"4" validate:"min=1"`
	TableConcurrency   int           `env:"TABLE_CONCURRENCY" envDefault:"4" validate:"min=1"`
	ExportConcurrency  int           `env:"EXPORT_CONCURRENCY" envDefault:"4" validate:"min=1"`
	TableWaitTimeout   time.Duration `env:"TABLE_WAIT_TIMEOUT" envDefault:"60s" validate:"gt=0"`
	RecreateMismatched bool          `env:"RECREATE_MISMATCHED" envDefault:"false"`

	// RedisURL enables the Redis-backed dedup key set shared between runs.
	RedisURL string        `env:"REDIS_URL" validate:"omitempty,url"`
	DedupTTL time.Duration `env:"DEDUP_TTL" envDefault:"24h" validate:"gte=0"`

	// MetricsFile, when set, receives the run's metrics in the Prometheus text format.
	MetricsFile string `env:"METRICS_FILE"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text" validate:"oneof=text json"`

	PlanFile string `env:"PLAN_FILE"`

	// Plan is read from PlanFile; CLI flags may extend it.
	Plan Plan
}

// Load reads a .env file (or the given files) if present, then the environment, then the plan
// file, and validates the result. Missing .env files are not an error.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("could not load env file", "error", err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if cfg.PlanFile != "" {
		plan, err := LoadPlan(cfg.PlanFile)
		if err != nil {
			return nil, err
		}
		cfg.Plan = *plan
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every field against its constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// Store returns the settings of the Provisioner and the Writer.
func (c *Config) Store() store.Config {
	cfg := store.DefaultConfig()
	cfg.BatchSize = c.BatchSize
	cfg.WriteConcurrency = c.WriteConcurrency
	cfg.TableWaitTimeout = c.TableWaitTimeout
	cfg.RecreateMismatched = c.RecreateMismatched
	return cfg
}

// Export returns the settings of the tree exporter.
func (c *Config) Export() tree.ExportConfig {
	return tree.ExportConfig{Concurrency: c.ExportConcurrency}
}
