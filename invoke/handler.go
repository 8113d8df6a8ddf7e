// Package invoke runs migrations as an AWS Lambda function.
package invoke

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/google/uuid"

	"github.com/jacentio/ddbmigrate/pipeline"
)

// MigrateEvent is the payload of a migration invocation.
type MigrateEvent struct {
	// Export runs the export pass before provisioning and importing.
	Export bool `json:"export,omitempty"`

	Only     []string `json:"only,omitempty"`
	Skip     []string `json:"skip,omitempty"`
	Required []string `json:"required,omitempty"`
	DryRun   bool     `json:"dryRun,omitempty"`
	Resume   bool     `json:"resume,omitempty"`
}

// Response is returned to the invoker.
type Response struct {
	RunID    string            `json:"runId"`
	ExitCode int               `json:"exitCode"`
	Summary  *pipeline.Summary `json:"summary"`
}

// Builder creates the pipeline of one invocation. release, if not nil, is called once the
// run is over.
type Builder func(ctx context.Context, runID string, event MigrateEvent) (p *pipeline.Pipeline, release func(), err error)

// Handler runs one migration per invocation.
type Handler struct {
	build  Builder
	logger *slog.Logger
}

// NewHandler creates a new Lambda handler.
func NewHandler(build Builder, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		build:  build,
		logger: logger,
	}
}

// HandleMigrate runs a migration. The Lambda request ID is used as run ID, so a retried
// invocation skips the records the failed attempt wrote.
//
// An aborted run returns an error so Lambda retries it; a run that completed with failed
// tables or items returns a response with a non-zero exit code.
func (h *Handler) HandleMigrate(ctx context.Context, event MigrateEvent) (*Response, error) {
	runID := uuid.NewString()
	if lc, ok := lambdacontext.FromContext(ctx); ok && lc.AwsRequestID != "" {
		runID = lc.AwsRequestID
	}
	log := h.logger.With("run", runID)

	p, release, err := h.build(ctx, runID, event)
	if err != nil {
		log.Error("failed to build pipeline", "error", err)
		return nil, fmt.Errorf("build pipeline: %w", err)
	}
	if release != nil {
		defer release()
	}

	sum, err := p.Run(ctx)
	if err != nil {
		log.Error("migration aborted", "error", err)
		return nil, err // Will retry, eventually DLQ
	}

	resp := &Response{RunID: sum.RunID, ExitCode: sum.ExitCode(), Summary: sum}
	log.Info("migration completed", "exitCode", resp.ExitCode)
	return resp, nil
}

// HandleScheduled runs a migration triggered by an EventBridge rule. The event detail holds a
// MigrateEvent; an empty detail runs with defaults.
func (h *Handler) HandleScheduled(ctx context.Context, event events.CloudWatchEvent) (*Response, error) {
	var me MigrateEvent
	if len(event.Detail) > 0 && string(event.Detail) != "null" {
		if err := json.Unmarshal(event.Detail, &me); err != nil {
			return nil, fmt.Errorf("decode event detail: %w", err)
		}
	}
	h.logger.Info("scheduled migration",
		"rule", event.Resources,
		"detailType", event.DetailType,
	)
	return h.HandleMigrate(ctx, me)
}

// Handle accepts either a MigrateEvent or an EventBridge event and dispatches accordingly.
// Use it as the function's single entrypoint.
func (h *Handler) Handle(ctx context.Context, raw json.RawMessage) (*Response, error) {
	var envelope struct {
		DetailType string `json:"detail-type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}

	if envelope.DetailType != "" {
		var ev events.CloudWatchEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, fmt.Errorf("decode eventbridge event: %w", err)
		}
		return h.HandleScheduled(ctx, ev)
	}

	var me MigrateEvent
	if err := json.Unmarshal(raw, &me); err != nil {
		return nil, fmt.Errorf("decode migrate event: %w", err)
	}
	return h.HandleMigrate(ctx, me)
}
