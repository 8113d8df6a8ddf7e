package store

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// Client is the subset of the DynamoDB API the package uses. *dynamodb.Client satisfies it.
type Client interface {
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DeleteTable(ctx context.Context, params *dynamodb.DeleteTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteTableOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

var _ Client = (*dynamodb.Client)(nil)

// Item is a DynamoDB item.
type Item = map[string]types.AttributeValue

// Observer receives provisioning and write measurements. Methods must be safe for concurrent use.
type Observer interface {
	TableProvisioned(table string, outcome Outcome)
	BatchWritten(table string, written, failed int, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) TableProvisioned(string, Outcome)             {}
func (nopObserver) BatchWritten(string, int, int, time.Duration) {}

// errorCode returns the AWS error code of err, or "" if err is not an API error.
func errorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

func isNotFound(err error) bool {
	var rnf *types.ResourceNotFoundException
	return errors.As(err, &rnf) || errorCode(err) == "ResourceNotFoundException"
}

func isInUse(err error) bool {
	var riu *types.ResourceInUseException
	return errors.As(err, &riu) || errorCode(err) == "ResourceInUseException"
}

// isRetryable reports whether a failed BatchWriteItem call may succeed when resubmitted.
func isRetryable(err error) bool {
	switch errorCode(err) {
	case "ProvisionedThroughputExceededException", "ThrottlingException",
		"RequestLimitExceeded", "InternalServerError", "ServiceUnavailable":
		return true
	}
	return false
}
