package store_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/sony/gobreaker"

	"github.com/jacentio/ddbmigrate/store"
)

func makeItems(n int) []store.Item {
	items := make([]store.Item, n)
	for i := range items {
		items[i] = store.Item{
			"id":  &types.AttributeValueMemberS{Value: fmt.Sprintf("i%02d", i)},
			"seq": &types.AttributeValueMemberN{Value: fmt.Sprint(i)},
		}
	}
	return items
}

func TestWriteAll_WritesEveryBatch(t *testing.T) {
	client := newFakeClient()
	obs := &recordingObserver{}
	w := store.NewWriter(client, testConfig(), nil)
	w.SetObserver(obs)

	result, err := w.WriteAll(context.Background(), "orders", makeItems(60))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Written != 60 || result.Failed != 0 {
		t.Errorf("expected 60 written and 0 failed, got %+v", result)
	}
	if client.batchCalls != 3 {
		t.Errorf("expected 3 BatchWriteItem calls, got %d", client.batchCalls)
	}
	if client.count("orders") != 60 {
		t.Errorf("expected 60 stored items, got %d", client.count("orders"))
	}
	if obs.written != 60 || obs.batchEvents != 3 {
		t.Errorf("expected observer to see 60 items in 3 batches, got %d in %d", obs.written, obs.batchEvents)
	}
}

func TestWriteAll_PartialBatchFailure(t *testing.T) {
	client := newFakeClient()
	rejected := errors.New("item size has exceeded the maximum allowed size")
	client.batchErr = func(_ int, reqs []types.WriteRequest) error {
		if containsID(reqs, "i27") {
			return &smithy.GenericAPIError{Code: "ValidationException", Message: rejected.Error()}
		}
		return nil
	}

	w := store.NewWriter(client, testConfig(), nil)
	result, err := w.WriteAll(context.Background(), "orders", makeItems(30))

	if result.Written != 25 || result.Failed != 5 {
		t.Errorf("expected 25 written and 5 failed, got %+v", result)
	}
	if client.count("orders") != 25 {
		t.Errorf("expected 25 stored items, got %d", client.count("orders"))
	}

	var batchErrs *store.BatchErrors
	if !errors.As(err, &batchErrs) {
		t.Fatalf("expected BatchErrors, got %v", err)
	}
	if len(batchErrs.Errors) != 1 {
		t.Fatalf("expected 1 failed batch, got %d", len(batchErrs.Errors))
	}
	be := batchErrs.Errors[0]
	if be.Batch != 1 || be.Items != 5 || be.Table != "orders" {
		t.Errorf("unexpected batch error %+v", be)
	}
	if batchErrs.FailedItems() != 5 {
		t.Errorf("expected 5 failed items, got %d", batchErrs.FailedItems())
	}
	if be.Offset != 25 || be.Size != 5 {
		t.Errorf("expected the failed batch at offset 25 with 5 items, got offset %d size %d", be.Offset, be.Size)
	}
	if batchErrs.Failed(24) || !batchErrs.Failed(25) || !batchErrs.Failed(29) {
		t.Error("expected only items 25-29 to be reported as failed")
	}

	var single *store.WriteBatchError
	if !errors.As(err, &single) {
		t.Error("expected errors.As to reach the WriteBatchError")
	}
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) || apiErr.ErrorCode() != "ValidationException" {
		t.Errorf("expected the API error to be reachable, got %v", err)
	}
	// Non-retryable errors are not resubmitted.
	if client.batchCalls != 2 {
		t.Errorf("expected 2 BatchWriteItem calls, got %d", client.batchCalls)
	}
}

func TestWriteAll_AggregatesEveryFailedBatch(t *testing.T) {
	client := newFakeClient()
	client.batchErr = func(_ int, reqs []types.WriteRequest) error {
		if containsID(reqs, "i00") || containsID(reqs, "i50") {
			return &smithy.GenericAPIError{Code: "ValidationException", Message: "bad item"}
		}
		return nil
	}

	cfg := testConfig()
	cfg.BreakerFailures = 10
	w := store.NewWriter(client, cfg, nil)
	result, err := w.WriteAll(context.Background(), "orders", makeItems(60))

	var batchErrs *store.BatchErrors
	if !errors.As(err, &batchErrs) {
		t.Fatalf("expected BatchErrors, got %v", err)
	}
	if len(batchErrs.Errors) != 2 {
		t.Fatalf("expected 2 failed batches, got %d", len(batchErrs.Errors))
	}
	if batchErrs.Errors[0].Batch != 0 || batchErrs.Errors[1].Batch != 2 {
		t.Errorf("expected batches 0 and 2 in order, got %d and %d", batchErrs.Errors[0].Batch, batchErrs.Errors[1].Batch)
	}
	if result.Written != 25 || result.Failed != 35 {
		t.Errorf("expected 25 written and 35 failed, got %+v", result)
	}
}

func TestWriteAll_RetriesUnprocessedItems(t *testing.T) {
	client := newFakeClient()
	client.unprocessed["i03"] = 2

	w := store.NewWriter(client, testConfig(), nil)
	result, err := w.WriteAll(context.Background(), "orders", makeItems(10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Written != 10 {
		t.Errorf("expected 10 written, got %+v", result)
	}
	if client.batchCalls != 3 {
		t.Errorf("expected 3 BatchWriteItem calls (1 + 2 retries), got %d", client.batchCalls)
	}
}

func TestWriteAll_UnprocessedRetriesExhausted(t *testing.T) {
	client := newFakeClient()
	client.unprocessed["i01"] = 100
	client.unprocessed["i02"] = 100

	cfg := testConfig()
	cfg.MaxRetries = 2
	w := store.NewWriter(client, cfg, nil)
	result, err := w.WriteAll(context.Background(), "orders", makeItems(5))

	if result.Written != 3 || result.Failed != 2 {
		t.Errorf("expected 3 written and 2 failed, got %+v", result)
	}
	var batchErrs *store.BatchErrors
	if !errors.As(err, &batchErrs) {
		t.Fatalf("expected BatchErrors, got %v", err)
	}
	if batchErrs.Errors[0].Items != 2 {
		t.Errorf("expected 2 unwritten items, got %d", batchErrs.Errors[0].Items)
	}
	if client.batchCalls != 3 {
		t.Errorf("expected 3 BatchWriteItem calls (1 + 2 retries), got %d", client.batchCalls)
	}
}

func TestWriteAll_RetriesThrottling(t *testing.T) {
	client := newFakeClient()
	client.batchErr = func(call int, _ []types.WriteRequest) error {
		if call == 1 {
			return &smithy.GenericAPIError{Code: "ProvisionedThroughputExceededException", Message: "slow down"}
		}
		return nil
	}

	w := store.NewWriter(client, testConfig(), nil)
	result, err := w.WriteAll(context.Background(), "orders", makeItems(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Written != 3 {
		t.Errorf("expected 3 written, got %+v", result)
	}
	if client.batchCalls != 2 {
		t.Errorf("expected 2 BatchWriteItem calls, got %d", client.batchCalls)
	}
}

func TestWriteAll_DataErrorsDoNotStopLaterBatches(t *testing.T) {
	client := newFakeClient()
	// Batches 0-4 each hold one oversized item; batches 5-7 are healthy.
	bad := map[string]bool{"i000": true, "i025": true, "i050": true, "i075": true, "i100": true}
	client.batchErr = func(_ int, reqs []types.WriteRequest) error {
		for _, r := range reqs {
			if bad[itemID(r.PutRequest.Item)] {
				return &smithy.GenericAPIError{Code: "ValidationException", Message: "item too large"}
			}
		}
		return nil
	}

	cfg := testConfig()
	cfg.WriteConcurrency = 1
	cfg.BreakerFailures = 2
	w := store.NewWriter(client, cfg, nil)

	items := make([]store.Item, 200)
	for i := range items {
		items[i] = store.Item{"id": &types.AttributeValueMemberS{Value: fmt.Sprintf("i%03d", i)}}
	}
	result, err := w.WriteAll(context.Background(), "orders", items)

	if result.Written != 75 || result.Failed != 125 {
		t.Errorf("expected 75 written and 125 failed, got %+v", result)
	}
	if client.count("orders") != 75 {
		t.Errorf("expected the 75 healthy items to be stored, got %d", client.count("orders"))
	}
	if client.batchCalls != 8 {
		t.Errorf("expected every one of the 8 batches to be sent, got %d calls", client.batchCalls)
	}
	if errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("expected no batch to fail on an open breaker, got %v", err)
	}
	var batchErrs *store.BatchErrors
	if !errors.As(err, &batchErrs) || len(batchErrs.Errors) != 5 {
		t.Errorf("expected 5 failed batches, got %v", err)
	}
}

func TestWriteAll_OpenBreakerHoldsBatches(t *testing.T) {
	client := newFakeClient()
	// The first four calls are throttled: batches 0 and 1 exhaust their retries and open the
	// breaker, the remaining batches wait for it and then succeed.
	client.batchErr = func(call int, _ []types.WriteRequest) error {
		if call <= 4 {
			return &smithy.GenericAPIError{Code: "ProvisionedThroughputExceededException", Message: "slow down"}
		}
		return nil
	}

	cfg := testConfig()
	cfg.WriteConcurrency = 1
	cfg.MaxRetries = 1
	cfg.BreakerFailures = 2
	w := store.NewWriter(client, cfg, nil)

	result, err := w.WriteAll(context.Background(), "orders", makeItems(100))
	if result.Written != 50 || result.Failed != 50 {
		t.Errorf("expected 50 written and 50 failed, got %+v", result)
	}
	if client.batchCalls != 6 {
		t.Errorf("expected 6 BatchWriteItem calls, got %d", client.batchCalls)
	}
	if errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("expected held batches to be written, got %v", err)
	}
	var batchErrs *store.BatchErrors
	if !errors.As(err, &batchErrs) || len(batchErrs.Errors) != 2 {
		t.Errorf("expected 2 failed batches, got %v", err)
	}
}

func TestWriteAll_CancelledBeforeStart(t *testing.T) {
	client := newFakeClient()
	w := store.NewWriter(client, testConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := w.WriteAll(ctx, "orders", makeItems(3))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if client.batchCalls != 0 {
		t.Errorf("expected no writes, got %d calls", client.batchCalls)
	}
}

func TestWriteAll_Empty(t *testing.T) {
	client := newFakeClient()
	w := store.NewWriter(client, testConfig(), nil)

	result, err := w.WriteAll(context.Background(), "orders", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != (store.WriteResult{}) {
		t.Errorf("expected empty result, got %+v", result)
	}
	if client.batchCalls != 0 {
		t.Errorf("expected no calls, got %d", client.batchCalls)
	}
}

func TestWriteAll_SmallBatchSize(t *testing.T) {
	client := newFakeClient()
	cfg := testConfig()
	cfg.BatchSize = 10
	w := store.NewWriter(client, cfg, nil)

	if _, err := w.WriteAll(context.Background(), "orders", makeItems(30)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.batchCalls != 3 {
		t.Errorf("expected 3 calls with batch size 10, got %d", client.batchCalls)
	}
}
