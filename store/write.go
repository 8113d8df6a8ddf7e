package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/jacentio/ddbmigrate/internal/chunk"
)

// errUnprocessed signals that DynamoDB accepted a batch but left some items unprocessed.
var errUnprocessed = errors.New("ddbmigrate: unprocessed items remain")

// WriteResult counts the items of a WriteAll call.
type WriteResult struct {
	Written int
	Failed  int
}

// Writer bulk-writes items with BatchWriteItem.
type Writer struct {
	client   Client
	config   Config
	logger   *slog.Logger
	observer Observer

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewWriter creates a new Writer.
func NewWriter(client Client, config Config, logger *slog.Logger) *Writer {
	config.validate()
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		client:   client,
		config:   config,
		logger:   logger,
		observer: nopObserver{},
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// SetObserver sets the observer notified of every attempted batch.
func (w *Writer) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	w.observer = o
}

// breaker returns the circuit breaker guarding writes to table.
func (w *Writer) breaker(table string) *gobreaker.CircuitBreaker {
	w.mu.Lock()
	defer w.mu.Unlock()
	cb, ok := w.breakers[table]
	if !ok {
		threshold := w.config.BreakerFailures
		cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        table,
			MaxRequests: 1,
			Timeout:     w.config.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			// Only overload counts; a batch with bad items says nothing about the table.
			IsSuccessful: func(err error) bool { return !isOverload(err) },
			OnStateChange: func(name string, from, to gobreaker.State) {
				w.logger.Warn("write circuit breaker changed state",
					"table", name,
					"from", from.String(),
					"to", to.String(),
				)
			},
		})
		w.breakers[table] = cb
	}
	return cb
}

// WriteAll puts items into table in batches of Config.BatchSize, running up to
// Config.WriteConcurrency batches at once. Every batch is attempted even if others fail; the
// returned error is then a *BatchErrors listing each failed batch.
//
// ctx is only checked before the first batch is dispatched. Dispatched batches run to
// completion on a context detached from ctx's cancellation.
func (w *Writer) WriteAll(ctx context.Context, table string, items []Item) (WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return WriteResult{}, err
	}
	if len(items) == 0 {
		return WriteResult{}, nil
	}

	batches := chunk.Split(items, w.config.BatchSize)
	detached := context.WithoutCancel(ctx)

	var mu sync.Mutex
	var result WriteResult
	var failures []*WriteBatchError

	var g errgroup.Group
	g.SetLimit(w.config.WriteConcurrency)
	for i, batch := range batches {
		g.Go(func() error {
			start := time.Now()
			unwritten, err := w.writeBatch(detached, table, batch)
			written := len(batch) - unwritten
			w.observer.BatchWritten(table, written, unwritten, time.Since(start))

			mu.Lock()
			defer mu.Unlock()
			result.Written += written
			result.Failed += unwritten
			if err != nil {
				w.logger.Error("batch write failed",
					"table", table,
					"batch", i,
					"items", unwritten,
					"error", err,
				)
				failures = append(failures, &WriteBatchError{
					Table:  table,
					Batch:  i,
					Offset: i * w.config.BatchSize,
					Size:   len(batch),
					Items:  unwritten,
					Err:    err,
				})
			}
			return nil
		})
	}
	g.Wait()

	w.logger.Info("table written",
		"table", table,
		"written", result.Written,
		"failed", result.Failed,
		"batches", len(batches),
	)

	if len(failures) > 0 {
		sort.Slice(failures, func(i, j int) bool { return failures[i].Batch < failures[j].Batch })
		return result, &BatchErrors{Table: table, Errors: failures}
	}
	return result, nil
}

// isOverload reports whether err means the table or the service is overloaded, as opposed to a
// problem with the items of one batch.
func isOverload(err error) bool {
	return err != nil && (isRetryable(err) || errors.Is(err, errUnprocessed))
}

// writeBatch writes one batch through the table's circuit breaker and returns how many of its
// items were not written. While the breaker is open the batch waits for it instead of failing,
// so every batch is attempted.
func (w *Writer) writeBatch(ctx context.Context, table string, batch []Item) (int, error) {
	pending := make([]types.WriteRequest, len(batch))
	for i, item := range batch {
		pending[i] = types.WriteRequest{PutRequest: &types.PutRequest{Item: item}}
	}

	cb := w.breaker(table)
	for {
		_, err := cb.Execute(func() (any, error) {
			return nil, w.putWithRetry(ctx, table, &pending)
		})
		switch {
		case errors.Is(err, gobreaker.ErrOpenState):
			w.logger.Debug("write circuit breaker open, holding batch", "table", table, "wait", w.config.BreakerTimeout)
			time.Sleep(w.config.BreakerTimeout)
		case errors.Is(err, gobreaker.ErrTooManyRequests):
			time.Sleep(w.config.RetryInitialInterval)
		case err != nil:
			return len(pending), err
		default:
			return 0, nil
		}
	}
}

// putWithRetry submits *pending and resubmits what DynamoDB leaves unprocessed, with
// exponential backoff, until nothing is left or the retries are exhausted. *pending always
// holds the requests not yet written.
func (w *Writer) putWithRetry(ctx context.Context, table string, pending *[]types.WriteRequest) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.config.RetryInitialInterval
	b.MaxInterval = w.config.RetryMaxInterval
	b.MaxElapsedTime = 0 // bounded by MaxRetries

	attempt := 0
	op := func() error {
		attempt++
		out, err := w.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{table: *pending},
		})
		if err != nil {
			if isRetryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}

		*pending = out.UnprocessedItems[table]
		if len(*pending) > 0 {
			w.logger.Debug("retrying unprocessed items",
				"table", table,
				"attempt", attempt,
				"unprocessed", len(*pending),
			)
			return errUnprocessed
		}
		return nil
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(w.config.MaxRetries)), ctx))
	if err != nil {
		return fmt.Errorf("after %d attempts: %w", attempt, err)
	}
	return nil
}
