package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jacentio/ddbmigrate/schema"
)

var (
	// ErrTableNotFound is returned when a table does not exist.
	ErrTableNotFound = errors.New("ddbmigrate: table not found")

	// ErrTableBusy is returned when a table stays in a non-active state that blocks the operation.
	ErrTableBusy = errors.New("ddbmigrate: table is busy")
)

// SchemaConflictError is returned when a table's live key schema differs from the expected one
// and destructive recreation is disabled.
type SchemaConflictError struct {
	Table    string
	Live     schema.TableKeySchema
	Expected schema.TableKeySchema
}

func (e *SchemaConflictError) Error() string {
	return fmt.Sprintf("ddbmigrate: table %s has key schema %s, expected %s", e.Table, e.Live, e.Expected)
}

// ProvisionTimeoutError is returned when a table does not reach the awaited state in time.
type ProvisionTimeoutError struct {
	Table string

	// Transition is "exists" or "not exists".
	Transition string

	Wait time.Duration
	Err  error
}

func (e *ProvisionTimeoutError) Error() string {
	return fmt.Sprintf("ddbmigrate: table %s did not reach %q within %s: %v", e.Table, e.Transition, e.Wait, e.Err)
}

func (e *ProvisionTimeoutError) Unwrap() error { return e.Err }

// WriteBatchError reports one batch that could not be written.
type WriteBatchError struct {
	Table string

	// Batch is the zero-based index of the batch within the WriteAll call.
	Batch int

	// Offset and Size locate the batch within the items passed to WriteAll.
	Offset int
	Size   int

	// Items is the number of items of the batch that were not written.
	Items int

	Err error
}

func (e *WriteBatchError) Error() string {
	return fmt.Sprintf("ddbmigrate: table %s batch %d: %d items not written: %v", e.Table, e.Batch, e.Items, e.Err)
}

func (e *WriteBatchError) Unwrap() error { return e.Err }

// BatchErrors aggregates every failed batch of a WriteAll call, ordered by batch index.
type BatchErrors struct {
	Table  string
	Errors []*WriteBatchError
}

func (e *BatchErrors) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, be := range e.Errors {
		msgs[i] = fmt.Sprintf("batch %d: %v", be.Batch, be.Err)
	}
	return fmt.Sprintf("ddbmigrate: table %s: %d batches failed: %s", e.Table, len(e.Errors), strings.Join(msgs, "; "))
}

// Unwrap returns every batch error, for errors.Is and errors.As.
func (e *BatchErrors) Unwrap() []error {
	errs := make([]error, len(e.Errors))
	for i, be := range e.Errors {
		errs[i] = be
	}
	return errs
}

// FailedItems returns the total number of items not written.
func (e *BatchErrors) FailedItems() int {
	n := 0
	for _, be := range e.Errors {
		n += be.Items
	}
	return n
}

// Failed reports whether the item at index i of the WriteAll input belongs to a failed batch.
func (e *BatchErrors) Failed(i int) bool {
	for _, be := range e.Errors {
		if i >= be.Offset && i < be.Offset+be.Size {
			return true
		}
	}
	return false
}
