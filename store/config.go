package store

import "time"

// MaxBatchSize is the most put requests DynamoDB accepts in one BatchWriteItem call.
const MaxBatchSize = 25

// Config holds configuration for the Provisioner and the Writer.
type Config struct {
	// BatchSize is the number of items per BatchWriteItem call.
	// Default: 25
	// Max: 25
	BatchSize int

	// WriteConcurrency bounds how many batches of one table are in flight at once.
	// Default: 4
	WriteConcurrency int

	// MaxRetries is how many times unprocessed items of a batch are resubmitted.
	// Default: 5
	MaxRetries int

	// RetryInitialInterval and RetryMaxInterval shape the exponential backoff between
	// resubmissions of unprocessed items.
	// Default: 100ms and 5s
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration

	// BreakerFailures is the number of consecutive batches of a table that fail with throttling
	// or service errors after which further batches of that table are held back until
	// BreakerTimeout has passed. Held batches are still written; data errors such as a
	// ValidationException do not count.
	// Default: 5 and 30s
	BreakerFailures uint32
	BreakerTimeout  time.Duration

	// TableWaitTimeout bounds each wait for a table to become active or to disappear.
	// Default: 60s
	TableWaitTimeout time.Duration

	// WaiterMinDelay and WaiterMaxDelay bound the polling interval of table waiters.
	// Default: 2s and 10s
	WaiterMinDelay time.Duration
	WaiterMaxDelay time.Duration

	// RecreateMismatched allows deleting and recreating a table whose key schema differs from
	// the expected one. This destroys the table's data.
	// Default: false
	RecreateMismatched bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:            MaxBatchSize,
		WriteConcurrency:     4,
		MaxRetries:           5,
		RetryInitialInterval: 100 * time.Millisecond,
		RetryMaxInterval:     5 * time.Second,
		BreakerFailures:      5,
		BreakerTimeout:       30 * time.Second,
		TableWaitTimeout:     60 * time.Second,
		WaiterMinDelay:       2 * time.Second,
		WaiterMaxDelay:       10 * time.Second,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	d := DefaultConfig()
	if c.BatchSize < 1 || c.BatchSize > MaxBatchSize {
		c.BatchSize = MaxBatchSize
	}
	if c.WriteConcurrency < 1 {
		c.WriteConcurrency = d.WriteConcurrency
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryInitialInterval <= 0 {
		c.RetryInitialInterval = d.RetryInitialInterval
	}
	if c.RetryMaxInterval < c.RetryInitialInterval {
		c.RetryMaxInterval = max(d.RetryMaxInterval, c.RetryInitialInterval)
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = d.BreakerFailures
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = d.BreakerTimeout
	}
	if c.TableWaitTimeout <= 0 {
		c.TableWaitTimeout = d.TableWaitTimeout
	}
	if c.WaiterMinDelay <= 0 {
		c.WaiterMinDelay = d.WaiterMinDelay
	}
	if c.WaiterMaxDelay < c.WaiterMinDelay {
		c.WaiterMaxDelay = max(d.WaiterMaxDelay, c.WaiterMinDelay)
	}
}
