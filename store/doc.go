// Package store provisions DynamoDB tables and bulk-writes migrated records into them.
//
// # Provisioning
//
// [Provisioner.EnsureTable] makes a table match the key schema its name implies:
//
//   - missing tables are created (on-demand billing) and waited for
//   - tables with the expected schema are left alone
//   - tables with a different schema are deleted and recreated, only when
//     [Config.RecreateMismatched] is set; otherwise a [*SchemaConflictError] is returned
//
// Operations on one table are serialized; distinct tables may be provisioned concurrently.
//
// # Writing
//
// [Writer.WriteAll] splits items into BatchWriteItem calls of at most [MaxBatchSize] puts,
// retries unprocessed items with exponential backoff, and reports every failed batch in a
// [*BatchErrors] once all batches have been attempted. Puts are unconditional, so rewriting
// the same records is idempotent.
//
// # Configuration
//
// Use [DefaultConfig] and override what you need:
//
//	cfg := store.DefaultConfig()
//	cfg.WriteConcurrency = 8
//	cfg.RecreateMismatched = true // allow destructive reconciliation
//
// # Errors
//
//   - [ErrTableNotFound] - the table does not exist
//   - [*SchemaConflictError] - live key schema differs and recreation is disabled
//   - [*ProvisionTimeoutError] - a table did not reach the expected state in time
//   - [*WriteBatchError] / [*BatchErrors] - one or more batches failed
package store
