// Package pipeline runs the export, provision and import passes of a migration.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jacentio/ddbmigrate/flatten"
	"github.com/jacentio/ddbmigrate/internal/dedup"
	"github.com/jacentio/ddbmigrate/schema"
	"github.com/jacentio/ddbmigrate/snapshot"
	"github.com/jacentio/ddbmigrate/store"
	"github.com/jacentio/ddbmigrate/tree"
)

var (
	// ErrRequiredTable is returned when a table listed as required could not be provisioned.
	ErrRequiredTable = errors.New("ddbmigrate: required table failed")

	// ErrNoSource is returned by Export when the pipeline has no source store.
	ErrNoSource = errors.New("ddbmigrate: no source configured")
)

// Config holds configuration for a Pipeline.
type Config struct {
	// TableConcurrency bounds how many tables are provisioned or written at once.
	// Default: 4
	TableConcurrency int

	// DryRun plans provisioning and flattens snapshots without mutating the target.
	DryRun bool

	// Resume skips exporting top-level collections that already have a snapshot.
	Resume bool

	// Include filters top-level collections by name. Nil includes all.
	Include func(name string) bool

	// Required lists tables whose provisioning failure aborts the run.
	Required []string

	// RunID identifies the run in the summary. Default: a random UUID.
	RunID string
}

func (c *Config) validate() {
	if c.TableConcurrency < 1 {
		c.TableConcurrency = 4
	}
	if c.RunID == "" {
		c.RunID = uuid.NewString()
	}
}

// Deps are the collaborators of a Pipeline.
type Deps struct {
	// Source is read by Export. It may be nil when only Provision and Import run.
	Source tree.Source

	Snapshots snapshot.Store
	Client    store.Client

	// Written records the keys of records whose batch was written. A retry sharing the ledger
	// skips those records and writes the rest. Nil keeps no ledger.
	Written dedup.Ledger

	Export tree.ExportConfig
	Store  store.Config
}

// Observer is notified of exported collections, provisioned tables and written batches.
type Observer interface {
	store.Observer
	CollectionExported(collection string, documents, skipped int)
}

type nopObserver struct{}

func (nopObserver) CollectionExported(string, int, int)          {}
func (nopObserver) TableProvisioned(string, store.Outcome)       {}
func (nopObserver) BatchWritten(string, int, int, time.Duration) {}

// Pipeline migrates a source store into DynamoDB through snapshot files.
type Pipeline struct {
	deps     Deps
	config   Config
	logger   *slog.Logger
	observer Observer
}

// New creates a new Pipeline.
func New(deps Deps, config Config, logger *slog.Logger) *Pipeline {
	config.validate()
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{deps: deps, config: config, logger: logger, observer: nopObserver{}}
}

// SetObserver sets the observer of the run.
func (p *Pipeline) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	p.observer = o
}

// NewSummary starts the summary of a run of this pipeline.
func (p *Pipeline) NewSummary() *Summary {
	return NewSummary(p.config.RunID, p.config.DryRun)
}

func (p *Pipeline) include(name string) bool {
	return p.config.Include == nil || p.config.Include(name)
}

// Run exports (when a source is configured), provisions and imports. The summary is returned
// even when the run is aborted.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	sum := p.NewSummary()
	defer sum.Finish()

	log := p.logger.With("run", sum.RunID)
	log.Info("migration started", "dryRun", p.config.DryRun)

	if p.deps.Source != nil {
		if err := p.Export(ctx, sum); err != nil {
			return sum, err
		}
	}
	if err := p.Provision(ctx, sum); err != nil {
		return sum, err
	}
	if err := p.Import(ctx, sum); err != nil {
		return sum, err
	}

	written, failed := sum.Totals()
	log.Info("migration finished", "written", written, "failed", failed, "exitCode", sum.ExitCode())
	return sum, nil
}

// Export writes one snapshot per included top-level collection. A collection that fails to
// export is recorded on its root table and does not stop the others. A failing top-level
// listing, a failing snapshot write and cancellation abort the pass.
func (p *Pipeline) Export(ctx context.Context, sum *Summary) error {
	if p.deps.Source == nil {
		return ErrNoSource
	}

	existing := map[string]bool{}
	if p.config.Resume {
		names, err := p.deps.Snapshots.List(ctx)
		if err != nil {
			sum.abort(err)
			return fmt.Errorf("list snapshots: %w", err)
		}
		for _, n := range names {
			existing[n] = true
		}
	}

	include := func(name string) bool {
		if !p.include(name) {
			return false
		}
		if existing[name] {
			p.logger.Info("snapshot exists, skipping export", "collection", name)
			sum.update(name, func(r *TableReport) { r.Resumed = true })
			return false
		}
		return true
	}

	exporter := tree.NewExporter(p.deps.Source, p.deps.Export, p.logger)
	err := exporter.ExportAll(ctx, include, func(ctx context.Context, res tree.Result) error {
		name := res.Collection.ID
		for key, cs := range res.Stats.ByCollection {
			sum.update(exportedTable(key), func(r *TableReport) {
				r.Exported += cs.Documents
				r.Skipped += cs.Skipped
			})
		}
		p.observer.CollectionExported(name, res.Stats.Documents, res.Stats.Skipped)

		if res.Err != nil {
			sum.fail(name, res.Err)
			return nil
		}
		if err := p.deps.Snapshots.Write(ctx, res.Root); err != nil {
			return fmt.Errorf("write snapshot %s: %w", name, err)
		}
		p.logger.Info("collection exported",
			"collection", name,
			"documents", res.Stats.Documents,
			"skipped", res.Stats.Skipped,
		)
		return nil
	})
	if err != nil {
		sum.abort(err)
		return err
	}
	return nil
}

// exportedTable returns the table of an ExportStats.ByCollection key.
func exportedTable(key string) string {
	table := ""
	for _, id := range tree.SplitCollectionKey(key) {
		table = schema.TableName(table, id)
	}
	return table
}

// snapshotNames lists the included snapshots.
func (p *Pipeline) snapshotNames(ctx context.Context) ([]string, error) {
	names, err := p.deps.Snapshots.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return slices.DeleteFunc(names, func(n string) bool { return !p.include(n) }), nil
}

// Discover walks every included snapshot and registers the tables it implies. Unreadable
// snapshots are recorded on their root table and skipped.
func (p *Pipeline) Discover(ctx context.Context, sum *Summary) (*schema.Registry, error) {
	names, err := p.snapshotNames(ctx)
	if err != nil {
		return nil, err
	}
	reg := schema.NewRegistry()
	for _, name := range names {
		root, err := p.deps.Snapshots.Read(ctx, name)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			sum.fail(name, fmt.Errorf("read snapshot: %w", err))
			continue
		}
		reg.AddTree(root)
	}
	return reg, nil
}

// Provision ensures every table discovered in the snapshots exists with its expected key
// schema, up to TableConcurrency tables at once and parents before children. Failures are
// recorded per table; a failure on a required table aborts the pass with ErrRequiredTable.
// In dry-run mode the outcome is planned without changing anything.
func (p *Pipeline) Provision(ctx context.Context, sum *Summary) error {
	reg, err := p.Discover(ctx, sum)
	if err != nil {
		sum.abort(err)
		return err
	}

	prov := store.NewProvisioner(p.deps.Client, p.deps.Store, p.logger)
	prov.SetObserver(p.observer)

	p.logger.Info("tables discovered", "tables", reg.Len())

	// Each level is done before the tables nested under it start.
	for level := reg.Roots(); len(level) > 0; level = nextLevel(reg, level) {
		p.logger.Debug("provisioning tables", "depth", level[0].Depth(), "tables", len(level))
		if err := p.provisionLevel(ctx, prov, level, sum); err != nil {
			sum.abort(err)
			return err
		}
	}
	return nil
}

// nextLevel returns the tables nested directly under the tables of level.
func nextLevel(reg *schema.Registry, level []schema.Table) []schema.Table {
	var next []schema.Table
	for _, t := range level {
		if reg.HasChildren(t.Name) {
			next = append(next, reg.ChildrenOf(t.Name)...)
		}
	}
	return next
}

func (p *Pipeline) provisionLevel(ctx context.Context, prov *store.Provisioner, tables []schema.Table, sum *Summary) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.TableConcurrency)
	for _, t := range tables {
		g.Go(func() error {
			var outcome store.Outcome
			var err error
			if p.config.DryRun {
				outcome, err = prov.Plan(gctx, t.Name)
			} else {
				outcome, err = prov.EnsureTable(gctx, t.Name)
			}
			if err != nil {
				p.logger.Error("table provisioning failed", "table", t.Name, "error", err)
				sum.fail(t.Name, err)
				sum.markUnprovisioned(t.Name)
				if slices.Contains(p.config.Required, t.Name) {
					return fmt.Errorf("%w: %s: %w", ErrRequiredTable, t.Name, err)
				}
				return nil
			}
			sum.update(t.Name, func(r *TableReport) { r.Outcome = outcome })
			return nil
		})
	}
	return g.Wait()
}

// Import flattens the included snapshots one at a time and writes their records. Within a
// snapshot the root table is written first, then the nested tables up to TableConcurrency at
// once. Cancellation is checked before each table; batches already dispatched complete.
// Records of tables that failed provisioning in this run are counted as failed without a write.
func (p *Pipeline) Import(ctx context.Context, sum *Summary) error {
	names, err := p.snapshotNames(ctx)
	if err != nil {
		sum.abort(err)
		return err
	}

	// Duplicates are dropped per attempt; what earlier attempts wrote is tracked in Written.
	flat := flatten.New(dedup.NewMemorySet(16), p.logger)
	writer := store.NewWriter(p.deps.Client, p.deps.Store, p.logger)
	writer.SetObserver(p.observer)

	defer func() {
		sum.mu.Lock()
		sum.Duplicates += flat.Duplicates()
		sum.mu.Unlock()
	}()

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			sum.abort(err)
			return err
		}

		root, err := p.deps.Snapshots.Read(ctx, name)
		if err != nil {
			sum.fail(name, fmt.Errorf("read snapshot: %w", err))
			continue
		}

		groups, err := flatten.Group(flat.Flatten(ctx, root))
		if err != nil {
			sum.fail(name, fmt.Errorf("flatten: %w", err))
			continue
		}

		if err := p.writeGroups(ctx, writer, groups, sum); err != nil {
			sum.abort(err)
			return err
		}
	}
	return nil
}

func (p *Pipeline) writeGroups(ctx context.Context, writer *store.Writer, groups []flatten.TableRecords, sum *Summary) error {
	if len(groups) == 0 {
		return nil
	}

	write := func(g flatten.TableRecords) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		sum.update(g.Table, func(r *TableReport) { r.Records += len(g.Records) })

		if sum.isUnprovisioned(g.Table) {
			p.logger.Warn("skipping writes to unprovisioned table", "table", g.Table, "records", len(g.Records))
			sum.update(g.Table, func(r *TableReport) { r.Failed += len(g.Records) })
			return nil
		}

		records := p.unwritten(ctx, g.Table, g.Records)
		if done := len(g.Records) - len(records); done > 0 {
			p.logger.Info("skipping records written by an earlier attempt", "table", g.Table, "records", done)
			sum.update(g.Table, func(r *TableReport) { r.AlreadyWritten += done })
		}
		if len(records) == 0 {
			return nil
		}
		if p.config.DryRun {
			p.logger.Info("dry run, not writing", "table", g.Table, "records", len(records))
			return nil
		}

		res, err := writer.WriteAll(ctx, g.Table, flatten.Items(records))
		sum.update(g.Table, func(r *TableReport) {
			r.Written += res.Written
			r.Failed += res.Failed
		})
		if err != nil {
			sum.fail(g.Table, err)
		}
		p.markWritten(ctx, g.Table, records, err)
		return nil
	}

	if err := write(groups[0]); err != nil {
		return err
	}

	var g errgroup.Group
	g.SetLimit(p.config.TableConcurrency)
	for _, group := range groups[1:] {
		g.Go(func() error { return write(group) })
	}
	return g.Wait()
}

// unwritten drops the records the Written ledger already holds. A failing lookup keeps the
// record, since rewriting it is harmless.
func (p *Pipeline) unwritten(ctx context.Context, table string, records []flatten.Record) []flatten.Record {
	if p.deps.Written == nil {
		return records
	}
	out := make([]flatten.Record, 0, len(records))
	for _, rec := range records {
		done, err := p.deps.Written.Has(ctx, table, rec.Key.Parts()...)
		if err != nil {
			p.logger.Warn("written-key lookup failed", "table", table, "error", err)
		}
		if !done {
			out = append(out, rec)
		}
	}
	return out
}

// markWritten adds the records outside the failed batches of err to the Written ledger.
func (p *Pipeline) markWritten(ctx context.Context, table string, records []flatten.Record, err error) {
	if p.deps.Written == nil {
		return
	}
	var batchErrs *store.BatchErrors
	if err != nil && !errors.As(err, &batchErrs) {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for i, rec := range records {
		if batchErrs != nil && batchErrs.Failed(i) {
			continue
		}
		if _, err := p.deps.Written.Add(ctx, table, rec.Key.Parts()...); err != nil {
			p.logger.Warn("failed to record written key", "table", table, "error", err)
			return
		}
	}
}
