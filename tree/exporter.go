package tree

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/jacentio/ddbmigrate/value"
)

// ExportConfig holds configuration for the Exporter.
type ExportConfig struct {
	// Concurrency bounds how many child collections are exported in the background at once,
	// across the whole tree of one top-level collection. When no slot is free a child
	// collection is exported by the goroutine that found it.
	// Default: 4
	Concurrency int

	// AbortOnEncodingError makes an unencodable document fail its collection instead of
	// being logged and skipped.
	AbortOnEncodingError bool
}

func (c *ExportConfig) validate() {
	if c.Concurrency < 1 {
		c.Concurrency = 4
	}
}

// ExportStats counts what one export produced.
type ExportStats struct {
	Documents int
	Skipped   int

	// ByCollection breaks the counts down per collection, with an entry for every collection
	// listed, empty or not. Keys are the IDs of the collection and its ancestor collections
	// joined with "/", e.g. "orders/items".
	ByCollection map[string]CollectionStats
}

// CollectionStats counts the documents of one collection across all of its parents.
type CollectionStats struct {
	Documents int
	Skipped   int
}

// exportWalk is the state shared by every goroutine exporting one top-level collection.
type exportWalk struct {
	sem *semaphore.Weighted

	mu    sync.Mutex
	stats ExportStats
}

func newExportWalk(concurrency int) *exportWalk {
	return &exportWalk{
		sem:   semaphore.NewWeighted(int64(concurrency)),
		stats: ExportStats{ByCollection: make(map[string]CollectionStats)},
	}
}

func (w *exportWalk) count(collection string, documents, skipped int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.Documents += documents
	w.stats.Skipped += skipped
	c := w.stats.ByCollection[collection]
	c.Documents += documents
	c.Skipped += skipped
	w.stats.ByCollection[collection] = c
}

func (w *exportWalk) result() ExportStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// Exporter walks a Source and builds document trees.
type Exporter struct {
	source Source
	config ExportConfig
	logger *slog.Logger
}

// NewExporter creates a new Exporter.
func NewExporter(source Source, config ExportConfig, logger *slog.Logger) *Exporter {
	config.validate()
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{source: source, config: config, logger: logger}
}

// ExportCollection exports coll and every collection below it, depth-first with no depth limit.
// ancestorPath is the path of the document owning coll, empty for a root collection.
//
// A document whose fields cannot be encoded is logged and skipped together with its
// subtree. Listing and fetch failures abort the export and are returned as *SourceReadError.
func (e *Exporter) ExportCollection(ctx context.Context, coll CollectionRef, ancestorPath string) (*CollectionNode, ExportStats, error) {
	walk := newExportWalk(e.config.Concurrency)
	node, err := e.exportCollection(ctx, coll, ancestorPath, coll.ID, walk)
	return node, walk.result(), err
}

// exportCollection exports coll. chain is the "/"-joined IDs of coll and its ancestor
// collections.
func (e *Exporter) exportCollection(ctx context.Context, coll CollectionRef, parentPath, chain string, walk *exportWalk) (*CollectionNode, error) {
	docs, err := e.source.ListDocuments(ctx, coll)
	if err != nil {
		return nil, &SourceReadError{Op: "list documents", Path: coll.Path, Err: err}
	}
	walk.count(chain, 0, 0)

	node := &CollectionNode{
		Name:       coll.ID,
		ParentPath: parentPath,
		Documents:  make([]*DocumentNode, 0, len(docs)),
	}

	for _, ref := range docs {
		doc, err := e.exportDocument(ctx, ref, chain, walk)
		if err != nil {
			return nil, err
		}
		if doc != nil {
			node.Documents = append(node.Documents, doc)
		}
	}

	return node, nil
}

// exportDocument returns a nil node when the document was skipped.
func (e *Exporter) exportDocument(ctx context.Context, ref DocumentRef, chain string, walk *exportWalk) (*DocumentNode, error) {
	fields, err := e.source.GetFields(ctx, ref)
	if err != nil {
		return nil, &SourceReadError{Op: "get document", Path: ref.Path, Err: err}
	}

	data, err := value.EncodeFields(fields)
	if err != nil {
		var encErr *value.EncodingError
		if errors.As(err, &encErr) {
			encErr.Path = ref.Path
		}
		if e.config.AbortOnEncodingError {
			return nil, err
		}
		e.logger.Warn("skipping document with unencodable field",
			"path", ref.Path,
			"error", err,
		)
		walk.count(chain, 0, 1)
		return nil, nil
	}

	children, err := e.source.ListChildCollections(ctx, ref)
	if err != nil {
		return nil, &SourceReadError{Op: "list collections", Path: ref.Path, Err: err}
	}

	doc := &DocumentNode{
		ID:       ref.ID,
		Path:     ref.Path,
		Data:     data,
		Children: make(map[string]*CollectionNode, len(children)),
	}
	walk.count(chain, 1, 0)

	if len(children) == 0 {
		return doc, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, child := range children {
		export := func() error {
			sub, err := e.exportCollection(gctx, child, ref.Path, chain+"/"+child.ID, walk)
			if err != nil {
				return err
			}
			mu.Lock()
			doc.Children[child.ID] = sub
			mu.Unlock()
			return nil
		}

		if walk.sem.TryAcquire(1) {
			g.Go(func() error {
				defer walk.sem.Release(1)
				return export()
			})
			continue
		}
		if err := export(); err != nil {
			cancel()
			g.Wait()
			return nil, err
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return doc, nil
}

// SplitCollectionKey returns the collection IDs of an ExportStats.ByCollection key, root first.
func SplitCollectionKey(key string) []string {
	return strings.Split(key, "/")
}

// Result is the outcome of exporting one top-level collection.
type Result struct {
	Collection CollectionRef
	Root       *CollectionNode
	Stats      ExportStats
	Err        error
}

// ExportAll exports every top-level collection accepted by include, one at a time. Each
// result is handed to sink before the next collection starts, so a crash never loses a
// collection that sink already persisted. A collection that fails to export is passed to sink
// with Err set and does not stop the others.
//
// ExportAll returns early when the top-level listing fails, when sink returns an error, or
// when ctx is cancelled between collections.
func (e *Exporter) ExportAll(ctx context.Context, include func(name string) bool, sink func(context.Context, Result) error) error {
	colls, err := e.source.ListTopLevelCollections(ctx)
	if err != nil {
		return &SourceReadError{Op: "list collections", Err: err}
	}

	for _, coll := range colls {
		if err := ctx.Err(); err != nil {
			return err
		}
		if include != nil && !include(coll.ID) {
			e.logger.Debug("collection filtered out", "collection", coll.ID)
			continue
		}

		e.logger.Info("exporting collection", "collection", coll.ID)
		root, stats, err := e.ExportCollection(ctx, coll, "")
		if err != nil {
			e.logger.Error("collection export failed",
				"collection", coll.ID,
				"error", err,
			)
		}

		if err := sink(ctx, Result{Collection: coll, Root: root, Stats: stats, Err: err}); err != nil {
			return err
		}
	}

	return nil
}
