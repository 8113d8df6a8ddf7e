package tree_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/ddbmigrate/source/memory"
	"github.com/jacentio/ddbmigrate/tree"
	"github.com/jacentio/ddbmigrate/value"
)

func ordersSource() *memory.Source {
	return memory.New(
		memory.Collection{ID: "orders", Documents: []memory.Document{
			{
				ID:     "A",
				Fields: map[string]any{"total": 10, "status": "open"},
				Collections: []memory.Collection{
					{ID: "items", Documents: []memory.Document{
						{ID: "x1", Fields: map[string]any{"sku": "s1", "qty": 2}, Collections: []memory.Collection{
							{ID: "notes", Documents: []memory.Document{
								{ID: "n1", Fields: map[string]any{"text": "fragile"}},
							}},
						}},
						{ID: "x2", Fields: map[string]any{"sku": "s2", "qty": 1}},
					}},
					{ID: "events", Documents: []memory.Document{
						{ID: "e1", Fields: map[string]any{"kind": "created"}},
					}},
				},
			},
			{ID: "B", Fields: map[string]any{"total": 3}},
		}},
		memory.Collection{ID: "users", Documents: []memory.Document{
			{ID: "u1", Fields: map[string]any{"name": "Ada"}},
		}},
	)
}

func TestExportCollection_BuildsFullTree(t *testing.T) {
	exp := tree.NewExporter(ordersSource(), tree.ExportConfig{}, nil)

	root, stats, err := exp.ExportCollection(context.Background(), tree.CollectionRef{ID: "orders", Path: "orders"}, "")
	require.NoError(t, err)

	assert.Equal(t, 6, stats.Documents)
	assert.Equal(t, 0, stats.Skipped)
	assert.Equal(t, 6, root.Count())
	assert.Equal(t, map[string]tree.CollectionStats{
		"orders":             {Documents: 2},
		"orders/items":       {Documents: 2},
		"orders/items/notes": {Documents: 1},
		"orders/events":      {Documents: 1},
	}, stats.ByCollection)

	assert.Equal(t, "orders", root.Name)
	assert.Empty(t, root.ParentPath)
	require.Len(t, root.Documents, 2)

	a := root.Documents[0]
	assert.Equal(t, "A", a.ID)
	assert.Equal(t, "orders/A", a.Path)
	assert.True(t, value.Equal(value.String("open"), a.Data["status"]))
	assert.True(t, value.Equal(value.Number("10"), a.Data["total"]))
	assert.Equal(t, []string{"events", "items"}, a.ChildNames())

	items := a.Children["items"]
	assert.Equal(t, "orders/A", items.ParentPath)
	require.Len(t, items.Documents, 2)
	assert.Equal(t, "x1", items.Documents[0].ID)
	assert.Equal(t, "x2", items.Documents[1].ID)

	notes := items.Documents[0].Children["notes"]
	require.NotNil(t, notes)
	assert.Equal(t, "orders/A/items/x1", notes.ParentPath)
	assert.Equal(t, "orders/A/items/x1/notes/n1", notes.Documents[0].Path)

	assert.Empty(t, root.Documents[1].Children)
}

func TestCollectionNode_WalkOrder(t *testing.T) {
	exp := tree.NewExporter(ordersSource(), tree.ExportConfig{Concurrency: 1}, nil)
	root, _, err := exp.ExportCollection(context.Background(), tree.CollectionRef{ID: "orders", Path: "orders"}, "")
	require.NoError(t, err)

	var visited []string
	var depths []int
	root.Walk(func(_ *tree.CollectionNode, doc *tree.DocumentNode, depth int) bool {
		visited = append(visited, doc.Path)
		depths = append(depths, depth)
		return true
	})

	assert.Equal(t, []string{
		"orders/A",
		"orders/A/events/e1",
		"orders/A/items/x1",
		"orders/A/items/x1/notes/n1",
		"orders/A/items/x2",
		"orders/B",
	}, visited)
	assert.Equal(t, []int{0, 1, 1, 2, 1, 0}, depths)
}

func TestCollectionNode_WalkStops(t *testing.T) {
	exp := tree.NewExporter(ordersSource(), tree.ExportConfig{}, nil)
	root, _, err := exp.ExportCollection(context.Background(), tree.CollectionRef{ID: "orders", Path: "orders"}, "")
	require.NoError(t, err)

	n := 0
	root.Walk(func(*tree.CollectionNode, *tree.DocumentNode, int) bool {
		n++
		return n < 2
	})
	assert.Equal(t, 2, n)
}

func TestExportCollection_SkipsUnencodableDocument(t *testing.T) {
	src := memory.New(memory.Collection{ID: "orders", Documents: []memory.Document{
		{ID: "A", Fields: map[string]any{"total": 1}},
		{
			ID:     "bad",
			Fields: map[string]any{"callback": func() {}},
			Collections: []memory.Collection{
				{ID: "items", Documents: []memory.Document{{ID: "i1", Fields: map[string]any{"qty": 1}}}},
			},
		},
		{ID: "C", Fields: map[string]any{"total": 3}},
	}})
	exp := tree.NewExporter(src, tree.ExportConfig{}, nil)

	root, stats, err := exp.ExportCollection(context.Background(), tree.CollectionRef{ID: "orders", Path: "orders"}, "")
	require.NoError(t, err)

	require.Len(t, root.Documents, 2)
	assert.Equal(t, "A", root.Documents[0].ID)
	assert.Equal(t, "C", root.Documents[1].ID)
	assert.Equal(t, 2, stats.Documents)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, map[string]tree.CollectionStats{"orders": {Documents: 2, Skipped: 1}}, stats.ByCollection)

	// The skipped document's subtree is never read.
	assert.Equal(t, 0, src.Calls("ListChildCollections", "orders/bad"))
	assert.Equal(t, 0, src.Calls("ListDocuments", "orders/bad/items"))
}

func TestExportCollection_AbortOnEncodingError(t *testing.T) {
	src := memory.New(memory.Collection{ID: "orders", Documents: []memory.Document{
		{ID: "bad", Fields: map[string]any{"meta": map[string]any{"c": complex(1, 2)}}},
	}})
	exp := tree.NewExporter(src, tree.ExportConfig{AbortOnEncodingError: true}, nil)

	_, _, err := exp.ExportCollection(context.Background(), tree.CollectionRef{ID: "orders", Path: "orders"}, "")
	require.Error(t, err)

	var encErr *value.EncodingError
	require.ErrorAs(t, err, &encErr)
	assert.Equal(t, "orders/bad", encErr.Path)
	assert.Equal(t, "meta.c", encErr.Field)
}

func TestExportCollection_SourceFailures(t *testing.T) {
	boom := errors.New("unavailable")

	tests := []struct {
		name   string
		op     string
		path   string
		wantOp string
	}{
		{"list documents", "ListDocuments", "orders", "list documents"},
		{"get document", "GetFields", "orders/A", "get document"},
		{"list child collections", "ListChildCollections", "orders/A", "list collections"},
		{"nested list documents", "ListDocuments", "orders/A/items", "list documents"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := ordersSource()
			src.FailOn(tt.op, tt.path, boom)
			exp := tree.NewExporter(src, tree.ExportConfig{}, nil)

			root, _, err := exp.ExportCollection(context.Background(), tree.CollectionRef{ID: "orders", Path: "orders"}, "")
			assert.Nil(t, root)
			require.ErrorIs(t, err, boom)

			var readErr *tree.SourceReadError
			require.ErrorAs(t, err, &readErr)
			assert.Equal(t, tt.wantOp, readErr.Op)
			assert.Equal(t, tt.path, readErr.Path)
		})
	}
}

func TestExportAll_FiltersAndReportsEachCollection(t *testing.T) {
	src := ordersSource()
	src.FailOn("ListDocuments", "users", errors.New("denied"))
	exp := tree.NewExporter(src, tree.ExportConfig{}, nil)

	var got []tree.Result
	err := exp.ExportAll(context.Background(), nil, func(_ context.Context, r tree.Result) error {
		got = append(got, r)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, "orders", got[0].Collection.ID)
	assert.NoError(t, got[0].Err)
	assert.Equal(t, 6, got[0].Stats.Documents)

	assert.Equal(t, "users", got[1].Collection.ID)
	assert.Nil(t, got[1].Root)
	var readErr *tree.SourceReadError
	assert.ErrorAs(t, got[1].Err, &readErr)
}

func TestExportAll_Include(t *testing.T) {
	exp := tree.NewExporter(ordersSource(), tree.ExportConfig{}, nil)

	var names []string
	err := exp.ExportAll(context.Background(), func(name string) bool { return name == "users" }, func(_ context.Context, r tree.Result) error {
		names = append(names, r.Collection.ID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"users"}, names)
}

func TestExportAll_SinkErrorStopsRun(t *testing.T) {
	exp := tree.NewExporter(ordersSource(), tree.ExportConfig{}, nil)
	diskFull := errors.New("disk full")

	calls := 0
	err := exp.ExportAll(context.Background(), nil, func(context.Context, tree.Result) error {
		calls++
		return diskFull
	})
	assert.ErrorIs(t, err, diskFull)
	assert.Equal(t, 1, calls)
}

func TestExportAll_TopLevelListingFails(t *testing.T) {
	src := ordersSource()
	src.FailOn("ListTopLevelCollections", "", errors.New("permission denied"))
	exp := tree.NewExporter(src, tree.ExportConfig{}, nil)

	err := exp.ExportAll(context.Background(), nil, func(context.Context, tree.Result) error {
		t.Fatal("sink must not be called")
		return nil
	})

	var readErr *tree.SourceReadError
	require.ErrorAs(t, err, &readErr)
	assert.Equal(t, "list collections", readErr.Op)
}

func TestExportAll_CancelledBetweenCollections(t *testing.T) {
	exp := tree.NewExporter(ordersSource(), tree.ExportConfig{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var names []string
	err := exp.ExportAll(ctx, nil, func(_ context.Context, r tree.Result) error {
		names = append(names, r.Collection.ID)
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"orders"}, names)
}

// deepSource builds a collection whose documents each hold fanout child collections, depth
// levels deep.
func deepSource(depth, fanout int) *memory.Source {
	var build func(level int, id string) memory.Collection
	build = func(level int, id string) memory.Collection {
		coll := memory.Collection{ID: id}
		for d := range 2 {
			doc := memory.Document{ID: fmt.Sprintf("d%d", d), Fields: map[string]any{"level": level}}
			if level < depth {
				for c := range fanout {
					doc.Collections = append(doc.Collections, build(level+1, fmt.Sprintf("c%d", c)))
				}
			}
			coll.Documents = append(coll.Documents, doc)
		}
		return coll
	}
	return memory.New(build(0, "root"))
}

// gaugedSource tracks how many ListDocuments calls are in flight at once.
type gaugedSource struct {
	*memory.Source

	mu       sync.Mutex
	inFlight int
	peak     int
}

func (s *gaugedSource) ListDocuments(ctx context.Context, coll tree.CollectionRef) ([]tree.DocumentRef, error) {
	s.mu.Lock()
	s.inFlight++
	s.peak = max(s.peak, s.inFlight)
	s.mu.Unlock()

	time.Sleep(time.Millisecond)
	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()
	return s.Source.ListDocuments(ctx, coll)
}

func TestExportCollection_ConcurrencyBoundsWholeTree(t *testing.T) {
	src := &gaugedSource{Source: deepSource(3, 3)}
	exp := tree.NewExporter(src, tree.ExportConfig{Concurrency: 2}, nil)

	root, stats, err := exp.ExportCollection(context.Background(), tree.CollectionRef{ID: "root", Path: "root"}, "")
	require.NoError(t, err)

	// Each document holds 3 collections of 2 documents: 2+12+72+432.
	assert.Equal(t, 518, stats.Documents)
	assert.Equal(t, 518, root.Count())
	assert.Equal(t, tree.CollectionStats{Documents: 2}, stats.ByCollection["root"])
	// root/c0/c1/c2 exists under 8 parent documents.
	assert.Equal(t, tree.CollectionStats{Documents: 16}, stats.ByCollection["root/c0/c1/c2"])

	// Background exports hold one of the two slots; the calling goroutine works inline.
	assert.LessOrEqual(t, src.peak, 3)
}

func TestExportCollection_SingleSlotCompletesDeepTree(t *testing.T) {
	exp := tree.NewExporter(deepSource(6, 2), tree.ExportConfig{Concurrency: 1}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	root, stats, err := exp.ExportCollection(ctx, tree.CollectionRef{ID: "root", Path: "root"}, "")
	require.NoError(t, err)

	// Level n holds 2*4^n documents.
	want := 0
	for n, docs := 0, 2; n <= 6; n, docs = n+1, docs*4 {
		want += docs
	}
	assert.Equal(t, want, stats.Documents)
	assert.Equal(t, want, root.Count())
}

func TestSplitCollectionKey(t *testing.T) {
	assert.Equal(t, []string{"orders"}, tree.SplitCollectionKey("orders"))
	assert.Equal(t, []string{"orders", "items", "notes"}, tree.SplitCollectionKey("orders/items/notes"))
}
