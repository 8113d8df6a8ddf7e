// Package flatten turns exported collection trees into flat, keyed table records.
package flatten

import (
	"context"
	"iter"
	"log/slog"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/ddbmigrate/internal/dedup"
	"github.com/jacentio/ddbmigrate/schema"
	"github.com/jacentio/ddbmigrate/tree"
	"github.com/jacentio/ddbmigrate/value"
)

// ChainSeparator joins ancestor document IDs in a parentId.
const ChainSeparator = "#"

// Key identifies a record within its table.
type Key struct {
	ID string

	// ParentID is the ancestor chain of a nested record (e.g., "A#x1").
	ParentID string

	// Nested is true for records of nested tables, which carry a ParentID.
	Nested bool
}

// Parts returns the key attributes that identify the record in its table: the ID, preceded by
// the ParentID for nested records.
func (k Key) Parts() []string {
	if k.Nested {
		return []string{k.ParentID, k.ID}
	}
	return []string{k.ID}
}

// Record is one document flattened into a row of its table.
type Record struct {
	Table  string
	Key    Key
	Fields map[string]value.Value
}

// Item returns the DynamoDB item for r: its fields plus the key attributes.
func (r Record) Item() map[string]types.AttributeValue {
	item := value.AttributeMap(r.Fields)
	item[schema.AttrID] = &types.AttributeValueMemberS{Value: r.Key.ID}
	if r.Key.Nested {
		item[schema.AttrParentID] = &types.AttributeValueMemberS{Value: r.Key.ParentID}
	}
	return item
}

// Flattener converts trees to records, dropping keys it has already emitted.
type Flattener struct {
	keys       dedup.KeySet
	logger     *slog.Logger
	emitted    atomic.Int64
	duplicates atomic.Int64
}

// New creates a Flattener. A nil keys uses a fresh in-memory set.
func New(keys dedup.KeySet, logger *slog.Logger) *Flattener {
	if keys == nil {
		keys = dedup.NewMemorySet(16)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Flattener{keys: keys, logger: logger}
}

// Emitted returns how many records the Flattener has yielded.
func (f *Flattener) Emitted() int { return int(f.emitted.Load()) }

// Duplicates returns how many documents were dropped because their key was already emitted.
func (f *Flattener) Duplicates() int { return int(f.duplicates.Load()) }

// Flatten lazily yields one record per document of root and every collection nested below
// it, in pre-order with child collections in name order. Documents of root go to the table
// named after root and are keyed by ID alone. A document in a nested collection goes to
// <parentTable>__<collection>, keyed by its ID and the "#"-joined IDs of its ancestor documents.
//
// A document whose key the Flattener's key set has already seen is dropped along with the
// collections below it, so the first occurrence wins. Data fields named id or parentId are
// replaced by the key attributes. The sequence stops after yielding an error from the key set.
func (f *Flattener) Flatten(ctx context.Context, root *tree.CollectionNode) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		f.walk(ctx, root, schema.TableName("", root.Name), "", false, yield)
	}
}

// walk returns false once the consumer stopped or an error was yielded.
func (f *Flattener) walk(ctx context.Context, coll *tree.CollectionNode, table, chain string, nested bool, yield func(Record, error) bool) bool {
	for _, doc := range coll.Documents {
		key := Key{ID: doc.ID, ParentID: chain, Nested: nested}

		added, err := f.keys.Add(ctx, table, key.Parts()...)
		if err != nil {
			yield(Record{}, err)
			return false
		}
		if !added {
			// A repeated document is dropped together with its subtree.
			f.duplicates.Add(1)
			f.logger.Debug("dropping duplicate document",
				"table", table,
				"id", doc.ID,
				"parentId", chain,
			)
			continue
		}

		f.emitted.Add(1)
		if !yield(Record{Table: table, Key: key, Fields: dataFields(doc.Data)}, nil) {
			return false
		}

		childChain := doc.ID
		if nested {
			childChain = chain + ChainSeparator + doc.ID
		}
		for _, name := range doc.ChildNames() {
			if !f.walk(ctx, doc.Children[name], schema.TableName(table, name), childChain, true, yield) {
				return false
			}
		}
	}
	return true
}

func dataFields(data map[string]value.Value) map[string]value.Value {
	out := make(map[string]value.Value, len(data))
	for k, v := range data {
		if k == schema.AttrID || k == schema.AttrParentID {
			continue
		}
		out[k] = v
	}
	return out
}

// TableRecords holds the records of one table.
type TableRecords struct {
	Table   string
	Records []Record
}

// Group collects seq into per-table record lists, ordered by each table's first record. Record
// order within a table is preserved. It stops at the first error.
func Group(seq iter.Seq2[Record, error]) ([]TableRecords, error) {
	var out []TableRecords
	index := make(map[string]int)
	for rec, err := range seq {
		if err != nil {
			return out, err
		}
		i, ok := index[rec.Table]
		if !ok {
			i = len(out)
			index[rec.Table] = i
			out = append(out, TableRecords{Table: rec.Table})
		}
		out[i].Records = append(out[i].Records, rec)
	}
	return out, nil
}

// Items returns the DynamoDB items of records, in order.
func Items(records []Record) []map[string]types.AttributeValue {
	items := make([]map[string]types.AttributeValue, len(records))
	for i, r := range records {
		items[i] = r.Item()
	}
	return items
}
