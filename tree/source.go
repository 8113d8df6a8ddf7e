package tree

import (
	"context"
	"path"
)

// CollectionRef identifies a collection in the source store.
type CollectionRef struct {
	// ID is the collection name.
	ID string

	// Path is the store-relative path ("users" or "users/abc/orders").
	Path string
}

// DocumentRef identifies a document in the source store.
type DocumentRef struct {
	ID   string
	Path string
}

// Source is the read side of a hierarchical document store.
//
// Implementations return source-native field values; the exporter runs them through
// value.Encode. Values the value package cannot represent directly (geo points, references,
// store-specific scalar types) should be normalised to value.GeoPoint, value.Ref, time.Time
// and plain Go types by the implementation.
type Source interface {
	ListTopLevelCollections(ctx context.Context) ([]CollectionRef, error)
	ListDocuments(ctx context.Context, coll CollectionRef) ([]DocumentRef, error)
	GetFields(ctx context.Context, doc DocumentRef) (map[string]any, error)
	ListChildCollections(ctx context.Context, doc DocumentRef) ([]CollectionRef, error)
}

// ChildCollection returns the reference of collection id under doc.
func ChildCollection(doc DocumentRef, id string) CollectionRef {
	return CollectionRef{ID: id, Path: path.Join(doc.Path, id)}
}

// ChildDocument returns the reference of document id in coll.
func ChildDocument(coll CollectionRef, id string) DocumentRef {
	return DocumentRef{ID: id, Path: path.Join(coll.Path, id)}
}
