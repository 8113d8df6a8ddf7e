// Package mongo reads a Firestore-compatible document layout stored in MongoDB as a
// tree.Source.
//
// Every document is one MongoDB document in a single collection:
//
//	{
//	  "path":         "projects/p/databases/d/documents/orders/A",
//	  "parentPath":   "projects/p/databases/d/documents/orders",
//	  "collectionID": "orders",
//	  "documentID":   "A",
//	  "fields":       {...}
//	}
//
// Field values may be plain BSON or Firestore REST typed values ({"stringValue": "x"}).
package mongo

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/jacentio/ddbmigrate/tree"
)

// DefaultCollection is the MongoDB collection holding the documents.
const DefaultCollection = "documents"

// Source lists and reads documents from a MongoDB collection.
type Source struct {
	coll *mongo.Collection
	root string
}

var _ tree.Source = (*Source)(nil)

// New reads from coll. root is the resource prefix preceding document paths, e.g.
// "projects/p/databases/(default)/documents"; empty when paths are stored relative.
func New(coll *mongo.Collection, root string) *Source {
	return &Source{coll: coll, root: strings.TrimSuffix(root, "/")}
}

// Connect opens a client on uri and returns a Source over database's DefaultCollection
// together with a function disconnecting the client.
func Connect(ctx context.Context, uri, database, root string) (*Source, func(context.Context) error, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("ping mongodb: %w", err)
	}
	return New(client.Database(database).Collection(DefaultCollection), root), client.Disconnect, nil
}

type storedDocument struct {
	Path         string `bson:"path"`
	ParentPath   string `bson:"parentPath"`
	CollectionID string `bson:"collectionID"`
	DocumentID   string `bson:"documentID"`
	Fields       bson.M `bson:"fields"`
}

// full maps a store-relative path to its stored form.
func (s *Source) full(rel string) string {
	if s.root == "" {
		return rel
	}
	return s.root + "/" + rel
}

// relative is the inverse of full.
func (s *Source) relative(stored string) string {
	if s.root == "" {
		return stored
	}
	return strings.TrimPrefix(stored, s.root+"/")
}

// childPattern matches the parentPath of collections directly below prefix.
func childPattern(prefix string) bson.M {
	if prefix == "" {
		return bson.M{"$regex": "^[^/]+$"}
	}
	return bson.M{"$regex": "^" + regexp.QuoteMeta(prefix) + "/[^/]+$"}
}

func (s *Source) distinctCollections(ctx context.Context, prefix string) ([]string, error) {
	raw, err := s.coll.Distinct(ctx, "parentPath", bson.M{"parentPath": childPattern(prefix)})
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(raw))
	for _, r := range raw {
		if p, ok := r.(string); ok {
			names = append(names, path.Base(p))
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *Source) ListTopLevelCollections(ctx context.Context) ([]tree.CollectionRef, error) {
	names, err := s.distinctCollections(ctx, s.root)
	if err != nil {
		return nil, err
	}
	refs := make([]tree.CollectionRef, len(names))
	for i, name := range names {
		refs[i] = tree.CollectionRef{ID: name, Path: name}
	}
	return refs, nil
}

func (s *Source) ListDocuments(ctx context.Context, coll tree.CollectionRef) ([]tree.DocumentRef, error) {
	opts := options.Find().
		SetProjection(bson.M{"documentID": 1, "path": 1}).
		SetSort(bson.D{{Key: "documentID", Value: 1}})

	cur, err := s.coll.Find(ctx, bson.M{"parentPath": s.full(coll.Path)}, opts)
	if err != nil {
		return nil, err
	}
	var docs []storedDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	refs := make([]tree.DocumentRef, 0, len(docs))
	for _, d := range docs {
		id := d.DocumentID
		if id == "" {
			id = path.Base(d.Path)
		}
		refs = append(refs, tree.ChildDocument(coll, id))
	}
	return refs, nil
}

func (s *Source) GetFields(ctx context.Context, doc tree.DocumentRef) (map[string]any, error) {
	var d storedDocument
	err := s.coll.FindOne(ctx, bson.M{"path": s.full(doc.Path)},
		options.FindOne().SetProjection(bson.M{"fields": 1})).Decode(&d)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(d.Fields))
	for k, v := range d.Fields {
		out[k] = Normalize(v)
	}
	return out, nil
}

func (s *Source) ListChildCollections(ctx context.Context, doc tree.DocumentRef) ([]tree.CollectionRef, error) {
	names, err := s.distinctCollections(ctx, s.full(doc.Path))
	if err != nil {
		return nil, err
	}
	refs := make([]tree.CollectionRef, len(names))
	for i, name := range names {
		refs[i] = tree.ChildCollection(doc, name)
	}
	return refs, nil
}
