// Package firestore reads a Cloud Firestore database as a tree.Source.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/genproto/googleapis/type/latlng"

	"github.com/jacentio/ddbmigrate/tree"
	"github.com/jacentio/ddbmigrate/value"
)

// Source lists and reads documents through a Firestore client.
type Source struct {
	client *firestore.Client
}

var _ tree.Source = (*Source)(nil)

// New wraps an existing client.
func New(client *firestore.Client) *Source {
	return &Source{client: client}
}

// Open connects to projectID. An empty projectID is detected from the credentials; an empty
// credentialsFile uses the application default credentials.
func Open(ctx context.Context, projectID, credentialsFile string) (*Source, error) {
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}
	return New(client), nil
}

// Close closes the underlying client.
func (s *Source) Close() error {
	return s.client.Close()
}

func (s *Source) ListTopLevelCollections(ctx context.Context) ([]tree.CollectionRef, error) {
	return collectCollections(s.client.Collections(ctx))
}

// ListDocuments returns the existing documents of coll. Documents that only hold child
// collections are not listed.
func (s *Source) ListDocuments(ctx context.Context, coll tree.CollectionRef) ([]tree.DocumentRef, error) {
	it := s.client.Collection(coll.Path).Select().Documents(ctx)
	defer it.Stop()

	var refs []tree.DocumentRef
	for {
		snap, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		refs = append(refs, tree.ChildDocument(coll, snap.Ref.ID))
	}
	return refs, nil
}

func (s *Source) GetFields(ctx context.Context, doc tree.DocumentRef) (map[string]any, error) {
	snap, err := s.client.Doc(doc.Path).Get(ctx)
	if err != nil {
		return nil, err
	}
	data := snap.Data()
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = Normalize(v)
	}
	return out, nil
}

func (s *Source) ListChildCollections(ctx context.Context, doc tree.DocumentRef) ([]tree.CollectionRef, error) {
	refs, err := collectCollections(s.client.Doc(doc.Path).Collections(ctx))
	if err != nil {
		return nil, err
	}
	for i := range refs {
		refs[i] = tree.ChildCollection(doc, refs[i].ID)
	}
	return refs, nil
}

func collectCollections(it *firestore.CollectionIterator) ([]tree.CollectionRef, error) {
	var refs []tree.CollectionRef
	for {
		coll, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		refs = append(refs, tree.CollectionRef{ID: coll.ID, Path: coll.ID})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].ID < refs[j].ID })
	return refs, nil
}

// Normalize converts Firestore-specific field values into types value.Encode accepts.
// Geo points become value.GeoPoint and document references become value.Ref holding the
// database-relative path. Nested maps and arrays are converted recursively.
func Normalize(v any) any {
	switch x := v.(type) {
	case *latlng.LatLng:
		if x == nil {
			return nil
		}
		return value.GeoPoint{Latitude: x.GetLatitude(), Longitude: x.GetLongitude()}
	case *firestore.DocumentRef:
		if x == nil {
			return nil
		}
		return value.Ref(RelativePath(x.Path))
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = Normalize(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = Normalize(item)
		}
		return out
	}
	return v
}

// RelativePath strips the "projects/<p>/databases/<d>/documents/" prefix from a resource name.
func RelativePath(name string) string {
	const marker = "/documents/"
	if i := strings.Index(name, marker); i >= 0 {
		return name[i+len(marker):]
	}
	return name
}
