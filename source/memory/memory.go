// Package memory provides an in-memory tree.Source, used by tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/jacentio/ddbmigrate/tree"
)

// Collection describes a collection and its documents in insertion order.
type Collection struct {
	ID        string
	Documents []Document
}

// Document describes a document with its fields and child collections.
type Document struct {
	ID          string
	Fields      map[string]any
	Collections []Collection
}

// Source serves a fixed document tree.
type Source struct {
	roots    []tree.CollectionRef
	docs     map[string][]tree.DocumentRef   // collection path -> documents
	fields   map[string]map[string]any       // document path -> fields
	children map[string][]tree.CollectionRef // document path -> child collections

	mu       sync.Mutex
	failures map[string]error
	calls    map[string]int
}

// New builds a Source from root collections.
func New(roots ...Collection) *Source {
	s := &Source{
		docs:     make(map[string][]tree.DocumentRef),
		fields:   make(map[string]map[string]any),
		children: make(map[string][]tree.CollectionRef),
		failures: make(map[string]error),
		calls:    make(map[string]int),
	}
	for _, c := range roots {
		ref := tree.CollectionRef{ID: c.ID, Path: c.ID}
		s.roots = append(s.roots, ref)
		s.add(ref, c)
	}
	return s
}

func (s *Source) add(ref tree.CollectionRef, c Collection) {
	for _, d := range c.Documents {
		docRef := tree.ChildDocument(ref, d.ID)
		s.docs[ref.Path] = append(s.docs[ref.Path], docRef)
		s.fields[docRef.Path] = d.Fields
		for _, sub := range d.Collections {
			subRef := tree.ChildCollection(docRef, sub.ID)
			s.children[docRef.Path] = append(s.children[docRef.Path], subRef)
			s.add(subRef, sub)
		}
	}
}

// FailOn makes op fail with err for path. op is one of "ListTopLevelCollections",
// "ListDocuments", "GetFields" or "ListChildCollections"; the top-level op uses path "".
func (s *Source) FailOn(op, path string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op+" "+path] = err
}

// Calls reports how many times op was invoked for path.
func (s *Source) Calls(op, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op+" "+path]
}

func (s *Source) record(op, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op+" "+path]++
	return s.failures[op+" "+path]
}

// ListTopLevelCollections implements tree.Source.
func (s *Source) ListTopLevelCollections(ctx context.Context) ([]tree.CollectionRef, error) {
	if err := s.record("ListTopLevelCollections", ""); err != nil {
		return nil, err
	}
	return append([]tree.CollectionRef(nil), s.roots...), ctx.Err()
}

// ListDocuments implements tree.Source.
func (s *Source) ListDocuments(ctx context.Context, coll tree.CollectionRef) ([]tree.DocumentRef, error) {
	if err := s.record("ListDocuments", coll.Path); err != nil {
		return nil, err
	}
	return append([]tree.DocumentRef(nil), s.docs[coll.Path]...), ctx.Err()
}

// GetFields implements tree.Source.
func (s *Source) GetFields(ctx context.Context, doc tree.DocumentRef) (map[string]any, error) {
	if err := s.record("GetFields", doc.Path); err != nil {
		return nil, err
	}
	fields, ok := s.fields[doc.Path]
	if !ok {
		return nil, fmt.Errorf("document %s not found", doc.Path)
	}
	return fields, ctx.Err()
}

// ListChildCollections implements tree.Source.
func (s *Source) ListChildCollections(ctx context.Context, doc tree.DocumentRef) ([]tree.CollectionRef, error) {
	if err := s.record("ListChildCollections", doc.Path); err != nil {
		return nil, err
	}
	return append([]tree.CollectionRef(nil), s.children[doc.Path]...), ctx.Err()
}
