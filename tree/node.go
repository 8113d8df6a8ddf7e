// Package tree exports a hierarchical document store into an in-memory tree of collections
// and documents.
package tree

import (
	"sort"

	"github.com/jacentio/ddbmigrate/value"
)

// CollectionNode is one physical collection and the documents it held at export time.
type CollectionNode struct {
	// Name is the collection ID (the last path segment).
	Name string `json:"collectionId"`

	// ParentPath is the path of the owning document, empty for root collections.
	ParentPath string `json:"parent"`

	Documents []*DocumentNode `json:"documents"`
}

// DocumentNode is one physical document with its encoded fields and child collections.
type DocumentNode struct {
	ID   string                 `json:"id"`
	Path string                 `json:"path"`
	Data map[string]value.Value `json:"data"`

	// Children maps a child collection ID to its exported subtree.
	Children map[string]*CollectionNode `json:"subcollections"`
}

// ChildNames returns the child collection IDs of d in sorted order.
func (d *DocumentNode) ChildNames() []string {
	names := make([]string, 0, len(d.Children))
	for name := range d.Children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Walk visits every document of c depth-first (a document before its children, child
// collections in sorted order). depth is 0 for documents of c itself. Returning false from fn
// stops the walk.
func (c *CollectionNode) Walk(fn func(coll *CollectionNode, doc *DocumentNode, depth int) bool) {
	c.walk(fn, 0)
}

func (c *CollectionNode) walk(fn func(*CollectionNode, *DocumentNode, int) bool, depth int) bool {
	for _, doc := range c.Documents {
		if !fn(c, doc, depth) {
			return false
		}
		for _, name := range doc.ChildNames() {
			if !doc.Children[name].walk(fn, depth+1) {
				return false
			}
		}
	}
	return true
}

// Count returns the number of documents in c and all of its descendants.
func (c *CollectionNode) Count() int {
	n := 0
	c.Walk(func(*CollectionNode, *DocumentNode, int) bool {
		n++
		return true
	})
	return n
}
