package schema

import (
	"sync"

	"github.com/jacentio/ddbmigrate/tree"
)

// Table describes one target table discovered in a snapshot.
type Table struct {
	// Name is the DynamoDB table name (e.g., "orders__items").
	Name string

	// Parent is the table of the owning documents, empty for root tables.
	Parent string

	// Collection is the collection ID the table is derived from (e.g., "items").
	Collection string
}

// Depth returns the nesting depth of the table.
func (t Table) Depth() int { return Depth(t.Name) }

// Registry holds every table discovered across the exported trees.
type Registry struct {
	mu       sync.RWMutex
	tables   []Table
	byName   map[string]Table
	byParent map[string][]Table
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:   make(map[string]Table),
		byParent: make(map[string][]Table),
	}
}

// Register adds a table. It returns false if a table with the same name is already known.
func (r *Registry) Register(t Table) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[t.Name]; ok {
		return false
	}
	r.tables = append(r.tables, t)
	r.byName[t.Name] = t
	if t.Parent != "" {
		r.byParent[t.Parent] = append(r.byParent[t.Parent], t)
	}
	return true
}

// AddTree registers the root table of an exported tree and every nested table below it.
func (r *Registry) AddTree(root *tree.CollectionNode) {
	r.Register(Table{Name: root.Name, Collection: root.Name})
	r.addChildren(root, root.Name)
}

func (r *Registry) addChildren(coll *tree.CollectionNode, table string) {
	for _, doc := range coll.Documents {
		for _, name := range doc.ChildNames() {
			child := TableName(table, name)
			r.Register(Table{Name: child, Parent: table, Collection: name})
			r.addChildren(doc.Children[name], child)
		}
	}
}

// ChildrenOf returns the tables nested directly under parent.
func (r *Registry) ChildrenOf(parent string) []Table {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Table(nil), r.byParent[parent]...)
}

// HasChildren returns true if any table is nested under parent.
func (r *Registry) HasChildren(parent string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byParent[parent]) > 0
}

// Roots returns the root tables in registration order.
func (r *Registry) Roots() []Table {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Table
	for _, t := range r.tables {
		if t.Parent == "" {
			out = append(out, t)
		}
	}
	return out
}

// Len returns the number of registered tables.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tables)
}
