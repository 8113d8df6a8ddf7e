// Package dedup tracks record keys per table: the keys one flatten pass has emitted, and the
// keys a run has written across its attempts.
package dedup

import (
	"context"
	"sync"

	"github.com/jacentio/ddbmigrate/internal/shard"
)

// KeySet records keys per table. Implementations must be safe for concurrent use.
type KeySet interface {
	// Add records the key made of parts in table and reports whether it was absent before.
	Add(ctx context.Context, table string, parts ...string) (bool, error)
}

// Ledger is a KeySet that can also be queried. The pipeline adds a key only once its record has
// been written, so a retried run can skip exactly what the failed attempt wrote.
type Ledger interface {
	KeySet

	// Has reports whether the key made of parts has been recorded in table.
	Has(ctx context.Context, table string, parts ...string) (bool, error)
}

// MemorySet is an in-process KeySet and Ledger. Tables are spread over partitions so concurrent
// flattening of different tables rarely contends on one lock.
type MemorySet struct {
	partitions []*partition
}

type partition struct {
	mu   sync.Mutex
	keys map[string]map[string]struct{} // table -> digest
}

// NewMemorySet creates a MemorySet with n partitions (at least 1).
func NewMemorySet(n int) *MemorySet {
	if n < 1 {
		n = 1
	}
	s := &MemorySet{partitions: make([]*partition, n)}
	for i := range s.partitions {
		s.partitions[i] = &partition{keys: make(map[string]map[string]struct{})}
	}
	return s
}

// Add implements KeySet.
func (s *MemorySet) Add(_ context.Context, table string, parts ...string) (bool, error) {
	p := s.partitions[shard.Index(table, len(s.partitions))]
	key := shard.Digest(parts...)

	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.keys[table]
	if !ok {
		set = make(map[string]struct{})
		p.keys[table] = set
	}
	if _, seen := set[key]; seen {
		return false, nil
	}
	set[key] = struct{}{}
	return true, nil
}

// Has implements Ledger.
func (s *MemorySet) Has(_ context.Context, table string, parts ...string) (bool, error) {
	p := s.partitions[shard.Index(table, len(s.partitions))]
	key := shard.Digest(parts...)

	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.keys[table][key]
	return ok, nil
}

// Len returns the number of keys recorded for table.
func (s *MemorySet) Len(table string) int {
	p := s.partitions[shard.Index(table, len(s.partitions))]
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys[table])
}
