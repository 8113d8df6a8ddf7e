// Package snapshot persists exported collection trees, one JSON file per top-level collection.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/jacentio/ddbmigrate/tree"
)

// Ext is the file extension of snapshot files.
const Ext = ".json"

var (
	// ErrNotFound is returned when no snapshot exists for a collection.
	ErrNotFound = errors.New("ddbmigrate: snapshot not found")

	// ErrInvalidName is returned for collection names that cannot be used as a file name.
	ErrInvalidName = errors.New("ddbmigrate: invalid snapshot name")
)

// Store reads and writes collection snapshots.
type Store interface {
	Write(ctx context.Context, root *tree.CollectionNode) error
	Read(ctx context.Context, collection string) (*tree.CollectionNode, error)
	List(ctx context.Context) ([]string, error)
}

// DirStore keeps snapshots as <collection>.json files in a directory.
type DirStore struct {
	dir string
	mu  sync.Mutex
}

// NewDirStore creates a DirStore rooted at dir. The directory is created on first write.
func NewDirStore(dir string) *DirStore {
	return &DirStore{dir: dir}
}

// Dir returns the snapshot directory.
func (s *DirStore) Dir() string { return s.dir }

func (s *DirStore) path(collection string) (string, error) {
	if collection == "" || collection == "." || collection == ".." ||
		strings.ContainsAny(collection, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, collection)
	}
	return filepath.Join(s.dir, collection+Ext), nil
}

// Write stores root as <root.Name>.json. The file is written to a temporary name and renamed
// into place, so a reader never sees a partial snapshot.
func (s *DirStore) Write(ctx context.Context, root *tree.CollectionNode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := s.path(root.Name)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(root, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot %s: %w", root.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+root.Name+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot %s: %w", root.Name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync snapshot %s: %w", root.Name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot %s: %w", root.Name, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("rename snapshot %s: %w", root.Name, err)
	}
	return nil
}

// Read loads the snapshot of collection. It returns ErrNotFound if none exists.
func (s *DirStore) Read(ctx context.Context, collection string) (*tree.CollectionNode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.path(collection)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, collection)
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", collection, err)
	}

	var root tree.CollectionNode
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", collection, err)
	}
	if root.Name == "" {
		root.Name = collection
	}
	return &root, nil
}

// Exists reports whether a snapshot for collection is present.
func (s *DirStore) Exists(collection string) bool {
	p, err := s.path(collection)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

// List returns the collection names that have a snapshot, sorted. A missing directory is empty.
func (s *DirStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != Ext {
			continue
		}
		names = append(names, strings.TrimSuffix(name, Ext))
	}
	sort.Strings(names)
	return names, nil
}
