package tree

import "fmt"

// SourceReadError reports a listing or fetch failure against the source store.
type SourceReadError struct {
	// Op is the source operation that failed ("list collections", "list documents", ...).
	Op string

	// Path is the collection or document being read, empty for the top level.
	Path string

	Err error
}

func (e *SourceReadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("ddbmigrate: source %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("ddbmigrate: source %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *SourceReadError) Unwrap() error { return e.Err }
