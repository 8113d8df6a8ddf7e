package pipeline

import (
	"encoding/json"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/jacentio/ddbmigrate/store"
)

// TableReport is the end-of-run account of one table. Exported and Skipped count the
// documents of the table's collection, under every parent.
type TableReport struct {
	Outcome  store.Outcome `json:"outcome,omitempty"`
	Exported int           `json:"exported"`
	Skipped  int           `json:"skipped"`
	Resumed  bool          `json:"resumed,omitempty"`
	Records  int           `json:"records"`
	Written  int           `json:"written"`
	Failed   int           `json:"failed"`
	Errors   []string      `json:"errors,omitempty"`

	// AlreadyWritten counts records skipped because an earlier attempt of the run wrote them.
	AlreadyWritten int `json:"alreadyWritten,omitempty"`

	errs []error
}

// Err joins the errors recorded for the table.
func (r TableReport) Err() error { return errors.Join(r.errs...) }

// Summary collects the outcome of a run. It is safe for concurrent use.
type Summary struct {
	RunID      string                  `json:"runId"`
	DryRun     bool                    `json:"dryRun,omitempty"`
	StartedAt  time.Time               `json:"startedAt"`
	FinishedAt time.Time               `json:"finishedAt"`
	Tables     map[string]*TableReport `json:"tables"`
	Duplicates int                     `json:"duplicates"`
	Aborted    string                  `json:"aborted,omitempty"`

	mu            sync.Mutex
	abortErr      error
	unprovisioned map[string]bool
}

// NewSummary starts a summary for runID.
func NewSummary(runID string, dryRun bool) *Summary {
	return &Summary{
		RunID:         runID,
		DryRun:        dryRun,
		StartedAt:     time.Now().UTC(),
		Tables:        make(map[string]*TableReport),
		unprovisioned: make(map[string]bool),
	}
}

// update runs fn on the report of table under the summary lock.
func (s *Summary) update(table string, fn func(r *TableReport)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.Tables[table]
	if !ok {
		r = &TableReport{}
		s.Tables[table] = r
	}
	fn(r)
}

func (s *Summary) fail(table string, err error) {
	s.update(table, func(r *TableReport) {
		r.errs = append(r.errs, err)
		r.Errors = append(r.Errors, err.Error())
	})
}

func (s *Summary) markUnprovisioned(table string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unprovisioned[table] = true
}

func (s *Summary) isUnprovisioned(table string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unprovisioned[table]
}

func (s *Summary) abort(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.abortErr == nil {
		s.abortErr = err
		s.Aborted = err.Error()
	}
}

// Finish records the end time of the run.
func (s *Summary) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FinishedAt = time.Now().UTC()
}

// Table returns a copy of the report of table.
func (s *Summary) Table(table string) (TableReport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.Tables[table]
	if !ok {
		return TableReport{}, false
	}
	return *r, true
}

// TableNames returns the names of all reported tables, sorted.
func (s *Summary) TableNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.Tables))
	for name := range s.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Err returns the abort error followed by every table error, or nil for a clean run.
func (s *Summary) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.abortErr != nil {
		errs = append(errs, s.abortErr)
	}
	for _, name := range sortedKeys(s.Tables) {
		errs = append(errs, s.Tables[name].errs...)
	}
	return errors.Join(errs...)
}

// Totals returns the item counts summed over all tables.
func (s *Summary) Totals() (written, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.Tables {
		written += r.Written
		failed += r.Failed
	}
	return written, failed
}

// ExitCode is 1 when the run was aborted, any table recorded an error or any item failed to
// be written, and 0 otherwise.
func (s *Summary) ExitCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.abortErr != nil {
		return 1
	}
	for _, r := range s.Tables {
		if len(r.errs) > 0 || r.Failed > 0 {
			return 1
		}
	}
	return 0
}

// WriteJSON writes the summary as indented JSON.
func (s *Summary) WriteJSON(w io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
