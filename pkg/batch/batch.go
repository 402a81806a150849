// Package batch turns bulk input files and single manual entries into
// the (scope, record) pairs the reconciler consumes.
package batch

import (
	"errors"
	"fmt"
	"iter"
	"strconv"
	"strings"

	"github.com/merakimate/merakimate/pkg/reconcile"
)

// Entry is one desired record addressed to a scope. Index is the
// zero-based position of the row in its input.
type Entry struct {
	Index  int
	Scope  reconcile.Scope
	Record reconcile.Record
}

// EntryError records an input row that was skipped.
type EntryError struct {
	Index int
	Field string
	Err   error
}

func (e *EntryError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("entry %d: %v", e.Index+1, e.Err)
	}
	return fmt.Sprintf("entry %d: %s: %v", e.Index+1, e.Field, e.Err)
}

func (e *EntryError) Unwrap() error { return e.Err }

// Source yields entries once. Rows that fail validation are not yielded;
// they are collected in Skipped as the sequence is consumed.
type Source interface {
	Entries() iter.Seq[Entry]
	Skipped() []EntryError
}

// convertFunc validates one raw row and turns it into entries.
type convertFunc func(index int, row map[string]any) ([]Entry, error)

// rowSource walks raw rows lazily, converting each when it is reached.
type rowSource struct {
	rows     []map[string]any
	convert  convertFunc
	skipped  []EntryError
	consumed bool
}

func newRowSource(rows []map[string]any, convert convertFunc) *rowSource {
	return &rowSource{rows: rows, convert: convert}
}

func (s *rowSource) Entries() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		if s.consumed {
			return
		}
		s.consumed = true
		for i, row := range s.rows {
			entries, err := s.convert(i, row)
			if err != nil {
				s.skip(i, err)
				continue
			}
			for _, e := range entries {
				e.Index = i
				if !yield(e) {
					return
				}
			}
		}
	}
}

func (s *rowSource) skip(i int, err error) {
	var ee *EntryError
	if errors.As(err, &ee) {
		ee.Index = i
		s.skipped = append(s.skipped, *ee)
		return
	}
	s.skipped = append(s.skipped, EntryError{Index: i, Err: err})
}

func (s *rowSource) Skipped() []EntryError { return s.skipped }

// Manual is a source of exactly one interactively built entry.
func Manual(scope reconcile.Scope, record reconcile.Record) Source {
	return newRowSource([]map[string]any{record}, func(_ int, row map[string]any) ([]Entry, error) {
		return []Entry{{Scope: scope, Record: reconcile.Record(row)}}, nil
	})
}

// Group drains src into one job per scope. Scopes appear in the order of
// their first entry and records keep input order within a scope.
func Group(src Source, key func(reconcile.Kind) reconcile.IdentityKey) []reconcile.Job {
	var jobs []reconcile.Job
	index := make(map[reconcile.Scope]int)
	for e := range src.Entries() {
		i, ok := index[e.Scope]
		if !ok {
			i = len(jobs)
			index[e.Scope] = i
			jobs = append(jobs, reconcile.Job{Scope: e.Scope, Key: key(e.Scope.Kind)})
		}
		jobs[i].Records = append(jobs[i].Records, e.Record)
	}
	return jobs
}

func missing(field string) error {
	return &EntryError{Field: field, Err: fmt.Errorf("required field missing")}
}

func invalid(field, format string, args ...any) error {
	return &EntryError{Field: field, Err: fmt.Errorf(format, args...)}
}

// text renders a YAML or spreadsheet scalar as a trimmed string.
func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case int:
		return strconv.Itoa(t)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

// required returns the named fields as strings, failing on the first
// that is absent or blank.
func required(row map[string]any, fields ...string) ([]string, error) {
	out := make([]string, len(fields))
	for i, f := range fields {
		v := text(row[f])
		if v == "" {
			return nil, missing(f)
		}
		out[i] = v
	}
	return out, nil
}
