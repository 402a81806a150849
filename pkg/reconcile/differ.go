package reconcile

import (
	"fmt"
	"strings"
)

// Mode selects how desired records are combined with the existing ones.
type Mode string

const (
	// ModeMerge adds new records and reports conflicts on equal identity.
	ModeMerge Mode = "merge"
	// ModeRemove deletes the existing records named by the desired ones.
	ModeRemove Mode = "remove"
)

// Decision is the resolution of one conflict.
type Decision int

const (
	DecisionPending Decision = iota
	DecisionOverwrite
	DecisionSkip
)

func (d Decision) String() string {
	switch d {
	case DecisionOverwrite:
		return "overwrite"
	case DecisionSkip:
		return "skip"
	}
	return "pending"
}

// MarshalText renders the decision name in JSON output.
func (d Decision) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Conflict pairs an existing record with a candidate of the same identity.
type Conflict struct {
	Key       string   `json:"key"`
	Index     int      `json:"index"` // position in the existing records
	Existing  Record   `json:"existing"`
	Candidate Record   `json:"candidate"`
	Identical bool     `json:"identical"` // candidate carries nothing new
	Decision  Decision `json:"decision"`
}

// MergeResult is the partition of a scope's records computed by Diff.
type MergeResult struct {
	Mode      Mode        `json:"mode"`
	Key       IdentityKey `json:"key"`
	Existing  []Record    `json:"-"`
	Added     []Record    `json:"added,omitempty"`
	Conflicts []Conflict  `json:"conflicts,omitempty"`
	Dropped   []Record    `json:"dropped,omitempty"`
	Removed   []Record    `json:"removed,omitempty"`
	Missing   []Record    `json:"missing,omitempty"`

	removedIdx map[int]bool
}

// Diff merges desired into existing by identity key. Candidates whose key
// is already present become conflicts; the rest are added in input order.
// A key repeated inside desired keeps its first occurrence and drops the rest.
func Diff(existing, desired []Record, key IdentityKey) *MergeResult {
	m := &MergeResult{Mode: ModeMerge, Key: key, Existing: existing}

	index := make(map[string]int, len(existing))
	for i, r := range existing {
		k := key.Of(r)
		if _, dup := index[k]; !dup {
			index[k] = i
		}
	}

	seen := make(map[string]bool, len(desired))
	for _, cand := range desired {
		k := key.Of(cand)
		if seen[k] {
			m.Dropped = append(m.Dropped, cand)
			continue
		}
		seen[k] = true

		if i, ok := index[k]; ok {
			m.Conflicts = append(m.Conflicts, Conflict{
				Key:       key.Display(cand),
				Index:     i,
				Existing:  existing[i],
				Candidate: cand,
				Identical: Subsumes(existing[i], cand),
			})
			continue
		}
		m.Added = append(m.Added, cand)
	}
	return m
}

// DiffRemove marks every existing record whose key matches a desired
// record for removal. Desired records matching nothing are reported missing.
func DiffRemove(existing, desired []Record, key IdentityKey) *MergeResult {
	m := &MergeResult{Mode: ModeRemove, Key: key, Existing: existing, removedIdx: map[int]bool{}}

	wanted := make(map[string]bool, len(desired))
	for _, r := range desired {
		wanted[key.Of(r)] = true
	}
	matched := make(map[string]bool, len(desired))
	for i, r := range existing {
		k := key.Of(r)
		if wanted[k] {
			m.removedIdx[i] = true
			m.Removed = append(m.Removed, r)
			matched[k] = true
		}
	}
	reported := make(map[string]bool)
	for _, r := range desired {
		k := key.Of(r)
		if !matched[k] && !reported[k] {
			m.Missing = append(m.Missing, r)
			reported[k] = true
		}
	}
	return m
}

// Resolve applies a non-interactive conflict policy. Under
// AskPerConflict only identical candidates are settled (as skips); the
// rest stay pending for the operator.
func (m *MergeResult) Resolve(policy ConflictPolicy) {
	for i := range m.Conflicts {
		c := &m.Conflicts[i]
		if c.Decision != DecisionPending {
			continue
		}
		switch policy {
		case OverwriteAll:
			c.Decision = DecisionOverwrite
		case SkipAll:
			c.Decision = DecisionSkip
		default:
			if c.Identical {
				c.Decision = DecisionSkip
			}
		}
	}
}

// Pending returns the indexes of unresolved conflicts.
func (m *MergeResult) Pending() []int {
	var out []int
	for i, c := range m.Conflicts {
		if c.Decision == DecisionPending {
			out = append(out, i)
		}
	}
	return out
}

// Kept returns the existing records that survive unchanged.
func (m *MergeResult) Kept() []Record {
	over := m.overwritten()
	var out []Record
	for i, r := range m.Existing {
		if _, ok := over[i]; ok || m.removedIdx[i] {
			continue
		}
		out = append(out, r)
	}
	return out
}

func (m *MergeResult) overwritten() map[int]Record {
	over := make(map[int]Record)
	for _, c := range m.Conflicts {
		if c.Decision == DecisionOverwrite {
			over[c.Index] = Overlay(c.Existing, c.Candidate)
		}
	}
	return over
}

// Final returns the records the scope should hold after apply: existing
// order with overwrites replacing their record in place, removals left
// out, then added records in input order. Unresolved conflicts are an error.
func (m *MergeResult) Final() ([]Record, error) {
	if p := m.Pending(); len(p) > 0 {
		return nil, fmt.Errorf("%d unresolved conflict(s)", len(p))
	}
	return m.final(), nil
}

// Preview is Final with pending conflicts taken as overwrites, so a dry
// run shows what accepting every open conflict would send.
func (m *MergeResult) Preview() []Record {
	over := m.overwritten()
	for _, c := range m.Conflicts {
		if c.Decision == DecisionPending {
			over[c.Index] = Overlay(c.Existing, c.Candidate)
		}
	}
	return m.compose(over)
}

func (m *MergeResult) final() []Record {
	return m.compose(m.overwritten())
}

func (m *MergeResult) compose(over map[int]Record) []Record {
	out := make([]Record, 0, len(m.Existing)+len(m.Added))
	for i, r := range m.Existing {
		if m.removedIdx[i] {
			continue
		}
		if o, ok := over[i]; ok {
			out = append(out, o)
			continue
		}
		out = append(out, r)
	}
	return append(out, m.Added...)
}

// Overwrites returns the conflicts resolved as overwrite.
func (m *MergeResult) Overwrites() []Conflict {
	var out []Conflict
	for _, c := range m.Conflicts {
		if c.Decision == DecisionOverwrite {
			out = append(out, c)
		}
	}
	return out
}

// Changed reports whether applying the result would alter the scope.
func (m *MergeResult) Changed() bool {
	if len(m.Added) > 0 || len(m.Removed) > 0 {
		return true
	}
	for _, c := range m.Conflicts {
		if c.Decision == DecisionOverwrite && !c.Identical {
			return true
		}
	}
	return false
}

// Counts summarises the partition.
type Counts struct {
	Kept        int `json:"kept"`
	Added       int `json:"added"`
	Overwritten int `json:"overwritten"`
	Skipped     int `json:"skipped"`
	Pending     int `json:"pending,omitempty"`
	Dropped     int `json:"dropped,omitempty"`
	Removed     int `json:"removed,omitempty"`
	Missing     int `json:"missing,omitempty"`
}

// Counts returns the partition sizes.
func (m *MergeResult) Counts() Counts {
	c := Counts{
		Kept:    len(m.Kept()),
		Added:   len(m.Added),
		Dropped: len(m.Dropped),
		Removed: len(m.Removed),
		Missing: len(m.Missing),
	}
	for _, cf := range m.Conflicts {
		switch cf.Decision {
		case DecisionOverwrite:
			c.Overwritten++
		case DecisionSkip:
			c.Skipped++
		default:
			c.Pending++
		}
	}
	return c
}

func (c Counts) String() string {
	parts := []string{
		fmt.Sprintf("kept=%d", c.Kept),
		fmt.Sprintf("added=%d", c.Added),
		fmt.Sprintf("overwritten=%d", c.Overwritten),
		fmt.Sprintf("skipped=%d", c.Skipped),
	}
	if c.Pending > 0 {
		parts = append(parts, fmt.Sprintf("pending=%d", c.Pending))
	}
	if c.Dropped > 0 {
		parts = append(parts, fmt.Sprintf("dropped=%d", c.Dropped))
	}
	if c.Removed > 0 || c.Missing > 0 {
		parts = append(parts, fmt.Sprintf("removed=%d", c.Removed), fmt.Sprintf("missing=%d", c.Missing))
	}
	return strings.Join(parts, " ")
}
