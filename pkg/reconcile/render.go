package reconcile

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// WritePlan writes a human-readable plan for o:
//
//	vlan/N_1: kept=3 added=1 overwritten=1 skipped=0
//	  [ADD] 30
//	  [OVERWRITE] 10
//
// followed by a unified diff of the fetched document against the payload
// when withDiff is set and a payload was composed.
func WritePlan(w io.Writer, o *Outcome, withDiff bool) error {
	if o.Plan == nil {
		_, err := fmt.Fprintf(w, "%s: %s %s\n", o.Scope, o.State, o.Reason)
		return err
	}
	p := o.Plan
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %s\n", o.Scope, p.Counts())

	for _, r := range p.Added {
		fmt.Fprintf(&sb, "  [ADD] %s\n", p.Key.Display(r))
	}
	for _, c := range p.Conflicts {
		tag := "[SKIP]"
		switch c.Decision {
		case DecisionOverwrite:
			tag = "[OVERWRITE]"
		case DecisionPending:
			tag = "[CONFLICT]"
		}
		note := ""
		if c.Identical {
			note = " (identical)"
		}
		fmt.Fprintf(&sb, "  %s %s%s\n", tag, c.Key, note)
	}
	for _, r := range p.Dropped {
		fmt.Fprintf(&sb, "  [DROP] %s (repeated in input)\n", p.Key.Display(r))
	}
	for _, r := range p.Removed {
		fmt.Fprintf(&sb, "  [REMOVE] %s\n", p.Key.Display(r))
	}
	for _, r := range p.Missing {
		fmt.Fprintf(&sb, "  [MISSING] %s\n", p.Key.Display(r))
	}
	if n := len(p.Pending()); n > 0 {
		fmt.Fprintf(&sb, "  %d conflict(s) awaiting a decision; shown as overwritten\n", n)
	}
	if o.NoChange {
		sb.WriteString("  No changes")
		if n := skippedDifferent(p); n > 0 {
			fmt.Fprintf(&sb, " (%d differing record(s) skipped)", n)
		}
		sb.WriteString("\n")
	}

	if withDiff && o.Existing != nil && o.Payload != nil && !o.NoChange {
		diff, err := UnifiedDiff(o.Existing.Document, o.Payload)
		if err != nil {
			return err
		}
		sb.WriteString(diff)
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

func skippedDifferent(p *MergeResult) int {
	n := 0
	for _, c := range p.Conflicts {
		if c.Decision == DecisionSkip && !c.Identical {
			n++
		}
	}
	return n
}

// UnifiedDiff renders the change between two JSON-serialisable documents.
func UnifiedDiff(before, after any) (string, error) {
	a, err := json.MarshalIndent(before, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding fetched state: %w", err)
	}
	b, err := json.MarshalIndent(after, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding payload: %w", err)
	}
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(a) + "\n"),
		B:        difflib.SplitLines(string(b) + "\n"),
		FromFile: "Fetched",
		ToFile:   "Planned",
		Context:  3,
	})
}

// ConflictText shows both sides of a conflict for an operator prompt.
func ConflictText(c Conflict) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Conflict on %s\n", c.Key)
	sb.WriteString("  existing:  " + compact(c.Existing) + "\n")
	sb.WriteString("  candidate: " + compact(c.Candidate) + "\n")
	return sb.String()
}

func compact(r Record) string {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf("%v", map[string]any(r))
	}
	return string(b)
}
