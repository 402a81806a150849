package audit

import (
	"sort"
	"time"

	"github.com/merakimate/merakimate/pkg/reconcile"
)

// RunSummary tallies the scopes of one batch run.
type RunSummary struct {
	RunID     string           `json:"run_id"`
	Operation string           `json:"operation"`
	User      string           `json:"user"`
	Kind      string           `json:"kind"`
	Started   time.Time        `json:"started"`
	Scopes    int              `json:"scopes"`
	Done      int              `json:"done"`
	Failed    int              `json:"failed"`
	DryRun    bool             `json:"dry_run"`
	Reasons   map[string]int   `json:"reasons,omitempty"`
	Counts    reconcile.Counts `json:"counts"`
}

// Runs groups events by run id, newest run first. Events without a run
// id (restores) each form their own run.
func Runs(events []*Event) []*RunSummary {
	byID := make(map[string]*RunSummary)
	var out []*RunSummary
	for _, e := range events {
		id := e.RunID
		if id == "" {
			id = e.ID
		}
		s, ok := byID[id]
		if !ok {
			s = &RunSummary{RunID: id, Operation: e.Operation, User: e.User, Kind: e.Kind, Started: e.Timestamp, DryRun: e.DryRun}
			byID[id] = s
			out = append(out, s)
		}
		if e.Timestamp.Before(s.Started) {
			s.Started = e.Timestamp
		}
		if s.Kind != e.Kind {
			s.Kind = "mixed"
		}
		s.Scopes++
		if e.Success {
			s.Done++
		} else {
			s.Failed++
			if e.Reason != "" {
				if s.Reasons == nil {
					s.Reasons = make(map[string]int)
				}
				s.Reasons[e.Reason]++
			}
		}
		s.Counts = addCounts(s.Counts, e.Counts)
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Started.After(out[b].Started) })
	return out
}

func addCounts(a, b reconcile.Counts) reconcile.Counts {
	return reconcile.Counts{
		Kept:        a.Kept + b.Kept,
		Added:       a.Added + b.Added,
		Overwritten: a.Overwritten + b.Overwritten,
		Skipped:     a.Skipped + b.Skipped,
		Pending:     a.Pending + b.Pending,
		Dropped:     a.Dropped + b.Dropped,
		Removed:     a.Removed + b.Removed,
		Missing:     a.Missing + b.Missing,
	}
}
