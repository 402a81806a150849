package reconcile

import (
	"encoding/json"
	"fmt"
	"time"
)

// Outcome is the result of one scope's pass through the state machine.
type Outcome struct {
	Scope         Scope          `json:"scope"`
	State         State          `json:"state"`
	Reason        Reason         `json:"reason,omitempty"`
	Err           error          `json:"-"`
	Counts        Counts         `json:"counts"`
	Snapshot      string         `json:"snapshot,omitempty"`
	FetchAttempts int            `json:"fetch_attempts"`
	ApplyAttempts int            `json:"apply_attempts,omitempty"`
	Applied       ApplyResult    `json:"applied"`
	DryRun        bool           `json:"dry_run,omitempty"`
	NoChange      bool           `json:"no_change,omitempty"`
	Duration      time.Duration  `json:"duration"`
	Plan          *MergeResult   `json:"plan,omitempty"`
	Existing      *ExistingState `json:"-"`
	Payload       any            `json:"-"`
}

// Detail returns the error text, which for remote rejections carries the
// remote's own message.
func (o *Outcome) Detail() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// MarshalJSON adds the error text.
func (o *Outcome) MarshalJSON() ([]byte, error) {
	type plain Outcome
	return json.Marshal(struct {
		*plain
		Error string `json:"error,omitempty"`
	}{(*plain)(o), o.Detail()})
}

// Report collects the outcomes of a batch, in batch order.
type Report struct {
	RunID    string     `json:"run_id"`
	Kind     Kind       `json:"kind"`
	DryRun   bool       `json:"dry_run"`
	Started  time.Time  `json:"started"`
	Finished time.Time  `json:"finished"`
	Outcomes []*Outcome `json:"outcomes"`
}

// Summary counts outcomes by final state.
type Summary struct {
	Total    int `json:"total"`
	Done     int `json:"done"`
	Failed   int `json:"failed"`
	NoChange int `json:"no_change"`
}

// Summary returns the closing counts of the batch.
func (r *Report) Summary() Summary {
	s := Summary{Total: len(r.Outcomes)}
	for _, o := range r.Outcomes {
		switch o.State {
		case StateDone:
			s.Done++
			if o.NoChange {
				s.NoChange++
			}
		case StateFailed:
			s.Failed++
		}
	}
	return s
}

// Failed returns the failed outcomes.
func (r *Report) Failed() []*Outcome {
	var out []*Outcome
	for _, o := range r.Outcomes {
		if o.State == StateFailed {
			out = append(out, o)
		}
	}
	return out
}

// AuthRejected reports whether any scope failed on rejected credentials.
func (r *Report) AuthRejected() bool {
	for _, o := range r.Outcomes {
		if o.Reason == ReasonAuthRejected {
			return true
		}
	}
	return false
}

func (s Summary) String() string {
	return fmt.Sprintf("%d scope(s): %d done, %d failed (%d unchanged)", s.Total, s.Done, s.Failed, s.NoChange)
}
