// Package audit provides audit logging for configuration changes.
package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/merakimate/merakimate/pkg/reconcile"
)

// Event represents one attempt to change remote configuration
type Event struct {
	ID          string           `json:"id"`
	RunID       string           `json:"run_id,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
	User        string           `json:"user"`
	Org         string           `json:"org,omitempty"`
	Kind        string           `json:"kind"`
	Scope       string           `json:"scope"`
	Operation   string           `json:"operation"`
	State       string           `json:"state,omitempty"`
	Reason      string           `json:"reason,omitempty"`
	Counts      reconcile.Counts `json:"counts"`
	Snapshot    string           `json:"snapshot,omitempty"`
	Success     bool             `json:"success"`
	Error       string           `json:"error,omitempty"`
	ExecuteMode bool             `json:"execute_mode"` // true if -x was used
	DryRun      bool             `json:"dry_run"`
	Duration    time.Duration    `json:"duration"`
}

// Filter selects events. Zero fields match everything.
type Filter struct {
	RunID     string
	Kind      string
	Scope     string
	User      string
	Operation string
	State     string
	Reason    string
	Since     time.Time
	Failures  bool // only scopes that ended FAILED
	Limit     int  // newest N after filtering
}

// Match reports whether e passes every set field.
func (f Filter) Match(e *Event) bool {
	switch {
	case f.RunID != "" && e.RunID != f.RunID,
		f.Kind != "" && e.Kind != f.Kind,
		f.Scope != "" && e.Scope != f.Scope,
		f.User != "" && e.User != f.User,
		f.Operation != "" && e.Operation != f.Operation,
		f.State != "" && e.State != f.State,
		f.Reason != "" && e.Reason != f.Reason,
		!f.Since.IsZero() && e.Timestamp.Before(f.Since),
		f.Failures && e.Success:
		return false
	}
	return true
}

// NewEvent creates a new audit event
func NewEvent(user string, scope reconcile.Scope, operation string) *Event {
	return &Event{
		ID:        NewID(),
		Timestamp: time.Now(),
		User:      user,
		Kind:      string(scope.Kind),
		Scope:     scope.ID,
		Operation: operation,
	}
}

// WithOutcome copies the final state of a reconciliation pass
func (e *Event) WithOutcome(o *reconcile.Outcome) *Event {
	e.State = string(o.State)
	e.Reason = string(o.Reason)
	e.Counts = o.Counts
	e.Snapshot = o.Snapshot
	e.Duration = o.Duration
	if o.State == reconcile.StateDone {
		return e.WithSuccess()
	}
	return e.WithError(o.Err)
}

// WithSuccess marks the event as successful
func (e *Event) WithSuccess() *Event {
	e.Success = true
	e.Error = ""
	return e
}

// WithError marks the event as failed
func (e *Event) WithError(err error) *Event {
	e.Success = false
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// WithExecuteMode marks if execute mode was used
func (e *Event) WithExecuteMode(execute bool) *Event {
	e.ExecuteMode = execute
	e.DryRun = !execute
	return e
}

// NewID returns a time-ordered unique id.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
