package audit

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/merakimate/merakimate/pkg/reconcile"
)

var (
	vlanScope     = reconcile.Scope{Kind: reconcile.KindVLAN, ID: "N_1"}
	firewallScope = reconcile.Scope{Kind: reconcile.KindFirewallRuleSet, ID: "N_1/l3"}
)

func newJournal(t *testing.T, rotation Rotation) (*Journal, string) {
	t.Helper()
	logPath := filepath.Join(t.TempDir(), "audit.log")
	j, err := Open(logPath, rotation)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return j, logPath
}

func TestEvent_New(t *testing.T) {
	event := NewEvent("alice", vlanScope, "vlan.bulk")

	if event.User != "alice" {
		t.Errorf("User = %q, want %q", event.User, "alice")
	}
	if event.Kind != "vlan" || event.Scope != "N_1" {
		t.Errorf("Kind/Scope = %q/%q", event.Kind, event.Scope)
	}
	id, err := uuid.Parse(event.ID)
	if err != nil {
		t.Fatalf("ID %q is not a uuid: %v", event.ID, err)
	}
	if id.Version() != 7 {
		t.Errorf("ID version = %d, want 7", id.Version())
	}
	if event.Timestamp.IsZero() {
		t.Error("Timestamp should be set")
	}
}

func TestEvent_WithOutcome(t *testing.T) {
	done := &reconcile.Outcome{
		Scope:    vlanScope,
		State:    reconcile.StateDone,
		Counts:   reconcile.Counts{Kept: 2, Added: 1},
		Snapshot: "vlan/N_1_20261014T090000Z.json",
		Duration: time.Second,
	}
	event := NewEvent("alice", vlanScope, "vlan.bulk").WithOutcome(done)
	if !event.Success || event.State != "DONE" || event.Counts.Added != 1 || event.Snapshot == "" {
		t.Errorf("event = %+v", event)
	}

	failed := &reconcile.Outcome{
		Scope:  vlanScope,
		State:  reconcile.StateFailed,
		Reason: reconcile.ReasonBackupFailed,
		Err:    errors.New("bucket unreachable"),
	}
	event = NewEvent("alice", vlanScope, "vlan.bulk").WithOutcome(failed)
	if event.Success {
		t.Error("Success should be false")
	}
	if event.Reason != "backup-failed" || event.Error != "bucket unreachable" {
		t.Errorf("Reason/Error = %q/%q", event.Reason, event.Error)
	}
}

func TestEvent_ExecuteMode(t *testing.T) {
	event := NewEvent("alice", vlanScope, "test").WithExecuteMode(false)

	if event.ExecuteMode {
		t.Error("ExecuteMode should be false")
	}
	if !event.DryRun {
		t.Error("DryRun should be true when ExecuteMode is false")
	}
}

func TestJournal_LogAndQuery(t *testing.T) {
	j, _ := newJournal(t, Rotation{})

	if err := j.Log(NewEvent("alice", vlanScope, "vlan.bulk").WithSuccess()); err != nil {
		t.Fatalf("Log failed: %v", err)
	}

	events, err := j.Query(Filter{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	if events[0].User != "alice" || events[0].Scope != "N_1" {
		t.Errorf("event = %+v", events[0])
	}
}

func TestJournal_QueryFilters(t *testing.T) {
	j, _ := newJournal(t, Rotation{})

	events := []*Event{
		NewEvent("alice", vlanScope, "vlan.bulk").WithOutcome(&reconcile.Outcome{State: reconcile.StateDone}),
		NewEvent("bob", vlanScope, "vlan.bulk").WithOutcome(&reconcile.Outcome{
			State: reconcile.StateFailed, Reason: reconcile.ReasonApplyRejected, Err: errors.New("rejected"),
		}),
		NewEvent("alice", firewallScope, "firewall.bulk").WithOutcome(&reconcile.Outcome{
			State: reconcile.StateFailed, Reason: reconcile.ReasonAuthRejected, Err: errors.New("401"),
		}),
	}
	events[1].RunID = "run-1"
	events[2].RunID = "run-1"
	for i, e := range events {
		e.Timestamp = time.Date(2026, 10, 14, 9, i, 0, 0, time.UTC)
		if err := j.Log(e); err != nil {
			t.Fatalf("Log failed: %v", err)
		}
	}

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"all", Filter{}, []string{"alice", "bob", "alice"}},
		{"by run", Filter{RunID: "run-1"}, []string{"bob", "alice"}},
		{"by kind", Filter{Kind: "vlan"}, []string{"alice", "bob"}},
		{"by scope", Filter{Scope: "N_1/l3"}, []string{"alice"}},
		{"by user", Filter{User: "bob"}, []string{"bob"}},
		{"by operation", Filter{Operation: "firewall.bulk"}, []string{"alice"}},
		{"by state", Filter{State: "DONE"}, []string{"alice"}},
		{"by reason", Filter{Reason: "auth-rejected"}, []string{"alice"}},
		{"failures", Filter{Failures: true}, []string{"bob", "alice"}},
		{"limit keeps newest", Filter{Limit: 1}, []string{"alice"}},
		{"since", Filter{Since: time.Date(2026, 10, 14, 9, 1, 0, 0, time.UTC)}, []string{"bob", "alice"}},
		{"future since", Filter{Since: time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := j.Query(tt.filter)
			if err != nil {
				t.Fatalf("Query failed: %v", err)
			}
			var users []string
			for _, e := range got {
				users = append(users, e.User)
			}
			if strings.Join(users, ",") != strings.Join(tt.want, ",") {
				t.Errorf("users = %v, want %v", users, tt.want)
			}
		})
	}
}

func TestJournal_QueryMalformedLine(t *testing.T) {
	j, logPath := newJournal(t, Rotation{})
	if err := j.Log(NewEvent("alice", vlanScope, "vlan.bulk")); err != nil {
		t.Fatal(err)
	}
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("not json\n")
	f.Close()

	events, err := j.Query(Filter{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("Expected malformed line to be skipped, got %d events", len(events))
	}
}

func TestJournal_RotationKeepsGenerations(t *testing.T) {
	j, logPath := newJournal(t, Rotation{MaxBytes: 50, Keep: 2})

	for i := 0; i < 10; i++ {
		e := NewEvent("alice", vlanScope, "test")
		e.Timestamp = time.Date(2026, 10, 14, 9, i, 0, 0, time.UTC)
		if err := j.Log(e); err != nil {
			t.Fatalf("Log failed on iteration %d: %v", i, err)
		}
	}

	for _, gen := range []string{logPath + ".1", logPath + ".2"} {
		if _, err := os.Stat(gen); err != nil {
			t.Errorf("generation %s missing: %v", filepath.Base(gen), err)
		}
	}
	if _, err := os.Stat(logPath + ".3"); !os.IsNotExist(err) {
		t.Errorf("generation .3 should not exist, stat err = %v", err)
	}

	events, err := j.Query(Filter{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("Expected one event per generation, got %d", len(events))
	}
	if events[0].Timestamp.Minute() != 7 || events[2].Timestamp.Minute() != 9 {
		t.Errorf("events out of order: %v .. %v", events[0].Timestamp, events[2].Timestamp)
	}
}

func TestRotationMB(t *testing.T) {
	r := RotationMB(10, 5)
	if r.MaxBytes != 10*1024*1024 || r.Keep != 5 {
		t.Errorf("RotationMB = %+v", r)
	}
}

func TestOpen_MkdirError(t *testing.T) {
	if _, err := Open("/dev/null/impossible/audit.log", Rotation{}); err == nil {
		t.Error("Expected error creating journal under /dev/null")
	}
}

func TestRuns(t *testing.T) {
	at := func(m int) time.Time { return time.Date(2026, 10, 14, 9, m, 0, 0, time.UTC) }
	events := []*Event{
		{ID: "a", RunID: "run-1", Operation: "vlan.bulk", Kind: "vlan", Timestamp: at(0), Success: true, Counts: reconcile.Counts{Added: 2}},
		{ID: "b", RunID: "run-1", Operation: "vlan.bulk", Kind: "vlan", Timestamp: at(1), Reason: "apply-rejected", Counts: reconcile.Counts{Added: 1}},
		{ID: "c", RunID: "run-2", Operation: "firewall.bulk", Kind: "firewall", Timestamp: at(5), Success: true},
		{ID: "d", Operation: "backup-restore", Kind: "vlan", Timestamp: at(3), Success: true},
	}

	runs := Runs(events)
	if len(runs) != 3 {
		t.Fatalf("Runs = %d, want 3", len(runs))
	}
	if runs[0].RunID != "run-2" || runs[1].RunID != "d" || runs[2].RunID != "run-1" {
		t.Errorf("run order = %s, %s, %s", runs[0].RunID, runs[1].RunID, runs[2].RunID)
	}
	r := runs[2]
	if r.Scopes != 2 || r.Done != 1 || r.Failed != 1 || r.Reasons["apply-rejected"] != 1 || r.Counts.Added != 3 {
		t.Errorf("run-1 = %+v", r)
	}
}

func TestRecorder(t *testing.T) {
	logger, _ := newJournal(t, Rotation{})
	rec := NewRecorder(logger, "alice", "O_1", "vlan.bulk", true)

	rec.OnTransition(vlanScope, reconcile.StateFetching)
	rec.OnOutcome(&reconcile.Outcome{Scope: vlanScope, State: reconcile.StateDone})
	rec.OnOutcome(&reconcile.Outcome{Scope: firewallScope, State: reconcile.StateDone, DryRun: true})

	events, err := logger.Query(Filter{RunID: rec.RunID})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	if events[0].Org != "O_1" || !events[0].ExecuteMode {
		t.Errorf("first event = %+v", events[0])
	}
	if !events[1].DryRun {
		t.Error("dry-run outcome should be recorded as dry run")
	}
}

func TestDefaultLogger(t *testing.T) {
	SetDefaultLogger(nil)
	if err := Log(NewEvent("alice", vlanScope, "test")); err != nil {
		t.Errorf("Log with no default logger should be a no-op, got %v", err)
	}

	logger, _ := newJournal(t, Rotation{})
	SetDefaultLogger(logger)
	t.Cleanup(func() { SetDefaultLogger(nil) })

	NewRecorder(nil, "alice", "O_1", "vlan.bulk", false).OnOutcome(&reconcile.Outcome{Scope: vlanScope, State: reconcile.StateDone})

	events, err := Query(Filter{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("Expected 1 event via default logger, got %d", len(events))
	}
}
