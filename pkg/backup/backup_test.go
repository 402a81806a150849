package backup

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/merakimate/merakimate/pkg/blob"
	"github.com/merakimate/merakimate/pkg/blob/fs"
	"github.com/merakimate/merakimate/pkg/blob/memory"
	"github.com/merakimate/merakimate/pkg/reconcile"
	"github.com/merakimate/merakimate/pkg/util"
)

var testTime = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func fixedClock() time.Time { return testTime }

func vpnState() *reconcile.ExistingState {
	doc := map[string]any{
		"custom": []any{map[string]any{"protocol": "any", "destination": "10.0.0.1", "port": "any"}},
	}
	doc["majorApplications"] = []any{}
	return &reconcile.ExistingState{
		Scope:     reconcile.Scope{Kind: reconcile.KindVpnExclusion, ID: "L_123"},
		Records:   []reconcile.Record{{"protocol": "any", "destination": "10.0.0.1", "port": "any"}},
		Document:  doc,
		FetchedAt: testTime.Add(-time.Second),
	}
}

func TestKey(t *testing.T) {
	tests := []struct {
		name  string
		scope reconcile.Scope
		seq   int
		want  string
	}{
		{"network", reconcile.Scope{Kind: reconcile.KindVLAN, ID: "L_123"}, 0, "vlan/L-123_20260314T092653Z.json"},
		{"vlan scope", reconcile.Scope{Kind: reconcile.KindDHCP, ID: "L_123/10"}, 0, "dhcp/L-123-10_20260314T092653Z.json"},
		{"collision", reconcile.Scope{Kind: reconcile.KindVLAN, ID: "N1"}, 2, "vlan/N1_20260314T092653Z_2.json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Key(tt.scope, testTime, tt.seq); got != tt.want {
				t.Errorf("Key() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSaveLoad(t *testing.T) {
	s := New(memory.New(), WithClock(fixedClock))
	ctx := context.Background()
	state := vpnState()

	handle, err := s.Save(ctx, state.Scope, state)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if handle != "vpn-exclusion/L-123_20260314T092653Z.json" {
		t.Errorf("handle = %q", handle)
	}

	snap, err := s.Load(ctx, handle)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.Scope != state.Scope {
		t.Errorf("Scope = %v, want %v", snap.Scope, state.Scope)
	}
	if snap.Version != FormatVersion || snap.Handle != handle {
		t.Errorf("Version/Handle = %d/%q", snap.Version, snap.Handle)
	}
	if !snap.SavedAt.Equal(testTime) || !snap.FetchedAt.Equal(state.FetchedAt) {
		t.Errorf("times = %v / %v", snap.SavedAt, snap.FetchedAt)
	}
	if len(snap.Records) != 1 || snap.Records[0]["destination"] != "10.0.0.1" {
		t.Errorf("Records = %v", snap.Records)
	}
	doc, ok := snap.Document.(map[string]any)
	if !ok {
		t.Fatalf("Document type = %T", snap.Document)
	}
	if _, ok := doc["majorApplications"]; !ok {
		t.Errorf("Document lost majorApplications: %v", doc)
	}
}

func TestSaveSameSecondAddsCounter(t *testing.T) {
	s := New(memory.New(), WithClock(fixedClock))
	ctx := context.Background()
	state := vpnState()

	var handles []string
	for i := 0; i < 3; i++ {
		h, err := s.Save(ctx, state.Scope, state)
		if err != nil {
			t.Fatalf("Save %d: %v", i, err)
		}
		handles = append(handles, h)
	}
	want := []string{
		"vpn-exclusion/L-123_20260314T092653Z.json",
		"vpn-exclusion/L-123_20260314T092653Z_1.json",
		"vpn-exclusion/L-123_20260314T092653Z_2.json",
	}
	for i := range want {
		if handles[i] != want[i] {
			t.Errorf("handle[%d] = %q, want %q", i, handles[i], want[i])
		}
	}

	metas, err := s.List(ctx, reconcile.KindVpnExclusion)
	if err != nil {
		t.Fatal(err)
	}
	if len(metas) != 3 {
		t.Fatalf("List = %d", len(metas))
	}
	for i, m := range metas {
		if m.Seq != i || m.Name != "L-123" || !m.Taken.Equal(testTime) {
			t.Errorf("meta[%d] = %+v", i, m)
		}
	}
}

func TestListOldestFirst(t *testing.T) {
	ctx := context.Background()
	clock := testTime
	s := New(memory.New(), WithClock(func() time.Time { return clock }))

	save := func(id string, at time.Time, n int) {
		t.Helper()
		clock = at
		scope := reconcile.Scope{Kind: reconcile.KindVLAN, ID: id}
		for i := 0; i < n; i++ {
			if _, err := s.Save(ctx, scope, &reconcile.ExistingState{Scope: scope}); err != nil {
				t.Fatal(err)
			}
		}
	}
	save("N_2", testTime, 1)
	save("N_1", testTime.Add(time.Hour), 1)
	save("N_3", testTime.Add(-time.Hour), 11)

	metas, err := s.List(ctx, reconcile.KindVLAN)
	if err != nil {
		t.Fatal(err)
	}
	if len(metas) != 13 {
		t.Fatalf("List = %d, want 13", len(metas))
	}
	for i := 0; i < 11; i++ {
		if metas[i].Name != "N-3" || metas[i].Seq != i {
			t.Errorf("meta[%d] = %s seq %d, want N-3 seq %d", i, metas[i].Name, metas[i].Seq, i)
		}
	}
	if metas[11].Name != "N-2" || metas[12].Name != "N-1" {
		t.Errorf("tail = %s, %s, want N-2, N-1", metas[11].Name, metas[12].Name)
	}
}

func TestSaveFailureIsStorageError(t *testing.T) {
	mem := memory.New()
	mem.FailPuts = errors.New("disk full")
	s := New(mem, WithClock(fixedClock))

	_, err := s.Save(context.Background(), vpnState().Scope, vpnState())
	if !errors.Is(err, util.ErrStorage) {
		t.Fatalf("err = %v, want ErrStorage", err)
	}
	var se *util.StorageError
	if !errors.As(err, &se) || se.Op != "put" {
		t.Errorf("StorageError = %+v", se)
	}
}

func TestLoadMissing(t *testing.T) {
	s := New(memory.New())
	_, err := s.Load(context.Background(), "vlan/nope_20260101T000000Z.json")
	if !errors.Is(err, util.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestLoadKeepsNumbers(t *testing.T) {
	s := New(memory.New(), WithClock(fixedClock))
	ctx := context.Background()
	state := &reconcile.ExistingState{
		Scope:    reconcile.Scope{Kind: reconcile.KindVLAN, ID: "N1"},
		Document: []any{map[string]any{"id": json.Number("10"), "dhcpLeaseTime": "1 day"}},
	}
	h, err := s.Save(ctx, state.Scope, state)
	if err != nil {
		t.Fatal(err)
	}
	snap, err := s.Load(ctx, h)
	if err != nil {
		t.Fatal(err)
	}
	vlans := snap.Document.([]any)
	if id := vlans[0].(map[string]any)["id"]; id != json.Number("10") {
		t.Errorf("id = %#v, want json.Number(10)", id)
	}
	if snap.Records == nil {
		t.Error("Records decoded as nil, want empty")
	}
}

func TestParseHandle(t *testing.T) {
	tests := []struct {
		handle string
		ok     bool
		seq    int
	}{
		{"vlan/N1_20260314T092653Z.json", true, 0},
		{"vlan/N1_20260314T092653Z_7.json", true, 7},
		{"vlan/N1.json", false, 0},
		{"N1_20260314T092653Z.json", false, 0},
		{"vlan/N1_20260314T092653Z_x.json", false, 0},
		{"vlan/N1_20260314T092653Z.txt", false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.handle, func(t *testing.T) {
			m, ok := ParseHandle(tt.handle)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && (m.Seq != tt.seq || m.Kind != reconcile.KindVLAN) {
				t.Errorf("meta = %+v", m)
			}
		})
	}
}

func TestFSSnapshotOnDisk(t *testing.T) {
	dir := t.TempDir()
	blobs, err := fs.New(dir)
	if err != nil {
		t.Fatal(err)
	}
	s := New(blobs, WithClock(fixedClock))
	state := vpnState()

	h, err := s.Save(context.Background(), state.Scope, state)
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(h)))
	if err != nil {
		t.Fatalf("reading snapshot file: %v", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("snapshot is not JSON: %v", err)
	}
	if snap.Scope.ID != "L_123" {
		t.Errorf("Scope.ID = %q", snap.Scope.ID)
	}
}

func TestOpenMemory(t *testing.T) {
	s, err := Open(context.Background(), Options{Driver: blob.DriverMemory})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if s.Blobs().Driver() != blob.DriverMemory {
		t.Errorf("Driver = %s", s.Blobs().Driver())
	}
}

func TestOpenSQLite(t *testing.T) {
	s, err := Open(context.Background(), Options{
		Driver:     blob.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "b.db"),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if _, err := s.Save(context.Background(), vpnState().Scope, vpnState()); err != nil {
		t.Errorf("Save: %v", err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), Options{Driver: "tape"}); err == nil {
		t.Error("Open accepted unknown driver")
	}
}
