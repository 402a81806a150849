// Package backup writes immutable, timestamped snapshots of a scope's
// remote state before the reconciler mutates it, and reads them back for
// inspection and restore.
//
// Snapshots are stored as JSON objects keyed
//
//	<kind>/<scope-id>_<YYYYMMDDTHHMMSSZ>[_<n>].json
//
// where the scope id is sanitized to [A-Za-z0-9-] and n is a counter that
// separates snapshots taken within the same UTC second.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/merakimate/merakimate/pkg/blob"
	"github.com/merakimate/merakimate/pkg/reconcile"
	"github.com/merakimate/merakimate/pkg/util"
)

// TimeLayout is the UTC timestamp embedded in every snapshot key.
const TimeLayout = "20060102T150405Z"

// maxCollisions bounds the counter search within one second.
const maxCollisions = 1000

// FormatVersion is written into every snapshot.
const FormatVersion = 1

// Snapshot is the stored form of a scope's pre-change state.
type Snapshot struct {
	Version   int                `json:"version"`
	Handle    string             `json:"handle"`
	Scope     reconcile.Scope    `json:"scope"`
	FetchedAt time.Time          `json:"fetched_at"`
	SavedAt   time.Time          `json:"saved_at"`
	Records   []reconcile.Record `json:"records"`
	Document  any                `json:"document"`
}

// State returns the snapshot as the reconciler's existing-state value.
func (s *Snapshot) State() *reconcile.ExistingState {
	return &reconcile.ExistingState{
		Scope:     s.Scope,
		Records:   s.Records,
		Document:  s.Document,
		FetchedAt: s.FetchedAt,
	}
}

// Meta is the listing form of a snapshot, parsed from its key.
type Meta struct {
	Handle  string         `json:"handle"`
	Kind    reconcile.Kind `json:"kind"`
	Name    string         `json:"scope"`
	Taken   time.Time      `json:"taken"`
	Seq     int            `json:"seq,omitempty"`
	Size    int64          `json:"size_bytes"`
	Written time.Time      `json:"written"`
}

// Store implements reconcile.Backuper over a blob.Store.
type Store struct {
	blobs blob.Store
	now   func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the wall clock used for snapshot names.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New wraps blobs.
func New(blobs blob.Store, opts ...Option) *Store {
	s := &Store{blobs: blobs, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Blobs returns the underlying store.
func (s *Store) Blobs() blob.Store { return s.blobs }

// Close closes the underlying store.
func (s *Store) Close() error { return s.blobs.Close() }

// Key returns the snapshot key for scope at t with collision counter seq.
func Key(scope reconcile.Scope, t time.Time, seq int) string {
	name := util.SanitizeName(scope.ID) + "_" + t.UTC().Format(TimeLayout)
	if seq > 0 {
		name += "_" + strconv.Itoa(seq)
	}
	return path.Join(string(scope.Kind), name+".json")
}

// Save writes state and returns its handle. Any failure is a
// *util.StorageError; the caller must not mutate the scope in that case.
func (s *Store) Save(ctx context.Context, scope reconcile.Scope, state *reconcile.ExistingState) (string, error) {
	if state == nil {
		return "", util.NewStorageError("save", scope.String(), errors.New("nil state"))
	}
	saved := s.now().UTC()
	snap := Snapshot{
		Version:   FormatVersion,
		Scope:     scope,
		FetchedAt: state.FetchedAt,
		SavedAt:   saved,
		Records:   state.Records,
		Document:  state.Document,
	}
	if snap.Records == nil {
		snap.Records = []reconcile.Record{}
	}

	for seq := 0; seq < maxCollisions; seq++ {
		key := Key(scope, saved, seq)
		snap.Handle = key
		data, err := json.MarshalIndent(&snap, "", "  ")
		if err != nil {
			return "", util.NewStorageError("encode", key, err)
		}
		if _, err := s.blobs.Put(ctx, key, append(data, '\n')); err != nil {
			if errors.Is(err, util.ErrAlreadyExists) {
				continue
			}
			return "", util.NewStorageError("put", key, err)
		}
		util.WithScope(string(scope.Kind), scope.ID).WithField("snapshot", key).Debug("snapshot saved")
		return key, nil
	}
	return "", util.NewStorageError("put", Key(scope, saved, 0),
		fmt.Errorf("%d snapshots in one second", maxCollisions))
}

// Load reads the snapshot stored under handle. Numbers in the document
// are kept as json.Number so a restore sends them back unchanged.
func (s *Store) Load(ctx context.Context, handle string) (*Snapshot, error) {
	data, err := s.blobs.Get(ctx, handle)
	if err != nil {
		if errors.Is(err, util.ErrNotFound) {
			return nil, fmt.Errorf("snapshot %s: %w", handle, util.ErrNotFound)
		}
		return nil, util.NewStorageError("get", handle, err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var snap Snapshot
	if err := dec.Decode(&snap); err != nil {
		return nil, util.NewStorageError("decode", handle, err)
	}
	if snap.Handle == "" {
		snap.Handle = handle
	}
	return &snap, nil
}

// List returns snapshot metadata, oldest first. An empty kind lists all.
func (s *Store) List(ctx context.Context, kind reconcile.Kind) ([]Meta, error) {
	prefix := ""
	if kind != "" {
		prefix = string(kind) + "/"
	}
	infos, err := s.blobs.List(ctx, prefix)
	if err != nil {
		return nil, util.NewStorageError("list", prefix, err)
	}
	metas := make([]Meta, 0, len(infos))
	for _, info := range infos {
		m, ok := ParseHandle(info.Key)
		if !ok {
			continue
		}
		m.Size = info.Size
		m.Written = info.LastModified
		metas = append(metas, m)
	}
	sort.SliceStable(metas, func(i, j int) bool {
		if !metas[i].Taken.Equal(metas[j].Taken) {
			return metas[i].Taken.Before(metas[j].Taken)
		}
		return metas[i].Seq < metas[j].Seq
	})
	return metas, nil
}

// ParseHandle splits a snapshot key into its parts.
func ParseHandle(handle string) (Meta, bool) {
	dir, file := path.Split(handle)
	if dir == "" || !strings.HasSuffix(file, ".json") {
		return Meta{}, false
	}
	parts := strings.Split(strings.TrimSuffix(file, ".json"), "_")
	if len(parts) < 2 || len(parts) > 3 {
		return Meta{}, false
	}
	taken, err := time.Parse(TimeLayout, parts[1])
	if err != nil {
		return Meta{}, false
	}
	m := Meta{
		Handle: handle,
		Kind:   reconcile.Kind(strings.TrimSuffix(dir, "/")),
		Name:   parts[0],
		Taken:  taken,
	}
	if len(parts) == 3 {
		seq, err := strconv.Atoi(parts[2])
		if err != nil {
			return Meta{}, false
		}
		m.Seq = seq
	}
	return m, true
}
