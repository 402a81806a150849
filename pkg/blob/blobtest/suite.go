// Package blobtest holds the behaviour every blob.Store driver must share.
package blobtest

import (
	"context"
	"errors"
	"testing"

	"github.com/merakimate/merakimate/pkg/blob"
	"github.com/merakimate/merakimate/pkg/util"
)

// Run exercises create-only Put, Get, and prefix List against s, which
// must start empty.
func Run(t *testing.T, s blob.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("put and get", func(t *testing.T) {
		info, err := s.Put(ctx, "vlan/N_1_20260101T000000Z.json", []byte(`{"a":1}`))
		if err != nil {
			t.Fatalf("Put: %v", err)
		}
		if info.Size != 7 {
			t.Errorf("Size = %d, want 7", info.Size)
		}
		got, err := s.Get(ctx, "vlan/N_1_20260101T000000Z.json")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if string(got) != `{"a":1}` {
			t.Errorf("Get = %q", got)
		}
	})

	t.Run("put is create-only", func(t *testing.T) {
		_, err := s.Put(ctx, "vlan/N_1_20260101T000000Z.json", []byte(`{"a":2}`))
		if !errors.Is(err, util.ErrAlreadyExists) {
			t.Fatalf("second Put error = %v, want ErrAlreadyExists", err)
		}
		got, _ := s.Get(ctx, "vlan/N_1_20260101T000000Z.json")
		if string(got) != `{"a":1}` {
			t.Errorf("object replaced: %q", got)
		}
	})

	t.Run("get missing", func(t *testing.T) {
		_, err := s.Get(ctx, "vlan/none.json")
		if !errors.Is(err, util.ErrNotFound) {
			t.Errorf("Get missing error = %v, want ErrNotFound", err)
		}
	})

	t.Run("list by prefix", func(t *testing.T) {
		for _, k := range []string{"vlan/N_2_20260101T000000Z.json", "firewall/N_1-l3_20260101T000000Z.json"} {
			if _, err := s.Put(ctx, k, []byte("{}")); err != nil {
				t.Fatalf("Put %s: %v", k, err)
			}
		}
		infos, err := s.List(ctx, "vlan/")
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(infos) != 2 {
			t.Fatalf("List = %d entries, want 2: %+v", len(infos), infos)
		}
		if infos[0].Key != "vlan/N_1_20260101T000000Z.json" || infos[1].Key != "vlan/N_2_20260101T000000Z.json" {
			t.Errorf("List order = %s, %s", infos[0].Key, infos[1].Key)
		}
		if infos[0].Size != 7 || infos[1].Size != 2 {
			t.Errorf("List sizes = %d, %d, want 7, 2", infos[0].Size, infos[1].Size)
		}
		all, err := s.List(ctx, "")
		if err != nil {
			t.Fatalf("List all: %v", err)
		}
		if len(all) != 3 {
			t.Errorf("List all = %d entries, want 3", len(all))
		}
	})

	t.Run("rejects traversal", func(t *testing.T) {
		if _, err := s.Put(ctx, "../escape.json", []byte("{}")); err == nil {
			t.Error("Put accepted traversal key")
		}
	})
}
