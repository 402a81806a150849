//go:build integration

package redis

import (
	"testing"

	"github.com/merakimate/merakimate/internal/testutil"
	"github.com/merakimate/merakimate/pkg/blob/blobtest"
)

func TestStore(t *testing.T) {
	client := testutil.RedisClient(t)
	s := NewWithClient(client, "merakimate:test")
	blobtest.Run(t, s)

	if n := testutil.KeyCount(t, client); n != 3 {
		t.Errorf("KeyCount = %d, want 3", n)
	}
}
