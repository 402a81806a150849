package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/merakimate/merakimate/pkg/blob/blobtest"
)

func TestStore(t *testing.T) {
	blobtest.Run(t, New())
}

func TestFailPuts(t *testing.T) {
	s := New()
	boom := errors.New("disk full")
	s.FailPuts = boom
	if _, err := s.Put(context.Background(), "vlan/N_1.json", []byte("{}")); !errors.Is(err, boom) {
		t.Errorf("Put error = %v, want %v", err, boom)
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d after failed put", s.Len())
	}
}
