// Package memory implements an in-memory blob.Store.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/merakimate/merakimate/pkg/blob"
)

type entry struct {
	info blob.Info
	data []byte
}

// Store keeps objects in process memory.
type Store struct {
	mu   sync.RWMutex
	objs map[string]entry

	// FailPuts makes every Put fail with this error.
	FailPuts error
}

// New returns an empty store.
func New() *Store { return &Store{objs: make(map[string]entry)} }

func (s *Store) Driver() blob.Driver { return blob.DriverMemory }

func (s *Store) Close() error { return nil }

// Put stores a copy of data; errors if key exists.
func (s *Store) Put(_ context.Context, key string, data []byte) (blob.Info, error) {
	k, err := blob.CleanKey(key)
	if err != nil {
		return blob.Info{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailPuts != nil {
		return blob.Info{}, s.FailPuts
	}
	if _, exists := s.objs[k]; exists {
		return blob.Info{}, blob.ErrExists(key)
	}
	info := blob.Info{Key: k, Size: int64(len(data)), LastModified: time.Now().UTC()}
	s.objs[k] = entry{info: info, data: append([]byte(nil), data...)}
	return info, nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.objs[key]
	if !ok {
		return nil, blob.ErrMissing(key)
	}
	return append([]byte(nil), e.data...), nil
}

func (s *Store) List(_ context.Context, prefix string) ([]blob.Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []blob.Info
	for k, e := range s.objs {
		if strings.HasPrefix(k, prefix) {
			out = append(out, e.info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Len returns the number of stored objects.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objs)
}
