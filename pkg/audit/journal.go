package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/merakimate/merakimate/pkg/util"
)

// Logger stores outcome events and answers queries over them.
type Logger interface {
	Log(event *Event) error
	Query(filter Filter) ([]*Event, error)
	Close() error
}

// Rotation bounds the journal on disk. The live file is renamed to
// "<path>.1" once it reaches MaxBytes and older generations shift up;
// generations beyond Keep are removed.
type Rotation struct {
	MaxBytes int64
	Keep     int
}

// RotationMB converts the settings units.
func RotationMB(maxMB, keep int) Rotation {
	return Rotation{MaxBytes: int64(maxMB) << 20, Keep: keep}
}

// Journal is a JSON-lines Logger. Each Log opens the file for append so
// several processes can share one journal between rotations.
type Journal struct {
	path     string
	rotation Rotation

	mu sync.Mutex
}

var _ Logger = (*Journal)(nil)

// Open prepares a journal at path, creating its directory.
func Open(path string, rotation Rotation) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}
	return &Journal{path: path, rotation: rotation}, nil
}

// Path is the live journal file.
func (j *Journal) Path() string { return j.path }

func (j *Journal) Log(event *Event) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding audit event: %w", err)
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.rotateIfFull(); err != nil {
		return fmt.Errorf("rotating audit journal: %w", err)
	}
	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening audit journal: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (j *Journal) generation(n int) string {
	if n == 0 {
		return j.path
	}
	return fmt.Sprintf("%s.%d", j.path, n)
}

func (j *Journal) rotateIfFull() error {
	if j.rotation.MaxBytes <= 0 {
		return nil
	}
	st, err := os.Stat(j.path)
	if err != nil || st.Size() < j.rotation.MaxBytes {
		return nil
	}
	keep := j.rotation.Keep
	if keep < 1 {
		return os.Remove(j.path)
	}
	os.Remove(j.generation(keep))
	for n := keep - 1; n >= 0; n-- {
		if err := os.Rename(j.generation(n), j.generation(n+1)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// Query returns the matching events oldest first, reading rotated
// generations before the live file. Limit keeps the newest events.
func (j *Journal) Query(filter Filter) ([]*Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var out []*Event
	for n := j.rotation.Keep; n >= 0; n-- {
		events, err := readJournal(j.generation(n), filter)
		if err != nil {
			return nil, err
		}
		out = append(out, events...)
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Timestamp.Before(out[b].Timestamp) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[len(out)-filter.Limit:]
	}
	return out, nil
}

func readJournal(path string, filter Filter) ([]*Event, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []*Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for line := 1; sc.Scan(); line++ {
		var e Event
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			util.Warnf("audit: %s:%d: %v", filepath.Base(path), line, err)
			continue
		}
		if filter.Match(&e) {
			out = append(out, &e)
		}
	}
	return out, sc.Err()
}

func (j *Journal) Close() error { return nil }

var (
	defaultMu     sync.RWMutex
	defaultLogger Logger
)

// SetDefaultLogger installs the logger used by Log, Query and recorders
// without their own.
func SetDefaultLogger(l Logger) {
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

func current() Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// Log writes to the default logger; without one it does nothing.
func Log(event *Event) error {
	if l := current(); l != nil {
		return l.Log(event)
	}
	return nil
}

// Query reads from the default logger.
func Query(filter Filter) ([]*Event, error) {
	if l := current(); l != nil {
		return l.Query(filter)
	}
	return nil, nil
}
