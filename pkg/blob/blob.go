// Package blob defines the create-only key/value store that backup
// snapshots are written to, and the driver names used to select one.
package blob

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/merakimate/merakimate/pkg/util"
)

// Driver identifies a blob store implementation.
type Driver string

const (
	DriverFS     Driver = "fs"     // local directory (default)
	DriverMemory Driver = "memory" // process memory (tests, dry runs)
	DriverS3     Driver = "s3"     // S3 / MinIO compatible bucket
	DriverRedis  Driver = "redis"  // Redis keys
	DriverSQLite Driver = "sqlite" // single-table SQLite file
)

// ParseDriver validates a driver name. Empty selects DriverFS.
func ParseDriver(s string) (Driver, error) {
	switch d := Driver(strings.ToLower(strings.TrimSpace(s))); d {
	case "":
		return DriverFS, nil
	case DriverFS, DriverMemory, DriverS3, DriverRedis, DriverSQLite:
		return d, nil
	}
	return "", fmt.Errorf("%w: unknown backup driver %q", util.ErrInvalidConfig, s)
}

// Info describes a stored object.
type Info struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size_bytes"`
	LastModified time.Time `json:"last_modified"`
}

// Store persists immutable objects. Put never replaces an existing key:
// it fails with an error wrapping util.ErrAlreadyExists. Get of a missing
// key fails with util.ErrNotFound. List returns objects sorted by key.
type Store interface {
	Put(ctx context.Context, key string, data []byte) (Info, error)
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]Info, error)
	Driver() Driver
	Close() error
}

// CleanKey rejects keys that are empty, absolute or escape the store root.
func CleanKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("empty key")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", fmt.Errorf("invalid key %q", key)
	}
	clean := path.Clean(key)
	if clean == ".." || strings.HasPrefix(clean, "../") || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid key %q: traversal", key)
	}
	return clean, nil
}

// ErrExists returns the create-only violation for key.
func ErrExists(key string) error {
	return fmt.Errorf("blob %s: %w", key, util.ErrAlreadyExists)
}

// ErrMissing returns the not-found error for key.
func ErrMissing(key string) error {
	return fmt.Errorf("blob %s: %w", key, util.ErrNotFound)
}
