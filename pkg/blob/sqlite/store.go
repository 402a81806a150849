// Package sqlite stores blobs as rows of a single SQLite table.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/merakimate/merakimate/pkg/blob"
)

//go:embed schema.sql
var schemaSQL string

// Store implements blob.Store on a SQLite database file.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Driver() blob.Driver { return blob.DriverSQLite }

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Put(ctx context.Context, key string, data []byte) (blob.Info, error) {
	k, err := blob.CleanKey(key)
	if err != nil {
		return blob.Info{}, err
	}
	created := s.now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots (key, data, size, created_at) VALUES (?, ?, ?, ?) ON CONFLICT(key) DO NOTHING`,
		k, data, len(data), created.Format(time.RFC3339Nano))
	if err != nil {
		return blob.Info{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return blob.Info{}, err
	}
	if n == 0 {
		return blob.Info{}, blob.ErrExists(key)
	}
	return blob.Info{Key: k, Size: int64(len(data)), LastModified: created}, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	k, err := blob.CleanKey(key)
	if err != nil {
		return nil, err
	}
	var data []byte
	err = s.db.QueryRowContext(ctx, `SELECT data FROM snapshots WHERE key = ?`, k).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, blob.ErrMissing(key)
	}
	return data, err
}

func (s *Store) List(ctx context.Context, prefix string) ([]blob.Info, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, size, created_at FROM snapshots WHERE substr(key, 1, ?) = ? ORDER BY key`,
		len(prefix), prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var infos []blob.Info
	for rows.Next() {
		var info blob.Info
		var created string
		if err := rows.Scan(&info.Key, &info.Size, &created); err != nil {
			return nil, err
		}
		info.LastModified, _ = time.Parse(time.RFC3339Nano, strings.TrimSpace(created))
		infos = append(infos, info)
	}
	return infos, rows.Err()
}
