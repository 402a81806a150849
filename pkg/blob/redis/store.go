// Package redis stores blobs as Redis hashes under a key namespace.
//
// Each object is one hash at "<namespace>|<key>" with fields "data",
// "size" and "created_at". Creation goes through HSETNX on "data" so a second Put
// of the same key is refused by the server.
package redis

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/merakimate/merakimate/pkg/blob"
)

// DefaultNamespace prefixes every key when Config.Namespace is empty.
const DefaultNamespace = "merakimate:backup"

// Config holds connection parameters.
type Config struct {
	Addr      string
	Password  string
	DB        int
	Namespace string
}

// Store implements blob.Store on a Redis database.
type Store struct {
	client *redis.Client
	ns     string
	now    func() time.Time
}

// New connects to Redis and verifies the connection with PING.
func New(ctx context.Context, cfg Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return NewWithClient(client, cfg.Namespace), nil
}

// NewWithClient wraps an existing client. The store takes ownership and
// closes it on Close.
func NewWithClient(client *redis.Client, namespace string) *Store {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Store{client: client, ns: namespace, now: time.Now}
}

func (s *Store) Driver() blob.Driver { return blob.DriverRedis }

func (s *Store) Close() error { return s.client.Close() }

func (s *Store) redisKey(key string) (string, error) {
	k, err := blob.CleanKey(key)
	if err != nil {
		return "", err
	}
	return s.ns + "|" + k, nil
}

func (s *Store) Put(ctx context.Context, key string, data []byte) (blob.Info, error) {
	rk, err := s.redisKey(key)
	if err != nil {
		return blob.Info{}, err
	}
	ok, err := s.client.HSetNX(ctx, rk, "data", data).Result()
	if err != nil {
		return blob.Info{}, err
	}
	if !ok {
		return blob.Info{}, blob.ErrExists(key)
	}
	created := s.now().UTC()
	if err := s.client.HSet(ctx, rk,
		"size", len(data),
		"created_at", created.Format(time.RFC3339Nano),
	).Err(); err != nil {
		return blob.Info{}, err
	}
	return blob.Info{Key: key, Size: int64(len(data)), LastModified: created}, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	rk, err := s.redisKey(key)
	if err != nil {
		return nil, err
	}
	data, err := s.client.HGet(ctx, rk, "data").Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, blob.ErrMissing(key)
	}
	return data, err
}

func (s *Store) List(ctx context.Context, prefix string) ([]blob.Info, error) {
	keys, err := scanKeys(ctx, s.client, s.ns+"|"+prefix+"*", 100)
	if err != nil {
		return nil, err
	}
	infos := make([]blob.Info, 0, len(keys))
	for _, rk := range keys {
		vals, err := s.client.HMGet(ctx, rk, "size", "created_at").Result()
		if err != nil {
			return nil, err
		}
		info := blob.Info{Key: strings.TrimPrefix(rk, s.ns+"|")}
		if v, ok := vals[0].(string); ok {
			info.Size, _ = strconv.ParseInt(v, 10, 64)
		} else if data, err := s.client.HGet(ctx, rk, "data").Bytes(); err == nil {
			info.Size = int64(len(data))
		}
		if v, ok := vals[1].(string); ok {
			info.LastModified, _ = time.Parse(time.RFC3339Nano, v)
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

// scanKeys iterates SCAN with the given match pattern until the cursor
// returns to zero.
func scanKeys(ctx context.Context, client *redis.Client, pattern string, count int64) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := client.Scan(ctx, cursor, pattern, count).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}
