//go:build integration

// Package testutil provides helpers for integration tests that need a live
// Redis. Start one with `docker run -d -p 6379:6379 redis:7` or point
// MERAKIMATE_TEST_REDIS_ADDR at an existing instance.
package testutil

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultRedisAddr is used when MERAKIMATE_TEST_REDIS_ADDR is unset.
const DefaultRedisAddr = "127.0.0.1:6379"

// TestDB is the Redis database integration tests write to.
const TestDB = 9

// RedisAddr returns the address of the test Redis instance (host:port).
func RedisAddr() string {
	if addr := os.Getenv("MERAKIMATE_TEST_REDIS_ADDR"); addr != "" {
		return addr
	}
	return DefaultRedisAddr
}

// SkipIfNoRedis skips the test if the test Redis instance is not reachable.
func SkipIfNoRedis(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{Addr: RedisAddr()})
	defer client.Close()

	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("test Redis not reachable at %s: %v", RedisAddr(), err)
	}
}

// RedisClient returns a client for TestDB, flushed before use and closed
// when the test ends.
func RedisClient(t *testing.T) *redis.Client {
	t.Helper()
	SkipIfNoRedis(t)

	client := redis.NewClient(&redis.Options{Addr: RedisAddr(), DB: TestDB})
	t.Cleanup(func() { client.Close() })
	if err := client.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("failed to flush DB %d: %v", TestDB, err)
	}
	return client
}

// KeyCount returns the number of keys in TestDB.
func KeyCount(t *testing.T, client *redis.Client) int {
	t.Helper()
	n, err := client.DBSize(context.Background()).Result()
	if err != nil {
		t.Fatalf("failed to get key count: %v", err)
	}
	return int(n)
}

// Context returns a context with a reasonable timeout for tests.
// The cancel function is registered via t.Cleanup.
func Context(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// WaitForRedis waits until Redis is ready, up to timeout.
func WaitForRedis(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		client := redis.NewClient(&redis.Options{Addr: RedisAddr()})
		err := client.Ping(ctx).Err()
		client.Close()
		cancel()
		if err == nil {
			return nil
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("Redis not ready after %v", timeout)
}
