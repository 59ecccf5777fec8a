package testutil

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultTestRedisAddr = "localhost:6379"
	defaultTestRedisDB   = 15
)

// NewTestRedis connects to TEST_REDIS_ADDR and flushes the test database
// (TEST_REDIS_DB, default 15). The test is skipped when redis is unreachable.
func NewTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		addr = defaultTestRedisAddr
	}

	db := defaultTestRedisDB
	if s := os.Getenv("TEST_REDIS_DB"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil {
			t.Fatalf("invalid TEST_REDIS_DB: %v", err)
		}
		db = v
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: db})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		t.Skipf("skipping redis integration tests: %v", err)
	}

	if err := rdb.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("flush redis: %v", err)
	}

	t.Cleanup(func() { _ = rdb.Close() })

	return rdb
}
