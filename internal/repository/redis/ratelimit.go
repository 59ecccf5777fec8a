package redis

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Sliding window over a sorted set of hit timestamps.
// KEYS[1] = key
// ARGV[1] = now_ms
// ARGV[2] = window_ms
// ARGV[3] = limit
// ARGV[4] = member (unique)
// Rejected hits are not recorded, so a blocked caller recovers once the
// window slides past its earlier hits.
const luaSlidingWindow = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local count = redis.call('ZCARD', key)

if count >= limit then
  local earliest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  local earliestScore = tonumber(earliest[2]) or now
  local retry_ms = window - (now - earliestScore)
  if retry_ms < 0 then retry_ms = 0 end
  return {0, retry_ms}
end

redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, window)
return {1, 0}
`

type SlidingWindowLimiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
	script *redis.Script
}

func NewSlidingWindowLimiter(rdb *redis.Client, limit int, window time.Duration) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		rdb:    rdb,
		limit:  limit,
		window: window,
		script: redis.NewScript(luaSlidingWindow),
	}
}

// Allow records a hit for key and reports whether it fits in the window.
func (l *SlidingWindowLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	res, err := l.script.Run(
		ctx,
		l.rdb,
		[]string{key},
		time.Now().UnixMilli(), l.window.Milliseconds(), l.limit, randomHex(12),
	).Int64Slice()
	if err != nil {
		return false, 0, err
	}

	if len(res) != 2 {
		return false, 0, fmt.Errorf("bad script result: %v", res)
	}

	return res[0] == 1, time.Duration(res[1]) * time.Millisecond, nil
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
