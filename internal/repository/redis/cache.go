package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kirinyoku/tix-ledger/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// versionTTL outlives any cached record so a late fill still sees the
// newest committed version.
const versionTTL = 24 * time.Hour

// Fill from a storage read. Refused when a newer version was committed.
// KEYS[1] = record key
// KEYS[2] = version key
// ARGV[1] = record json
// ARGV[2] = version
// ARGV[3] = record ttl ms
const luaFillEvent = `
local floor = tonumber(redis.call('GET', KEYS[2]) or '-1')
if tonumber(ARGV[2]) < floor then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`

// Write-through after a commit. Raises the version floor.
// KEYS[1] = record key
// KEYS[2] = version key
// ARGV[1] = record json
// ARGV[2] = version
// ARGV[3] = record ttl ms
// ARGV[4] = version ttl ms
const luaStoreEvent = `
local floor = tonumber(redis.call('GET', KEYS[2]) or '-1')
if tonumber(ARGV[2]) < floor then
  return 0
end
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[4])
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`

// EventCache keeps event records in redis. The sold counter only grows, so
// it versions each record: a write carrying fewer sold tickets than the
// last committed write is dropped.
type EventCache struct {
	rdb   *redis.Client
	sf    singleflight.Group
	fill  *redis.Script
	store *redis.Script
}

func NewEventCache(client *redis.Client) *EventCache {
	return &EventCache{
		rdb:   client,
		fill:  redis.NewScript(luaFillEvent),
		store: redis.NewScript(luaStoreEvent),
	}
}

// CachedEvent returns the cached record for id, if any.
func (c *EventCache) CachedEvent(ctx context.Context, id int64) (domain.Event, bool, error) {
	const op = "repository.redis.EventCache.CachedEvent"

	raw, err := c.rdb.Get(ctx, KeyEvent(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Event{}, false, nil
	}

	if err != nil {
		return domain.Event{}, false, fmt.Errorf("%s:%w", op, err)
	}

	var ev domain.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return domain.Event{}, false, fmt.Errorf("%s:%w", op, err)
	}

	return ev, true, nil
}

// LoadEvent returns the cached record or reads it with load and fills the
// cache. Concurrent misses on one id share a single read. Redis failures
// fall through to load.
func (c *EventCache) LoadEvent(
	ctx context.Context,
	id int64,
	ttl time.Duration,
	load func(ctx context.Context) (domain.Event, error),
) (domain.Event, error) {
	if ev, ok, err := c.CachedEvent(ctx, id); err == nil && ok {
		return ev, nil
	}

	v, err, _ := c.sf.Do(KeyEvent(id), func() (any, error) {
		ev, err := load(ctx)
		if err != nil {
			return domain.Event{}, err
		}

		_ = c.write(ctx, c.fill, ev, ttl)

		return ev, nil
	})
	if err != nil {
		return domain.Event{}, err
	}

	return v.(domain.Event), nil
}

// StoreEvent writes a committed record through to the cache.
func (c *EventCache) StoreEvent(ctx context.Context, ev domain.Event, ttl time.Duration) error {
	const op = "repository.redis.EventCache.StoreEvent"

	if err := c.write(ctx, c.store, ev, ttl); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}

// InvalidateEvent drops the record and keeps its version floor.
func (c *EventCache) InvalidateEvent(ctx context.Context, id int64) error {
	return c.rdb.Del(ctx, KeyEvent(id)).Err()
}

func (c *EventCache) write(ctx context.Context, script *redis.Script, ev domain.Event, ttl time.Duration) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	return script.Run(ctx, c.rdb,
		[]string{KeyEvent(ev.ID), KeyEventVersion(ev.ID)},
		raw, ev.SoldTickets, ttl.Milliseconds(), versionTTL.Milliseconds(),
	).Err()
}
