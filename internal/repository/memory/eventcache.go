package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/kirinyoku/tix-ledger/internal/domain"
	"golang.org/x/sync/singleflight"
)

type cachedEvent struct {
	ev        domain.Event
	expiresAt time.Time
}

// EventCache is the in-process event cache. Records are versioned by their
// sold counter like the redis cache.
type EventCache struct {
	mu       sync.Mutex
	records  *lru.Cache[int64, cachedEvent]
	versions map[int64]int64
	sf       singleflight.Group
	now      func() time.Time
}

func NewEventCache(size int) *EventCache {
	if size <= 0 {
		size = 1024
	}

	records, _ := lru.New[int64, cachedEvent](size)

	return &EventCache{
		records:  records,
		versions: make(map[int64]int64),
		now:      time.Now,
	}
}

func (c *EventCache) CachedEvent(_ context.Context, id int64) (domain.Event, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records.Get(id)
	if !ok {
		return domain.Event{}, false, nil
	}

	if !c.now().Before(rec.expiresAt) {
		c.records.Remove(id)
		return domain.Event{}, false, nil
	}

	return rec.ev, true, nil
}

func (c *EventCache) LoadEvent(
	ctx context.Context,
	id int64,
	ttl time.Duration,
	load func(ctx context.Context) (domain.Event, error),
) (domain.Event, error) {
	if ev, ok, _ := c.CachedEvent(ctx, id); ok {
		return ev, nil
	}

	v, err, _ := c.sf.Do(strconv.FormatInt(id, 10), func() (any, error) {
		ev, err := load(ctx)
		if err != nil {
			return domain.Event{}, err
		}

		c.put(ev, ttl, false)

		return ev, nil
	})
	if err != nil {
		return domain.Event{}, err
	}

	return v.(domain.Event), nil
}

func (c *EventCache) StoreEvent(_ context.Context, ev domain.Event, ttl time.Duration) error {
	c.put(ev, ttl, true)
	return nil
}

func (c *EventCache) InvalidateEvent(_ context.Context, id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.records.Remove(id)
	return nil
}

// put stores ev unless a newer version was committed. committed raises
// the version floor.
func (c *EventCache) put(ev domain.Event, ttl time.Duration, committed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if floor, ok := c.versions[ev.ID]; ok && ev.SoldTickets < floor {
		return
	}

	if committed {
		c.versions[ev.ID] = ev.SoldTickets
	}

	c.records.Add(ev.ID, cachedEvent{ev: ev, expiresAt: c.now().Add(ttl)})
}
