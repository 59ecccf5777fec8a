package memory

import (
	"context"
	"sync"

	"github.com/kirinyoku/tix-ledger/internal/domain"
)

const feedBuffer = 256

// Feed fans ledger changes out to in-process subscribers.
// Slow subscribers drop messages instead of blocking publishers.
type Feed struct {
	mu   sync.RWMutex
	subs map[chan domain.LedgerChange]struct{}
}

func NewFeed() *Feed {
	return &Feed{subs: make(map[chan domain.LedgerChange]struct{})}
}

func (f *Feed) PublishEventChanged(ctx context.Context, change domain.LedgerChange) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for ch := range f.subs {
		select {
		case ch <- change:
		default:
		}
	}

	return nil
}

// Subscribe calls handler for each change until ctx is done.
func (f *Feed) Subscribe(ctx context.Context, handler func(ctx context.Context, change domain.LedgerChange)) error {
	ch := make(chan domain.LedgerChange, feedBuffer)

	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		delete(f.subs, ch)
		f.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c := <-ch:
			handler(ctx, c)
		}
	}
}
