package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/kirinyoku/tix-ledger/internal/domain"
	"github.com/kirinyoku/tix-ledger/internal/repository"
)

type eventEntry struct {
	// writeMu is the row lock: held by a reserving transaction until it ends.
	writeMu sync.Mutex

	mu        sync.RWMutex
	committed domain.Event
}

func (e *eventEntry) snapshot() domain.Event {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.committed
}

func (e *eventEntry) publish(ev domain.Event) {
	e.mu.Lock()
	e.committed = ev
	e.mu.Unlock()
}

type EventRepo struct {
	s *Store
}

// CreateEvent appends the event with the next sequential id. Ids are
// allocated immediately, even inside a transaction.
func (r *EventRepo) CreateEvent(ctx context.Context, in domain.NewEvent) (*domain.Event, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	ev := domain.Event{
		ID:           int64(len(r.s.events)),
		Name:         in.Name,
		BasePrice:    in.BasePrice,
		TotalTickets: in.TotalTickets,
		CreatedAt:    r.s.now(),
	}

	r.s.events = append(r.s.events, &eventEntry{committed: ev})

	return &ev, nil
}

func (r *EventRepo) GetEvent(ctx context.Context, id int64) (*domain.Event, error) {
	const op = "memory.EventRepo.GetEvent"

	e, err := r.entry(id)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	ev := e.snapshot()
	return &ev, nil
}

func (r *EventRepo) ListEvents(ctx context.Context, limit, offset int) ([]domain.Event, error) {
	r.s.mu.RLock()
	entries := r.s.events
	r.s.mu.RUnlock()

	if offset >= len(entries) {
		return []domain.Event{}, nil
	}

	entries = entries[offset:]
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}

	out := make([]domain.Event, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.snapshot())
	}

	return out, nil
}

func (r *EventRepo) CountEvents(ctx context.Context) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return int64(len(r.s.events)), nil
}

// ReserveTickets adds quantity to the sold counter when capacity allows.
func (r *EventRepo) ReserveTickets(ctx context.Context, id, quantity int64) (*domain.Event, error) {
	const op = "memory.EventRepo.ReserveTickets"

	e, err := r.entry(id)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	t, inTx := txFrom(ctx)
	if !inTx {
		e.writeMu.Lock()
		defer e.writeMu.Unlock()

		ev := e.snapshot()
		if quantity > ev.Remaining() {
			return nil, fmt.Errorf("%s:%w", op, repository.ErrSoldOut)
		}

		ev.SoldTickets += quantity
		e.publish(ev)

		return &ev, nil
	}

	ev, held := t.held[e]
	if !held {
		e.writeMu.Lock()
		t.releases = append(t.releases, e.writeMu.Unlock)
		t.commits = append(t.commits, func() { e.publish(t.held[e]) })
		ev = e.snapshot()
	}

	if quantity > ev.Remaining() {
		t.held[e] = ev
		return nil, fmt.Errorf("%s:%w", op, repository.ErrSoldOut)
	}

	ev.SoldTickets += quantity
	t.held[e] = ev

	return &ev, nil
}

func (r *EventRepo) entry(id int64) (*eventEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	if id < 0 || id >= int64(len(r.s.events)) {
		return nil, repository.ErrNotFound
	}

	return r.s.events[id], nil
}
