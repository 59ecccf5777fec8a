package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/tix-ledger/internal/domain"
	"github.com/kirinyoku/tix-ledger/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEvent(t *testing.T, s *Store, total int64) int64 {
	t.Helper()
	ev, err := s.Events().CreateEvent(context.Background(), domain.NewEvent{Name: "Concert", BasePrice: 100, TotalTickets: total})
	require.NoError(t, err)
	return ev.ID
}

func TestEventRepo_SequentialIDs(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	for want := int64(0); want < 3; want++ {
		assert.Equal(t, want, newEvent(t, s, 1))
	}

	n, err := s.Events().CountEvents(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	_, err = s.Events().GetEvent(ctx, 3)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = s.Events().GetEvent(ctx, -1)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestEventRepo_ListEventsPaging(t *testing.T) {
	s := NewStore()
	for i := 0; i < 5; i++ {
		newEvent(t, s, 1)
	}

	got, err := s.Events().ListEvents(context.Background(), 2, 1)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.EqualValues(t, 1, got[0].ID)
	assert.EqualValues(t, 2, got[1].ID)

	got, err = s.Events().ListEvents(context.Background(), 10, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestEventRepo_ReserveTicketsCapacity(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	id := newEvent(t, s, 2)

	ev, err := s.Events().ReserveTickets(ctx, id, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 2, ev.SoldTickets)
	assert.Equal(t, domain.EventSoldOut, ev.Status())

	_, err = s.Events().ReserveTickets(ctx, id, 1)
	assert.ErrorIs(t, err, repository.ErrSoldOut)

	_, err = s.Events().ReserveTickets(ctx, 42, 1)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestEventRepo_ConcurrentReservationsNeverOversell(t *testing.T) {
	s := NewStore()
	id := newEvent(t, s, 50)

	var ok atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.RunTx(context.Background(), func(ctx context.Context) error {
				_, err := s.Events().ReserveTickets(ctx, id, 1)
				return err
			})
			if err == nil {
				ok.Add(1)
			} else {
				assert.ErrorIs(t, err, repository.ErrSoldOut)
			}
		}()
	}
	wg.Wait()

	ev, err := s.Events().GetEvent(context.Background(), id)
	require.NoError(t, err)
	assert.EqualValues(t, 50, ok.Load())
	assert.EqualValues(t, 50, ev.SoldTickets)
}

func TestRunTx_StagedWritesInvisibleUntilCommit(t *testing.T) {
	s := NewStore()
	id := newEvent(t, s, 5)

	err := s.RunTx(context.Background(), func(ctx context.Context) error {
		_, err := s.Events().ReserveTickets(ctx, id, 2)
		require.NoError(t, err)

		outside, err := s.Events().GetEvent(context.Background(), id)
		require.NoError(t, err)
		assert.EqualValues(t, 0, outside.SoldTickets)

		// a second reservation in the same transaction sees its own write
		ev, err := s.Events().ReserveTickets(ctx, id, 3)
		require.NoError(t, err)
		assert.EqualValues(t, 5, ev.SoldTickets)
		return nil
	})
	require.NoError(t, err)

	ev, err := s.Events().GetEvent(context.Background(), id)
	require.NoError(t, err)
	assert.EqualValues(t, 5, ev.SoldTickets)
}

func TestRunTx_RollbackLeavesLedgerUnchanged(t *testing.T) {
	s := NewStore()
	id := newEvent(t, s, 5)
	boom := errors.New("boom")

	p := domain.Purchase{ID: uuid.New(), EventID: id, Quantity: 2}
	err := s.RunTx(context.Background(), func(ctx context.Context) error {
		if _, err := s.Events().ReserveTickets(ctx, id, 2); err != nil {
			return err
		}
		if err := s.Purchases().AppendPurchase(ctx, p); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	ev, err := s.Events().GetEvent(context.Background(), id)
	require.NoError(t, err)
	assert.EqualValues(t, 0, ev.SoldTickets)

	_, err = s.Purchases().GetPurchase(context.Background(), p.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	// lock was released
	done := make(chan struct{})
	go func() {
		_, _ = s.Events().ReserveTickets(context.Background(), id, 1)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reservation blocked after rollback")
	}
}

func TestRunTx_PanicReleasesLocks(t *testing.T) {
	s := NewStore()
	id := newEvent(t, s, 5)

	assert.Panics(t, func() {
		_ = s.RunTx(context.Background(), func(ctx context.Context) error {
			if _, err := s.Events().ReserveTickets(ctx, id, 2); err != nil {
				return err
			}
			panic("handler bug")
		})
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		ev, err := s.Events().ReserveTickets(context.Background(), id, 1)
		if assert.NoError(t, err) {
			assert.EqualValues(t, 1, ev.SoldTickets, "panicked transaction did not commit")
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reservation blocked after a panicking transaction")
	}
}

func TestRunTx_OtherEventsNotBlocked(t *testing.T) {
	s := NewStore()
	a := newEvent(t, s, 5)
	b := newEvent(t, s, 5)

	held := make(chan struct{})
	commit := make(chan struct{})
	txDone := make(chan error, 1)
	go func() {
		txDone <- s.RunTx(context.Background(), func(ctx context.Context) error {
			if _, err := s.Events().ReserveTickets(ctx, a, 3); err != nil {
				return err
			}
			close(held)
			<-commit
			return nil
		})
	}()
	<-held

	done := make(chan struct{})
	go func() {
		defer close(done)
		ev, err := s.Events().ReserveTickets(context.Background(), b, 1)
		if assert.NoError(t, err) {
			assert.EqualValues(t, 1, ev.SoldTickets)
		}
		ev, err = s.Events().GetEvent(context.Background(), a)
		if assert.NoError(t, err) {
			assert.EqualValues(t, 0, ev.SoldTickets)
		}
		_, err = s.Events().ListEvents(context.Background(), 10, 0)
		assert.NoError(t, err)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("open transaction on one event blocked another")
	}

	close(commit)
	require.NoError(t, <-txDone)

	ev, err := s.Events().GetEvent(context.Background(), a)
	require.NoError(t, err)
	assert.EqualValues(t, 3, ev.SoldTickets)
}

func TestMemberRepo(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	a := domain.Address("0x00000000000000000000000000000000000000aa")
	b := domain.Address("0x00000000000000000000000000000000000000bb")

	v, err := s.Members().IsVerified(ctx, a)
	require.NoError(t, err)
	assert.False(t, v)

	_, err = s.Members().SetVerified(ctx, b, true)
	require.NoError(t, err)
	_, err = s.Members().SetVerified(ctx, a, true)
	require.NoError(t, err)
	_, err = s.Members().SetVerified(ctx, b, false)
	require.NoError(t, err)

	v, err = s.Members().IsVerified(ctx, a)
	require.NoError(t, err)
	assert.True(t, v)

	all, err := s.Members().ListMembers(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, a, all[0].Address)

	verified, err := s.Members().ListMembers(ctx, true)
	require.NoError(t, err)
	require.Len(t, verified, 1)
	assert.Equal(t, a, verified[0].Address)
}

func TestPurchaseRepo_ListFilters(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	alice := domain.Address("0x00000000000000000000000000000000000000aa")
	bob := domain.Address("0x00000000000000000000000000000000000000bb")

	for i, buyer := range []domain.Address{alice, bob, alice} {
		require.NoError(t, s.Purchases().AppendPurchase(ctx, domain.Purchase{
			ID: uuid.New(), EventID: int64(i % 2), Buyer: buyer, Quantity: 1,
		}))
	}

	got, err := s.Purchases().ListPurchases(ctx, domain.PurchaseFilter{Buyer: alice})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	ev := int64(1)
	got, err = s.Purchases().ListPurchases(ctx, domain.PurchaseFilter{EventID: &ev})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, bob, got[0].Buyer)

	got, err = s.Purchases().ListPurchases(ctx, domain.PurchaseFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, bob, got[0].Buyer)

	dup := got[0]
	assert.ErrorIs(t, s.Purchases().AppendPurchase(ctx, dup), repository.ErrConflict)
}

func TestIdempotencyStore(t *testing.T) {
	s := NewIdempotencyStore(16, time.Hour)
	ctx := context.Background()

	ok, err := s.AcquireLock(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.AcquireLock(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	_, found, err := s.GetResult(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found, "lock is not a result")

	require.NoError(t, s.SaveResult(ctx, "k", `{"id":"1"}`))
	payload, found, err := s.GetResult(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, `{"id":"1"}`, payload)

	require.NoError(t, s.Release(ctx, "k"))
	ok, err = s.AcquireLock(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIdempotencyStore_LockExpires(t *testing.T) {
	s := NewIdempotencyStore(16, time.Hour)
	now := time.Now()
	s.now = func() time.Time { return now }

	ok, err := s.AcquireLock(context.Background(), "k", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(2 * time.Second)
	ok, err = s.AcquireLock(context.Background(), "k", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIdempotencyStore_LockSurvivesEviction(t *testing.T) {
	s := NewIdempotencyStore(1, time.Hour)
	ctx := context.Background()

	ok, err := s.AcquireLock(ctx, "in-flight", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	for _, k := range []string{"a", "b", "c"} {
		ok, err := s.AcquireLock(ctx, k, time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, s.SaveResult(ctx, k, `{}`))
	}

	ok, err = s.AcquireLock(ctx, "in-flight", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "a retry must not run while the first request is in flight")

	_, found, err := s.GetResult(ctx, "a")
	require.NoError(t, err)
	assert.False(t, found, "results are bounded by size")

	_, found, err = s.GetResult(ctx, "c")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestEventCache_OlderWritesLose(t *testing.T) {
	c := NewEventCache(4)
	ctx := context.Background()

	sold := func(n int64) domain.Event {
		return domain.Event{ID: 1, Name: "Concert", BasePrice: 100, TotalTickets: 5, SoldTickets: n}
	}

	require.NoError(t, c.StoreEvent(ctx, sold(3), time.Minute))
	require.NoError(t, c.StoreEvent(ctx, sold(2), time.Minute))

	got, ok, err := c.CachedEvent(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 3, got.SoldTickets)

	require.NoError(t, c.InvalidateEvent(ctx, 1))
	got, err = c.LoadEvent(ctx, 1, time.Minute, func(context.Context) (domain.Event, error) { return sold(1), nil })
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.SoldTickets)

	_, ok, err = c.CachedEvent(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok, "stale read not cached")

	var loads int
	for i := 0; i < 2; i++ {
		got, err = c.LoadEvent(ctx, 1, time.Minute, func(context.Context) (domain.Event, error) {
			loads++
			return sold(3), nil
		})
		require.NoError(t, err)
		assert.EqualValues(t, 3, got.SoldTickets)
	}
	assert.Equal(t, 1, loads)
}

func TestEventCache_Expires(t *testing.T) {
	c := NewEventCache(4)
	now := time.Now()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.StoreEvent(ctx, domain.Event{ID: 0, Name: "A", TotalTickets: 1}, time.Second))
	_, ok, err := c.CachedEvent(ctx, 0)
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(2 * time.Second)
	_, ok, err = c.CachedEvent(ctx, 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFeed_DeliversToSubscribers(t *testing.T) {
	f := NewFeed()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan domain.LedgerChange, 1)
	subscribed := make(chan struct{})
	go func() {
		_ = f.Subscribe(ctx, func(_ context.Context, c domain.LedgerChange) { got <- c })
	}()
	go func() {
		for {
			f.mu.RLock()
			n := len(f.subs)
			f.mu.RUnlock()
			if n > 0 {
				close(subscribed)
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()
	<-subscribed

	require.NoError(t, f.PublishEventChanged(ctx, domain.LedgerChange{Type: domain.ChangeTicketsSold, EventID: 0}))

	select {
	case c := <-got:
		assert.Equal(t, domain.ChangeTicketsSold, c.Type)
		assert.EqualValues(t, 0, c.EventID)
	case <-time.After(time.Second):
		t.Fatal("no change delivered")
	}
}
