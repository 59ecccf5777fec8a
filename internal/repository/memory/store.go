// Package memory is a process-local storage driver. It keeps the same
// transactional guarantees as the postgres driver for a single process:
// reservations on one event are serialized and invisible to readers until
// the surrounding transaction commits.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/tix-ledger/internal/domain"
)

type txKey struct{}

type tx struct {
	held     map[*eventEntry]domain.Event
	commits  []func()
	releases []func()
}

func txFrom(ctx context.Context) (*tx, bool) {
	t, ok := ctx.Value(txKey{}).(*tx)
	return t, ok
}

type Store struct {
	mu     sync.RWMutex
	events []*eventEntry

	membersMu sync.RWMutex
	members   map[domain.Address]domain.Member

	purchasesMu sync.RWMutex
	purchases   []domain.Purchase
	purchaseIdx map[uuid.UUID]int

	now func() time.Time
}

func NewStore() *Store {
	return &Store{
		members:     make(map[domain.Address]domain.Member),
		purchaseIdx: make(map[uuid.UUID]int),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// RunTx runs fn with a transaction in ctx. Writes staged through the
// transaction become visible only when fn returns nil; row locks taken by
// the transaction are released either way, even when fn panics.
func (s *Store) RunTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := txFrom(ctx); ok {
		return fn(ctx)
	}

	t := &tx{held: make(map[*eventEntry]domain.Event)}
	defer func() {
		for i := len(t.releases) - 1; i >= 0; i-- {
			t.releases[i]()
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, t)); err != nil {
		return err
	}

	for _, c := range t.commits {
		c()
	}

	return nil
}

func (s *Store) Events() *EventRepo       { return &EventRepo{s: s} }
func (s *Store) Members() *MemberRepo     { return &MemberRepo{s: s} }
func (s *Store) Purchases() *PurchaseRepo { return &PurchaseRepo{s: s} }
