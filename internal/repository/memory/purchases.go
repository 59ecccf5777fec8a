package memory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/kirinyoku/tix-ledger/internal/domain"
	"github.com/kirinyoku/tix-ledger/internal/repository"
)

type PurchaseRepo struct {
	s *Store
}

// AppendPurchase records p. Inside a transaction the record becomes
// visible on commit.
func (r *PurchaseRepo) AppendPurchase(ctx context.Context, p domain.Purchase) error {
	const op = "memory.PurchaseRepo.AppendPurchase"

	if p.CreatedAt.IsZero() {
		p.CreatedAt = r.s.now()
	}

	r.s.purchasesMu.RLock()
	_, dup := r.s.purchaseIdx[p.ID]
	r.s.purchasesMu.RUnlock()
	if dup {
		return fmt.Errorf("%s:%w", op, repository.ErrConflict)
	}

	if t, ok := txFrom(ctx); ok {
		t.commits = append(t.commits, func() { r.insert(p) })
		return nil
	}

	r.insert(p)
	return nil
}

func (r *PurchaseRepo) insert(p domain.Purchase) {
	r.s.purchasesMu.Lock()
	defer r.s.purchasesMu.Unlock()

	if _, dup := r.s.purchaseIdx[p.ID]; dup {
		return
	}

	r.s.purchaseIdx[p.ID] = len(r.s.purchases)
	r.s.purchases = append(r.s.purchases, p)
}

func (r *PurchaseRepo) GetPurchase(ctx context.Context, id uuid.UUID) (*domain.Purchase, error) {
	const op = "memory.PurchaseRepo.GetPurchase"

	r.s.purchasesMu.RLock()
	defer r.s.purchasesMu.RUnlock()

	i, ok := r.s.purchaseIdx[id]
	if !ok {
		return nil, fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	p := r.s.purchases[i]
	return &p, nil
}

func (r *PurchaseRepo) ListPurchases(ctx context.Context, f domain.PurchaseFilter) ([]domain.Purchase, error) {
	r.s.purchasesMu.RLock()
	defer r.s.purchasesMu.RUnlock()

	out := []domain.Purchase{}
	skipped := 0
	for _, p := range r.s.purchases {
		if !f.Buyer.IsAnonymous() && p.Buyer != f.Buyer {
			continue
		}
		if f.EventID != nil && p.EventID != *f.EventID {
			continue
		}
		if skipped < f.Offset {
			skipped++
			continue
		}
		out = append(out, p)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}

	return out, nil
}
