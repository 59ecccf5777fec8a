package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kirinyoku/tix-ledger/internal/domain"
)

const purchaseColumns = `id, event_id, buyer, quantity, unit_price, paid, charged, refund, created_at`

type PurchaseRepo struct {
	store *Store
}

// AppendPurchase writes the audit record of a committed purchase.
//
// Returns:
//   - error: repository.ErrConflict if a purchase with the same id exists.
func (r *PurchaseRepo) AppendPurchase(ctx context.Context, p domain.Purchase) error {
	const op = "postgres.PurchaseRepo.AppendPurchase"

	if _, err := r.store.handle(ctx).Exec(ctx,
		`INSERT INTO purchases (id, event_id, buyer, quantity, unit_price, paid, charged, refund)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.EventID, p.Buyer.String(), p.Quantity, p.UnitPrice, p.Paid, p.Charged, p.Refund,
	); err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return nil
}

// GetPurchase retrieves a purchase record by its ID.
//
// Returns:
//   - error: repository.ErrNotFound if the purchase is not found.
func (r *PurchaseRepo) GetPurchase(ctx context.Context, id uuid.UUID) (*domain.Purchase, error) {
	const op = "postgres.PurchaseRepo.GetPurchase"

	p, err := scanPurchase(r.store.handle(ctx).QueryRow(ctx,
		`SELECT `+purchaseColumns+` FROM purchases WHERE id = $1`,
		id,
	))
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return p, nil
}

func (r *PurchaseRepo) ListPurchases(ctx context.Context, f domain.PurchaseFilter) ([]domain.Purchase, error) {
	const op = "postgres.PurchaseRepo.ListPurchases"

	var lim *int
	if f.Limit > 0 {
		lim = &f.Limit
	}

	rows, err := r.store.handle(ctx).Query(ctx,
		`SELECT `+purchaseColumns+`
		 FROM purchases
		 WHERE ($1 = '' OR buyer = $1)
		   AND ($2::BIGINT IS NULL OR event_id = $2)
		 ORDER BY created_at, id
		 LIMIT $3 OFFSET $4`,
		f.Buyer.String(), f.EventID, lim, f.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	out := []domain.Purchase{}
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

func scanPurchase(row pgx.Row) (*domain.Purchase, error) {
	var (
		p     domain.Purchase
		buyer string
	)
	if err := row.Scan(
		&p.ID,
		&p.EventID,
		&buyer,
		&p.Quantity,
		&p.UnitPrice,
		&p.Paid,
		&p.Charged,
		&p.Refund,
		&p.CreatedAt,
	); err != nil {
		return nil, err
	}

	p.Buyer = domain.Address(buyer)
	return &p, nil
}
