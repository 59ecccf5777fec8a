package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/kirinyoku/tix-ledger/internal/domain"
)

type MemberRepo struct {
	store *Store
}

// IsVerified reports false for addresses without a row.
func (r *MemberRepo) IsVerified(ctx context.Context, addr domain.Address) (bool, error) {
	const op = "postgres.MemberRepo.IsVerified"

	var verified bool
	err := r.store.handle(ctx).QueryRow(ctx,
		`SELECT verified FROM members WHERE address = $1`,
		addr.String(),
	).Scan(&verified)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return verified, nil
}

func (r *MemberRepo) SetVerified(ctx context.Context, addr domain.Address, verified bool) (*domain.Member, error) {
	const op = "postgres.MemberRepo.SetVerified"

	m, err := scanMember(r.store.handle(ctx).QueryRow(ctx,
		`INSERT INTO members (address, verified)
		 VALUES ($1, $2)
		 ON CONFLICT (address) DO UPDATE
		 SET verified = EXCLUDED.verified, updated_at = now()
		 RETURNING address, verified, updated_at`,
		addr.String(), verified,
	))
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return m, nil
}

func (r *MemberRepo) ListMembers(ctx context.Context, verifiedOnly bool) ([]domain.Member, error) {
	const op = "postgres.MemberRepo.ListMembers"

	rows, err := r.store.handle(ctx).Query(ctx,
		`SELECT address, verified, updated_at
		 FROM members
		 WHERE verified OR NOT $1
		 ORDER BY address`,
		verifiedOnly,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	out := []domain.Member{}
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

func scanMember(row pgx.Row) (*domain.Member, error) {
	var (
		m    domain.Member
		addr string
	)
	if err := row.Scan(&addr, &m.Verified, &m.UpdatedAt); err != nil {
		return nil, err
	}

	m.Address = domain.Address(addr)
	return &m, nil
}
