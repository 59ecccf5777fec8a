package memory

import (
	"context"
	"sort"

	"github.com/kirinyoku/tix-ledger/internal/domain"
)

type MemberRepo struct {
	s *Store
}

func (r *MemberRepo) IsVerified(ctx context.Context, addr domain.Address) (bool, error) {
	r.s.membersMu.RLock()
	defer r.s.membersMu.RUnlock()
	return r.s.members[addr].Verified, nil
}

func (r *MemberRepo) SetVerified(ctx context.Context, addr domain.Address, verified bool) (*domain.Member, error) {
	r.s.membersMu.Lock()
	defer r.s.membersMu.Unlock()

	m := domain.Member{Address: addr, Verified: verified, UpdatedAt: r.s.now()}
	r.s.members[addr] = m

	return &m, nil
}

func (r *MemberRepo) ListMembers(ctx context.Context, verifiedOnly bool) ([]domain.Member, error) {
	r.s.membersMu.RLock()
	out := make([]domain.Member, 0, len(r.s.members))
	for _, m := range r.s.members {
		if verifiedOnly && !m.Verified {
			continue
		}
		out = append(out, m)
	}
	r.s.membersMu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })

	return out, nil
}
