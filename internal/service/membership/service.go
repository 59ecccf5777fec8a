package membership

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kirinyoku/tix-ledger/internal/domain"
)

type Repository interface {
	IsVerified(ctx context.Context, addr domain.Address) (bool, error)
	SetVerified(ctx context.Context, addr domain.Address, verified bool) (*domain.Member, error)
	ListMembers(ctx context.Context, verifiedOnly bool) ([]domain.Member, error)
}

type Service struct {
	repo   Repository
	logger *slog.Logger
}

func New(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Service{repo: repo, logger: logger}
}

// IsVerified reports whether addr holds discount-eligible membership.
// Unknown and anonymous addresses are not verified. An error means the
// registry could not be read.
func (s *Service) IsVerified(ctx context.Context, addr domain.Address) (bool, error) {
	const op = "service.membership.IsVerified"

	if addr.IsAnonymous() {
		return false, nil
	}

	ok, err := s.repo.IsVerified(ctx, addr)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return ok, nil
}

// SetVerified grants or revokes membership. It is an administrative
// operation and is never called from the purchase path.
func (s *Service) SetVerified(ctx context.Context, addr domain.Address, verified bool) (*domain.Member, error) {
	const op = "service.membership.SetVerified"

	if addr.IsAnonymous() {
		return nil, fmt.Errorf("%s: %w", op, domain.ErrInvalidParameters)
	}

	m, err := s.repo.SetVerified(ctx, addr, verified)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.logger.Info("membership updated", slog.String("address", addr.String()), slog.Bool("verified", verified))

	return m, nil
}

func (s *Service) ListVerified(ctx context.Context) ([]domain.Member, error) {
	const op = "service.membership.ListVerified"

	members, err := s.repo.ListMembers(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return members, nil
}
