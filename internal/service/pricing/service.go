package pricing

import (
	"context"
	"fmt"

	"github.com/kirinyoku/tix-ledger/internal/domain"
	"github.com/kirinyoku/tix-ledger/internal/metrics"
)

type EventReader interface {
	GetEvent(ctx context.Context, id int64) (*domain.Event, error)
}

type MembershipChecker interface {
	IsVerified(ctx context.Context, addr domain.Address) (bool, error)
}

type Config struct {
	Discount DiscountPolicy
}

type Service struct {
	events   EventReader
	members  MembershipChecker
	policy   DiscountPolicy
	observer metrics.Observer
}

func New(events EventReader, members MembershipChecker, observer metrics.Observer, cfg Config) (*Service, error) {
	const op = "service.pricing.New"

	if cfg.Discount.Percent == 0 {
		cfg.Discount.Percent = DefaultDiscountPercent
	}

	if err := cfg.Discount.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if observer == nil {
		observer = metrics.Nop()
	}

	return &Service{
		events:   events,
		members:  members,
		policy:   cfg.Discount,
		observer: observer,
	}, nil
}

// Quote resolves the unit price buyer pays for eventID. It reads the
// ledger and the membership registry and writes nothing. An anonymous
// buyer gets the base price.
//
// Returns:
//   - error: domain.ErrNotFound if the event does not exist.
func (s *Service) Quote(ctx context.Context, eventID int64, buyer domain.Address) (domain.Quote, error) {
	const op = "service.pricing.Quote"

	ev, err := s.events.GetEvent(ctx, eventID)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("%s: %w", op, err)
	}

	q := domain.Quote{
		EventID:   ev.ID,
		Buyer:     buyer,
		BasePrice: ev.BasePrice,
		Price:     ev.BasePrice,
	}

	if !buyer.IsAnonymous() {
		verified, err := s.members.IsVerified(ctx, buyer)
		if err != nil {
			return domain.Quote{}, fmt.Errorf("%s: %w", op, err)
		}

		if verified {
			q.Price = s.policy.Apply(ev.BasePrice)
			q.Discounted = true
		}
	}

	s.observer.RecordQuote(q.Discounted)

	return q, nil
}

func (s *Service) Policy() DiscountPolicy {
	return s.policy
}
