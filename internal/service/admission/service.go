package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/tix-ledger/internal/domain"
	"github.com/kirinyoku/tix-ledger/internal/metrics"
	"github.com/kirinyoku/tix-ledger/internal/repository"
	redisrepo "github.com/kirinyoku/tix-ledger/internal/repository/redis"
	"github.com/kirinyoku/tix-ledger/internal/uow"
)

// Quoter is the single price resolver shared by quotes and purchases.
type Quoter interface {
	Quote(ctx context.Context, eventID int64, buyer domain.Address) (domain.Quote, error)
}

type Reserver interface {
	ReserveTickets(ctx context.Context, id, quantity int64) (*domain.Event, error)
}

type PurchaseLog interface {
	AppendPurchase(ctx context.Context, p domain.Purchase) error
	GetPurchase(ctx context.Context, id uuid.UUID) (*domain.Purchase, error)
	ListPurchases(ctx context.Context, f domain.PurchaseFilter) ([]domain.Purchase, error)
}

type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, time.Duration, error)
}

type Config struct {
	Overpayment OverpaymentPolicy
	DefaultPage int
	MaxPage     int
}

type Service struct {
	quoter   Quoter
	ledger   Reserver
	log      PurchaseLog
	uow      *uow.UoW
	limiter  RateLimiter
	observer metrics.Observer
	logger   *slog.Logger
	cfg      Config
	now      func() time.Time
}

// New builds the admission controller. limiter, observer and logger may be nil.
func New(
	quoter Quoter,
	ledger Reserver,
	log PurchaseLog,
	tx uow.TxRunner,
	limiter RateLimiter,
	observer metrics.Observer,
	logger *slog.Logger,
	cfg Config,
) *Service {
	if cfg.Overpayment == "" {
		cfg.Overpayment = DefaultOverpaymentPolicy
	}

	if cfg.DefaultPage <= 0 {
		cfg.DefaultPage = 50
	}

	if cfg.MaxPage <= 0 {
		cfg.MaxPage = 500
	}

	if observer == nil {
		observer = metrics.Nop()
	}

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Service{
		quoter:   quoter,
		ledger:   ledger,
		log:      log,
		uow:      uow.NewUoW(tx),
		limiter:  limiter,
		observer: observer,
		logger:   logger,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Purchase validates payment against the buyer's quote and commits the
// reservation together with its audit record, or changes nothing.
//
// Parameters:
//   - ctx: request-scoped context.
//   - req: event, buyer, quantity and the amount transferred with the call.
//
// Returns:
//   - *domain.Purchase: the committed purchase record.
//   - error: domain.ErrInvalidParameters for a non-positive quantity, a
//     negative payment, an anonymous buyer or an amount overflow.
//   - error: domain.ErrNotFound if the event does not exist.
//   - error: domain.ErrInsufficientPayment if paid is below price*quantity.
//   - error: domain.ErrSoldOut if fewer than quantity tickets remain.
//   - error: admission.ErrRateLimited if the buyer exceeded the rate limit.
func (s *Service) Purchase(ctx context.Context, req domain.PurchaseRequest) (*domain.Purchase, error) {
	const op = "service.admission.Purchase"

	start := time.Now()

	p, err := s.purchase(ctx, req)

	s.observer.RecordPurchase(outcome(err), req.Quantity, time.Since(start))

	if err != nil {
		s.logger.Debug("purchase rejected",
			slog.Int64("event_id", req.EventID),
			slog.String("buyer", req.Buyer.String()),
			slog.Int64("quantity", req.Quantity),
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return p, nil
}

func (s *Service) purchase(ctx context.Context, req domain.PurchaseRequest) (*domain.Purchase, error) {
	if req.Quantity <= 0 || req.Paid < 0 || req.Buyer.IsAnonymous() {
		return nil, domain.ErrInvalidParameters
	}

	if s.limiter != nil {
		ok, retry, err := s.limiter.Allow(ctx, redisrepo.KeyRateLimitBuyer(req.Buyer))
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, RateLimitedError{RetryAfter: retry}
		}
	}

	quote, err := s.quoter.Quote(ctx, req.EventID, req.Buyer)
	if err != nil {
		return nil, err
	}

	required, ok := requiredAmount(quote.Price, req.Quantity)
	if !ok {
		return nil, domain.ErrInvalidParameters
	}

	if req.Paid < required {
		return nil, fmt.Errorf("paid %d, required %d: %w", req.Paid, required, domain.ErrInsufficientPayment)
	}

	charged, refund := s.cfg.Overpayment.settle(req.Paid, required)

	p := domain.Purchase{
		ID:        uuid.New(),
		EventID:   req.EventID,
		Buyer:     req.Buyer,
		Quantity:  req.Quantity,
		UnitPrice: quote.Price,
		Paid:      req.Paid,
		Charged:   charged,
		Refund:    refund,
		CreatedAt: s.now(),
	}

	err = s.uow.Do(ctx, func(ctx context.Context) error {
		ev, err := s.ledger.ReserveTickets(ctx, req.EventID, req.Quantity)
		if err != nil {
			return err
		}

		if err := s.log.AppendPurchase(ctx, p); err != nil {
			return err
		}

		remaining := ev.Remaining()
		uow.After(ctx, func(ctx context.Context) {
			s.logger.Info("purchase committed",
				slog.String("purchase_id", p.ID.String()),
				slog.Int64("event_id", p.EventID),
				slog.String("buyer", p.Buyer.String()),
				slog.Int64("quantity", p.Quantity),
				slog.Int64("unit_price", p.UnitPrice),
				slog.Int64("charged", p.Charged),
				slog.Int64("refund", p.Refund),
				slog.Int64("remaining", remaining),
			)
		})

		return nil
	})
	if err != nil {
		return nil, err
	}

	return &p, nil
}

// GetPurchase returns a committed purchase record.
//
// Returns:
//   - error: domain.ErrNotFound if no purchase has the id.
func (s *Service) GetPurchase(ctx context.Context, id uuid.UUID) (*domain.Purchase, error) {
	const op = "service.admission.GetPurchase"

	p, err := s.log.GetPurchase(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return p, nil
}

// ListPurchases returns committed purchases in commit order, filtered by
// buyer and/or event.
func (s *Service) ListPurchases(ctx context.Context, f domain.PurchaseFilter) ([]domain.Purchase, error) {
	const op = "service.admission.ListPurchases"

	if f.Limit <= 0 {
		f.Limit = s.cfg.DefaultPage
	}

	if f.Limit > s.cfg.MaxPage {
		f.Limit = s.cfg.MaxPage
	}

	if f.Offset < 0 {
		f.Offset = 0
	}

	out, err := s.log.ListPurchases(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return out, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeCommitted
	case errors.Is(err, domain.ErrSoldOut):
		return metrics.OutcomeSoldOut
	case errors.Is(err, domain.ErrInsufficientPayment):
		return metrics.OutcomeInsufficientPayment
	case errors.Is(err, domain.ErrInvalidParameters):
		return metrics.OutcomeInvalid
	case errors.Is(err, domain.ErrNotFound):
		return metrics.OutcomeNotFound
	case errors.Is(err, ErrRateLimited):
		return metrics.OutcomeRateLimited
	}

	return metrics.OutcomeError
}
