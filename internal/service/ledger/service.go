package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirinyoku/tix-ledger/internal/domain"
	"github.com/kirinyoku/tix-ledger/internal/repository"
	"github.com/kirinyoku/tix-ledger/internal/uow"
)

type Repository interface {
	CreateEvent(ctx context.Context, in domain.NewEvent) (*domain.Event, error)
	GetEvent(ctx context.Context, id int64) (*domain.Event, error)
	ListEvents(ctx context.Context, limit, offset int) ([]domain.Event, error)
	CountEvents(ctx context.Context) (int64, error)
	ReserveTickets(ctx context.Context, id, quantity int64) (*domain.Event, error)
}

// Notifier broadcasts committed ledger changes.
type Notifier interface {
	PublishEventChanged(ctx context.Context, change domain.LedgerChange) error
}

// EventCache holds event records between reads. Implementations drop a
// write that carries fewer sold tickets than the last stored one.
type EventCache interface {
	LoadEvent(
		ctx context.Context,
		id int64,
		ttl time.Duration,
		load func(ctx context.Context) (domain.Event, error),
	) (domain.Event, error)
	StoreEvent(ctx context.Context, ev domain.Event, ttl time.Duration) error
	InvalidateEvent(ctx context.Context, id int64) error
}

type Config struct {
	EventCacheTTL time.Duration
	DefaultPage   int
	MaxPage       int
}

type Service struct {
	repo     Repository
	uow      *uow.UoW
	cache    EventCache
	notifier Notifier
	logger   *slog.Logger
	cfg      Config
	now      func() time.Time
}

// New builds the ledger. cache, notifier and logger may be nil.
func New(
	repo Repository,
	tx uow.TxRunner,
	cache EventCache,
	notifier Notifier,
	logger *slog.Logger,
	cfg Config,
) *Service {
	if cfg.EventCacheTTL <= 0 {
		cfg.EventCacheTTL = 60 * time.Second
	}

	if cfg.DefaultPage <= 0 {
		cfg.DefaultPage = 100
	}

	if cfg.MaxPage <= 0 {
		cfg.MaxPage = 500
	}

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Service{
		repo:     repo,
		uow:      uow.NewUoW(tx),
		cache:    cache,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

// CreateEvent allocates the next sequential event id and stores the
// immutable event fields with no tickets sold.
//
// Returns:
//   - int64: the new event id.
//   - error: domain.ErrInvalidParameters for an empty name, a negative
//     price or a non-positive capacity.
func (s *Service) CreateEvent(
	ctx context.Context,
	name string,
	basePrice domain.Amount,
	totalTickets int64,
) (int64, error) {
	const op = "service.ledger.CreateEvent"

	name = strings.TrimSpace(name)
	if name == "" || basePrice < 0 || totalTickets <= 0 {
		return 0, fmt.Errorf("%s: %w", op, domain.ErrInvalidParameters)
	}

	var ev *domain.Event

	err := s.uow.Do(ctx, func(ctx context.Context) error {
		var err error
		ev, err = s.repo.CreateEvent(ctx, domain.NewEvent{
			Name:         name,
			BasePrice:    basePrice,
			TotalTickets: totalTickets,
		})
		if err != nil {
			return err
		}

		created := *ev
		uow.After(ctx, func(ctx context.Context) {
			s.changed(ctx, domain.ChangeEventCreated, created)
		})

		return nil
	})
	if err != nil {
		return 0, translate(op, err)
	}

	s.logger.Info("event created",
		slog.Int64("event_id", ev.ID),
		slog.String("name", ev.Name),
		slog.Int64("base_price", ev.BasePrice),
		slog.Int64("total_tickets", ev.TotalTickets),
	)

	return ev.ID, nil
}

// GetEvent returns the event record, reading through the event cache when
// one is configured. Inside a unit of work it reads storage so uncommitted
// state never reaches the cache.
//
// Returns:
//   - error: domain.ErrNotFound if id is not below the next event id.
func (s *Service) GetEvent(ctx context.Context, id int64) (*domain.Event, error) {
	const op = "service.ledger.GetEvent"

	if id < 0 {
		return nil, fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}

	if s.cache == nil || uow.Active(ctx) {
		ev, err := s.repo.GetEvent(ctx, id)
		if err != nil {
			return nil, translate(op, err)
		}
		return ev, nil
	}

	ev, err := s.cache.LoadEvent(ctx, id, s.cfg.EventCacheTTL, func(ctx context.Context) (domain.Event, error) {
		e, err := s.repo.GetEvent(ctx, id)
		if err != nil {
			return domain.Event{}, err
		}

		return *e, nil
	})
	if err != nil {
		return nil, translate(op, err)
	}

	return &ev, nil
}

// ListEvents returns the catalog in id order straight from storage.
func (s *Service) ListEvents(ctx context.Context, limit, offset int) ([]domain.Event, error) {
	const op = "service.ledger.ListEvents"

	if limit <= 0 {
		limit = s.cfg.DefaultPage
	}

	if limit > s.cfg.MaxPage {
		limit = s.cfg.MaxPage
	}

	if offset < 0 {
		offset = 0
	}

	events, err := s.repo.ListEvents(ctx, limit, offset)
	if err != nil {
		return nil, translate(op, err)
	}

	return events, nil
}

// NextEventID returns the id the next created event will get, which is
// also the number of events.
func (s *Service) NextEventID(ctx context.Context) (int64, error) {
	const op = "service.ledger.NextEventID"

	n, err := s.repo.CountEvents(ctx)
	if err != nil {
		return 0, translate(op, err)
	}

	return n, nil
}

// ReserveTickets is the only inventory mutator. It adds quantity to the
// sold counter when capacity allows. When ctx carries a unit of work the
// change commits with it.
//
// Returns:
//   - *domain.Event: the event as it will read after commit.
//   - error: domain.ErrInvalidParameters if quantity is not positive.
//   - error: domain.ErrNotFound if the event does not exist.
//   - error: domain.ErrSoldOut if fewer than quantity tickets remain.
func (s *Service) ReserveTickets(ctx context.Context, id, quantity int64) (*domain.Event, error) {
	const op = "service.ledger.ReserveTickets"

	if quantity <= 0 {
		return nil, fmt.Errorf("%s: %w", op, domain.ErrInvalidParameters)
	}

	ev, err := s.repo.ReserveTickets(ctx, id, quantity)
	if err != nil {
		return nil, translate(op, err)
	}

	reserved := *ev
	uow.After(ctx, func(ctx context.Context) {
		s.changed(ctx, domain.ChangeTicketsSold, reserved)
	})

	return ev, nil
}

// changed writes the committed record through to the cache and tells
// subscribers. Failures are logged; the ledger is already committed.
func (s *Service) changed(ctx context.Context, typ domain.ChangeType, ev domain.Event) {
	if s.cache != nil {
		if err := s.cache.StoreEvent(ctx, ev, s.cfg.EventCacheTTL); err != nil {
			s.logger.Warn("failed to update event cache", slog.Int64("event_id", ev.ID), slog.Any("error", err))
			if err := s.cache.InvalidateEvent(ctx, ev.ID); err != nil {
				s.logger.Warn("failed to invalidate event cache", slog.Int64("event_id", ev.ID), slog.Any("error", err))
			}
		}
	}

	if s.notifier == nil {
		return
	}

	err := s.notifier.PublishEventChanged(ctx, domain.LedgerChange{
		Type:        typ,
		EventID:     ev.ID,
		SoldTickets: ev.SoldTickets,
		Remaining:   ev.Remaining(),
		TsUnix:      s.now().Unix(),
	})
	if err != nil {
		s.logger.Warn("failed to publish ledger change", slog.Int64("event_id", ev.ID), slog.Any("error", err))
	}
}

func translate(op string, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	case errors.Is(err, repository.ErrSoldOut):
		return fmt.Errorf("%s: %w", op, domain.ErrSoldOut)
	}

	return fmt.Errorf("%s: %w", op, err)
}
