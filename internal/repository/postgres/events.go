package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/kirinyoku/tix-ledger/internal/domain"
	"github.com/kirinyoku/tix-ledger/internal/repository"
)

// eventIDLock serializes id allocation so ids stay gap-free.
const eventIDLock int64 = 730_100_001

const eventColumns = `id, name, base_price, total_tickets, sold_tickets, created_at`

type EventRepo struct {
	store *Store
}

// CreateEvent inserts an event under the next sequential id.
//
// Returns:
//   - *domain.Event: the stored event with sold_tickets = 0.
//   - error: repository.ErrConflict if the id was taken concurrently.
func (r *EventRepo) CreateEvent(ctx context.Context, in domain.NewEvent) (*domain.Event, error) {
	const op = "postgres.EventRepo.CreateEvent"

	var ev *domain.Event

	err := r.store.RunTx(ctx, func(ctx context.Context) error {
		db := r.store.handle(ctx)

		if _, err := db.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, eventIDLock); err != nil {
			return err
		}

		var err error
		ev, err = scanEvent(db.QueryRow(ctx,
			`INSERT INTO events (id, name, base_price, total_tickets)
			 SELECT COALESCE(MAX(id) + 1, 0), $1, $2, $3 FROM events
			 RETURNING `+eventColumns,
			in.Name, in.BasePrice, in.TotalTickets,
		))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return ev, nil
}

// GetEvent retrieves an event by its ID.
//
// Returns:
//   - error: repository.ErrNotFound if the event is not found.
func (r *EventRepo) GetEvent(ctx context.Context, id int64) (*domain.Event, error) {
	const op = "postgres.EventRepo.GetEvent"

	ev, err := scanEvent(r.store.handle(ctx).QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1`,
		id,
	))
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return ev, nil
}

// ListEvents lists events ordered by id.
func (r *EventRepo) ListEvents(ctx context.Context, limit, offset int) ([]domain.Event, error) {
	const op = "postgres.EventRepo.ListEvents"

	var lim *int
	if limit > 0 {
		lim = &limit
	}

	rows, err := r.store.handle(ctx).Query(ctx,
		`SELECT `+eventColumns+`
		 FROM events
		 ORDER BY id
		 LIMIT $1 OFFSET $2`,
		lim, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	out := []domain.Event{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}

		out = append(out, *ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

func (r *EventRepo) CountEvents(ctx context.Context) (int64, error) {
	const op = "postgres.EventRepo.CountEvents"

	var n int64
	if err := r.store.handle(ctx).QueryRow(ctx,
		`SELECT COALESCE(MAX(id) + 1, 0) FROM events`,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return n, nil
}

// ReserveTickets increments sold_tickets by quantity when capacity allows.
// The conditional update takes the row lock, so the capacity check and the
// increment are one step for concurrent callers.
//
// Returns:
//   - error: repository.ErrNotFound if the event does not exist.
//   - error: repository.ErrSoldOut if fewer than quantity tickets remain.
func (r *EventRepo) ReserveTickets(ctx context.Context, id, quantity int64) (*domain.Event, error) {
	const op = "postgres.EventRepo.ReserveTickets"

	db := r.store.handle(ctx)

	ev, err := scanEvent(db.QueryRow(ctx,
		`UPDATE events
		 SET sold_tickets = sold_tickets + $2
		 WHERE id = $1 AND total_tickets - sold_tickets >= $2
		 RETURNING `+eventColumns,
		id, quantity,
	))
	if err == nil {
		return ev, nil
	}

	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	var exists bool
	if err := db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM events WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if !exists {
		return nil, fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	return nil, fmt.Errorf("%s:%w", op, repository.ErrSoldOut)
}

func scanEvent(row pgx.Row) (*domain.Event, error) {
	var ev domain.Event
	if err := row.Scan(
		&ev.ID,
		&ev.Name,
		&ev.BasePrice,
		&ev.TotalTickets,
		&ev.SoldTickets,
		&ev.CreatedAt,
	); err != nil {
		return nil, err
	}

	return &ev, nil
}
