package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/narvaro/busline/internal/repository"
)

type SeatRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *SeatRepo) With(db DB) *SeatRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *SeatRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// Hold marks all requested seats as booked by bookingID. The update is a
// single conditional statement: a seat row is only touched when it exists on
// the bus and is not already booked, so two overlapping holds can never both
// see the full row count. On a short count the surrounding transaction
// rolls back and no partial hold is observable.
//
// Returns:
//   - error: repository.ErrSeatsUnavailable if any seat is booked or absent.
func (r *SeatRepo) Hold(
	ctx context.Context,
	busID int64,
	seatNumbers []string,
	bookingID uuid.UUID,
) error {
	const op = "postgres.SeatRepo.Hold"

	if r.db != nil {
		if err := r.holdCore(ctx, r.db, busID, seatNumbers, bookingID); err != nil {
			return fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		return nil
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer tx.Rollback(ctx)

	if err := r.holdCore(ctx, tx, busID, seatNumbers, bookingID); err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return nil
}

// Release frees the given seats regardless of the current holder. Idempotent:
// releasing an already-free seat is not an error.
func (r *SeatRepo) Release(ctx context.Context, busID int64, seatNumbers []string) error {
	const op = "postgres.SeatRepo.Release"

	db := r.handle()

	if _, err := db.Exec(ctx,
		`UPDATE bus_seats
            SET booked = FALSE, booking_id = NULL, held_at = NULL
         WHERE bus_id = $1
           AND number = ANY($2)`,
		busID, seatNumbers,
	); err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return nil
}

// ReleaseByBooking frees every seat held by the booking. Used by the
// cancellation path so the released set always matches the hold exactly.
func (r *SeatRepo) ReleaseByBooking(ctx context.Context, bookingID uuid.UUID) error {
	const op = "postgres.SeatRepo.ReleaseByBooking"

	db := r.handle()

	if _, err := db.Exec(ctx,
		`UPDATE bus_seats
            SET booked = FALSE, booking_id = NULL, held_at = NULL
         WHERE booking_id = $1`,
		bookingID,
	); err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return nil
}

// Availability returns a seat-number → free snapshot for the bus.
//
// Returns:
//   - error: repository.ErrNotFound if the bus has no seat map.
func (r *SeatRepo) Availability(ctx context.Context, busID int64) (map[string]bool, error) {
	const op = "postgres.SeatRepo.Availability"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT number, booked
           FROM bus_seats
          WHERE bus_id = $1
          ORDER BY number`,
		busID,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var number string
		var booked bool
		if err := rows.Scan(&number, &booked); err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		out[number] = !booked
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	return out, nil
}

func (r *SeatRepo) holdCore(
	ctx context.Context,
	db DB,
	busID int64,
	seatNumbers []string,
	bookingID uuid.UUID,
) error {
	const op = "postgres.SeatRepo.holdCore"

	tag, err := db.Exec(ctx,
		`UPDATE bus_seats
            SET booked = TRUE, booking_id = $3, held_at = $4
         WHERE bus_id = $1
           AND number = ANY($2)
           AND booked = FALSE`,
		busID, seatNumbers, bookingID, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if int(tag.RowsAffected()) != len(seatNumbers) {
		return fmt.Errorf("%s:%w", op, repository.ErrSeatsUnavailable)
	}

	return nil
}
