package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/narvaro/busline/internal/domain"
	"github.com/narvaro/busline/internal/repository"
)

type BookingRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *BookingRepo) With(db DB) *BookingRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *BookingRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

func (r *BookingRepo) Create(ctx context.Context, b *domain.Booking) error {
	const op = "postgres.BookingRepo.Create"

	db := r.handle()

	if _, err := db.Exec(ctx,
		`INSERT INTO bookings(id, user_id, bus_id, seat_numbers, travel_date, total_cents, status, created_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		b.ID, b.UserID, b.BusID, b.SeatNumbers, b.TravelDate, b.TotalCents, b.Status, b.CreatedAt,
	); err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return nil
}

// GetByID retrieves a booking.
//
// Returns:
//   - error: repository.ErrNotFound if the booking does not exist.
func (r *BookingRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	const op = "postgres.BookingRepo.GetByID"

	db := r.handle()

	var b domain.Booking
	err := db.QueryRow(ctx,
		`SELECT id, user_id, bus_id, seat_numbers, travel_date, total_cents, status, payment_id, created_at, cancelled_at
           FROM bookings WHERE id = $1`,
		id,
	).Scan(&b.ID, &b.UserID, &b.BusID, &b.SeatNumbers, &b.TravelDate,
		&b.TotalCents, &b.Status, &b.PaymentID, &b.CreatedAt, &b.CancelledAt)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return &b, nil
}

func (r *BookingRepo) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]domain.Booking, error) {
	const op = "postgres.BookingRepo.ListByUser"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT id, user_id, bus_id, seat_numbers, travel_date, total_cents, status, payment_id, created_at, cancelled_at
           FROM bookings
          WHERE user_id = $1
          ORDER BY created_at DESC
          LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	var out []domain.Booking
	for rows.Next() {
		var b domain.Booking
		if err := rows.Scan(&b.ID, &b.UserID, &b.BusID, &b.SeatNumbers, &b.TravelDate,
			&b.TotalCents, &b.Status, &b.PaymentID, &b.CreatedAt, &b.CancelledAt); err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

// Transition flips the booking status with a conditional update keyed on the
// expected current status. When two transitions race, the loser matches zero
// rows and gets repository.ErrInvalidStatus rather than overwriting.
func (r *BookingRepo) Transition(
	ctx context.Context,
	id uuid.UUID,
	from, to domain.BookingStatus,
) error {
	const op = "postgres.BookingRepo.Transition"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`UPDATE bookings SET status = $3 WHERE id = $1 AND status = $2`,
		id, from, to,
	)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, repository.ErrInvalidStatus)
	}

	return nil
}

// Cancel sets a booking Cancelled with a cancellation timestamp, but only
// from one of the expected current statuses. A caller racing another
// transition matches zero rows and gets repository.ErrInvalidStatus.
func (r *BookingRepo) Cancel(
	ctx context.Context,
	id uuid.UUID,
	at time.Time,
	from ...domain.BookingStatus,
) error {
	const op = "postgres.BookingRepo.Cancel"

	db := r.handle()

	states := make([]string, len(from))
	for i, s := range from {
		states[i] = string(s)
	}

	tag, err := db.Exec(ctx,
		`UPDATE bookings
            SET status = $2, cancelled_at = $3
          WHERE id = $1 AND status = ANY($4)`,
		id, domain.BookingCancelled, at, states,
	)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, repository.ErrInvalidStatus)
	}

	return nil
}

func (r *BookingRepo) SetPaymentID(ctx context.Context, id, paymentID uuid.UUID) error {
	const op = "postgres.BookingRepo.SetPaymentID"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`UPDATE bookings SET payment_id = $2 WHERE id = $1`,
		id, paymentID,
	)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	return nil
}

// ListPendingBefore returns bookings still Pending that were created before
// the cutoff. The abandonment sweep drives each of them through the normal
// cancellation path.
func (r *BookingRepo) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Booking, error) {
	const op = "postgres.BookingRepo.ListPendingBefore"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT id, user_id, bus_id, seat_numbers, travel_date, total_cents, status, payment_id, created_at, cancelled_at
           FROM bookings
          WHERE status = $1 AND created_at < $2
          ORDER BY created_at
          LIMIT $3`,
		domain.BookingPending, cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	var out []domain.Booking
	for rows.Next() {
		var b domain.Booking
		if err := rows.Scan(&b.ID, &b.UserID, &b.BusID, &b.SeatNumbers, &b.TravelDate,
			&b.TotalCents, &b.Status, &b.PaymentID, &b.CreatedAt, &b.CancelledAt); err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

// CompleteDeparted moves Confirmed bookings whose travel date has passed to
// Completed. Seats stay booked; the rows become immutable.
func (r *BookingRepo) CompleteDeparted(ctx context.Context, now time.Time) (int64, error) {
	const op = "postgres.BookingRepo.CompleteDeparted"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`UPDATE bookings
            SET status = $2
          WHERE status = $1 AND travel_date < $3`,
		domain.BookingConfirmed, domain.BookingCompleted, now,
	)
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return tag.RowsAffected(), nil
}
