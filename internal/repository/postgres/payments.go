package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/narvaro/busline/internal/domain"
	"github.com/narvaro/busline/internal/repository"
)

type PaymentRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *PaymentRepo) With(db DB) *PaymentRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *PaymentRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

func (r *PaymentRepo) Create(ctx context.Context, p *domain.Payment) error {
	const op = "postgres.PaymentRepo.Create"

	db := r.handle()

	if _, err := db.Exec(ctx,
		`INSERT INTO payments(id, user_id, booking_id, transaction_id, amount_cents, gateway, status, created_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.UserID, p.BookingID, p.TransactionID, p.AmountCents, p.Gateway, p.Status, p.CreatedAt,
	); err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return nil
}

// GetByID looks up a payment by its correlation identifier.
//
// Returns:
//   - error: repository.ErrNotFound when no payment matches.
func (r *PaymentRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	const op = "postgres.PaymentRepo.GetByID"

	db := r.handle()

	var p domain.Payment
	err := db.QueryRow(ctx,
		`SELECT id, user_id, booking_id, transaction_id, amount_cents, gateway, status, created_at
           FROM payments WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.UserID, &p.BookingID, &p.TransactionID,
		&p.AmountCents, &p.Gateway, &p.Status, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return &p, nil
}

// MarkCompleted flips the payment Initiated→Completed and records the
// gateway's transaction reference. The update is conditional on the current
// status, so a second callback for the same payment matches zero rows and
// surfaces repository.ErrAlreadyProcessed instead of double-completing.
func (r *PaymentRepo) MarkCompleted(ctx context.Context, id uuid.UUID, externalRef string) error {
	const op = "postgres.PaymentRepo.MarkCompleted"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`UPDATE payments
            SET status = $3, transaction_id = $4
          WHERE id = $1 AND status = $2`,
		id, domain.PaymentInitiated, domain.PaymentCompleted, externalRef,
	)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, repository.ErrAlreadyProcessed)
	}

	return nil
}

// MarkFailed flips the payment Initiated→Failed. Transitions are monotonic:
// a payment that already left Initiated is not touched.
func (r *PaymentRepo) MarkFailed(ctx context.Context, id uuid.UUID) error {
	const op = "postgres.PaymentRepo.MarkFailed"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`UPDATE payments
            SET status = $3
          WHERE id = $1 AND status = $2`,
		id, domain.PaymentInitiated, domain.PaymentFailed,
	)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, repository.ErrAlreadyProcessed)
	}

	return nil
}

// HasCompletedForBooking reports whether the booking already has a completed
// payment. Backstop for the at-most-one-completed-payment invariant.
func (r *PaymentRepo) HasCompletedForBooking(ctx context.Context, bookingID uuid.UUID) (bool, error) {
	const op = "postgres.PaymentRepo.HasCompletedForBooking"

	db := r.handle()

	var exists bool
	err := db.QueryRow(ctx,
		`SELECT EXISTS(
            SELECT 1 FROM payments WHERE booking_id = $1 AND status = $2
         )`,
		bookingID, domain.PaymentCompleted,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return exists, nil
}
