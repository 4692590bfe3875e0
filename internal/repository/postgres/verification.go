package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/narvaro/busline/internal/domain"
	"github.com/narvaro/busline/internal/repository"
)

type VerifyRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *VerifyRepo) With(db DB) *VerifyRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *VerifyRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// Upsert replaces any outstanding code for the user. At most one code is
// live per account at a time.
func (r *VerifyRepo) Upsert(ctx context.Context, c *domain.VerificationCode) error {
	const op = "postgres.VerifyRepo.Upsert"

	db := r.handle()

	if _, err := db.Exec(ctx,
		`INSERT INTO verification_codes(user_id, code_hash, expires_at)
         VALUES ($1, $2, $3)
         ON CONFLICT (user_id) DO UPDATE
            SET code_hash = EXCLUDED.code_hash, expires_at = EXCLUDED.expires_at`,
		c.UserID, c.CodeHash, c.ExpiresAt,
	); err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return nil
}

// Get returns the outstanding code for the user.
//
// Returns:
//   - error: repository.ErrNotFound if no code is outstanding.
func (r *VerifyRepo) Get(ctx context.Context, userID int64) (*domain.VerificationCode, error) {
	const op = "postgres.VerifyRepo.Get"

	db := r.handle()

	var c domain.VerificationCode
	err := db.QueryRow(ctx,
		`SELECT user_id, code_hash, expires_at
           FROM verification_codes WHERE user_id = $1`,
		userID,
	).Scan(&c.UserID, &c.CodeHash, &c.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return &c, nil
}

// Consume deletes the code, making it single-use. The delete is the
// tie-breaker between concurrent verifications: only one caller sees a row.
func (r *VerifyRepo) Consume(ctx context.Context, userID int64) error {
	const op = "postgres.VerifyRepo.Consume"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`DELETE FROM verification_codes WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	return nil
}

// PurgeExpired drops codes past their expiry.
func (r *VerifyRepo) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	const op = "postgres.VerifyRepo.PurgeExpired"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`DELETE FROM verification_codes WHERE expires_at <= $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return tag.RowsAffected(), nil
}
