package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/narvaro/busline/internal/repository"
)

type UserRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *UserRepo) With(db DB) *UserRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *UserRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// IsVerified reports whether the user's account has passed code
// verification.
//
// Returns:
//   - error: repository.ErrNotFound if the user does not exist.
func (r *UserRepo) IsVerified(ctx context.Context, userID int64) (bool, error) {
	const op = "postgres.UserRepo.IsVerified"

	db := r.handle()

	var verified bool
	err := db.QueryRow(ctx,
		`SELECT verified FROM users WHERE id = $1`,
		userID,
	).Scan(&verified)
	if err != nil {
		return false, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return verified, nil
}

func (r *UserRepo) SetVerified(ctx context.Context, userID int64) error {
	const op = "postgres.UserRepo.SetVerified"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`UPDATE users SET verified = TRUE WHERE id = $1`,
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

// Contact returns the user's notification address (phone or email as
// provisioned by the account system).
func (r *UserRepo) Contact(ctx context.Context, userID int64) (string, error) {
	const op = "postgres.UserRepo.Contact"

	db := r.handle()

	var contact string
	err := db.QueryRow(ctx,
		`SELECT contact FROM users WHERE id = $1`,
		userID,
	).Scan(&contact)
	if err != nil {
		return "", fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return contact, nil
}
