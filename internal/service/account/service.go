// Package account issues and checks the time-boxed one-time codes that gate
// booking eligibility. Codes are bcrypt-hashed at rest and strictly
// single-use: a successful check consumes the code.
package account

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/narvaro/busline/internal/domain"
	"github.com/narvaro/busline/internal/notification"
	"github.com/narvaro/busline/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

const codeLength = 6

// Users is the slice of the account store this service needs.
type Users interface {
	IsVerified(ctx context.Context, userID int64) (bool, error)
	SetVerified(ctx context.Context, userID int64) error
}

// Codes is the verification-code persistence surface.
type Codes interface {
	Upsert(ctx context.Context, c *domain.VerificationCode) error
	Get(ctx context.Context, userID int64) (*domain.VerificationCode, error)
	Consume(ctx context.Context, userID int64) error
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

type Config struct {
	CodeTTL time.Duration
}

type Service struct {
	users    Users
	codes    Codes
	notifier notification.Notifier
	logger   *slog.Logger
	cfg      Config
}

func New(
	users Users,
	codes Codes,
	notifier notification.Notifier,
	logger *slog.Logger,
	cfg Config,
) *Service {
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = 10 * time.Minute
	}

	return &Service{
		users:    users,
		codes:    codes,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
	}
}

// RequestCode generates a fresh code for the user, replacing any
// outstanding one, and dispatches it through the notifier. The plaintext
// code never leaves this function except via the notifier.
func (s *Service) RequestCode(ctx context.Context, userID int64) error {
	const op = "service.account.RequestCode"

	verified, err := s.users.IsVerified(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%s:%w", op, ErrUserNotFound)
		}

		return fmt.Errorf("%s:%w", op, err)
	}
	if verified {
		return nil
	}

	code, err := randomCode(codeLength)
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	if err := s.codes.Upsert(ctx, &domain.VerificationCode{
		UserID:    userID,
		CodeHash:  string(hash),
		ExpiresAt: time.Now().Add(s.cfg.CodeTTL),
	}); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	go s.notifier.Send(context.WithoutCancel(ctx), userID,
		fmt.Sprintf("Your verification code is %s", code))

	return nil
}

// VerifyCode checks and consumes the user's outstanding code.
//
// Returns:
//   - error: account.ErrNoCode if none is outstanding (or it was already
//     consumed by a concurrent attempt).
//   - error: account.ErrCodeExpired for a stale code, even on value match.
//   - error: account.ErrCodeMismatch for a wrong value.
func (s *Service) VerifyCode(ctx context.Context, userID int64, code string) error {
	const op = "service.account.VerifyCode"

	c, err := s.codes.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%s:%w", op, ErrNoCode)
		}

		return fmt.Errorf("%s:%w", op, err)
	}

	if time.Now().After(c.ExpiresAt) {
		return fmt.Errorf("%s:%w", op, ErrCodeExpired)
	}

	if bcrypt.CompareHashAndPassword([]byte(c.CodeHash), []byte(code)) != nil {
		return fmt.Errorf("%s:%w", op, ErrCodeMismatch)
	}

	// Single-use: the delete is the tie-breaker between concurrent checks.
	if err := s.codes.Consume(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%s:%w", op, ErrNoCode)
		}

		return fmt.Errorf("%s:%w", op, err)
	}

	if err := s.users.SetVerified(ctx, userID); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}

// IsVerified reports booking eligibility for the user.
func (s *Service) IsVerified(ctx context.Context, userID int64) (bool, error) {
	const op = "service.account.IsVerified"

	verified, err := s.users.IsVerified(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, fmt.Errorf("%s:%w", op, ErrUserNotFound)
		}

		return false, fmt.Errorf("%s:%w", op, err)
	}

	return verified, nil
}

// PurgeExpiredCodes drops codes past their expiry. Expired codes are
// already rejected by VerifyCode; this only keeps the table from growing.
func (s *Service) PurgeExpiredCodes(ctx context.Context) (int64, error) {
	const op = "service.account.PurgeExpiredCodes"

	n, err := s.codes.PurgeExpired(ctx, time.Now())
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, err)
	}

	return n, nil
}

func randomCode(n int) (string, error) {
	digits := make([]byte, n)
	for i := range digits {
		d, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		digits[i] = byte('0' + d.Int64())
	}
	return string(digits), nil
}
