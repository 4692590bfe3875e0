// Package payment normalizes the two external gateway protocols into one
// internal payment state and reconciles it against bookings. Callbacks are
// never trusted: every completion is re-verified against the gateway's own
// endpoint before the booking is confirmed.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/narvaro/busline/internal/domain"
	"github.com/narvaro/busline/internal/gateway"
	"github.com/narvaro/busline/internal/monitoring"
	"github.com/narvaro/busline/internal/repository"
	"github.com/shopspring/decimal"
)

// Store is the payment persistence surface the service needs.
type Store interface {
	Create(ctx context.Context, p *domain.Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	MarkCompleted(ctx context.Context, id uuid.UUID, externalRef string) error
	MarkFailed(ctx context.Context, id uuid.UUID) error
	HasCompletedForBooking(ctx context.Context, bookingID uuid.UUID) (bool, error)
}

// Bookings is the slice of the booking lifecycle the service drives.
type Bookings interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Booking, error)
	SetPaymentID(ctx context.Context, id, paymentID uuid.UUID) error
}

// Confirmer flips a Pending booking to Confirmed.
type Confirmer interface {
	Confirm(ctx context.Context, bookingID uuid.UUID) error
}

type Config struct {
	Currency  string
	ReturnURL string

	// VerifyTimeout bounds the server-to-server verification round trip so a
	// slow gateway surfaces ErrGatewayUnreachable instead of hanging.
	VerifyTimeout time.Duration
}

type Service struct {
	payments  Store
	bookings  Bookings
	lifecycle Confirmer
	registry  *gateway.Registry
	logger    *slog.Logger
	cfg       Config
}

func New(
	payments Store,
	bookings Bookings,
	lifecycle Confirmer,
	registry *gateway.Registry,
	logger *slog.Logger,
	cfg Config,
) *Service {
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}

	if cfg.VerifyTimeout <= 0 {
		cfg.VerifyTimeout = 10 * time.Second
	}

	return &Service{
		payments:  payments,
		bookings:  bookings,
		lifecycle: lifecycle,
		registry:  registry,
		logger:    logger,
		cfg:       cfg,
	}
}

// Handle is returned from Initiate: the correlation ID the gateway will echo
// back, and where to send the passenger.
type Handle struct {
	PaymentID   uuid.UUID
	RedirectURL string
}

// Initiate creates an Initiated payment for a Pending booking and asks the
// chosen gateway for a redirect target.
//
// Returns:
//   - error: payment.ErrInvalidBooking if the booking is absent, not owned
//     by the caller, or not Pending.
//   - error: payment.ErrUnsupportedGateway for an unknown provider tag.
//   - error: payment.ErrGatewayUnreachable when initiation fails upstream.
func (s *Service) Initiate(
	ctx context.Context,
	userID int64,
	bookingID uuid.UUID,
	provider domain.GatewayProvider,
) (*Handle, error) {
	const op = "service.payment.Initiate"

	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrInvalidBooking)
		}

		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if b.UserID != userID || b.Status != domain.BookingPending {
		return nil, fmt.Errorf("%s:%w", op, ErrInvalidBooking)
	}

	gw, err := s.registry.Get(provider)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, ErrUnsupportedGateway)
	}

	p := &domain.Payment{
		ID:          uuid.New(),
		UserID:      userID,
		BookingID:   bookingID,
		AmountCents: b.TotalCents,
		Gateway:     provider,
		Status:      domain.PaymentInitiated,
		CreatedAt:   time.Now(),
	}

	if err := s.payments.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	res, err := gw.Initiate(ctx, &gateway.InitiateRequest{
		CorrelationID: p.ID,
		Amount:        centsToDecimal(p.AmountCents),
		Currency:      s.cfg.Currency,
		ReturnURL:     s.cfg.ReturnURL,
		Description:   fmt.Sprintf("booking %s", bookingID),
	})
	if err != nil {
		_ = s.payments.MarkFailed(ctx, p.ID)

		if errors.Is(err, gateway.ErrUnreachable) {
			return nil, fmt.Errorf("%s:%w", op, ErrGatewayUnreachable)
		}

		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if err := s.bookings.SetPaymentID(ctx, bookingID, p.ID); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &Handle{PaymentID: p.ID, RedirectURL: res.RedirectURL}, nil
}

// Outcome of a reconciled callback.
type Outcome string

const (
	OutcomeConfirmed        Outcome = "confirmed"
	OutcomeFailed           Outcome = "failed"
	OutcomeAlreadyProcessed Outcome = "already_processed"
)

// Reconcile resolves a gateway callback. The transaction is re-verified
// against the gateway's own verification endpoint; the callback payload is
// only a hint. Replays of an already-completed payment are a no-op.
//
// Returns:
//   - payment.ErrUnknownPayment if no payment matches the correlation ID;
//     no booking side effect ever happens in that case.
//   - payment.ErrGatewayUnreachable if verification failed; retryable, no
//     state change.
//   - payment.ErrAmountMismatch if the verified amount differs; payment is
//     failed closed, the booking is left Pending for the sweep.
func (s *Service) Reconcile(
	ctx context.Context,
	provider domain.GatewayProvider,
	correlationID uuid.UUID,
) (Outcome, error) {
	const op = "service.payment.Reconcile"

	p, err := s.payments.GetByID(ctx, correlationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", fmt.Errorf("%s:%w", op, ErrUnknownPayment)
		}

		return "", fmt.Errorf("%s:%w", op, err)
	}

	// A correlation ID is only valid on the gateway that issued it.
	if p.Gateway != provider {
		return "", fmt.Errorf("%s:%w", op, ErrUnknownPayment)
	}

	if p.Status == domain.PaymentCompleted {
		return OutcomeAlreadyProcessed, nil
	}

	gw, err := s.registry.Get(provider)
	if err != nil {
		return "", fmt.Errorf("%s:%w", op, ErrUnsupportedGateway)
	}

	verifyCtx, cancel := context.WithTimeout(ctx, s.cfg.VerifyTimeout)
	defer cancel()

	start := time.Now()
	res, err := gw.Verify(verifyCtx, correlationID.String())
	if err != nil {
		monitoring.GatewayVerify(string(provider), "unreachable", time.Since(start))

		if errors.Is(err, gateway.ErrUnreachable) || errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%s:%w", op, ErrGatewayUnreachable)
		}

		return "", fmt.Errorf("%s:%w", op, err)
	}

	if !res.Succeeded {
		monitoring.GatewayVerify(string(provider), "failed", time.Since(start))

		if err := s.payments.MarkFailed(ctx, p.ID); err != nil &&
			!errors.Is(err, repository.ErrAlreadyProcessed) {
			return "", fmt.Errorf("%s:%w", op, err)
		}

		// Booking stays Pending; the abandonment sweep releases the seats.
		return OutcomeFailed, nil
	}

	if !res.Amount.Equal(centsToDecimal(p.AmountCents)) {
		monitoring.GatewayVerify(string(provider), "amount_mismatch", time.Since(start))
		s.logger.Error("payment amount mismatch",
			"payment_id", p.ID,
			"expected_cents", p.AmountCents,
			"verified", res.Amount.String(),
		)

		if err := s.payments.MarkFailed(ctx, p.ID); err != nil &&
			!errors.Is(err, repository.ErrAlreadyProcessed) {
			return "", fmt.Errorf("%s:%w", op, err)
		}

		return "", fmt.Errorf("%s:%w", op, ErrAmountMismatch)
	}

	monitoring.GatewayVerify(string(provider), "success", time.Since(start))

	// At most one completed payment may exist per booking, even across
	// different payment attempts.
	done, err := s.payments.HasCompletedForBooking(ctx, p.BookingID)
	if err != nil {
		return "", fmt.Errorf("%s:%w", op, err)
	}
	if done {
		return OutcomeAlreadyProcessed, nil
	}

	if err := s.payments.MarkCompleted(ctx, p.ID, res.ExternalRef); err != nil {
		if errors.Is(err, repository.ErrAlreadyProcessed) {
			// concurrent callback completed it first
			return OutcomeAlreadyProcessed, nil
		}

		return "", fmt.Errorf("%s:%w", op, err)
	}

	if err := s.lifecycle.Confirm(ctx, p.BookingID); err != nil {
		// Payment is Completed but the booking moved first (user cancelled
		// or sweep won). Log loudly; the money path needs an operator.
		s.logger.Error("completed payment could not confirm booking",
			"payment_id", p.ID,
			"booking_id", p.BookingID,
			"error", err,
		)

		return "", fmt.Errorf("%s:%w", op, err)
	}

	return OutcomeConfirmed, nil
}

func centsToDecimal(cents int) decimal.Decimal {
	return decimal.New(int64(cents), -2)
}
