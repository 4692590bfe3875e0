// Package booking owns the booking state machine. Every status change goes
// through a conditional repository update, so when two transitions race the
// first one lands and the second gets an invalid-status error instead of
// overwriting.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/narvaro/busline/internal/domain"
	"github.com/narvaro/busline/internal/monitoring"
	"github.com/narvaro/busline/internal/notification"
	"github.com/narvaro/busline/internal/repository"
	postgresrepo "github.com/narvaro/busline/internal/repository/postgres"
	redisrepo "github.com/narvaro/busline/internal/repository/redis"
	"github.com/narvaro/busline/internal/uow"
)

// Users is the slice of the account surface the service reads.
type Users interface {
	IsVerified(ctx context.Context, userID int64) (bool, error)
}

type Buses interface {
	GetByID(ctx context.Context, id int64) (*domain.Bus, error)
}

// Seats is the inventory surface bookings hold and release against.
type Seats interface {
	Hold(ctx context.Context, busID int64, seatNumbers []string, bookingID uuid.UUID) error
	ReleaseByBooking(ctx context.Context, bookingID uuid.UUID) error
}

// Bookings is the booking persistence surface.
type Bookings interface {
	Create(ctx context.Context, b *domain.Booking) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Booking, error)
	ListByUser(ctx context.Context, userID int64, limit, offset int) ([]domain.Booking, error)
	Transition(ctx context.Context, id uuid.UUID, from, to domain.BookingStatus) error
	Cancel(ctx context.Context, id uuid.UUID, at time.Time, from ...domain.BookingStatus) error
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Booking, error)
	CompleteDeparted(ctx context.Context, now time.Time) (int64, error)
}

// TxRunner runs fn inside one transaction and fires the collected
// after-commit hooks on success.
type TxRunner interface {
	Do(ctx context.Context, fn func(ctx context.Context, tx postgresrepo.DB, after func(uow.AfterCommit)) error) error
}

// Invalidator drops cached availability after a write.
type Invalidator interface {
	InvalidateBus(ctx context.Context, busID int64) error
}

type Config struct {
	// PendingTTL is the abandonment window: a booking left Pending longer
	// than this is cancelled by the sweep and its seats released.
	PendingTTL time.Duration

	// SweepBatch bounds how many stale bookings one sweep pass touches.
	SweepBatch int
}

type Service struct {
	users    Users
	buses    Buses
	bookings Bookings

	// seatsWith and bookingsWith scope the write repos to the transaction
	// handle inside a TxRunner callback.
	seatsWith    func(tx postgresrepo.DB) Seats
	bookingsWith func(tx postgresrepo.DB) Bookings

	tx       TxRunner
	cache    Invalidator
	notifier notification.Notifier
	logger   *slog.Logger
	cfg      Config
}

func New(
	store *postgresrepo.Store,
	cache *redisrepo.Cache,
	notifier notification.Notifier,
	logger *slog.Logger,
	cfg Config,
) *Service {
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = 15 * time.Minute
	}

	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = 100
	}

	return &Service{
		users:        store.Users(),
		buses:        store.Buses(),
		bookings:     store.Bookings(),
		seatsWith:    func(tx postgresrepo.DB) Seats { return store.Seats().With(tx) },
		bookingsWith: func(tx postgresrepo.DB) Bookings { return store.Bookings().With(tx) },
		tx:           uow.NewUoW(store),
		cache:        cache,
		notifier:     notifier,
		logger:       logger,
		cfg:          cfg,
	}
}

// Create holds the seats and persists a Pending booking in one transaction.
// Total price is seats × bus price.
//
// Returns:
//   - error: booking.ErrAccountNotVerified if the user has not verified.
//   - error: booking.ErrBusNotFound / booking.ErrBusInactive.
//   - error: booking.ErrSeatsUnavailable if the hold loses to another booking.
func (s *Service) Create(
	ctx context.Context,
	userID, busID int64,
	seatNumbers []string,
	travelDate time.Time,
) (*domain.Booking, error) {
	const op = "service.booking.Create"

	if len(seatNumbers) == 0 {
		return nil, fmt.Errorf("%s: no seats selected", op)
	}

	verified, err := s.users.IsVerified(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}
	if !verified {
		return nil, fmt.Errorf("%s:%w", op, ErrAccountNotVerified)
	}

	bus, err := s.buses.GetByID(ctx, busID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrBusNotFound)
		}

		return nil, fmt.Errorf("%s:%w", op, err)
	}
	if !bus.Active {
		return nil, fmt.Errorf("%s:%w", op, ErrBusInactive)
	}

	b := &domain.Booking{
		ID:          uuid.New(),
		UserID:      userID,
		BusID:       busID,
		SeatNumbers: seatNumbers,
		TravelDate:  travelDate,
		TotalCents:  len(seatNumbers) * bus.PriceCents,
		Status:      domain.BookingPending,
		CreatedAt:   time.Now(),
	}

	err = s.tx.Do(ctx, func(
		ctx context.Context,
		tx postgresrepo.DB,
		after func(uow.AfterCommit),
	) error {
		if err := s.seatsWith(tx).Hold(ctx, busID, seatNumbers, b.ID); err != nil {
			if errors.Is(err, repository.ErrSeatsUnavailable) {
				return fmt.Errorf("%s:%w", op, ErrSeatsUnavailable)
			}

			return fmt.Errorf("%s:%w", op, err)
		}

		if err := s.bookingsWith(tx).Create(ctx, b); err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}

		after(func(ctx context.Context) {
			_ = s.cache.InvalidateBus(ctx, busID)
			monitoring.BookingCreated()
			go s.notifier.Send(context.WithoutCancel(ctx), userID,
				fmt.Sprintf("Booking %s created, awaiting payment", b.ID))
		})

		return nil
	})
	if err != nil {
		if errors.Is(err, ErrSeatsUnavailable) {
			monitoring.HoldRejected()
		}
		return nil, err
	}

	return b, nil
}

// Get returns a booking visible to the requester only.
func (s *Service) Get(ctx context.Context, bookingID uuid.UUID, requesterID int64) (*domain.Booking, error) {
	const op = "service.booking.Get"

	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrNotFound)
		}

		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if b.UserID != requesterID {
		return nil, fmt.Errorf("%s:%w", op, ErrNotFound)
	}

	return b, nil
}

func (s *Service) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]domain.Booking, error) {
	const op = "service.booking.ListByUser"

	out, err := s.bookings.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

// Cancel cancels the requester's own booking and releases exactly its seats.
// Pending and Confirmed bookings may both be cancelled by their owner.
//
// Returns:
//   - error: booking.ErrNotFound if absent or not owned by requester.
//   - error: booking.ErrAlreadyCancelled if the booking is terminal, or if a
//     concurrent transition won the race.
func (s *Service) Cancel(ctx context.Context, bookingID uuid.UUID, requesterID int64) error {
	const op = "service.booking.Cancel"

	b, err := s.Get(ctx, bookingID, requesterID)
	if err != nil {
		return err
	}

	if b.Status.Terminal() {
		return fmt.Errorf("%s:%w", op, ErrAlreadyCancelled)
	}

	err = s.cancel(ctx, b, "cancelled by user",
		domain.BookingPending, domain.BookingConfirmed)
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	monitoring.BookingCancelled("user")

	return nil
}

// Confirm flips a Pending booking to Confirmed. Called by payment
// reconciliation only; seats stay booked.
//
// Returns:
//   - error: booking.ErrInvalidTransition if the booking is not Pending.
func (s *Service) Confirm(ctx context.Context, bookingID uuid.UUID) error {
	const op = "service.booking.Confirm"

	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%s:%w", op, ErrNotFound)
		}

		return fmt.Errorf("%s:%w", op, err)
	}

	err = s.bookings.Transition(ctx, bookingID, domain.BookingPending, domain.BookingConfirmed)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidStatus) {
			return fmt.Errorf("%s:%w", op, ErrInvalidTransition)
		}

		return fmt.Errorf("%s:%w", op, err)
	}

	go s.notifier.Send(context.WithoutCancel(ctx), b.UserID,
		fmt.Sprintf("Booking %s confirmed, seats %v", b.ID, b.SeatNumbers))

	return nil
}

// ExpireStale cancels bookings left Pending past the abandonment window and
// releases their seats. The cancel is conditional on the booking still being
// Pending: a confirmation landing between the listing and the cancel wins,
// and the sweep skips that booking.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	const op = "service.booking.ExpireStale"

	cutoff := time.Now().Add(-s.cfg.PendingTTL)

	stale, err := s.bookings.ListPendingBefore(ctx, cutoff, s.cfg.SweepBatch)
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, err)
	}

	expired := 0
	for i := range stale {
		b := stale[i]
		err := s.cancel(ctx, &b, "payment window expired", domain.BookingPending)
		if err != nil {
			if errors.Is(err, ErrAlreadyCancelled) {
				// confirmed or cancelled while we were sweeping
				continue
			}

			s.logger.Error("failed to expire booking",
				"booking_id", b.ID, "error", err)
			continue
		}

		expired++
		monitoring.BookingCancelled("sweep")
	}

	return expired, nil
}

// CompleteDeparted moves Confirmed bookings with a past travel date to
// Completed.
func (s *Service) CompleteDeparted(ctx context.Context) (int64, error) {
	const op = "service.booking.CompleteDeparted"

	n, err := s.bookings.CompleteDeparted(ctx, time.Now())
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, err)
	}

	return n, nil
}

// cancel runs the single cancellation path: a status flip conditional on the
// caller's expected statuses plus seat release in one transaction.
func (s *Service) cancel(
	ctx context.Context,
	b *domain.Booking,
	reason string,
	from ...domain.BookingStatus,
) error {
	return s.tx.Do(ctx, func(
		ctx context.Context,
		tx postgresrepo.DB,
		after func(uow.AfterCommit),
	) error {
		if err := s.bookingsWith(tx).Cancel(ctx, b.ID, time.Now(), from...); err != nil {
			if errors.Is(err, repository.ErrInvalidStatus) {
				return fmt.Errorf("%w", ErrAlreadyCancelled)
			}

			return err
		}

		if err := s.seatsWith(tx).ReleaseByBooking(ctx, b.ID); err != nil {
			return err
		}

		after(func(ctx context.Context) {
			_ = s.cache.InvalidateBus(ctx, b.BusID)
			go s.notifier.Send(context.WithoutCancel(ctx), b.UserID,
				fmt.Sprintf("Booking %s cancelled: %s", b.ID, reason))
		})

		return nil
	})
}
