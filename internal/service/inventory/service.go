// Package inventory is the seat-availability surface. All seat state
// mutation in the system goes through the seat repository this service (and
// the booking service's transactional path) sits on top of, keeping the
// one-holder-per-seat invariant enforced in a single place.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/narvaro/busline/internal/repository"
	postgresrepo "github.com/narvaro/busline/internal/repository/postgres"
	redisrepo "github.com/narvaro/busline/internal/repository/redis"
)

const availabilityTTL = 10 * time.Second

type Service struct {
	store *postgresrepo.Store
	cache *redisrepo.Cache
}

func New(store *postgresrepo.Store, cache *redisrepo.Cache) *Service {
	return &Service{store: store, cache: cache}
}

// Hold atomically marks the seats as held by bookingID; all-or-nothing.
//
// Returns:
//   - error: inventory.ErrSeatsUnavailable if any seat is booked or absent.
func (s *Service) Hold(
	ctx context.Context,
	busID int64,
	seatNumbers []string,
	bookingID uuid.UUID,
) error {
	const op = "service.inventory.Hold"

	if len(seatNumbers) == 0 {
		return fmt.Errorf("%s: no seats selected", op)
	}

	if err := s.store.Seats().Hold(ctx, busID, seatNumbers, bookingID); err != nil {
		if errors.Is(err, repository.ErrSeatsUnavailable) {
			return fmt.Errorf("%s:%w", op, ErrSeatsUnavailable)
		}

		return fmt.Errorf("%s:%w", op, err)
	}

	_ = s.cache.InvalidateBus(ctx, busID)

	return nil
}

// Release frees the seats. Idempotent; unknown seat numbers are ignored.
func (s *Service) Release(ctx context.Context, busID int64, seatNumbers []string) error {
	const op = "service.inventory.Release"

	if err := s.store.Seats().Release(ctx, busID, seatNumbers); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	_ = s.cache.InvalidateBus(ctx, busID)

	return nil
}

// Availability returns a seat-number → free snapshot, served from cache when
// fresh.
//
// Returns:
//   - error: inventory.ErrBusNotFound if the bus has no seat map.
func (s *Service) Availability(ctx context.Context, busID int64) (map[string]bool, error) {
	const op = "service.inventory.Availability"

	out, err := redisrepo.GetOrSetJSON(
		ctx,
		s.cache,
		redisrepo.KeyBusAvailability(busID),
		availabilityTTL,
		func(ctx context.Context) (map[string]bool, error) {
			return s.store.Seats().Availability(ctx, busID)
		},
	)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrBusNotFound)
		}

		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}
