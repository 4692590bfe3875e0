// Package fleet is the operator surface: bus, route and seat-map inventory
// management.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/narvaro/busline/internal/domain"
	"github.com/narvaro/busline/internal/repository"
	postgresrepo "github.com/narvaro/busline/internal/repository/postgres"
	redisrepo "github.com/narvaro/busline/internal/repository/redis"
)

const (
	summaryTTL = 60 * time.Second
	listTTL    = 30 * time.Second
)

type Service struct {
	store *postgresrepo.Store
	cache *redisrepo.Cache
}

func New(store *postgresrepo.Store, cache *redisrepo.Cache) *Service {
	return &Service{store: store, cache: cache}
}

// CreateBus inserts the bus and generates its seat map once from the
// rows×cols layout.
//
// Returns:
//   - error: fleet.ErrBadLayout when the layout cannot produce TotalSeats.
func (s *Service) CreateBus(ctx context.Context, b *domain.Bus) (int64, error) {
	const op = "service.fleet.CreateBus"

	if b.TotalSeats == 0 {
		b.TotalSeats = b.SeatRows * b.SeatCols
	}

	if len(domain.SeatNumbers(b.SeatRows, b.SeatCols)) != b.TotalSeats {
		return 0, fmt.Errorf("%s:%w", op, ErrBadLayout)
	}

	id, err := s.store.Buses().Create(ctx, b)
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, err)
	}

	_ = s.cache.Del(ctx, redisrepo.KeyActiveBuses())

	return id, nil
}

// GetBus returns a bus with its last known location, cache-assisted.
func (s *Service) GetBus(ctx context.Context, id int64) (*domain.Bus, error) {
	const op = "service.fleet.GetBus"

	b, err := redisrepo.GetOrSetJSON(
		ctx,
		s.cache,
		redisrepo.KeyBusSummary(id),
		summaryTTL,
		func(ctx context.Context) (*domain.Bus, error) {
			return s.store.Buses().GetByID(ctx, id)
		},
	)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrBusNotFound)
		}

		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return b, nil
}

func (s *Service) ListActive(ctx context.Context, limit, offset int) ([]domain.Bus, error) {
	const op = "service.fleet.ListActive"

	out, err := s.store.Buses().ListActive(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

// SetActive toggles whether a bus accepts bookings.
func (s *Service) SetActive(ctx context.Context, id int64, active bool) error {
	const op = "service.fleet.SetActive"

	if err := s.store.Buses().SetActive(ctx, id, active); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%s:%w", op, ErrBusNotFound)
		}

		return fmt.Errorf("%s:%w", op, err)
	}

	_ = s.cache.InvalidateBus(ctx, id)

	return nil
}
