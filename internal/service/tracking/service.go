// Package tracking accepts driver position updates and fans them out to
// riders subscribed to that bus. Only the latest sample per bus is durable;
// the stream itself is broadcast, not persisted.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/narvaro/busline/internal/domain"
	"github.com/narvaro/busline/internal/monitoring"
	"github.com/narvaro/busline/internal/repository"
	"github.com/narvaro/busline/internal/tracking"
)

// Buses is the slice of bus storage this service needs.
type Buses interface {
	UpdateLastLocation(ctx context.Context, id int64, lat, lng float64, at time.Time) error
	ActiveLocations(ctx context.Context) ([]domain.LocationSample, error)
}

// Relay carries samples to subscribers on other instances. The in-process
// hub only reaches connections attached to this process.
type Relay interface {
	Publish(ctx context.Context, s domain.LocationSample) error
}

type Service struct {
	buses  Buses
	hub    *tracking.Hub
	relay  Relay
	logger *slog.Logger
}

func New(buses Buses, hub *tracking.Hub, relay Relay, logger *slog.Logger) *Service {
	return &Service{
		buses:  buses,
		hub:    hub,
		relay:  relay,
		logger: logger,
	}
}

// Publish validates and records a position sample, then relays it to the
// bus's subscribers. An invalid sample rejects only that update; the
// driver's channel stays usable.
//
// Returns:
//   - error: tracking.ErrInvalidCoordinates for out-of-range lat/lng.
//   - error: tracking.ErrBusNotFound for an unknown bus.
func (s *Service) Publish(ctx context.Context, busID int64, lat, lng float64) error {
	const op = "service.tracking.Publish"

	if !domain.ValidCoordinates(lat, lng) {
		return fmt.Errorf("%s:%w", op, ErrInvalidCoordinates)
	}

	sample := domain.LocationSample{
		BusID: busID,
		Lat:   lat,
		Lng:   lng,
		At:    time.Now(),
	}

	if err := s.buses.UpdateLastLocation(ctx, busID, lat, lng, sample.At); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%s:%w", op, ErrBusNotFound)
		}

		return fmt.Errorf("%s:%w", op, err)
	}

	s.hub.Publish(sample)
	monitoring.LocationPublished()

	if s.relay != nil {
		if err := s.relay.Publish(ctx, sample); err != nil {
			// local subscribers were already served; relay loss is non-fatal
			s.logger.Warn("location relay publish failed",
				"bus_id", busID, "error", err)
		}
	}

	return nil
}

// Subscribe attaches a connection to a bus's feed.
func (s *Service) Subscribe(connID string, busID int64) <-chan domain.LocationSample {
	ch := s.hub.Subscribe(connID, busID)
	monitoring.SetLocationSubscribers(busID, s.hub.Subscribers(busID))
	return ch
}

// Unsubscribe detaches one association; other buses for the same connection
// keep delivering.
func (s *Service) Unsubscribe(connID string, busID int64) {
	s.hub.Unsubscribe(connID, busID)
	monitoring.SetLocationSubscribers(busID, s.hub.Subscribers(busID))
}

// Drop cleans up every association for a closed connection. Stream teardown
// uses it so a connection never leaks subscriptions, whatever it was
// attached to.
func (s *Service) Drop(connID string) {
	for _, busID := range s.hub.UnsubscribeAll(connID) {
		monitoring.SetLocationSubscribers(busID, s.hub.Subscribers(busID))
	}
}

// Fanout feeds relayed samples from other instances into the local hub.
// Intended to run in its own goroutine per subscribed bus.
func (s *Service) Fanout(ctx context.Context, sample domain.LocationSample) {
	s.hub.Publish(sample)
}

// Snapshot returns the last known location of every active bus, for clients
// that missed the live stream.
func (s *Service) Snapshot(ctx context.Context) (map[int64]domain.Location, error) {
	const op = "service.tracking.Snapshot"

	samples, err := s.buses.ActiveLocations(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	out := make(map[int64]domain.Location, len(samples))
	for _, smp := range samples {
		out[smp.BusID] = domain.Location{Lat: smp.Lat, Lng: smp.Lng, At: smp.At}
	}

	return out, nil
}
