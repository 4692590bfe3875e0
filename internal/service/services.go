package service

import (
	"log/slog"

	"github.com/narvaro/busline/internal/gateway"
	"github.com/narvaro/busline/internal/notification"
	postgres "github.com/narvaro/busline/internal/repository/postgres"
	redis "github.com/narvaro/busline/internal/repository/redis"
	"github.com/narvaro/busline/internal/service/account"
	"github.com/narvaro/busline/internal/service/booking"
	"github.com/narvaro/busline/internal/service/fleet"
	"github.com/narvaro/busline/internal/service/inventory"
	"github.com/narvaro/busline/internal/service/payment"
	svctracking "github.com/narvaro/busline/internal/service/tracking"
	"github.com/narvaro/busline/internal/tracking"
)

type Services struct {
	Inventory *inventory.Service
	Booking   *booking.Service
	Payment   *payment.Service
	Account   *account.Service
	Fleet     *fleet.Service
	Tracking  *svctracking.Service
}

type Config struct {
	Booking booking.Config
	Payment payment.Config
	Account account.Config
}

func NewServices(
	store *postgres.Store,
	cache *redis.Cache,
	hub *tracking.Hub,
	relay svctracking.Relay,
	registry *gateway.Registry,
	notifier notification.Notifier,
	logger *slog.Logger,
	cfg Config,
) *Services {
	bookingSvc := booking.New(store, cache, notifier, logger, cfg.Booking)

	return &Services{
		Inventory: inventory.New(store, cache),
		Booking:   bookingSvc,
		Payment: payment.New(
			store.Payments(),
			store.Bookings(),
			bookingSvc,
			registry,
			logger,
			cfg.Payment,
		),
		Account:  account.New(store.Users(), store.Verification(), notifier, logger, cfg.Account),
		Fleet:    fleet.New(store, cache),
		Tracking: svctracking.New(store.Buses(), hub, relay, logger),
	}
}
