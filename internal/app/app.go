package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/narvaro/busline/internal/config"
	"github.com/narvaro/busline/internal/gateway"
	"github.com/narvaro/busline/internal/gateway/swiftpay"
	"github.com/narvaro/busline/internal/gateway/transpay"
	"github.com/narvaro/busline/internal/notification"
	"github.com/narvaro/busline/internal/postgres"
	redisx "github.com/narvaro/busline/internal/redis"
	postgresrepo "github.com/narvaro/busline/internal/repository/postgres"
	redisrepo "github.com/narvaro/busline/internal/repository/redis"
	"github.com/narvaro/busline/internal/scheduler"
	"github.com/narvaro/busline/internal/service"
	"github.com/narvaro/busline/internal/service/account"
	"github.com/narvaro/busline/internal/service/booking"
	"github.com/narvaro/busline/internal/service/payment"
	"github.com/narvaro/busline/internal/tracking"
	httpgin "github.com/narvaro/busline/internal/transport/http/gin"
	"golang.org/x/sync/errgroup"
)

type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	httpServer *http.Server
	scheduler  *scheduler.Scheduler
	relay      *redisx.LocationPubSub
	services   *service.Services
}

func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	// Initialize dependencies
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Postgres.User,
		cfg.Postgres.Password,
		cfg.Postgres.Host,
		cfg.Postgres.Port,
		cfg.Postgres.Name,
		cfg.Postgres.SSLMode,
	)

	pgxPool, err := postgres.New(context.Background(), postgres.Config{DSN: dsn})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres: %w", err)
	}

	rdb, err := redisx.New(context.Background(), redisx.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	// Initialize repositories
	store := postgresrepo.NewStore(pgxPool)
	cache := redisrepo.New(rdb)
	relay := redisx.NewLocationPubSub(rdb)
	limiter := redisrepo.NewSlidingWindowLimiter(rdb, "booking", 10, 1*time.Minute)
	idempotencyStore := redisrepo.NewIdempotencyStore(rdb, 2*time.Hour)
	hub := tracking.NewHub()

	// Initialize payment gateways
	registry := gateway.NewRegistry(
		swiftpay.New(swiftpay.Config{
			BaseURL:    cfg.Payment.SwiftPay.BaseURL,
			MerchantID: cfg.Payment.SwiftPay.ID,
			HMACKey:    cfg.Payment.SwiftPay.Key,
			Timeout:    cfg.Payment.VerifyTimeout,
		}),
		transpay.New(transpay.Config{
			BaseURL:  cfg.Payment.TransPay.BaseURL,
			APIToken: cfg.Payment.TransPay.Key,
			Timeout:  cfg.Payment.VerifyTimeout,
		}),
	)

	notifier := notification.NewWebhook(cfg.Notify.WebhookURL, store.Users(), logger)

	// Initialize services
	services := service.NewServices(store, cache, hub, relay, registry, notifier, logger, service.Config{
		Booking: booking.Config{PendingTTL: cfg.Booking.PendingTTL},
		Payment: payment.Config{
			Currency:      cfg.Payment.Currency,
			ReturnURL:     cfg.Payment.ReturnURL,
			VerifyTimeout: cfg.Payment.VerifyTimeout,
		},
		Account: account.Config{CodeTTL: cfg.Booking.CodeTTL},
	})

	// Initialize Gin router
	router := httpgin.NewRouter(
		services,
		idempotencyStore,
		limiter,
		cfg.Auth.JWTSecret,
		logger,
	)

	return &App{
		cfg:    cfg,
		logger: logger,
		httpServer: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler: router,
		},
		scheduler: scheduler.New(services.Booking, services.Account, cfg.Booking.SweepInterval, logger),
		relay:     relay,
		services:  services,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	// Start HTTP server
	g.Go(func() error {
		a.logger.Info("HTTP server listening", "host", a.cfg.Server.Host, "port", a.cfg.Server.Port)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	})

	// Booking housekeeping sweeps
	g.Go(func() error {
		a.scheduler.Start(gCtx)
		return nil
	})

	// Cross-instance location fanout
	g.Go(func() error {
		err := a.relay.SubscribeAll(gCtx, a.services.Tracking.Fanout)
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("location relay stopped: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("shutting down HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.httpServer.Shutdown(ctx)
	})

	return g.Wait()
}
