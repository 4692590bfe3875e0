// Package scheduler runs the time-based housekeeping: cancelling bookings
// abandoned past the payment window and completing bookings whose travel
// date has passed. It is an explicit ticker sweep, not per-booking timers,
// so the invariant-enforcing cancellation path has exactly one entry point.
package scheduler

import (
	"context"
	"log/slog"
	"time"
)

type lifecycle interface {
	ExpireStale(ctx context.Context) (int, error)
	CompleteDeparted(ctx context.Context) (int64, error)
}

type codePurger interface {
	PurgeExpiredCodes(ctx context.Context) (int64, error)
}

type Scheduler struct {
	bookings lifecycle
	accounts codePurger
	interval time.Duration
	logger   *slog.Logger
}

func New(bookings lifecycle, accounts codePurger, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}

	return &Scheduler{
		bookings: bookings,
		accounts: accounts,
		interval: interval,
		logger:   logger,
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", "interval", s.interval)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	expired, err := s.bookings.ExpireStale(ctx)
	if err != nil {
		s.logger.Error("abandonment sweep failed", "error", err)
	} else if expired > 0 {
		s.logger.Info("abandoned bookings cancelled", "count", expired)
	}

	completed, err := s.bookings.CompleteDeparted(ctx)
	if err != nil {
		s.logger.Error("completion sweep failed", "error", err)
	} else if completed > 0 {
		s.logger.Info("departed bookings completed", "count", completed)
	}

	purged, err := s.accounts.PurgeExpiredCodes(ctx)
	if err != nil {
		s.logger.Error("code purge failed", "error", err)
	} else if purged > 0 {
		s.logger.Info("expired verification codes purged", "count", purged)
	}
}
