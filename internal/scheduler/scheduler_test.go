package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeLifecycle struct {
	expireCalls   atomic.Int64
	completeCalls atomic.Int64
	expireErr     error
}

func (f *fakeLifecycle) ExpireStale(context.Context) (int, error) {
	f.expireCalls.Add(1)
	if f.expireErr != nil {
		return 0, f.expireErr
	}
	return 2, nil
}

func (f *fakeLifecycle) CompleteDeparted(context.Context) (int64, error) {
	f.completeCalls.Add(1)
	return 1, nil
}

type fakePurger struct {
	calls atomic.Int64
}

func (f *fakePurger) PurgeExpiredCodes(context.Context) (int64, error) {
	f.calls.Add(1)
	return 3, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestScheduler_RunsAllSweeps(t *testing.T) {
	lc := &fakeLifecycle{}
	purger := &fakePurger{}
	s := New(lc, purger, 20*time.Millisecond, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 110*time.Millisecond)
	defer cancel()

	s.Start(ctx)

	assert.GreaterOrEqual(t, lc.expireCalls.Load(), int64(1))
	assert.GreaterOrEqual(t, lc.completeCalls.Load(), int64(1))
	assert.GreaterOrEqual(t, purger.calls.Load(), int64(1))
}

func TestScheduler_SweepErrorDoesNotStopTicking(t *testing.T) {
	lc := &fakeLifecycle{expireErr: errors.New("db down")}
	s := New(lc, &fakePurger{}, 20*time.Millisecond, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 110*time.Millisecond)
	defer cancel()

	s.Start(ctx)

	assert.GreaterOrEqual(t, lc.expireCalls.Load(), int64(2))
	assert.Equal(t, lc.expireCalls.Load(), lc.completeCalls.Load(),
		"the completion sweep runs even when the abandonment sweep fails")
}

func TestScheduler_StopsOnContextCancel(t *testing.T) {
	s := New(&fakeLifecycle{}, &fakePurger{}, time.Hour, testLogger())

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop on context cancel")
	}
}

func TestScheduler_DefaultsInterval(t *testing.T) {
	s := New(&fakeLifecycle{}, &fakePurger{}, 0, testLogger())
	assert.Equal(t, time.Minute, s.interval)
}
