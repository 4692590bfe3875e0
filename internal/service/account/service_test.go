package account

import (
	"context"
	"io"
	"log/slog"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/narvaro/busline/internal/domain"
	"github.com/narvaro/busline/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// --- fakes ---

type fakeUsers struct {
	verified map[int64]bool
}

func (f *fakeUsers) IsVerified(_ context.Context, userID int64) (bool, error) {
	v, ok := f.verified[userID]
	if !ok {
		return false, repository.ErrNotFound
	}
	return v, nil
}

func (f *fakeUsers) SetVerified(_ context.Context, userID int64) error {
	f.verified[userID] = true
	return nil
}

type fakeCodes struct {
	rows map[int64]*domain.VerificationCode
}

func (f *fakeCodes) Upsert(_ context.Context, c *domain.VerificationCode) error {
	cp := *c
	f.rows[c.UserID] = &cp
	return nil
}

func (f *fakeCodes) Get(_ context.Context, userID int64) (*domain.VerificationCode, error) {
	c, ok := f.rows[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeCodes) Consume(_ context.Context, userID int64) error {
	if _, ok := f.rows[userID]; !ok {
		return repository.ErrNotFound
	}
	delete(f.rows, userID)
	return nil
}

func (f *fakeCodes) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	var purged int64
	for id, c := range f.rows {
		if c.ExpiresAt.Before(now) {
			delete(f.rows, id)
			purged++
		}
	}
	return purged, nil
}

type captureNotifier struct {
	mu       sync.Mutex
	messages []string
	done     chan struct{}
}

func newCaptureNotifier() *captureNotifier {
	return &captureNotifier{done: make(chan struct{}, 8)}
}

func (n *captureNotifier) Send(_ context.Context, _ int64, message string) {
	n.mu.Lock()
	n.messages = append(n.messages, message)
	n.mu.Unlock()
	n.done <- struct{}{}
}

func (n *captureNotifier) wait(t *testing.T) string {
	t.Helper()
	select {
	case <-n.done:
	case <-time.After(2 * time.Second):
		t.Fatal("notifier was never called")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.messages[len(n.messages)-1]
}

// --- helpers ---

var codePattern = regexp.MustCompile(`\b(\d{6})\b`)

func newTestService(users *fakeUsers, codes *fakeCodes, notifier *captureNotifier) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(users, codes, notifier, logger, Config{CodeTTL: 10 * time.Minute})
}

func hashOf(t *testing.T, code string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

// --- tests ---

func TestRequestCode_StoresHashAndNotifies(t *testing.T) {
	users := &fakeUsers{verified: map[int64]bool{7: false}}
	codes := &fakeCodes{rows: map[int64]*domain.VerificationCode{}}
	notifier := newCaptureNotifier()

	svc := newTestService(users, codes, notifier)

	require.NoError(t, svc.RequestCode(context.Background(), 7))

	msg := notifier.wait(t)
	match := codePattern.FindStringSubmatch(msg)
	require.NotNil(t, match, "notification must carry the 6-digit code")
	code := match[1]

	stored, ok := codes.rows[7]
	require.True(t, ok)
	assert.NotContains(t, stored.CodeHash, code, "code must not be stored in plaintext")
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.CodeHash), []byte(code)))
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), stored.ExpiresAt, time.Minute)
}

func TestRequestCode_ReplacesOutstandingCode(t *testing.T) {
	users := &fakeUsers{verified: map[int64]bool{7: false}}
	codes := &fakeCodes{rows: map[int64]*domain.VerificationCode{
		7: {UserID: 7, CodeHash: hashOf(t, "111111"), ExpiresAt: time.Now().Add(time.Minute)},
	}}
	notifier := newCaptureNotifier()

	svc := newTestService(users, codes, notifier)

	require.NoError(t, svc.RequestCode(context.Background(), 7))
	notifier.wait(t)

	err := svc.VerifyCode(context.Background(), 7, "111111")
	assert.ErrorIs(t, err, ErrCodeMismatch, "the old code must stop working once a new one is issued")
}

func TestRequestCode_NoOpWhenAlreadyVerified(t *testing.T) {
	users := &fakeUsers{verified: map[int64]bool{7: true}}
	codes := &fakeCodes{rows: map[int64]*domain.VerificationCode{}}

	svc := newTestService(users, codes, newCaptureNotifier())

	require.NoError(t, svc.RequestCode(context.Background(), 7))
	assert.Empty(t, codes.rows)
}

func TestRequestCode_UnknownUser(t *testing.T) {
	svc := newTestService(
		&fakeUsers{verified: map[int64]bool{}},
		&fakeCodes{rows: map[int64]*domain.VerificationCode{}},
		newCaptureNotifier(),
	)

	err := svc.RequestCode(context.Background(), 404)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestVerifyCode_MarksUserVerifiedAndConsumes(t *testing.T) {
	users := &fakeUsers{verified: map[int64]bool{7: false}}
	codes := &fakeCodes{rows: map[int64]*domain.VerificationCode{
		7: {UserID: 7, CodeHash: hashOf(t, "483920"), ExpiresAt: time.Now().Add(time.Minute)},
	}}

	svc := newTestService(users, codes, newCaptureNotifier())

	require.NoError(t, svc.VerifyCode(context.Background(), 7, "483920"))
	assert.True(t, users.verified[7])

	// single-use: the same code cannot pass twice
	err := svc.VerifyCode(context.Background(), 7, "483920")
	assert.ErrorIs(t, err, ErrNoCode)
}

func TestVerifyCode_WrongValue(t *testing.T) {
	users := &fakeUsers{verified: map[int64]bool{7: false}}
	codes := &fakeCodes{rows: map[int64]*domain.VerificationCode{
		7: {UserID: 7, CodeHash: hashOf(t, "483920"), ExpiresAt: time.Now().Add(time.Minute)},
	}}

	svc := newTestService(users, codes, newCaptureNotifier())

	err := svc.VerifyCode(context.Background(), 7, "000000")
	assert.ErrorIs(t, err, ErrCodeMismatch)
	assert.False(t, users.verified[7])

	// a failed attempt must not consume the code
	require.NoError(t, svc.VerifyCode(context.Background(), 7, "483920"))
}

func TestVerifyCode_ExpiredEvenOnMatch(t *testing.T) {
	users := &fakeUsers{verified: map[int64]bool{7: false}}
	codes := &fakeCodes{rows: map[int64]*domain.VerificationCode{
		7: {UserID: 7, CodeHash: hashOf(t, "483920"), ExpiresAt: time.Now().Add(-time.Second)},
	}}

	svc := newTestService(users, codes, newCaptureNotifier())

	err := svc.VerifyCode(context.Background(), 7, "483920")
	assert.ErrorIs(t, err, ErrCodeExpired)
	assert.False(t, users.verified[7])
}

func TestVerifyCode_NoOutstandingCode(t *testing.T) {
	svc := newTestService(
		&fakeUsers{verified: map[int64]bool{7: false}},
		&fakeCodes{rows: map[int64]*domain.VerificationCode{}},
		newCaptureNotifier(),
	)

	err := svc.VerifyCode(context.Background(), 7, "123456")
	assert.ErrorIs(t, err, ErrNoCode)
}

func TestIsVerified(t *testing.T) {
	svc := newTestService(
		&fakeUsers{verified: map[int64]bool{7: true, 8: false}},
		&fakeCodes{rows: map[int64]*domain.VerificationCode{}},
		newCaptureNotifier(),
	)

	ok, err := svc.IsVerified(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.IsVerified(context.Background(), 8)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = svc.IsVerified(context.Background(), 404)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestPurgeExpiredCodes(t *testing.T) {
	codes := &fakeCodes{rows: map[int64]*domain.VerificationCode{
		1: {UserID: 1, ExpiresAt: time.Now().Add(-time.Minute)},
		2: {UserID: 2, ExpiresAt: time.Now().Add(time.Minute)},
	}}
	svc := newTestService(&fakeUsers{verified: map[int64]bool{}}, codes, newCaptureNotifier())

	purged, err := svc.PurgeExpiredCodes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	_, ok := codes.rows[2]
	assert.True(t, ok, "outstanding codes survive the purge")
}

func TestRandomCode_Format(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 32; i++ {
		code, err := randomCode(codeLength)
		require.NoError(t, err)
		require.Regexp(t, `^\d{6}$`, code)
		seen[code] = true
	}
	assert.Greater(t, len(seen), 1, "codes must not be constant")
}
