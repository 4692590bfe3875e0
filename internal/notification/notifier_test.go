package notification

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeContacts struct {
	contacts map[int64]string
}

func (f *fakeContacts) Contact(_ context.Context, userID int64) (string, error) {
	c, ok := f.contacts[userID]
	if !ok {
		return "", errors.New("not found")
	}
	return c, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWebhook_PostsMessageWithContact(t *testing.T) {
	var got message

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, &fakeContacts{contacts: map[int64]string{7: "+8562055512345"}}, testLogger())
	wh.Send(context.Background(), 7, "Your verification code is 483920")

	assert.Equal(t, int64(7), got.UserID)
	assert.Equal(t, "+8562055512345", got.Contact)
	assert.Equal(t, "Your verification code is 483920", got.Message)
}

func TestWebhook_ContactLookupFailureStillDelivers(t *testing.T) {
	var got message

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, &fakeContacts{contacts: map[int64]string{}}, testLogger())
	wh.Send(context.Background(), 7, "hello")

	assert.Equal(t, int64(7), got.UserID)
	assert.Empty(t, got.Contact)
}

func TestWebhook_NoURLIsLogOnly(t *testing.T) {
	wh := NewWebhook("", nil, testLogger())
	// must not panic or attempt delivery
	wh.Send(context.Background(), 7, "hello")
}

func TestWebhook_DeliveryFailureDoesNotPanic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	wh := NewWebhook(srv.URL, nil, testLogger())
	wh.Send(context.Background(), 7, "hello")
}
