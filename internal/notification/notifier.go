// Package notification is the fire-and-forget dispatch port. Delivery
// mechanics live behind the webhook; the core only logs failures and never
// waits on the result.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

type Notifier interface {
	Send(ctx context.Context, userID int64, message string)
}

// ContactResolver maps a user to their notification address (phone or
// email as provisioned by the account system).
type ContactResolver interface {
	Contact(ctx context.Context, userID int64) (string, error)
}

// Webhook posts messages to an external delivery system. With no URL
// configured it degrades to log-only, which is also the test mode.
type Webhook struct {
	url      string
	contacts ContactResolver
	hc       *http.Client
	logger   *slog.Logger
}

func NewWebhook(url string, contacts ContactResolver, logger *slog.Logger) *Webhook {
	return &Webhook{
		url:      url,
		contacts: contacts,
		hc:       &http.Client{Timeout: 5 * time.Second},
		logger:   logger,
	}
}

type message struct {
	UserID  int64  `json:"user_id"`
	Contact string `json:"contact,omitempty"`
	Message string `json:"message"`
}

func (w *Webhook) Send(ctx context.Context, userID int64, msg string) {
	if w.url == "" {
		w.logger.Info("notification", "user_id", userID, "message", msg)
		return
	}

	var contact string
	if w.contacts != nil {
		c, err := w.contacts.Contact(ctx, userID)
		if err != nil {
			// the delivery system can still route by user id
			w.logger.Warn("contact lookup failed", "user_id", userID, "error", err)
		} else {
			contact = c
		}
	}

	b, _ := json.Marshal(message{UserID: userID, Contact: contact, Message: msg})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(b))
	if err != nil {
		w.logger.Warn("notification request build failed", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.hc.Do(req)
	if err != nil {
		w.logger.Warn("notification delivery failed",
			"user_id", userID, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		w.logger.Warn("notification delivery rejected",
			"user_id", userID, "status", resp.StatusCode)
	}
}
