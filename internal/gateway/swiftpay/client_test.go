package swiftpay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/narvaro/busline/internal/gateway"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "test-hmac-key"

func newClient(baseURL string) *Client {
	return New(Config{
		BaseURL:    baseURL,
		MerchantID: "merchant-1",
		HMACKey:    testKey,
	})
}

func expectedSignature(method, path string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(testKey))
	mac.Write([]byte(method))
	mac.Write([]byte("\n"))
	mac.Write([]byte(path))
	mac.Write([]byte("\n"))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestInitiate_SignsAndParsesCheckout(t *testing.T) {
	correlationID := uuid.New()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/charges", r.URL.Path)
		require.Equal(t, "merchant-1", r.Header.Get("X-Merchant-ID"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Equal(t,
			expectedSignature(http.MethodPost, "/v1/charges", body),
			r.Header.Get("X-Signature"),
		)

		var req chargeRequest
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, correlationID.String(), req.Reference)
		assert.Equal(t, "45.00", req.Amount)
		assert.Equal(t, "USD", req.Currency)

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(chargeResponse{
			ChargeID:    "ch_123",
			CheckoutURL: "https://swiftpay.example/checkout/ch_123",
			Status:      "pending",
		})
	}))
	defer srv.Close()

	res, err := newClient(srv.URL).Initiate(context.Background(), &gateway.InitiateRequest{
		CorrelationID: correlationID,
		Amount:        decimal.New(4500, -2),
		Currency:      "USD",
		ReturnURL:     "https://busline.example/return",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://swiftpay.example/checkout/ch_123", res.RedirectURL)
}

func TestInitiate_EmptyCheckoutURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(chargeResponse{Message: "merchant disabled"})
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).Initiate(context.Background(), &gateway.InitiateRequest{
		CorrelationID: uuid.New(),
		Amount:        decimal.New(100, -2),
		Currency:      "USD",
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, gateway.ErrUnreachable)
}

func TestVerify_PaidCharge(t *testing.T) {
	ref := uuid.New().String()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/v1/charges/"+ref, r.URL.Path)
		assert.Equal(t,
			expectedSignature(http.MethodGet, "/v1/charges/"+ref, nil),
			r.Header.Get("X-Signature"),
		)

		json.NewEncoder(w).Encode(chargeResponse{
			ChargeID: "ch_123",
			Status:   "paid",
			Amount:   "45.00",
		})
	}))
	defer srv.Close()

	res, err := newClient(srv.URL).Verify(context.Background(), ref)
	require.NoError(t, err)
	assert.True(t, res.Succeeded)
	assert.True(t, res.Amount.Equal(decimal.New(4500, -2)))
	assert.Equal(t, "ch_123", res.ExternalRef)
}

func TestVerify_NonPaidStatusIsNotSuccess(t *testing.T) {
	for _, status := range []string{"pending", "failed", "refunded", "PAID"} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(chargeResponse{Status: status, Amount: "45.00"})
		}))

		res, err := newClient(srv.URL).Verify(context.Background(), uuid.New().String())
		srv.Close()

		require.NoError(t, err)
		assert.False(t, res.Succeeded, "status %q must not verify as paid", status)
	}
}

func TestVerify_ServerErrorMapsToUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).Verify(context.Background(), uuid.New().String())
	assert.ErrorIs(t, err, gateway.ErrUnreachable)
}

func TestVerify_ConnectionRefusedMapsToUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listening anymore

	_, err := newClient(srv.URL).Verify(context.Background(), uuid.New().String())
	assert.ErrorIs(t, err, gateway.ErrUnreachable)
}
