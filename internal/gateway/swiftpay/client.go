// Package swiftpay implements the SwiftPay provider: a JSON API with
// HMAC-SHA256 request signing. Initiation creates a hosted checkout and
// verification reads the charge back by our correlation reference.
package swiftpay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/narvaro/busline/internal/domain"
	"github.com/narvaro/busline/internal/gateway"
	"github.com/shopspring/decimal"
)

type Config struct {
	BaseURL    string
	MerchantID string
	HMACKey    string
	Timeout    time.Duration
}

type Client struct {
	baseURL    string
	merchantID string
	hmacKey    []byte
	hc         *http.Client
}

func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		merchantID: cfg.MerchantID,
		hmacKey:    []byte(cfg.HMACKey),
		hc:         &http.Client{Timeout: timeout},
	}
}

func (c *Client) Provider() domain.GatewayProvider {
	return domain.GatewaySwiftPay
}

type chargeRequest struct {
	MerchantID string `json:"merchant_id"`
	Reference  string `json:"reference"`
	Amount     string `json:"amount"`
	Currency   string `json:"currency"`
	ReturnURL  string `json:"return_url"`
	Memo       string `json:"memo,omitempty"`
}

type chargeResponse struct {
	ChargeID    string `json:"charge_id"`
	CheckoutURL string `json:"checkout_url"`
	Status      string `json:"status"`
	Amount      string `json:"amount"`
	Message     string `json:"message,omitempty"`
}

func (c *Client) Initiate(ctx context.Context, req *gateway.InitiateRequest) (*gateway.InitiateResult, error) {
	const op = "swiftpay.Client.Initiate"

	body := chargeRequest{
		MerchantID: c.merchantID,
		Reference:  req.CorrelationID.String(),
		Amount:     req.Amount.StringFixed(2),
		Currency:   req.Currency,
		ReturnURL:  req.ReturnURL,
		Memo:       req.Description,
	}

	var resp chargeResponse
	if err := c.do(ctx, http.MethodPost, "/v1/charges", &body, &resp); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if resp.CheckoutURL == "" {
		return nil, fmt.Errorf("%s: empty checkout url: %s", op, resp.Message)
	}

	return &gateway.InitiateResult{RedirectURL: resp.CheckoutURL}, nil
}

// Verify fetches the charge by reference straight from SwiftPay. A "paid"
// status is the only success signal honored.
func (c *Client) Verify(ctx context.Context, correlationID string) (*gateway.VerifyResult, error) {
	const op = "swiftpay.Client.Verify"

	var resp chargeResponse
	if err := c.do(ctx, http.MethodGet, "/v1/charges/"+correlationID, nil, &resp); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	amount, err := decimal.NewFromString(resp.Amount)
	if err != nil {
		return nil, fmt.Errorf("%s: bad amount %q: %w", op, resp.Amount, err)
	}

	return &gateway.VerifyResult{
		Succeeded:   resp.Status == "paid",
		Amount:      amount,
		ExternalRef: resp.ChargeID,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	var body io.Reader

	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		payload = b
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Merchant-ID", c.merchantID)
	req.Header.Set("X-Signature", c.sign(method, path, payload))

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", gateway.ErrUnreachable, err)
	}

	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: status %d", gateway.ErrUnreachable, resp.StatusCode)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("swiftpay: status %d: %s", resp.StatusCode, b)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// sign computes HMAC-SHA256 over "METHOD\npath\nbody" as SwiftPay requires.
func (c *Client) sign(method, path string, payload []byte) string {
	mac := hmac.New(sha256.New, c.hmacKey)
	mac.Write([]byte(method))
	mac.Write([]byte("\n"))
	mac.Write([]byte(path))
	mac.Write([]byte("\n"))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
