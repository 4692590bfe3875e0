// Package transpay implements the TransPay provider: a form-encoded API
// behind a static bearer token. Amounts come back in minor units.
package transpay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/narvaro/busline/internal/domain"
	"github.com/narvaro/busline/internal/gateway"
	"github.com/shopspring/decimal"
)

type Config struct {
	BaseURL  string
	APIToken string
	Timeout  time.Duration
}

type Client struct {
	baseURL  string
	apiToken string
	hc       *http.Client
}

func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		baseURL:  cfg.BaseURL,
		apiToken: cfg.APIToken,
		hc:       &http.Client{Timeout: timeout},
	}
}

func (c *Client) Provider() domain.GatewayProvider {
	return domain.GatewayTransPay
}

type initResponse struct {
	Result  string `json:"result"`
	PayURL  string `json:"pay_url"`
	Message string `json:"message,omitempty"`
}

type statusResponse struct {
	Result    string `json:"result"` // SUCCESS | FAIL | PENDING
	PaidMinor int64  `json:"paid_minor"`
	TxnID     string `json:"txn_id"`
	Message   string `json:"message,omitempty"`
}

func (c *Client) Initiate(ctx context.Context, req *gateway.InitiateRequest) (*gateway.InitiateResult, error) {
	const op = "transpay.Client.Initiate"

	form := url.Values{
		"ref":        {req.CorrelationID.String()},
		"amount":     {req.Amount.StringFixed(2)},
		"currency":   {req.Currency},
		"return_url": {req.ReturnURL},
		"details":    {req.Description},
	}

	var resp initResponse
	if err := c.post(ctx, "/api/pay/init", form, &resp); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if resp.Result != "OK" || resp.PayURL == "" {
		return nil, fmt.Errorf("%s: init rejected: %s", op, resp.Message)
	}

	return &gateway.InitiateResult{RedirectURL: resp.PayURL}, nil
}

func (c *Client) Verify(ctx context.Context, correlationID string) (*gateway.VerifyResult, error) {
	const op = "transpay.Client.Verify"

	form := url.Values{"ref": {correlationID}}

	var resp statusResponse
	if err := c.post(ctx, "/api/pay/status", form, &resp); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &gateway.VerifyResult{
		Succeeded:   resp.Result == "SUCCESS",
		Amount:      decimal.New(resp.PaidMinor, -2),
		ExternalRef: resp.TxnID,
	}, nil
}

func (c *Client) post(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+path,
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+c.apiToken)

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", gateway.ErrUnreachable, err)
	}

	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: status %d", gateway.ErrUnreachable, resp.StatusCode)
	}

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("transpay: status %d: %s", resp.StatusCode, b)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
