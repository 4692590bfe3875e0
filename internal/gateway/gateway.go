package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/narvaro/busline/internal/domain"
	"github.com/shopspring/decimal"
)

// ErrUnreachable signals that the provider could not be reached or timed
// out. Retryable; the booking stays Pending until the abandonment window
// closes.
var ErrUnreachable = errors.New("gateway unreachable")

// InitiateRequest describes a redirect-based payment initiation. The
// correlation ID is echoed back by the provider on callback and is the only
// key used to look the payment up again.
type InitiateRequest struct {
	CorrelationID uuid.UUID
	Amount        decimal.Decimal
	Currency      string
	ReturnURL     string
	Description   string
}

type InitiateResult struct {
	RedirectURL string
}

// VerifyResult is the provider's authoritative answer about a transaction,
// fetched server-to-server. Callback payloads are never trusted on their
// own.
type VerifyResult struct {
	Succeeded   bool
	Amount      decimal.Decimal
	ExternalRef string
}

// Gateway is the capability surface each payment provider implements.
type Gateway interface {
	Provider() domain.GatewayProvider
	Initiate(ctx context.Context, req *InitiateRequest) (*InitiateResult, error)
	Verify(ctx context.Context, correlationID string) (*VerifyResult, error)
}

// Registry dispatches on the Payment.gateway tag.
type Registry struct {
	gateways map[domain.GatewayProvider]Gateway
}

func NewRegistry(gws ...Gateway) *Registry {
	r := &Registry{gateways: make(map[domain.GatewayProvider]Gateway, len(gws))}
	for _, gw := range gws {
		r.gateways[gw.Provider()] = gw
	}
	return r
}

func (r *Registry) Get(provider domain.GatewayProvider) (Gateway, error) {
	gw, ok := r.gateways[provider]
	if !ok {
		return nil, fmt.Errorf("gateway %q not registered", provider)
	}
	return gw, nil
}

func (r *Registry) Providers() []domain.GatewayProvider {
	out := make([]domain.GatewayProvider, 0, len(r.gateways))
	for p := range r.gateways {
		out = append(out, p)
	}
	return out
}
