package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/enrollkit/chargeonce/internal/payment"
)

// Mode selects the charging backend.
type Mode string

const (
	// ModeMock decides charges deterministically from the card number.
	// No network I/O. Used for tests, demos, and the charge command.
	ModeMock Mode = "mock"

	// ModeLive posts charges to the configured HTTP provider.
	ModeLive Mode = "live"
)

// Valid reports whether m names a known backend.
func (m Mode) Valid() bool {
	return m == ModeMock || m == ModeLive
}

// Timeout bounds for the live provider call.
const (
	DefaultTimeout = 15 * time.Second
	MinTimeout     = 1 * time.Second
	MaxTimeout     = 60 * time.Second
)

// ClampTimeout forces d into [MinTimeout, MaxTimeout], substituting
// DefaultTimeout for the zero value.
func ClampTimeout(d time.Duration) time.Duration {
	if d == 0 {
		return DefaultTimeout
	}
	if d < MinTimeout {
		return MinTimeout
	}
	if d > MaxTimeout {
		return MaxTimeout
	}
	return d
}

// Well-known normalized return codes.
const (
	CodeApproved    = "00"
	CodeDeclined    = "05"
	CodePendingAuth = "220"

	// CodeAuthFailed marks a provider-side credential rejection. This is
	// an operator problem, never a customer decline.
	CodeAuthFailed = "AUTH"
)

// ChargeRequest carries one charge attempt to a provider.
//
// Reference is the deterministic correlation string for the checkout;
// providers echo it back and the mock derives its synthetic identifiers
// from it, which keeps retries byte-identical.
type ChargeRequest struct {
	Reference    string
	AmountCents  int64
	Installments int
	HolderEmail  string
	Card         payment.CardDetails
}

// NormalizedResponse is the provider-independent charge outcome.
// An all-zero value means the provider answered with a body we could
// not interpret; Result.OK decides whether that reads as a detail-free
// decline (success status) or a provider failure (error status).
type NormalizedResponse struct {
	TID               string `json:"tid"`
	ReturnCode        string `json:"return_code"`
	ReturnMessage     string `json:"return_message"`
	AuthorizationCode string `json:"authorization_code"`
	ThreeDSURL        string `json:"three_ds_url"`
	CardBrand         string `json:"card_brand"`
	CardLast4         string `json:"card_last4"`
}

// Result pairs the normalized response with transport-level facts the
// orchestrator needs for its settle decision.
type Result struct {
	// OK is true when the provider reached a business decision, whether
	// approval, decline, or a 3-D Secure challenge.
	OK bool

	// HTTPStatus is the provider's HTTP status (the mock synthesizes an
	// equivalent). 401/403 signal bad credentials, not a decline.
	HTTPStatus int

	Response NormalizedResponse
}

// CredentialsRejected reports whether the provider refused our
// credentials rather than the customer's card.
func (r Result) CredentialsRejected() bool {
	return r.HTTPStatus == 401 || r.HTTPStatus == 403 ||
		r.Response.ReturnCode == CodeAuthFailed
}

// Gateway is the charging contract. A returned error means the provider
// was never reached or never answered (connect failure, timeout); it is
// retry-safe. Business declines are not errors.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (Result, error)
}

// Config selects and parameterizes a backend.
type Config struct {
	Mode     Mode
	Endpoint string // live only
	APIKey   string // live only
	Timeout  time.Duration
}

// New builds the Gateway for cfg.
func New(cfg Config) (Gateway, error) {
	switch cfg.Mode {
	case ModeMock:
		return NewMock(), nil
	case ModeLive:
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("live gateway requires an endpoint")
		}
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("live gateway requires an API key")
		}
		return NewLive(cfg.Endpoint, cfg.APIKey, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown gateway mode %q", cfg.Mode)
	}
}
