package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/enrollkit/chargeonce/internal/payment"
)

// Live posts charges to the real HTTP provider.
//
// The client is created once with a clamped timeout; every charge is a
// single POST with bearer authentication. A connect failure or timeout
// surfaces as an error (the orchestrator turns that into
// provider_unavailable). A response body we cannot parse does NOT: the
// provider answered, we just could not read the decision, so the caller
// gets an empty normalized response. Result.OK tells the caller whether
// that empty response rode on a success status (settled as a decline)
// or on a provider error (settled as unavailable).
type Live struct {
	client   *resty.Client
	endpoint string
}

// NewLive builds the live provider client. timeout is clamped to
// [MinTimeout, MaxTimeout]; zero selects DefaultTimeout.
func NewLive(endpoint, apiKey string, timeout time.Duration) *Live {
	client := resty.New().
		SetAuthToken(apiKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetTimeout(ClampTimeout(timeout))

	return &Live{client: client, endpoint: endpoint}
}

// providerChargeRequest is the wire format of the provider's charge
// endpoint. Amount travels as a decimal string of cents per the
// provider's API contract.
type providerChargeRequest struct {
	Reference    string `json:"reference"`
	Amount       string `json:"amount"`
	Installments int    `json:"installments"`
	Email        string `json:"email,omitempty"`

	CardNumber string `json:"card_number"`
	CardCVV    string `json:"card_cvv"`
	HolderName string `json:"holder_name"`
	ExpMonth   int    `json:"expiration_month"`
	ExpYear    int    `json:"expiration_year"`
}

// providerChargeResponse is the provider's decision body.
type providerChargeResponse struct {
	TID               string `json:"tid"`
	ReturnCode        string `json:"return_code"`
	ReturnMessage     string `json:"return_message"`
	AuthorizationCode string `json:"authorization_code"`
	ThreeDSURL        string `json:"authentication_url"`
}

// Charge implements Gateway.
func (l *Live) Charge(ctx context.Context, req ChargeRequest) (Result, error) {
	number := payment.NormalizeCardNumber(req.Card.Number)

	body := providerChargeRequest{
		Reference:    req.Reference,
		Amount:       strconv.FormatInt(req.AmountCents, 10),
		Installments: req.Installments,
		Email:        req.HolderEmail,
		CardNumber:   number,
		CardCVV:      req.Card.CVV,
		HolderName:   req.Card.HolderName,
		ExpMonth:     req.Card.ExpirationMonth,
		ExpYear:      req.Card.ExpirationYear,
	}

	resp, err := l.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(l.endpoint)
	if err != nil {
		// Network-level failure: the provider may or may not have seen
		// the charge. Retry-safe because the idempotency key pins it.
		return Result{}, fmt.Errorf("charge request to provider: %w", err)
	}

	result := Result{
		OK:         !resp.IsError(),
		HTTPStatus: resp.StatusCode(),
	}

	// Decode leniently: a malformed body leaves the normalized response
	// empty rather than failing the call.
	var decision providerChargeResponse
	if jsonErr := json.Unmarshal(resp.Body(), &decision); jsonErr == nil {
		result.Response = NormalizedResponse{
			TID:               decision.TID,
			ReturnCode:        decision.ReturnCode,
			ReturnMessage:     decision.ReturnMessage,
			AuthorizationCode: decision.AuthorizationCode,
			ThreeDSURL:        decision.ThreeDSURL,
		}
	}
	result.Response.CardBrand = payment.CardBrand(number)
	result.Response.CardLast4 = payment.Last4(number)

	return result, nil
}
