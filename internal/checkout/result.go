package checkout

import (
	"net/http"

	"github.com/enrollkit/chargeonce/internal/payment"
)

// Reuse reasons reported on replayed responses.
const (
	// ReuseByKey: the idempotency key matched an existing record.
	ReuseByKey = "idempotency_key"

	// ReuseByReference: the deterministic reference matched while the
	// key column was unavailable (degraded schema generation).
	ReuseByReference = "reference"

	// ReuseLeadAlreadyPaid: the lead's enrollment is already paid; no
	// charge was attempted regardless of the key.
	ReuseLeadAlreadyPaid = "lead_already_paid"

	// ReuseInsertRace: a concurrent request with the same key won the
	// insert race; this response carries the winner's record.
	ReuseInsertRace = "insert_race"
)

// Result is the one normalized checkout outcome, identical in shape for
// fresh charges and replays so clients cannot tell them apart except by
// the explicit flags.
type Result struct {
	Approved bool           `json:"approved"`
	Status   payment.Status `json:"status"`

	CheckoutID     string `json:"checkout_id"`
	LeadID         string `json:"lead_id,omitempty"`
	Reference      string `json:"reference"`
	IdempotencyKey string `json:"idempotency_key"`

	AmountCents  int64 `json:"amount_cents"`
	Installments int   `json:"installments"`

	CardBrand string `json:"card_brand,omitempty"`
	CardLast4 string `json:"card_last4,omitempty"`

	GatewayTID        string `json:"gateway_tid,omitempty"`
	ReturnCode        string `json:"return_code,omitempty"`
	ReturnMessage     string `json:"return_message,omitempty"`
	AuthorizationCode string `json:"authorization_code,omitempty"`

	// RedirectURL is set when the cardholder must complete a 3-D Secure
	// challenge out of band.
	RedirectURL string `json:"redirect_url,omitempty"`

	// IdempotentReused is true when this response replays a stored
	// record instead of a fresh gateway decision.
	IdempotentReused bool `json:"idempotent_reused"`

	// ReuseReason qualifies IdempotentReused; empty on fresh charges.
	ReuseReason string `json:"reuse_reason,omitempty"`

	// IdempotencyPersisted is false when the record was stored without
	// its key (legacy schema generation): duplicate protection is
	// degraded to reference matching until the schema is repaired.
	IdempotencyPersisted bool `json:"idempotency_persisted"`
}

// HTTPStatus maps the checkout status onto the external contract:
// processing is 202 (a decision is still in flight), provider
// unavailability is 502 (retry later, same key), everything else the
// provider actually decided is 200.
func (r *Result) HTTPStatus() int {
	switch r.Status {
	case payment.StatusProcessing:
		return http.StatusAccepted
	case payment.StatusProviderUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusOK
	}
}

// resultFromRecord builds the normalized result from a stored record.
func resultFromRecord(rec *payment.CheckoutRecord, key string, keyPersisted, reused bool, reason string) *Result {
	effectiveKey := rec.IdempotencyKey
	if effectiveKey == "" {
		effectiveKey = key
	}
	return &Result{
		Approved:             rec.Status == payment.StatusApproved,
		Status:               rec.Status,
		CheckoutID:           rec.ID,
		LeadID:               rec.LeadID,
		Reference:            rec.Reference,
		IdempotencyKey:       effectiveKey,
		AmountCents:          rec.AmountCents,
		Installments:         rec.Installments,
		CardBrand:            rec.CardBrand,
		CardLast4:            rec.CardLast4,
		GatewayTID:           rec.GatewayTID,
		ReturnCode:           rec.ReturnCode,
		ReturnMessage:        rec.ReturnMessage,
		AuthorizationCode:    rec.AuthorizationCode,
		RedirectURL:          rec.ThreeDSURL,
		IdempotentReused:     reused,
		ReuseReason:          reason,
		IdempotencyPersisted: keyPersisted,
	}
}
