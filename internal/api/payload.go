package api

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/enrollkit/chargeonce/internal/checkout"
	"github.com/enrollkit/chargeonce/internal/payment"
)

// checkoutPayload accepts every field spelling real checkout frontends
// have shipped over time. Aliases are resolved exactly once, here; the
// orchestrator only ever sees the typed request.
type checkoutPayload struct {
	LeadID     string `json:"lead_id"`
	LeadIDAlt  string `json:"leadId"`
	CourseSlug string `json:"course_slug"`
	CourseAlt  string `json:"courseSlug"`

	Installments int `json:"installments"`

	IdempotencyKey    string `json:"idempotency_key"`
	IdempotencyKeyAlt string `json:"idempotencyKey"`

	CardNumber       string `json:"card_number"`
	CardNumberAlt    string `json:"cardNumber"`
	CardCVV          string `json:"card_cvv"`
	CardCVVAlt       string `json:"cvv"`
	CardHolder       string `json:"card_holder"`
	CardHolderAlt    string `json:"holder_name"`
	CardExpMonth     int    `json:"card_exp_month"`
	CardExpMonthAlt  int    `json:"expirationMonth"`
	CardExpYear      int    `json:"card_exp_year"`
	CardExpYearAlt   int    `json:"expirationYear"`
	CardExpiryJoined string `json:"card_expiry"` // "MM/YYYY"
}

// firstOf returns the first non-zero value.
func firstOf[T comparable](values ...T) T {
	var zero T
	for _, v := range values {
		if v != zero {
			return v
		}
	}
	return zero
}

// resolveCheckoutRequest turns the wire payload plus the Idempotency-Key
// header into the orchestrator request. Header beats body for the key.
func resolveCheckoutRequest(c *gin.Context, p checkoutPayload) checkout.Request {
	month := firstOf(p.CardExpMonth, p.CardExpMonthAlt)
	year := firstOf(p.CardExpYear, p.CardExpYearAlt)
	if joined := p.CardExpiryJoined; joined != "" && month == 0 && year == 0 {
		month, year = splitExpiry(joined)
	}

	return checkout.Request{
		LeadID:       firstOf(p.LeadID, p.LeadIDAlt),
		CourseSlug:   firstOf(p.CourseSlug, p.CourseAlt),
		Installments: p.Installments,
		Card: payment.CardDetails{
			Number:          firstOf(p.CardNumber, p.CardNumberAlt),
			CVV:             firstOf(p.CardCVV, p.CardCVVAlt),
			HolderName:      firstOf(p.CardHolder, p.CardHolderAlt),
			ExpirationMonth: month,
			ExpirationYear:  year,
		},
		IdempotencyKey: firstOf(
			c.GetHeader("Idempotency-Key"),
			p.IdempotencyKey,
			p.IdempotencyKeyAlt,
		),
	}
}

// splitExpiry parses "MM/YYYY" (or "MM/YY") into numeric parts; bad
// input yields zeros and fails card validation downstream.
func splitExpiry(s string) (month, year int) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return 0, 0
	}
	month = atoiSafe(strings.TrimSpace(parts[0]))
	year = atoiSafe(strings.TrimSpace(parts[1]))
	if year > 0 && year < 100 {
		year += 2000
	}
	return month, year
}

func atoiSafe(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0
		}
		n = n*10 + int(s[i]-'0')
	}
	if s == "" {
		return 0
	}
	return n
}
