package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/enrollkit/chargeonce/internal/payment"
)

// Mock card-number suffixes that force specific outcomes.
const (
	mockSuffixDeclined    = "0000"
	mockSuffixPendingAuth = "1111"
)

// mockThreeDSBase hosts the synthetic 3-D Secure challenge page.
const mockThreeDSBase = "https://3ds.sandbox.chargeonce.dev/challenge/"

// Mock is the deterministic no-network provider.
//
// Outcomes are a pure function of the card number: a suffix of 0000
// declines, 1111 demands 3-D Secure authentication, anything else of
// plausible length approves. Synthetic identifiers (tid, authorization
// code) are digests of the masked card and the reference, so replays of
// the same logical charge produce identical responses.
type Mock struct{}

// NewMock returns the mock provider.
func NewMock() *Mock {
	return &Mock{}
}

// Charge implements Gateway. Never returns an error: the mock provider
// is always reachable.
func (m *Mock) Charge(_ context.Context, req ChargeRequest) (Result, error) {
	number := payment.NormalizeCardNumber(req.Card.Number)

	if len(number) < 13 {
		return Result{
			OK:         false,
			HTTPStatus: 422,
			Response: NormalizedResponse{
				ReturnCode:    "EC02",
				ReturnMessage: "invalid card number",
				CardBrand:     payment.CardBrand(number),
				CardLast4:     payment.Last4(number),
			},
		}, nil
	}

	digest := mockDigest(payment.MaskPAN(number), req.Reference)
	resp := NormalizedResponse{
		TID:       "MOCK-" + digest[:8],
		CardBrand: payment.CardBrand(number),
		CardLast4: payment.Last4(number),
	}

	switch {
	case strings.HasSuffix(number, mockSuffixDeclined):
		resp.ReturnCode = CodeDeclined
		resp.ReturnMessage = "transaction not authorized"
	case strings.HasSuffix(number, mockSuffixPendingAuth):
		resp.ReturnCode = CodePendingAuth
		resp.ReturnMessage = "cardholder authentication required"
		resp.ThreeDSURL = mockThreeDSBase + req.Reference
	default:
		resp.ReturnCode = CodeApproved
		resp.ReturnMessage = "transaction approved"
		resp.AuthorizationCode = "A" + strings.ToUpper(digest[8:14])
	}

	return Result{OK: true, HTTPStatus: 200, Response: resp}, nil
}

// mockDigest derives the synthetic identifier seed. Only the masked PAN
// enters the digest; the full card number never does.
func mockDigest(maskedPAN, reference string) string {
	sum := sha256.Sum256([]byte(maskedPAN + "|" + reference))
	return hex.EncodeToString(sum[:])
}
