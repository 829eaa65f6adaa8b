package testutil

import (
	"time"

	"github.com/enrollkit/chargeonce/internal/payment"
)

// Luhn-valid card numbers wired to the mock gateway's decision table.
const (
	CardApproved    = "4242424242424242"
	CardDeclined    = "4000000000020000"
	CardPendingAuth = "4000000000061111"
)

// Epoch is the instant most fixtures pin their clocks to.
var Epoch = time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

// Card builds a valid instrument around the given number.
func Card(number string) payment.CardDetails {
	return payment.CardDetails{
		Number:          number,
		CVV:             "123",
		HolderName:      "Ada Lovelace",
		ExpirationMonth: 12,
		ExpirationYear:  2030,
	}
}

// Lead builds an enrollment lead for the given course.
func Lead(id, courseSlug string) payment.Lead {
	return payment.Lead{
		ID:         id,
		Name:       "Ada Lovelace",
		Email:      "ada@example.com",
		CourseSlug: courseSlug,
		CreatedAt:  Epoch,
	}
}
