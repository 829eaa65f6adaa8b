package payment

import (
	"fmt"
	"strings"
	"time"
)

// Card number length bounds (digits after normalization).
const (
	minCardDigits = 13
	maxCardDigits = 19
)

// NormalizeCardNumber strips spaces and dashes from a card number,
// returning the bare digit string. Any other character is kept so that
// validation can reject it.
func NormalizeCardNumber(number string) string {
	var b strings.Builder
	b.Grow(len(number))
	for _, r := range number {
		if r == ' ' || r == '-' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ValidLuhn reports whether the digit string passes the Luhn checksum.
// Returns false for empty strings or strings with non-digit characters.
func ValidLuhn(number string) bool {
	if number == "" {
		return false
	}
	sum := 0
	double := false
	for i := len(number) - 1; i >= 0; i-- {
		c := number[i]
		if c < '0' || c > '9' {
			return false
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// CardBrand infers the card network from the number prefix.
// Display only: the result never drives validation or routing.
func CardBrand(number string) string {
	n := NormalizeCardNumber(number)
	switch {
	case strings.HasPrefix(n, "4"):
		return "visa"
	case len(n) >= 2 && n[:2] >= "51" && n[:2] <= "55":
		return "mastercard"
	case strings.HasPrefix(n, "34") || strings.HasPrefix(n, "37"):
		return "amex"
	case strings.HasPrefix(n, "6"):
		return "discover"
	default:
		return "unknown"
	}
}

// Last4 returns the final four digits of the card number, or the whole
// (masked-length) string when shorter.
func Last4(number string) string {
	n := NormalizeCardNumber(number)
	if len(n) <= 4 {
		return n
	}
	return n[len(n)-4:]
}

// BIN returns the first six digits of the card number (the issuer
// identifier), or the whole string when shorter.
func BIN(number string) string {
	n := NormalizeCardNumber(number)
	if len(n) <= 6 {
		return n
	}
	return n[:6]
}

// MaskPAN replaces all but the last four digits with asterisks.
// Safe for logs and diagnostics.
func MaskPAN(number string) string {
	n := NormalizeCardNumber(number)
	if len(n) <= 4 {
		return strings.Repeat("*", len(n))
	}
	return strings.Repeat("*", len(n)-4) + n[len(n)-4:]
}

// ExpiryValid reports whether the card expiry (month, year) is current at
// the given instant. Comparison is whole-month: a card expiring this
// month is still valid today.
func ExpiryValid(month, year int, now time.Time) bool {
	if month < 1 || month > 12 {
		return false
	}
	if year > now.Year() {
		return true
	}
	if year < now.Year() {
		return false
	}
	return month >= int(now.Month())
}

// ValidateCard checks the instrument fields of a card: digit-only number
// of plausible length passing Luhn, 3-4 digit CVV, and an unexpired
// whole-month expiry. The returned error names the failing field without
// echoing sensitive values.
func ValidateCard(c CardDetails, now time.Time) error {
	number := NormalizeCardNumber(c.Number)
	if len(number) < minCardDigits || len(number) > maxCardDigits {
		return fmt.Errorf("card number must be %d-%d digits", minCardDigits, maxCardDigits)
	}
	if !allDigits(number) {
		return fmt.Errorf("card number must contain only digits")
	}
	if !ValidLuhn(number) {
		return fmt.Errorf("card number failed checksum")
	}
	if len(c.CVV) < 3 || len(c.CVV) > 4 || !allDigits(c.CVV) {
		return fmt.Errorf("security code must be 3 or 4 digits")
	}
	if !ExpiryValid(c.ExpirationMonth, c.ExpirationYear, now) {
		return fmt.Errorf("card expired %02d/%d", c.ExpirationMonth, c.ExpirationYear)
	}
	return nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}
