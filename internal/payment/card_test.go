package payment

import (
	"testing"
	"time"
)

func TestValidLuhn(t *testing.T) {
	tests := []struct {
		number string
		want   bool
	}{
		{"4242424242424242", true},
		{"4242424242424241", false}, // off-by-one checksum
		{"4111111111111111", true},
		{"5555555555554444", true},
		{"378282246310005", true},
		{"6011111111111117", true},
		{"4242424242420000", true},
		{"4242424242461111", true},
		{"", false},
		{"4242-4242", false}, // ValidLuhn does not normalize separators
	}

	for _, tt := range tests {
		if got := ValidLuhn(tt.number); got != tt.want {
			t.Errorf("ValidLuhn(%q) = %v, want %v", tt.number, got, tt.want)
		}
	}
}

func TestCardBrand(t *testing.T) {
	tests := []struct {
		number string
		want   string
	}{
		{"4242424242424242", "visa"},
		{"5100000000000000", "mastercard"},
		{"5500000000000000", "mastercard"},
		{"5600000000000000", "unknown"}, // 56 is outside the 51-55 range
		{"340000000000000", "amex"},
		{"370000000000000", "amex"},
		{"6011111111111117", "discover"},
		{"9999999999999999", "unknown"},
		{"4242 4242 4242 4242", "visa"}, // separators ignored
	}

	for _, tt := range tests {
		if got := CardBrand(tt.number); got != tt.want {
			t.Errorf("CardBrand(%q) = %q, want %q", tt.number, got, tt.want)
		}
	}
}

func TestMaskPAN(t *testing.T) {
	if got := MaskPAN("4242424242424242"); got != "************4242" {
		t.Errorf("MaskPAN() = %q, want %q", got, "************4242")
	}
	if got := MaskPAN("4242 4242 4242 4242"); got != "************4242" {
		t.Errorf("MaskPAN() with separators = %q, want %q", got, "************4242")
	}
	if got := MaskPAN("42"); got != "**" {
		t.Errorf("MaskPAN() short = %q, want %q", got, "**")
	}
}

func TestLast4AndBIN(t *testing.T) {
	if got := Last4("4242 4242 4242 4242"); got != "4242" {
		t.Errorf("Last4() = %q, want 4242", got)
	}
	if got := BIN("5555555555554444"); got != "555555" {
		t.Errorf("BIN() = %q, want 555555", got)
	}
	if got := BIN("4242"); got != "4242" {
		t.Errorf("BIN() short = %q, want 4242", got)
	}
}

func TestExpiryValid_WholeMonth(t *testing.T) {
	// Mid-month reference instant: expiry comparison must ignore the day.
	now := time.Date(2026, time.June, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		month, year int
		want        bool
	}{
		{6, 2026, true},  // expires this month - still valid
		{5, 2026, false}, // expired last month
		{7, 2026, true},
		{12, 2025, false},
		{1, 2027, true},
		{0, 2030, false},  // invalid month
		{13, 2030, false}, // invalid month
	}

	for _, tt := range tests {
		if got := ExpiryValid(tt.month, tt.year, now); got != tt.want {
			t.Errorf("ExpiryValid(%d, %d) = %v, want %v", tt.month, tt.year, got, tt.want)
		}
	}
}

func TestValidateCard(t *testing.T) {
	now := time.Date(2026, time.June, 15, 0, 0, 0, 0, time.UTC)

	valid := CardDetails{
		Number:          "4242 4242 4242 4242",
		CVV:             "123",
		HolderName:      "Ana Souza",
		ExpirationMonth: 12,
		ExpirationYear:  2030,
	}
	if err := ValidateCard(valid, now); err != nil {
		t.Errorf("ValidateCard(valid) = %v, want nil", err)
	}

	tests := []struct {
		name   string
		mutate func(*CardDetails)
	}{
		{"too short", func(c *CardDetails) { c.Number = "424242424242" }},
		{"too long", func(c *CardDetails) { c.Number = "42424242424242424242" }},
		{"bad checksum", func(c *CardDetails) { c.Number = "4242424242424241" }},
		{"letters in number", func(c *CardDetails) { c.Number = "4242x424242424242" }},
		{"cvv too short", func(c *CardDetails) { c.CVV = "12" }},
		{"cvv too long", func(c *CardDetails) { c.CVV = "12345" }},
		{"cvv non-digit", func(c *CardDetails) { c.CVV = "12a" }},
		{"expired", func(c *CardDetails) { c.ExpirationMonth = 5; c.ExpirationYear = 2026 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			if err := ValidateCard(c, now); err == nil {
				t.Errorf("ValidateCard(%s) = nil, want error", tt.name)
			}
		})
	}
}

func TestValidateCard_FourDigitCVV(t *testing.T) {
	now := time.Date(2026, time.June, 15, 0, 0, 0, 0, time.UTC)
	c := CardDetails{
		Number:          "378282246310005",
		CVV:             "1234",
		ExpirationMonth: 6,
		ExpirationYear:  2026,
	}
	if err := ValidateCard(c, now); err != nil {
		t.Errorf("ValidateCard(amex, 4-digit cvv, expires this month) = %v, want nil", err)
	}
}
