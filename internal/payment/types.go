package payment

import "time"

// Status is the lifecycle state of a checkout record.
//
// processing is the only non-terminal status: a record is born processing
// and transitions exactly once to one of the terminal statuses. Retries of
// the same idempotency key observe the stored status, they never re-drive
// the transition.
type Status string

const (
	// StatusProcessing marks a checkout whose charge is in flight.
	StatusProcessing Status = "processing"

	// StatusApproved marks a successfully captured charge.
	StatusApproved Status = "approved"

	// StatusDeclined marks a charge refused by the provider.
	StatusDeclined Status = "declined"

	// StatusPendingAuthentication marks a charge waiting on the customer
	// to complete a 3-D Secure challenge out of band.
	StatusPendingAuthentication Status = "pending_authentication"

	// StatusProviderUnavailable marks a charge that never got a provider
	// decision (timeout, connection failure). Safe to retry.
	StatusProviderUnavailable Status = "provider_unavailable"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusProcessing, StatusApproved, StatusDeclined,
		StatusPendingAuthentication, StatusProviderUnavailable:
		return true
	}
	return false
}

// Terminal reports whether s is a final state for a checkout record.
func (s Status) Terminal() bool {
	return s.Valid() && s != StatusProcessing
}

// CardDetails carries the raw payment instrument for a single charge.
//
// Number and CVV are sensitive: they travel to the gateway adapter and
// nowhere else. They are never persisted and never logged; use MaskPAN
// for any diagnostic output.
type CardDetails struct {
	Number          string
	CVV             string
	HolderName      string
	ExpirationMonth int
	ExpirationYear  int
}

// PaymentIntent is the typed, alias-free form of a checkout request.
//
// The HTTP boundary resolves all accepted field spellings into this
// struct exactly once; everything downstream trusts these fields.
// AmountCents is the server-resolved course price, not a client value.
type PaymentIntent struct {
	LeadID       string
	CourseSlug   string
	AmountCents  int64
	Installments int
	Card         CardDetails

	// IdempotencyKey is the client-supplied key, empty when the key
	// should be derived from the intent.
	IdempotencyKey string

	// Reference is the client-supplied correlation string, empty when
	// the reference should be derived from the idempotency key.
	Reference string
}

// CheckoutRecord is one row of the checkout log: a single charge attempt
// and its outcome. Records are append-and-update; the uniqueness of
// IdempotencyKey is what turns concurrent duplicates into reuse.
type CheckoutRecord struct {
	ID             string
	LeadID         string
	Reference      string
	IdempotencyKey string
	Status         Status
	AmountCents    int64
	Installments   int

	// Display-safe instrument summary. Never the full PAN.
	CardBrand string
	CardLast4 string

	// Provider outcome, empty until the record settles.
	GatewayTID        string
	ReturnCode        string
	ReturnMessage     string
	AuthorizationCode string
	ThreeDSURL        string

	CreatedAt time.Time
}

// EnrollmentPayment is the denormalized payment projection stored on a
// lead for cheap "has this person paid?" reads.
type EnrollmentPayment struct {
	Status        Status
	Reference     string
	GatewayTID    string
	ReturnCode    string
	ReturnMessage string

	// PaidAt is set on the first approval and never overwritten.
	PaidAt *time.Time
}

// Lead is a prospective student enrolled in (at most) one course.
type Lead struct {
	ID         string
	Name       string
	Email      string
	CourseSlug string
	Payment    EnrollmentPayment
	CreatedAt  time.Time
}

// CheckoutEvent is one append-only audit entry recording a status
// transition on a checkout record.
type CheckoutEvent struct {
	ID         int64
	CheckoutID string
	FromStatus Status
	ToStatus   Status
	ReturnCode string
	Detail     string
	CreatedAt  time.Time
}
