package checkout

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode categorizes orchestrator failures for clients and logs.
type ErrorCode string

const (
	// Client input errors (HTTP 400). Never retried server-side.
	ErrCodeInvalidInstrument     ErrorCode = "invalid_instrument"
	ErrCodeInvalidIdempotencyKey ErrorCode = "invalid_idempotency_key"
	ErrCodeUnknownLead           ErrorCode = "unknown_lead"
	ErrCodeUnknownCourse         ErrorCode = "unknown_course"
	ErrCodeCourseMismatch        ErrorCode = "course_mismatch"

	// State conflicts (HTTP 409). The client must not blindly retry.
	ErrCodePaymentInFlight        ErrorCode = "payment_in_flight"
	ErrCodeIdempotencyKeyConflict ErrorCode = "idempotency_key_conflict"

	// Upstream failure (HTTP 502). Safe to retry with the same key.
	ErrCodeProviderUnavailable ErrorCode = "payment_provider_unavailable"

	// Configuration errors (HTTP 500). Operator-actionable.
	ErrCodeProviderCredentialsInvalid ErrorCode = "payment_provider_credentials_invalid"
	ErrCodeSchemaIncompatible         ErrorCode = "payment_checkout_schema_incompatible"
	ErrCodeCatalogUnavailable         ErrorCode = "catalog_unavailable"
)

// Error is a code-carrying orchestrator error. The message is already
// sanitized: no card data, no provider credentials, no SQL.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause to errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus maps the code onto the external status taxonomy.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case ErrCodeInvalidInstrument, ErrCodeInvalidIdempotencyKey,
		ErrCodeUnknownLead, ErrCodeUnknownCourse, ErrCodeCourseMismatch:
		return http.StatusBadRequest
	case ErrCodePaymentInFlight, ErrCodeIdempotencyKeyConflict:
		return http.StatusConflict
	case ErrCodeProviderUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// newError builds an Error without a cause.
func newError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// wrapError builds an Error wrapping a cause.
func wrapError(code ErrorCode, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// AsError unwraps err to an orchestrator *Error if one is in the chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the error's code, or empty when err carries none.
func CodeOf(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}
