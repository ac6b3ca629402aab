// Package apierr defines the error taxonomy shared by the orchestrator,
// adapters, and HTTP layer: a machine-readable code, its HTTP status, and
// whether the caller may safely retry.
package apierr

// Code is a machine-readable error identifier for client and operator tooling.
type Code string

const (
	CodeValidation             Code = "VALIDATION"
	CodeNotFound               Code = "NOT_FOUND"
	CodeInvalidState           Code = "INVALID_STATE"
	CodeInvalidStateForUpdate  Code = "INVALID_STATE_FOR_UPDATE"
	CodeInvalidTransition      Code = "INVALID_TRANSITION"
	CodeIdempotencyKeyRequired Code = "IDEMPOTENCY_KEY_REQUIRED"
	CodePMSClientError         Code = "PMS_CLIENT_ERROR"
	CodePMSServerError         Code = "PMS_SERVER_ERROR"
	CodePMSTimeout             Code = "PMS_TIMEOUT"
	CodePSPSignature           Code = "PSP_SIGNATURE"
	CodePSPError               Code = "PSP_ERROR"
	CodeUnsupportedCurrency    Code = "UNSUPPORTED_CURRENCY"
	CodeGuestRequired          Code = "GUEST_REQUIRED"
	CodeInternal               Code = "INTERNAL"
)

// IsRetryable reports whether a client encountering this code may safely
// retry the same request with the same idempotency key.
func (c Code) IsRetryable() bool {
	switch c {
	case CodePMSServerError, CodePMSTimeout, CodePSPError:
		return true
	default:
		return false
	}
}

// HTTPStatus maps a code to the status the HTTP layer should respond with.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeValidation, CodeIdempotencyKeyRequired, CodeGuestRequired, CodeUnsupportedCurrency:
		return 400
	case CodeNotFound:
		return 404
	case CodeInvalidState, CodeInvalidStateForUpdate, CodeInvalidTransition:
		return 409
	case CodePSPSignature:
		return 400
	case CodePMSServerError, CodePMSTimeout:
		return 502
	case CodePSPError:
		return 502
	case CodePMSClientError:
		return 400
	case CodeInternal:
		return 500
	default:
		return 500
	}
}
