package apierr

import "fmt"

// Error is the result discriminator threaded through the orchestrator,
// adapters, and state machine: a classified code plus an optional upstream
// status for passthrough cases like PMS_CLIENT_ERROR.
type Error struct {
	Code           Code
	Message        string
	Details        map[string]any
	UpstreamStatus int // non-zero only for adapter passthrough errors
	cause          error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// HTTPStatus returns the status to answer the HTTP caller with, preferring
// an upstream passthrough status when the adapter recorded one.
func (e *Error) HTTPStatus() int {
	if e.UpstreamStatus != 0 {
		return e.UpstreamStatus
	}
	return e.Code.HTTPStatus()
}

// New builds a classified error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds a classified error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a classification to an underlying error.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// WithDetails attaches structured per-field context and returns the receiver.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// WithUpstreamStatus records the literal status code returned by an upstream
// 4xx so the HTTP layer can pass it through unchanged.
func (e *Error) WithUpstreamStatus(status int) *Error {
	e.UpstreamStatus = status
	return e
}

// As extracts an *Error from err if present.
func As(err error) (*Error, bool) {
	ae, ok := err.(*Error)
	return ae, ok
}

// CodeOf returns the code of err if it is an *Error, else CodeInternal.
func CodeOf(err error) Code {
	if ae, ok := As(err); ok {
		return ae.Code
	}
	return CodeInternal
}
