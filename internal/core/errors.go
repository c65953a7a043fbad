package core

import "errors"

// Error codes reported to the originating connection. Validation and
// authorization failures never reach other participants.
const (
	CodeValidation   = "validation_error"
	CodeUnauthorized = "authorization_error"
	CodeNotFound     = "not_found"
	CodeRateLimited  = "rate_limited"
	CodeConflict     = "state_conflict"
	CodeUpstream     = "upstream_error"
)

// Error carries a wire-level code and a human-readable message.
type Error struct {
	Code    string
	Message string
	cause   error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Validation reports malformed or missing input, rejected pre-mutation.
func Validation(msg string) *Error {
	return &Error{Code: CodeValidation, Message: msg}
}

// Unauthorized reports an action the identity may not perform.
func Unauthorized(msg string) *Error {
	return &Error{Code: CodeUnauthorized, Message: msg}
}

// NotFound reports an unknown conversation, call or stream id.
func NotFound(msg string) *Error {
	return &Error{Code: CodeNotFound, Message: msg}
}

// RateLimited reports a soft, retryable limit violation.
func RateLimited(msg string) *Error {
	return &Error{Code: CodeRateLimited, Message: msg}
}

// Conflict reports an operation invalid in the current state
// (double-accept, already-liked).
func Conflict(msg string) *Error {
	return &Error{Code: CodeConflict, Message: msg}
}

// Upstream wraps a persistence or credential-issuer failure.
func Upstream(msg string, cause error) *Error {
	return &Error{Code: CodeUpstream, Message: msg, cause: cause}
}

// AsError extracts a coded error, mapping anything else to upstream.
func AsError(err error) *Error {
	var coded *Error
	if errors.As(err, &coded) {
		return coded
	}
	return &Error{Code: CodeUpstream, Message: err.Error(), cause: err}
}
