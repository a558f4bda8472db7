// Package errors defines the stable error-code taxonomy shared by the HTTP
// API and the websocket event protocol. Both surfaces report failures using
// the same Code value so a client-side translation table only has to be
// written once.
package errors

import (
	"fmt"
	"time"
)

// ErrorCode is one of the stable string codes from the protocol's error
// taxonomy. Never change the string value of an existing code — clients
// match on it.
type ErrorCode string

const (
	CodeInvalidPayload        ErrorCode = "invalid_payload"
	CodeRateLimited            ErrorCode = "rate_limited"
	CodePasswordRequired       ErrorCode = "password_required"
	CodeInvalidPassword        ErrorCode = "invalid_password"
	CodeRoomNotFound           ErrorCode = "room_not_found"
	CodeUserNotAuthenticated   ErrorCode = "user_not_authenticated"
	CodeUserNotInRoom          ErrorCode = "user_not_in_room"
	CodeNotYourMessage         ErrorCode = "not_your_message"
	CodeMessageNotFound        ErrorCode = "message_not_found"
	CodeInvalidFileReference   ErrorCode = "invalid_file_reference"
	CodeFileTooLarge           ErrorCode = "file_too_large"
	CodeFileNotFound           ErrorCode = "file_not_found"
	CodeShareNotFound          ErrorCode = "share_not_found"
	CodeShareExpired           ErrorCode = "share_expired"
	CodeShareRevoked           ErrorCode = "share_revoked"
	CodeAuthenticationRequired ErrorCode = "authentication_required"
	CodeInternal               ErrorCode = "internal"
)

// APIError is the wire shape carried in HTTP JSON bodies and in the
// websocket `error` event payload.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Error is the internal error type every component returns. It carries a
// stable Code alongside a human-readable Message and, optionally, the
// underlying cause (logged, never exposed to the client).
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// ToAPIError converts the internal error into its wire representation.
// The underlying cause is deliberately omitted — internal infrastructure
// errors must not leak detail to the client (§7).
func (e *Error) ToAPIError() *APIError {
	return &APIError{
		Code:      string(e.Code),
		Message:   e.Message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// New creates an Error carrying a stable code and a client-safe message.
func New(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a stable code and client-safe message to an underlying
// error. The underlying error is kept for server-side logging only.
func Wrap(err error, code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// As reports whether err is itself an *Error and returns it, without
// forcing every call site to import both packages. It is a direct type
// assertion: an *Error wrapped inside another error is not found.
func As(err error) (*Error, bool) {
	e, ok := err.(*Error)
	if ok {
		return e, true
	}
	return nil, false
}

// Internal wraps an infrastructure failure (disk, corrupted index, etc.)
// as CodeInternal. Call sites should log err themselves with full context
// before returning the wrapped value — the client only ever sees "internal".
func Internal(err error) *Error {
	return Wrap(err, CodeInternal, "internal server error")
}
