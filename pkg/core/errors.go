package core

import (
	"errors"
	"fmt"
)

// Error represents a coaching pipeline error.
type Error struct {
	Type      ErrorType `json:"type"`
	Message   string    `json:"message"`
	Param     string    `json:"param,omitempty"`
	Code      string    `json:"code,omitempty"`
	RequestID string    `json:"request_id,omitempty"`

	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.cause)
	}
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, msg, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, msg)
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	return e.cause
}

// ErrorType categorizes errors.
type ErrorType string

const (
	// ErrDevice covers microphone access denied, unsupported, or failed mid-stream.
	// Recovered locally by switching the call to text-only input.
	ErrDevice ErrorType = "device_error"
	// ErrConnection covers dial/handshake failures and mid-call disconnects.
	ErrConnection ErrorType = "connection_error"
	// ErrMalformedOutput covers model text that does not satisfy the analysis contract.
	ErrMalformedOutput ErrorType = "malformed_output"
	// ErrInvalidState covers sends outside Open and illegal state transitions.
	ErrInvalidState ErrorType = "invalid_state"
	// ErrInvalidRequest covers bad caller input.
	ErrInvalidRequest ErrorType = "invalid_request_error"
	// ErrAuthentication covers missing or rejected credentials.
	ErrAuthentication ErrorType = "authentication_error"
	// ErrNotFound covers unknown routes and records.
	ErrNotFound ErrorType = "not_found_error"
	// ErrAPI is a generic internal failure.
	ErrAPI ErrorType = "api_error"
)

// NewDeviceError creates a device error wrapping cause.
func NewDeviceError(message string, cause error) *Error {
	return &Error{Type: ErrDevice, Message: message, cause: cause}
}

// NewConnectionError creates a connection error wrapping cause.
func NewConnectionError(message string, cause error) *Error {
	return &Error{Type: ErrConnection, Message: message, cause: cause}
}

// NewMalformedOutputError creates a malformed model output error.
func NewMalformedOutputError(message string, cause error) *Error {
	return &Error{Type: ErrMalformedOutput, Message: message, cause: cause}
}

// NewInvalidStateError creates an invalid state error.
func NewInvalidStateError(message string) *Error {
	return &Error{Type: ErrInvalidState, Message: message}
}

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{Type: ErrInvalidRequest, Message: message}
}

// NewInvalidRequestErrorWithParam creates an invalid request error with a parameter.
func NewInvalidRequestErrorWithParam(message, param string) *Error {
	return &Error{Type: ErrInvalidRequest, Message: message, Param: param}
}

// NewAuthenticationError creates an authentication error.
func NewAuthenticationError(message string) *Error {
	return &Error{Type: ErrAuthentication, Message: message}
}

// NewNotFoundError creates a not found error.
func NewNotFoundError(message string) *Error {
	return &Error{Type: ErrNotFound, Message: message}
}

// NewAPIError creates a generic API error.
func NewAPIError(message string) *Error {
	return &Error{Type: ErrAPI, Message: message}
}

// IsType reports whether err wraps a *Error of type typ.
func IsType(err error, typ ErrorType) bool {
	var ce *Error
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Type == typ
}

// IsRecoverable reports whether the call can continue after err.
// Only device errors are recoverable: the call degrades to text input.
func (e *Error) IsRecoverable() bool {
	return e.Type == ErrDevice
}
