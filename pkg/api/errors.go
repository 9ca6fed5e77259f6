package api

import (
	"errors"
	"fmt"
)

// TransportError indicates that the remote model endpoint could not be
// reached (connection refused, reset, timeout) even after the client's
// single immediate retry. It wraps the last underlying error.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("model transport failure after retry: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NewTransportError wraps err as a TransportError.
func NewTransportError(err error) error {
	return &TransportError{Err: err}
}

// IsTransportError reports whether err is (or wraps) a TransportError.
func IsTransportError(err error) bool {
	var t *TransportError
	return errors.As(err, &t)
}

// APIError indicates a non-2xx response from the model endpoint. It is
// never retried; the status code and response body are preserved for the
// caller.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("model API error %d: %s", e.StatusCode, e.Body)
}

// NewAPIError creates an APIError for the given status and body.
func NewAPIError(status int, body string) error {
	return &APIError{StatusCode: status, Body: body}
}

// IsAPIError returns the APIError and true if err is (or wraps) one.
func IsAPIError(err error) (*APIError, bool) {
	var a *APIError
	if errors.As(err, &a) {
		return a, true
	}
	return nil, false
}

// ConfigError indicates a malformed step definition discovered during
// execution: a context placeholder surviving substitution, or extracted
// context that is empty even after falling back to the full output. It
// fails the attempt it occurred on, like any other attempt fault.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return e.Msg }

// NewConfigError creates a ConfigError with the given message.
func NewConfigError(format string, args ...any) error {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// IsConfigError reports whether err is (or wraps) a ConfigError.
func IsConfigError(err error) bool {
	var c *ConfigError
	return errors.As(err, &c)
}
