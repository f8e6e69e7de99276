package client

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies every failure a provider call can produce.
type ErrorKind string

const (
	KindTransport         ErrorKind = "transport_error"
	KindHTTP              ErrorKind = "http_error"
	KindMalformedResponse ErrorKind = "malformed_response"
	KindUnexpectedShape   ErrorKind = "unexpected_response_shape"
	KindProviderReported  ErrorKind = "provider_reported_error"
	KindTimeout           ErrorKind = "timeout"
	KindInputValidation   ErrorKind = "input_validation_error"
	kindUnknown           ErrorKind = "unknown_error"
)

// Error is the classified failure returned by every provider client.
type Error struct {
	Kind       ErrorKind
	Provider   string
	Op         string
	StatusCode int
	Body       string
	Message    string
	Err        error
}

func (e *Error) Error() string {
	prefix := e.Provider
	if e.Op != "" {
		prefix += " " + e.Op
	}

	switch {
	case e.Kind == KindHTTP:
		return fmt.Sprintf("%s: %s (status %d): %s", prefix, e.Kind, e.StatusCode, e.Body)
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %s: %v", prefix, e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s: %s", prefix, e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", prefix, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s", prefix, e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the classification of err. Context cancellation maps to
// timeout; anything that is not a *Error is reported as unknown.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	return kindUnknown
}

// IsKind reports whether err is a provider error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

func validationError(provider, op, format string, args ...interface{}) *Error {
	return &Error{
		Kind:     KindInputValidation,
		Provider: provider,
		Op:       op,
		Message:  fmt.Sprintf(format, args...),
	}
}

func shapeError(provider, op string, fields []string) *Error {
	return &Error{
		Kind:     KindUnexpectedShape,
		Provider: provider,
		Op:       op,
		Message:  fmt.Sprintf("none of the expected fields present: %v", fields),
	}
}

func providerError(provider, op, message string) *Error {
	return &Error{
		Kind:     KindProviderReported,
		Provider: provider,
		Op:       op,
		Message:  message,
	}
}
