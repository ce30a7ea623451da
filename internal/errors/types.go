package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrCancelled marks a task that was stopped on purpose. Cancellation is not
// a failure: it must never be surfaced to a tab as a processing error.
var ErrCancelled = errors.New("task cancelled")

// ConfigurationError reports a request that cannot start because of missing
// or disabled local configuration (provider not enabled, model unresolvable).
// The task is never registered when one of these is returned.
type ConfigurationError struct {
	Subject string // what was misconfigured, e.g. a provider name
	Reason  string
}

func (e *ConfigurationError) Error() string {
	if e.Subject == "" {
		return fmt.Sprintf("configuration error: %s", e.Reason)
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Subject, e.Reason)
}

// NewConfigurationError builds a ConfigurationError for subject.
func NewConfigurationError(subject, reason string) *ConfigurationError {
	return &ConfigurationError{Subject: subject, Reason: reason}
}

// TransportError reports a remote call that failed in flight: connection
// errors, unexpected HTTP statuses, or unparseable payloads where a
// structured result was expected.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError wraps err as a transport failure of op.
func NewTransportError(op string, statusCode int, err error) *TransportError {
	return &TransportError{Op: op, StatusCode: statusCode, Err: err}
}

// IsConfiguration reports whether err is a configuration error.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsCancellation reports whether err represents a deliberate cancellation
// rather than a failure.
func IsCancellation(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

// IsTransport reports whether err is a transport failure, either explicitly
// wrapped or a raw network error.
func IsTransport(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
