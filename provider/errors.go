// ABOUTME: Error taxonomy for provider backends: unavailability reasons and chain exhaustion.
// ABOUTME: Unavailable errors are absorbed by the router's fallback chain; ChainExhausted is terminal.

package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// UnavailableReason classifies why a provider could not serve an attempt.
type UnavailableReason string

const (
	ReasonTimeout   UnavailableReason = "timeout"
	ReasonRateLimit UnavailableReason = "rate_limit"
	ReasonServer    UnavailableReason = "server_error"
	ReasonMalformed UnavailableReason = "malformed_response"
	ReasonNetwork   UnavailableReason = "network"
)

// UnavailableError means a provider could not serve this attempt. The router
// treats it as a signal to advance to the next provider in the phase's chain.
type UnavailableError struct {
	Provider   string
	Reason     UnavailableReason
	StatusCode int
	Message    string
	RetryAfter *float64
	Cause      error
}

func (e *UnavailableError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("provider %s unavailable (%s): %s", e.Provider, e.Reason, e.Message)
	}
	return fmt.Sprintf("provider %s unavailable (%s)", e.Provider, e.Reason)
}

func (e *UnavailableError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether the router should try the next provider.
// All unavailability reasons are retryable at the chain level.
func (e *UnavailableError) IsRetryable() bool {
	return true
}

// ChainExhaustedError means every provider in a phase's fallback chain failed.
// It is a terminal, task-level error.
type ChainExhaustedError struct {
	Phase string
	Tried []string
	Last  error
}

func (e *ChainExhaustedError) Error() string {
	return fmt.Sprintf("phase %s: all providers exhausted (tried %s)",
		e.Phase, strings.Join(e.Tried, ", "))
}

func (e *ChainExhaustedError) Unwrap() error {
	return e.Last
}

func (e *ChainExhaustedError) IsRetryable() bool {
	return false
}

// Unavailable reports whether err is (or wraps) an UnavailableError, and
// returns it when so.
func Unavailable(err error) (*UnavailableError, bool) {
	var ue *UnavailableError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}

// ClassifyTransportError maps a transport-level failure into an
// UnavailableError. Context deadline expiry becomes a timeout; context
// cancellation is passed through untouched so cooperative cancellation is
// never mistaken for provider flakiness.
func ClassifyTransportError(providerName string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	// Adapters that already speak the taxonomy keep their reason and
	// RetryAfter; only raw transport errors need classifying.
	if ue, ok := Unavailable(err); ok {
		return ue
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &UnavailableError{
			Provider: providerName,
			Reason:   ReasonTimeout,
			Message:  "request deadline exceeded",
			Cause:    err,
		}
	}
	return &UnavailableError{
		Provider: providerName,
		Reason:   ReasonNetwork,
		Message:  err.Error(),
		Cause:    err,
	}
}

// ErrorFromStatusCode maps an HTTP status code from a provider API into the
// taxonomy. 429 is a rate limit, 5xx a server error, and anything else
// unexpected is treated as a malformed exchange.
func ErrorFromStatusCode(providerName string, statusCode int, message string, retryAfter *float64) error {
	switch {
	case statusCode == 408:
		return &UnavailableError{Provider: providerName, Reason: ReasonTimeout, StatusCode: statusCode, Message: message}
	case statusCode == 429:
		return &UnavailableError{Provider: providerName, Reason: ReasonRateLimit, StatusCode: statusCode, Message: message, RetryAfter: retryAfter}
	case statusCode >= 500 && statusCode <= 599:
		return &UnavailableError{Provider: providerName, Reason: ReasonServer, StatusCode: statusCode, Message: message}
	default:
		return &UnavailableError{Provider: providerName, Reason: ReasonMalformed, StatusCode: statusCode, Message: message}
	}
}
