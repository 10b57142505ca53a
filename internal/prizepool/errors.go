package prizepool

import (
	"fmt"
)

// Relay error codes.
const (
	ErrCodeRPCUnavailable    = "rpc_unavailable"
	ErrCodeNonceConflict     = "nonce_conflict"
	ErrCodeInsufficientFunds = "insufficient_funds"
	ErrCodeAlreadyPaid       = "already_distributed"
)

// RelayError is a structured error reported by the relay.
type RelayError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("prizepool: %s: %s", e.Code, e.Message)
}

// IsRetryable returns true for transient chain-side failures.
func (e *RelayError) IsRetryable() bool {
	return e.Code == ErrCodeRPCUnavailable || e.Code == ErrCodeNonceConflict
}

// IsAlreadyPaid reports that the relay already executed this distribution.
func (e *RelayError) IsAlreadyPaid() bool {
	return e.Code == ErrCodeAlreadyPaid
}

type errorEnvelope struct {
	Error *RelayError `json:"error"`
}

// HTTPError represents a non-2xx response without a relay error body.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("prizepool: HTTP %d: %s", e.StatusCode, e.Body)
}

// IsRetryable returns true for rate limits (429) and server errors (5xx).
func (e *HTTPError) IsRetryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// AuthError indicates the relay rejected our token.
type AuthError struct {
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("prizepool: authentication failed (HTTP %d): %s", e.StatusCode, e.Message)
}

// TransportError wraps network failures before a response was read.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("prizepool: http request: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
