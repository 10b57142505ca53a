package api

import (
	"github.com/coinmerge/coinmerge/internal/coins"
	"github.com/coinmerge/coinmerge/internal/store"
)

// APIError is the JSON body of every error response
type APIError struct {
	Type      string                 `json:"type"`
	Message   string                 `json:"message"`
	Context   map[string]interface{} `json:"context,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	Timestamp string                 `json:"timestamp,omitempty"`
}

// Error implements the error interface
func (e APIError) Error() string {
	return e.Message
}

// Error types
const (
	// Input validation errors
	ErrTypeValidation = "validation_error"
	ErrTypeInvalidLog = "invalid_game_log"

	// Game errors
	ErrTypeNoAttempts       = "no_attempts_left"
	ErrTypeSessionNotFound  = "session_not_found"
	ErrTypeSessionMismatch  = "session_mismatch"
	ErrTypeAlreadySubmitted = "already_submitted"
	ErrTypeNotRanked        = "not_ranked"

	// Payout errors
	ErrTypePeriodOpen       = "period_open"
	ErrTypeAlreadyPaid      = "already_paid"
	ErrTypePayoutInProgress = "payout_in_progress"
	ErrTypeNoWinners        = "no_winners"
	ErrTypeEmptyPool        = "empty_pool"
	ErrTypeRelay            = "relay_error"

	// Auth errors
	ErrTypeUnauthorized = "unauthorized"
	ErrTypeForbidden    = "forbidden"

	// System errors
	ErrTypeNotFound           = "not_found"
	ErrTypeTimeout            = "timeout"
	ErrTypeInternal           = "internal_error"
	ErrTypeRateLimit          = "rate_limit_exceeded"
	ErrTypeServiceUnavailable = "service_unavailable"
)

// ErrorCategory groups error types for monitoring
type ErrorCategory string

const (
	CategoryValidation ErrorCategory = "validation"
	CategoryGame       ErrorCategory = "game"
	CategoryPayout     ErrorCategory = "payout"
	CategoryAuth       ErrorCategory = "auth"
	CategorySystem     ErrorCategory = "system"
	CategoryTimeout    ErrorCategory = "timeout"
)

// GetErrorCategory returns the category for an error type
func GetErrorCategory(errType string) ErrorCategory {
	switch errType {
	case ErrTypeValidation, ErrTypeInvalidLog:
		return CategoryValidation
	case ErrTypeNoAttempts, ErrTypeSessionNotFound, ErrTypeSessionMismatch, ErrTypeAlreadySubmitted, ErrTypeNotRanked:
		return CategoryGame
	case ErrTypePeriodOpen, ErrTypeAlreadyPaid, ErrTypePayoutInProgress, ErrTypeNoWinners, ErrTypeEmptyPool, ErrTypeRelay:
		return CategoryPayout
	case ErrTypeUnauthorized, ErrTypeForbidden:
		return CategoryAuth
	case ErrTypeTimeout:
		return CategoryTimeout
	default:
		return CategorySystem
	}
}

// VersionInfo contains build information
type VersionInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
}

// CoinsResponse is the merged coin table
type CoinsResponse struct {
	Platform string       `json:"platform"`
	Coins    []coins.Coin `json:"coins"`
}

// StartSessionRequest opens a play session
type StartSessionRequest struct {
	Mode string `json:"mode"`
}

// StartSessionResponse identifies the new session
type StartSessionResponse struct {
	SessionID    string `json:"sessionId"`
	Mode         string `json:"mode"`
	PeriodID     string `json:"periodId"`
	AttemptsLeft int    `json:"attemptsLeft"`
}

// RejectedLogResponse lists every reason a game log was refused
type RejectedLogResponse struct {
	APIError
	Reasons []string `json:"reasons"`
}

// GrantEntriesRequest adds paid tournament entries
type GrantEntriesRequest struct {
	FID     int64 `json:"fid"`
	Credits int   `json:"credits"`
}

// GrantEntriesResponse reports the resulting credit balance
type GrantEntriesResponse struct {
	FID     int64 `json:"fid"`
	Credits int   `json:"credits"`
}

// PrizePoolResponse is the current prize pool balance
type PrizePoolResponse struct {
	Balance  string `json:"balance"`
	Currency string `json:"currency"`
	Contract string `json:"contract,omitempty"`
	PeriodID string `json:"periodId"`
}

// PayoutResponse wraps a payout record
type PayoutResponse struct {
	Payout *store.Payout `json:"payout"`
}
