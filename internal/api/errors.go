package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/coinmerge/coinmerge/internal/auth"
	"github.com/coinmerge/coinmerge/internal/leaderboard"
	"github.com/coinmerge/coinmerge/internal/payout"
	"github.com/coinmerge/coinmerge/internal/prizepool"
	"github.com/coinmerge/coinmerge/internal/store"
)

// ErrorBuilder helps construct structured errors with context
type ErrorBuilder struct {
	errType   string
	message   string
	context   map[string]interface{}
	requestID string
}

// NewError creates a new error builder
func NewError(errType, message string) *ErrorBuilder {
	return &ErrorBuilder{
		errType: errType,
		message: message,
		context: make(map[string]interface{}),
	}
}

// WithContext adds context information to the error
func (eb *ErrorBuilder) WithContext(key string, value interface{}) *ErrorBuilder {
	eb.context[key] = value
	return eb
}

// WithRequestID adds request ID to the error
func (eb *ErrorBuilder) WithRequestID(requestID string) *ErrorBuilder {
	eb.requestID = requestID
	return eb
}

// WithCause adds the underlying cause error
func (eb *ErrorBuilder) WithCause(err error) *ErrorBuilder {
	if err != nil {
		eb.context["cause"] = err.Error()
	}
	return eb
}

// Build creates the final APIError
func (eb *ErrorBuilder) Build() APIError {
	apiErr := APIError{
		Type:      eb.errType,
		Message:   eb.message,
		RequestID: eb.requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if len(eb.context) > 0 {
		apiErr.Context = eb.context
	}
	return apiErr
}

// ErrorHandler turns domain errors into HTTP responses and logs them
type ErrorHandler struct {
	logger         *log.Logger
	securityLogger *SecurityLogger
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger *log.Logger, securityLogger *SecurityLogger) *ErrorHandler {
	return &ErrorHandler{
		logger:         logger,
		securityLogger: securityLogger,
	}
}

// classify maps a domain error to a status, error type and client message.
// Unknown errors are internal and their text is not sent to the client.
func classify(err error) (int, string, string) {
	var (
		relayErr *prizepool.RelayError
		httpErr  *prizepool.HTTPError
		authErr  *prizepool.AuthError
		netErr   *prizepool.TransportError
	)
	switch {
	case errors.Is(err, leaderboard.ErrInvalidLog):
		return http.StatusUnprocessableEntity, ErrTypeInvalidLog, "Game log rejected"
	case errors.Is(err, leaderboard.ErrNoAttemptsLeft):
		return http.StatusTooManyRequests, ErrTypeNoAttempts, "No attempts left"
	case errors.Is(err, leaderboard.ErrSessionNotFound):
		return http.StatusNotFound, ErrTypeSessionNotFound, "Session not found"
	case errors.Is(err, leaderboard.ErrSessionMismatch):
		return http.StatusForbidden, ErrTypeSessionMismatch, "Game log does not belong to this player or session"
	case errors.Is(err, leaderboard.ErrAlreadySubmitted):
		return http.StatusConflict, ErrTypeAlreadySubmitted, "Session already submitted"
	case errors.Is(err, leaderboard.ErrNotRanked):
		return http.StatusNotFound, ErrTypeNotRanked, "No score this period"
	case errors.Is(err, payout.ErrInvalidPeriod):
		return http.StatusBadRequest, ErrTypeValidation, err.Error()
	case errors.Is(err, payout.ErrPeriodOpen):
		return http.StatusConflict, ErrTypePeriodOpen, "Period has not ended"
	case errors.Is(err, payout.ErrAlreadyPaid):
		return http.StatusConflict, ErrTypeAlreadyPaid, "Period already paid"
	case errors.Is(err, payout.ErrInProgress):
		return http.StatusConflict, ErrTypePayoutInProgress, "Payout in progress"
	case errors.Is(err, payout.ErrNoWinners):
		return http.StatusNotFound, ErrTypeNoWinners, "No tournament scores in period"
	case errors.Is(err, payout.ErrEmptyPool):
		return http.StatusConflict, ErrTypeEmptyPool, "Prize pool is empty"
	case errors.As(err, &relayErr), errors.As(err, &httpErr), errors.As(err, &authErr), errors.As(err, &netErr):
		return http.StatusBadGateway, ErrTypeRelay, "Prize relay request failed"
	case errors.Is(err, auth.ErrMissingToken), errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized, ErrTypeUnauthorized, "Authentication required"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, ErrTypeNotFound, "Not found"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrTypeTimeout, "Operation timed out"
	default:
		return http.StatusInternalServerError, ErrTypeInternal, "Internal server error"
	}
}

// HandleError classifies err and writes the matching response
func (eh *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	status, errType, message := classify(err)
	b := NewError(errType, message).
		WithRequestID(middleware.GetReqID(r.Context())).
		WithContext("path", r.URL.Path).
		WithContext("method", r.Method)
	if status >= 500 {
		b.WithCause(err)
	}
	apiErr := b.Build()
	eh.logError(r, apiErr, status)
	eh.writeErrorResponse(w, status, apiErr)
}

// HandleValidationError handles malformed requests
func (eh *ErrorHandler) HandleValidationError(w http.ResponseWriter, r *http.Request, field, message string) {
	requestID := middleware.GetReqID(r.Context())

	apiErr := NewError(ErrTypeValidation, fmt.Sprintf("Validation failed: %s", message)).
		WithRequestID(requestID).
		WithContext("field", field).
		WithContext("path", r.URL.Path).
		WithContext("method", r.Method).
		Build()

	eh.securityLogger.LogSecurityEvent(
		requestID,
		"validation_failure",
		message,
		map[string]interface{}{
			"field": field,
			"path":  r.URL.Path,
		},
		r.RemoteAddr,
	)

	eh.logError(r, apiErr, http.StatusBadRequest)
	eh.writeErrorResponse(w, http.StatusBadRequest, apiErr)
}

// HandleRejectedLog answers a refused game log with every reason
func (eh *ErrorHandler) HandleRejectedLog(w http.ResponseWriter, r *http.Request, fid int64, sessionID string, rejected *leaderboard.RejectedError) {
	requestID := middleware.GetReqID(r.Context())

	eh.securityLogger.LogScoreRejected(requestID, fid, sessionID, rejected.Reasons, r.RemoteAddr)

	apiErr := NewError(ErrTypeInvalidLog, "Game log rejected").
		WithRequestID(requestID).
		WithContext("session_id", sessionID).
		WithContext("reason_count", len(rejected.Reasons)).
		Build()
	eh.logError(r, apiErr, http.StatusUnprocessableEntity)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Version", Version)
	w.Header().Set("X-Error-Type", apiErr.Type)
	w.Header().Set("X-Error-Category", string(GetErrorCategory(apiErr.Type)))
	w.WriteHeader(http.StatusUnprocessableEntity)
	if err := json.NewEncoder(w).Encode(RejectedLogResponse{APIError: apiErr, Reasons: rejected.Reasons}); err != nil {
		eh.logger.Printf("response_encode_failed request_id=%s error=%v", requestID, err)
	}
}

// WriteError writes a prepared error
func (eh *ErrorHandler) WriteError(w http.ResponseWriter, r *http.Request, status int, apiErr APIError) {
	eh.logError(r, apiErr, status)
	eh.writeErrorResponse(w, status, apiErr)
}

// logError logs the error with a level derived from its category and status
func (eh *ErrorHandler) logError(r *http.Request, apiErr APIError, status int) {
	category := GetErrorCategory(apiErr.Type)

	logLevel := "ERROR"
	if status < 500 {
		logLevel = "WARN"
	}

	eh.logger.Printf(
		"error_occurred level=%s type=%s category=%s status=%d request_id=%s method=%s path=%s remote_ip=%s message=%q context=%+v",
		logLevel, apiErr.Type, category, status, apiErr.RequestID, r.Method, r.URL.Path, r.RemoteAddr, apiErr.Message, apiErr.Context,
	)
}

// writeErrorResponse writes the error response as JSON
func (eh *ErrorHandler) writeErrorResponse(w http.ResponseWriter, status int, apiErr APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Version", Version)
	w.Header().Set("X-Error-Type", apiErr.Type)
	w.Header().Set("X-Error-Category", string(GetErrorCategory(apiErr.Type)))
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(apiErr); err != nil {
		eh.logger.Printf("response_encode_failed request_id=%s error=%v", apiErr.RequestID, err)
	}
}

// RecoveryHandler converts panics into 500 responses
func (eh *ErrorHandler) RecoveryHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}
				requestID := middleware.GetReqID(r.Context())

				eh.logger.Printf(
					"panic_recovered request_id=%s path=%s method=%s panic=%v",
					requestID, r.URL.Path, r.Method, rvr,
				)

				apiErr := NewError(ErrTypeInternal, "Internal server error").
					WithRequestID(requestID).
					WithContext("path", r.URL.Path).
					WithContext("method", r.Method).
					Build()

				eh.writeErrorResponse(w, http.StatusInternalServerError, apiErr)
			}
		}()

		next.ServeHTTP(w, r)
	})
}
