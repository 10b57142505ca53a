package api

import (
	"log"
	"os"
	"time"

	"github.com/coinmerge/coinmerge/internal/auth"
)

// SecurityLogger records security and audit events. Credentials are only
// ever logged as fingerprints.
type SecurityLogger struct {
	logger *log.Logger
}

// NewSecurityLogger creates a new security logger
func NewSecurityLogger() *SecurityLogger {
	return &SecurityLogger{
		logger: log.New(os.Stdout, "[SECURITY] ", log.LstdFlags|log.LUTC),
	}
}

// LogSecurityEvent logs failed validations, auth failures and similar events
func (sl *SecurityLogger) LogSecurityEvent(
	requestID string,
	eventType string,
	description string,
	context map[string]interface{},
	remoteAddr string,
) {
	sl.logger.Printf(
		"security_event request_id=%s type=%s description=%q context=%+v remote_addr=%s version=%s timestamp=%s",
		requestID,
		eventType,
		description,
		sanitizeContext(context),
		remoteAddr,
		Version,
		time.Now().UTC().Format(time.RFC3339),
	)
}

// LogAuthFailure logs a rejected credential by fingerprint
func (sl *SecurityLogger) LogAuthFailure(requestID, scheme, credential, reason, remoteAddr string) {
	sl.LogSecurityEvent(requestID, "auth_failure", reason, map[string]interface{}{
		"scheme":      scheme,
		"fingerprint": auth.Fingerprint(credential),
	}, remoteAddr)
}

// LogScoreRejected logs a game log that failed replay validation
func (sl *SecurityLogger) LogScoreRejected(requestID string, fid int64, sessionID string, reasons []string, remoteAddr string) {
	first := ""
	if len(reasons) > 0 {
		first = reasons[0]
	}
	sl.logger.Printf(
		"score_rejected request_id=%s fid=%d session_id=%s reasons=%d first_reason=%q remote_addr=%s version=%s timestamp=%s",
		requestID,
		fid,
		sessionID,
		len(reasons),
		first,
		remoteAddr,
		Version,
		time.Now().UTC().Format(time.RFC3339),
	)
}

// LogAuditEvent logs admin actions and payouts
func (sl *SecurityLogger) LogAuditEvent(
	requestID string,
	action string,
	resource string,
	outcome string,
	details map[string]interface{},
) {
	sl.logger.Printf(
		"audit_event request_id=%s action=%s resource=%s outcome=%s details=%+v version=%s timestamp=%s",
		requestID,
		action,
		resource,
		outcome,
		sanitizeContext(details),
		Version,
		time.Now().UTC().Format(time.RFC3339),
	)
}

// LogSystemStartup logs startup configuration
func (sl *SecurityLogger) LogSystemStartup(addr string, config map[string]interface{}) {
	sl.logger.Printf(
		"system_startup addr=%s config=%+v version=%s git_commit=%s build_time=%s timestamp=%s",
		addr,
		sanitizeContext(config),
		Version,
		GitCommit,
		BuildTime,
		time.Now().UTC().Format(time.RFC3339),
	)
}

// LogSystemShutdown logs shutdown
func (sl *SecurityLogger) LogSystemShutdown(reason string, uptime time.Duration) {
	sl.logger.Printf(
		"system_shutdown reason=%s uptime=%v version=%s timestamp=%s",
		reason,
		uptime,
		Version,
		time.Now().UTC().Format(time.RFC3339),
	)
}

// sanitizeContext replaces credential values with fingerprints
func sanitizeContext(context map[string]interface{}) map[string]interface{} {
	if context == nil {
		return nil
	}

	sanitized := make(map[string]interface{}, len(context))
	for key, value := range context {
		switch key {
		case "token", "authorization", "admin_key", "relay_token", "secret", "password", "dsn":
			if s, ok := value.(string); ok && s != "" {
				sanitized[key+"_fingerprint"] = auth.Fingerprint(s)
			} else {
				sanitized[key] = "[REDACTED]"
			}
		default:
			sanitized[key] = value
		}
	}
	return sanitized
}
