package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/coinmerge/coinmerge/internal/audit"
	"github.com/coinmerge/coinmerge/internal/auth"
	"github.com/coinmerge/coinmerge/internal/coins"
	"github.com/coinmerge/coinmerge/internal/gamelog"
	"github.com/coinmerge/coinmerge/internal/leaderboard"
	"github.com/coinmerge/coinmerge/internal/payout"
)

const (
	maxLogBytes     = 1 << 20
	maxRequestBytes = 16 << 10
)

func decodeJSON(r *http.Request, w http.ResponseWriter, limit int64, dst interface{}) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, limit)).Decode(dst)
}

func (s *Server) handleCoins(w http.ResponseWriter, r *http.Request) {
	platform := coins.Platform(r.URL.Query().Get("platform"))
	switch platform {
	case coins.PlatformDefault, coins.PlatformBase:
	default:
		s.errorHandler.HandleValidationError(w, r, "platform", fmt.Sprintf("unknown platform %q", platform))
		return
	}
	s.writeJSON(w, http.StatusOK, CoinsResponse{Platform: string(platform), Coins: s.catalog.All(platform)})
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	var req StartSessionRequest
	if err := decodeJSON(r, w, maxRequestBytes, &req); err != nil {
		s.errorHandler.HandleValidationError(w, r, "body", "invalid JSON: "+err.Error())
		return
	}
	mode, err := gamelog.ParseMode(req.Mode)
	if err != nil {
		s.errorHandler.HandleValidationError(w, r, "mode", "mode must be practice or tournament")
		return
	}

	sess, err := s.board.StartSession(r.Context(), id.FID, mode)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.logger.Printf("session_started request_id=%s fid=%d mode=%s session_id=%s period=%s attempts_left=%d",
		middleware.GetReqID(r.Context()), id.FID, sess.Mode, sess.ID, sess.PeriodID, sess.AttemptsLeft)
	s.writeJSON(w, http.StatusCreated, StartSessionResponse{
		SessionID:    sess.ID,
		Mode:         sess.Mode,
		PeriodID:     sess.PeriodID,
		AttemptsLeft: sess.AttemptsLeft,
	})
}

func (s *Server) handleAttempts(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	attempts, err := s.board.Attempts(r.Context(), id.FID)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, attempts)
}

func (s *Server) handleSubmitScore(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	var submitted gamelog.GameLog
	if err := decodeJSON(r, w, maxLogBytes, &submitted); err != nil {
		s.errorHandler.HandleValidationError(w, r, "body", "invalid game log JSON: "+err.Error())
		return
	}

	res, err := s.board.Submit(r.Context(), id.FID, &submitted)
	var rejected *leaderboard.RejectedError
	switch {
	case errors.As(err, &rejected):
		s.errorHandler.HandleRejectedLog(w, r, id.FID, submitted.SessionID, rejected)
		return
	case errors.Is(err, leaderboard.ErrSessionMismatch):
		s.securityLogger.LogSecurityEvent(middleware.GetReqID(r.Context()), "session_mismatch",
			"game log submitted for another player or session",
			map[string]interface{}{"fid": id.FID, "log_fid": submitted.FID, "session_id": submitted.SessionID}, r.RemoteAddr)
		s.errorHandler.HandleError(w, r, err)
		return
	case err != nil:
		s.errorHandler.HandleError(w, r, err)
		return
	}

	s.logger.Printf("score_accepted request_id=%s fid=%d session_id=%s mode=%s score=%d best=%d rank=%d client_score=%d",
		middleware.GetReqID(r.Context()), id.FID, submitted.SessionID, submitted.Mode, res.Score, res.Best, res.Rank, submitted.FinalScore)
	s.writeJSON(w, http.StatusOK, res)
}

func parseModeParam(r *http.Request) (gamelog.Mode, error) {
	raw := r.URL.Query().Get("mode")
	if raw == "" {
		return gamelog.ModeTournament, nil
	}
	return gamelog.ParseMode(raw)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	mode, err := parseModeParam(r)
	if err != nil {
		s.errorHandler.HandleValidationError(w, r, "mode", "mode must be practice or tournament")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 {
			s.errorHandler.HandleValidationError(w, r, "limit", "limit must be a positive integer")
			return
		}
	}
	periodID := strings.TrimSpace(r.URL.Query().Get("period"))
	if periodID != "" {
		if _, _, err := s.board.Schedule().Bounds(periodID); err != nil {
			s.errorHandler.HandleValidationError(w, r, "period", err.Error())
			return
		}
	}

	board, err := s.board.Leaderboard(r.Context(), mode, periodID, limit)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, board)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	mode, err := parseModeParam(r)
	if err != nil {
		s.errorHandler.HandleValidationError(w, r, "mode", "mode must be practice or tournament")
		return
	}
	entry, err := s.board.Me(r.Context(), id.FID, mode)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handlePrizePool(w http.ResponseWriter, r *http.Request) {
	if s.pool == nil {
		s.unavailable(w, r, "prize pool relay not configured")
		return
	}
	pool, err := s.pool.Balance(r.Context())
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, PrizePoolResponse{
		Balance:  pool.Balance.StringFixed(6),
		Currency: pool.Currency,
		Contract: pool.Contract,
		PeriodID: s.board.CurrentPeriod(),
	})
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	if s.feed == nil {
		s.unavailable(w, r, "live feed disabled")
		return
	}
	s.feed.ServeHTTP(w, r)
}

func (s *Server) handleGrantEntries(w http.ResponseWriter, r *http.Request) {
	var req GrantEntriesRequest
	if err := decodeJSON(r, w, maxRequestBytes, &req); err != nil {
		s.errorHandler.HandleValidationError(w, r, "body", "invalid JSON: "+err.Error())
		return
	}
	if req.FID <= 0 {
		s.errorHandler.HandleValidationError(w, r, "fid", "fid must be positive")
		return
	}
	if req.Credits < 1 || req.Credits > 1000 {
		s.errorHandler.HandleValidationError(w, r, "credits", "credits must be between 1 and 1000")
		return
	}

	total, err := s.board.GrantEntries(r.Context(), req.FID, req.Credits)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.securityLogger.LogAuditEvent(middleware.GetReqID(r.Context()), "grant_entries", fmt.Sprintf("fid:%d", req.FID), "success",
		map[string]interface{}{"credits": req.Credits, "balance": total})
	s.writeJSON(w, http.StatusOK, GrantEntriesResponse{FID: req.FID, Credits: total})
}

func (s *Server) handleSessionLog(w http.ResponseWriter, r *http.Request) {
	raw, err := s.db.GameLog(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Version", Version)
	w.WriteHeader(http.StatusOK)
	w.Write(raw)
}

// handleAudit replays every archived log of a period and reports the ones
// that fail verification.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	periodID := chi.URLParam(r, "periodID")
	if _, _, err := s.board.Schedule().Bounds(periodID); err != nil {
		s.errorHandler.HandleValidationError(w, r, "periodID", err.Error())
		return
	}
	mode, err := parseModeParam(r)
	if err != nil {
		s.errorHandler.HandleValidationError(w, r, "mode", "mode must be practice or tournament")
		return
	}
	req := audit.Request{Mode: string(mode), PeriodID: periodID}
	q := r.URL.Query()
	if raw := q.Get("strict"); raw != "" {
		if req.Strict, err = strconv.ParseBool(raw); err != nil {
			s.errorHandler.HandleValidationError(w, r, "strict", "strict must be a boolean")
			return
		}
	}
	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &req.Limit}, {"timeout_ms", &req.TimeoutMs}} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		if *p.dst, err = strconv.Atoi(raw); err != nil || *p.dst < 0 {
			s.errorHandler.HandleValidationError(w, r, p.name, p.name+" must be a non-negative integer")
			return
		}
	}

	report, err := s.auditor.Run(r.Context(), req)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.securityLogger.LogAuditEvent(middleware.GetReqID(r.Context()), "audit_period", "period:"+periodID, "success",
		map[string]interface{}{"mode": req.Mode, "strict": req.Strict, "flagged": report.Summary.Flagged})
	if report.Summary.Flagged > 0 {
		s.securityLogger.LogSecurityEvent(middleware.GetReqID(r.Context()), "audit_flagged_logs", "archived logs failed re-verification",
			map[string]interface{}{"period": periodID, "mode": req.Mode, "flagged": report.Summary.Flagged}, r.RemoteAddr)
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleGetPayout(w http.ResponseWriter, r *http.Request) {
	if s.payouts == nil {
		s.unavailable(w, r, "payouts not configured")
		return
	}
	p, err := s.payouts.Get(r.Context(), chi.URLParam(r, "periodID"))
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, PayoutResponse{Payout: p})
}

func (s *Server) handlePreviewPayout(w http.ResponseWriter, r *http.Request) {
	if s.payouts == nil {
		s.unavailable(w, r, "payouts not configured")
		return
	}
	p, err := s.payouts.Preview(r.Context(), chi.URLParam(r, "periodID"))
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, PayoutResponse{Payout: p})
}

func (s *Server) handleDistribute(w http.ResponseWriter, r *http.Request) {
	if s.payouts == nil {
		s.unavailable(w, r, "payouts not configured")
		return
	}
	periodID := chi.URLParam(r, "periodID")
	requestID := middleware.GetReqID(r.Context())

	p, err := s.payouts.Distribute(r.Context(), periodID)
	if err != nil {
		s.securityLogger.LogAuditEvent(requestID, "distribute_prizes", "period:"+periodID, "failure",
			map[string]interface{}{"error": err.Error()})
		if errors.Is(err, payout.ErrAlreadyPaid) && p != nil {
			s.writeJSON(w, http.StatusConflict, struct {
				APIError
				Payout interface{} `json:"payout"`
			}{
				APIError: NewError(ErrTypeAlreadyPaid, "Period already paid").WithRequestID(requestID).Build(),
				Payout:   p,
			})
			return
		}
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.securityLogger.LogAuditEvent(requestID, "distribute_prizes", "period:"+periodID, "success",
		map[string]interface{}{"payout_id": p.ID, "tx_hash": p.TxHash, "pool": p.Pool, "winners": len(p.Winners)})
	s.writeJSON(w, http.StatusOK, PayoutResponse{Payout: p})
}

func (s *Server) overlayLevel(w http.ResponseWriter, r *http.Request) (int, bool) {
	level, err := strconv.Atoi(chi.URLParam(r, "level"))
	if err != nil || level < 1 || level > coins.MaxLevel {
		s.errorHandler.HandleValidationError(w, r, "level", fmt.Sprintf("level must be 1..%d", coins.MaxLevel))
		return 0, false
	}
	return level, true
}

func (s *Server) handleSetOverlay(w http.ResponseWriter, r *http.Request) {
	level, ok := s.overlayLevel(w, r)
	if !ok {
		return
	}
	var c coins.Cosmetic
	if err := decodeJSON(r, w, maxRequestBytes, &c); err != nil {
		s.errorHandler.HandleValidationError(w, r, "body", "invalid JSON: "+err.Error())
		return
	}
	if c == (coins.Cosmetic{}) {
		s.errorHandler.HandleValidationError(w, r, "body", "at least one cosmetic field is required")
		return
	}
	if err := s.db.SetOverlay(r.Context(), level, c); err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	if err := s.SyncOverlay(r.Context()); err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.securityLogger.LogAuditEvent(middleware.GetReqID(r.Context()), "set_overlay", fmt.Sprintf("coin:%d", level), "success",
		map[string]interface{}{"name": c.Name, "color": c.Color})
	coin, _ := s.catalog.Lookup(level, coins.PlatformDefault)
	s.writeJSON(w, http.StatusOK, coin)
}

func (s *Server) handleDeleteOverlay(w http.ResponseWriter, r *http.Request) {
	level, ok := s.overlayLevel(w, r)
	if !ok {
		return
	}
	if err := s.db.DeleteOverlay(r.Context(), level); err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	if err := s.SyncOverlay(r.Context()); err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.securityLogger.LogAuditEvent(middleware.GetReqID(r.Context()), "delete_overlay", fmt.Sprintf("coin:%d", level), "success", nil)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) unavailable(w http.ResponseWriter, r *http.Request, message string) {
	s.errorHandler.WriteError(w, r, http.StatusServiceUnavailable,
		NewError(ErrTypeServiceUnavailable, message).WithRequestID(middleware.GetReqID(r.Context())).Build())
}
