// Package api is the HTTP surface of the game backend: sessions, score
// submission, leaderboards, the prize pool, admin operations and the live feed.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/coinmerge/coinmerge/internal/audit"
	"github.com/coinmerge/coinmerge/internal/auth"
	"github.com/coinmerge/coinmerge/internal/coins"
	"github.com/coinmerge/coinmerge/internal/leaderboard"
	"github.com/coinmerge/coinmerge/internal/payout"
	"github.com/coinmerge/coinmerge/internal/prizepool"
	"github.com/coinmerge/coinmerge/internal/store"
)

// PoolReader reads the prize pool balance.
type PoolReader interface {
	Balance(ctx context.Context) (*prizepool.Pool, error)
}

// Deps are the collaborators of a Server. Pool, Payouts and Feed may be nil;
// their routes then answer 503.
type Deps struct {
	Store       store.DB
	Leaderboard *leaderboard.Service
	Payouts     *payout.Service
	Pool        PoolReader
	Catalog     *coins.Catalog
	BaseOverlay coins.Overlay // overlay from the config file; DB entries win
	Verifier    auth.Verifier
	AdminKey    string
	Feed        http.Handler

	RequestTimeout time.Duration
	RateLimit      rate.Limit
	RateBurst      int
}

// Server handles HTTP requests
type Server struct {
	db             store.DB
	board          *leaderboard.Service
	payouts        *payout.Service
	auditor        *audit.Auditor
	pool           PoolReader
	catalog        *coins.Catalog
	baseOverlay    coins.Overlay
	verifier       auth.Verifier
	adminKey       string
	feed           http.Handler
	timeout        time.Duration
	limiters       *clientLimiters
	errorHandler   *ErrorHandler
	logger         *log.Logger
	securityLogger *SecurityLogger
	startTime      time.Time
}

// NewServer creates a new API server
func NewServer(d Deps) *Server {
	logger := log.New(os.Stdout, "[API] ", log.LstdFlags)
	securityLogger := NewSecurityLogger()
	if d.Catalog == nil {
		d.Catalog = coins.Default
	}
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = 30 * time.Second
	}
	if d.RateLimit <= 0 {
		d.RateLimit = 2
	}
	if d.RateBurst <= 0 {
		d.RateBurst = 10
	}

	return &Server{
		db:             d.Store,
		board:          d.Leaderboard,
		payouts:        d.Payouts,
		auditor:        audit.New(d.Store),
		pool:           d.Pool,
		catalog:        d.Catalog,
		baseOverlay:    d.BaseOverlay,
		verifier:       d.Verifier,
		adminKey:       d.AdminKey,
		feed:           d.Feed,
		timeout:        d.RequestTimeout,
		limiters:       newClientLimiters(d.RateLimit, d.RateBurst),
		errorHandler:   NewErrorHandler(logger, securityLogger),
		logger:         logger,
		securityLogger: securityLogger,
		startTime:      time.Now(),
	}
}

// Routes sets up the HTTP routes with middleware
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.SecurityLoggingMiddleware)
	r.Use(s.errorHandler.RecoveryHandler)
	r.Use(s.CORSMiddleware)

	// The feed holds its connection open; it must not inherit the request timeout.
	r.Get("/ws/leaderboard", s.handleFeed)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(s.timeout))

		r.Get("/health", s.handleHealthCheck)
		r.Get("/health/ready", s.handleReadiness)
		r.Get("/health/live", s.handleLiveness)
		r.Get("/version", s.handleVersion)

		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/coins", s.handleCoins)
			r.Get("/leaderboard", s.handleLeaderboard)
			r.Get("/prize-pool", s.handlePrizePool)

			r.Group(func(r chi.Router) {
				r.Use(s.RequireAuth)
				r.Get("/leaderboard/me", s.handleMe)
				r.Get("/sessions/attempts", s.handleAttempts)

				r.Group(func(r chi.Router) {
					r.Use(s.RateLimit)
					r.Post("/sessions", s.handleStartSession)
					r.Post("/scores", s.handleSubmitScore)
				})
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(s.RequireAdmin)
				r.Post("/entries", s.handleGrantEntries)
				r.Get("/sessions/{sessionID}/log", s.handleSessionLog)
				r.Get("/audit/{periodID}", s.handleAudit)
				r.Get("/payouts/{periodID}", s.handleGetPayout)
				r.Get("/payouts/{periodID}/preview", s.handlePreviewPayout)
				r.Post("/payouts/{periodID}", s.handleDistribute)
				r.Put("/overlay/{level}", s.handleSetOverlay)
				r.Delete("/overlay/{level}", s.handleDeleteOverlay)
			})
		})
	})

	return r
}

// SyncOverlay loads the stored cosmetic overlay, layers it over the config
// file overlay and installs the result in the catalog.
func (s *Server) SyncOverlay(ctx context.Context) error {
	stored, err := s.db.LoadOverlay(ctx)
	if err != nil {
		return fmt.Errorf("api: load overlay: %w", err)
	}
	merged := make(coins.Overlay, len(s.baseOverlay)+len(stored))
	for lvl, c := range s.baseOverlay {
		merged[lvl] = c
	}
	for lvl, c := range stored {
		merged[lvl] = c
	}
	s.catalog.SetOverlay(merged)
	return nil
}

// SecurityLogger exposes the server's security logger to the process owner.
func (s *Server) SecurityLogger() *SecurityLogger { return s.securityLogger }

// Uptime reports how long the server has existed.
func (s *Server) Uptime() time.Duration { return time.Since(s.startTime) }

// writeJSON writes a JSON response with proper headers
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Version", Version)
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Printf("response_encode_failed error=%v", err)
	}
}
