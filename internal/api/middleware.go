package api

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/coinmerge/coinmerge/internal/auth"
)

// SecurityLoggingMiddleware logs requests without exposing credentials
func (s *Server) SecurityLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		s.logger.Printf(
			"request_start method=%s path=%s request_id=%s remote_addr=%s user_agent=%q",
			r.Method, r.URL.Path, requestID, r.RemoteAddr, r.UserAgent(),
		)

		next.ServeHTTP(ww, r)

		s.logger.Printf(
			"request_completed method=%s path=%s status=%d duration=%v request_id=%s bytes_written=%d",
			r.Method, r.URL.Path, ww.Status(), time.Since(start), requestID, ww.BytesWritten(),
		)
	})
}

// CORSMiddleware allows browser clients from any origin
func (s *Server) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Admin-Key")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RequireAuth resolves the bearer token to a player identity
func (s *Server) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := middleware.GetReqID(r.Context())
		token, err := auth.BearerToken(r)
		if err == nil {
			var id auth.Identity
			id, err = s.verifier.Verify(r.Context(), token)
			if err == nil {
				next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
				return
			}
		}

		if !errors.Is(err, auth.ErrMissingToken) && !errors.Is(err, auth.ErrUnauthorized) {
			s.errorHandler.WriteError(w, r, http.StatusServiceUnavailable,
				NewError(ErrTypeServiceUnavailable, "Identity provider unavailable").
					WithRequestID(requestID).
					WithCause(err).
					Build())
			return
		}
		s.securityLogger.LogAuthFailure(requestID, "bearer", token, err.Error(), r.RemoteAddr)
		s.errorHandler.WriteError(w, r, http.StatusUnauthorized,
			NewError(ErrTypeUnauthorized, "Authentication required").WithRequestID(requestID).Build())
	})
}

// RequireAdmin checks the X-Admin-Key header
func (s *Server) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-Admin-Key")
		if auth.CheckAdminKey(s.adminKey, key) {
			next.ServeHTTP(w, r)
			return
		}
		requestID := middleware.GetReqID(r.Context())
		s.securityLogger.LogAuthFailure(requestID, "admin_key", key, "admin key mismatch", r.RemoteAddr)
		s.errorHandler.WriteError(w, r, http.StatusForbidden,
			NewError(ErrTypeForbidden, "Admin key required").WithRequestID(requestID).Build())
	})
}

// RateLimit throttles write endpoints per player, or per address before auth
func (s *Server) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.RemoteAddr
		if id, ok := auth.FromContext(r.Context()); ok {
			key = "fid:" + strconv.FormatInt(id.FID, 10)
		}
		lim := s.limiters.get(key)
		if lim.Allow() {
			next.ServeHTTP(w, r)
			return
		}

		requestID := middleware.GetReqID(r.Context())
		s.securityLogger.LogSecurityEvent(requestID, "rate_limited", "request rate exceeded",
			map[string]interface{}{"client": key, "path": r.URL.Path}, r.RemoteAddr)
		retry := int(math.Ceil(1 / float64(lim.Limit())))
		if retry < 1 {
			retry = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		s.errorHandler.WriteError(w, r, http.StatusTooManyRequests,
			NewError(ErrTypeRateLimit, "Too many requests").WithRequestID(requestID).Build())
	})
}

// clientLimiters hands out one token bucket per client and forgets idle ones.
type clientLimiters struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	idle    time.Duration
	clients map[string]*clientLimiter
	sweep   time.Time
	now     func() time.Time
}

type clientLimiter struct {
	lim  *rate.Limiter
	seen time.Time
}

func newClientLimiters(limit rate.Limit, burst int) *clientLimiters {
	return &clientLimiters{
		limit:   limit,
		burst:   burst,
		idle:    10 * time.Minute,
		clients: make(map[string]*clientLimiter),
		now:     time.Now,
	}
}

func (c *clientLimiters) get(key string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if now.Sub(c.sweep) > c.idle {
		for k, cl := range c.clients {
			if now.Sub(cl.seen) > c.idle {
				delete(c.clients, k)
			}
		}
		c.sweep = now
	}

	cl, ok := c.clients[key]
	if !ok {
		cl = &clientLimiter{lim: rate.NewLimiter(c.limit, c.burst)}
		c.clients[key] = cl
	}
	cl.seen = now
	return cl.lim
}

func (c *clientLimiters) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clients)
}
