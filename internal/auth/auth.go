// Package auth resolves bearer tokens to player identities. Token issuance
// belongs to an external identity provider; this package only asks it who a
// token belongs to.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	ErrMissingToken = errors.New("auth: missing bearer token")
	ErrUnauthorized = errors.New("auth: token rejected")
)

// Identity is an authenticated player.
type Identity struct {
	FID int64 `json:"fid"`
}

// Verifier resolves a bearer token.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// BearerToken extracts the token of an "Authorization: Bearer ..." header.
func BearerToken(r *http.Request) (string, error) {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return "", ErrMissingToken
	}
	tok := strings.TrimSpace(h[7:])
	if tok == "" {
		return "", ErrMissingToken
	}
	return tok, nil
}

// Fingerprint is a short SHA-256 prefix of a credential, safe to log.
func Fingerprint(secret string) string {
	if secret == "" {
		return "empty"
	}
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])[:16]
}

// CheckAdminKey compares keys in constant time. An unset expected key never matches.
func CheckAdminKey(expected, provided string) bool {
	if expected == "" || provided == "" {
		return false
	}
	a := sha256.Sum256([]byte(expected))
	b := sha256.Sum256([]byte(provided))
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}

type ctxKey struct{}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity stored by WithIdentity.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}

// DevVerifier accepts tokens of the form "dev:<fid>". Local use only.
type DevVerifier struct{}

func (DevVerifier) Verify(ctx context.Context, token string) (Identity, error) {
	raw, ok := strings.CutPrefix(token, "dev:")
	if !ok {
		return Identity{}, ErrUnauthorized
	}
	fid, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || fid <= 0 {
		return Identity{}, ErrUnauthorized
	}
	return Identity{FID: fid}, nil
}

// RemoteConfig configures a RemoteVerifier.
type RemoteConfig struct {
	URL        string        // identity endpoint, called with the bearer token
	CacheTTL   time.Duration // how long a verified token is trusted; default 1 minute
	HTTPClient *http.Client
}

// RemoteVerifier asks the identity provider to resolve tokens and caches
// positive answers for CacheTTL.
type RemoteVerifier struct {
	config RemoteConfig
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]cached
}

type cached struct {
	id      Identity
	expires time.Time
}

// NewRemoteVerifier creates a verifier for the provider at cfg.URL.
func NewRemoteVerifier(cfg RemoteConfig) *RemoteVerifier {
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = time.Minute
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &RemoteVerifier{config: cfg, now: time.Now, cache: make(map[string]cached)}
}

func (v *RemoteVerifier) Verify(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrMissingToken
	}
	key := Fingerprint(token)

	v.mu.Lock()
	if c, ok := v.cache[key]; ok {
		if v.now().Before(c.expires) {
			v.mu.Unlock()
			return c.id, nil
		}
		delete(v.cache, key)
	}
	v.mu.Unlock()

	id, err := v.fetch(ctx, token)
	if err != nil {
		return Identity{}, err
	}

	v.mu.Lock()
	v.cache[key] = cached{id: id, expires: v.now().Add(v.config.CacheTTL)}
	v.mu.Unlock()
	return id, nil
}

func (v *RemoteVerifier) fetch(ctx context.Context, token string) (Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.config.URL, nil)
	if err != nil {
		return Identity{}, fmt.Errorf("auth: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := v.config.HTTPClient.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("auth: identity provider: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Identity{}, ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Identity{}, fmt.Errorf("auth: identity provider status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var id Identity
	if err := json.NewDecoder(resp.Body).Decode(&id); err != nil {
		return Identity{}, fmt.Errorf("auth: decode identity: %w", err)
	}
	if id.FID <= 0 {
		return Identity{}, ErrUnauthorized
	}
	return id, nil
}
