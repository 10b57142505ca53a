// Package secrets keeps server credentials (the prize relay token and the
// admin key) in the OS keychain, with an optional 0600 JSON file for hosts
// that have no keychain.
package secrets

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"
)

// Names of the secrets the server reads.
const (
	RelayToken = "relay-token"
	AdminKey   = "admin-key"
)

// ErrNotFound is returned when a secret is in neither the keychain nor the fallback file.
var ErrNotFound = keyring.ErrNotFound

// Store reads and writes named secrets for one deployment profile.
type Store struct {
	service      string
	profile      string
	fallbackPath string
	mu           sync.Mutex
}

// NewStore creates a secret store. An empty service defaults to "coinmerge"
// and an empty profile to "default".
func NewStore(service, profile, fallbackPath string) *Store {
	if strings.TrimSpace(service) == "" {
		service = "coinmerge"
	}
	if strings.TrimSpace(profile) == "" {
		profile = "default"
	}
	return &Store{service: service, profile: profile, fallbackPath: fallbackPath}
}

func (s *Store) user(name string) string {
	return s.profile + "/" + name
}

// Set stores a secret, using the fallback file when no keychain is reachable.
func (s *Store) Set(name, value string) error {
	if err := checkName(name); err != nil {
		return err
	}
	err := keyring.Set(s.service, s.user(name), value)
	if err == nil {
		return nil
	}
	if !isKeyringUnavailable(err) {
		return fmt.Errorf("secrets: keyring set %s: %w", name, err)
	}
	return s.setFallback(name, value)
}

// Get returns a stored secret.
func (s *Store) Get(name string) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}
	val, err := keyring.Get(s.service, s.user(name))
	if err == nil {
		return val, nil
	}
	if !isKeyringUnavailable(err) && !errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("secrets: keyring get %s: %w", name, err)
	}

	fallback, ferr := s.getFallback(name)
	if ferr == nil {
		return fallback, nil
	}
	if errors.Is(err, keyring.ErrNotFound) || errors.Is(ferr, ErrNotFound) {
		return "", ErrNotFound
	}
	return "", ferr
}

// Resolve returns explicit when it is non-empty, otherwise the stored secret.
// A missing secret resolves to "".
func (s *Store) Resolve(name, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	val, err := s.Get(name)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return val, err
}

// Delete removes a secret from both the keychain and the fallback file.
func (s *Store) Delete(name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	kerr := keyring.Delete(s.service, s.user(name))
	if kerr != nil && (errors.Is(kerr, keyring.ErrNotFound) || isKeyringUnavailable(kerr)) {
		kerr = nil
	}
	ferr := s.deleteFallback(name)
	if kerr != nil {
		return fmt.Errorf("secrets: keyring delete %s: %w", name, kerr)
	}
	return ferr
}

func checkName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("secrets: name is required")
	}
	return nil
}

func isKeyringUnavailable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "secret service") ||
		strings.Contains(msg, "dbus") ||
		strings.Contains(msg, "no keychain") ||
		strings.Contains(msg, "keyring backend not available")
}

// fallbackFile maps profile -> name -> value.
type fallbackFile map[string]map[string]string

func (s *Store) setFallback(name, value string) error {
	if strings.TrimSpace(s.fallbackPath) == "" {
		return fmt.Errorf("secrets: keyring unavailable and no fallback path configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.readFallback()
	if err != nil {
		return err
	}
	if data[s.profile] == nil {
		data[s.profile] = map[string]string{}
	}
	data[s.profile][name] = value
	return s.writeFallback(data)
}

func (s *Store) getFallback(name string) (string, error) {
	if strings.TrimSpace(s.fallbackPath) == "" {
		return "", fmt.Errorf("secrets: fallback path not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.readFallback()
	if err != nil {
		return "", err
	}
	val, ok := data[s.profile][name]
	if !ok {
		return "", ErrNotFound
	}
	return val, nil
}

func (s *Store) deleteFallback(name string) error {
	if strings.TrimSpace(s.fallbackPath) == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.readFallback()
	if err != nil {
		return err
	}
	if _, ok := data[s.profile][name]; !ok {
		return nil
	}
	delete(data[s.profile], name)
	if len(data[s.profile]) == 0 {
		delete(data, s.profile)
	}
	return s.writeFallback(data)
}

func (s *Store) readFallback() (fallbackFile, error) {
	out := fallbackFile{}
	raw, err := os.ReadFile(s.fallbackPath)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, fmt.Errorf("secrets: read fallback file: %w", err)
	}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("secrets: decode fallback file: %w", err)
	}
	return out, nil
}

func (s *Store) writeFallback(data fallbackFile) error {
	if err := os.MkdirAll(filepath.Dir(s.fallbackPath), 0o700); err != nil {
		return fmt.Errorf("secrets: mkdir fallback dir: %w", err)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("secrets: encode fallback file: %w", err)
	}
	if err := os.WriteFile(s.fallbackPath, raw, 0o600); err != nil {
		return fmt.Errorf("secrets: write fallback file: %w", err)
	}
	return nil
}
