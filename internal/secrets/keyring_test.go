package secrets

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/zalando/go-keyring"
)

func TestStoreSetGetDelete(t *testing.T) {
	keyring.MockInit()
	s := NewStore("coinmerge-test", "", "")

	if err := s.Set(RelayToken, "relay-123"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get(RelayToken)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "relay-123" {
		t.Fatalf("unexpected token: %q", got)
	}

	other := NewStore("coinmerge-test", "staging", "")
	if _, err := other.Get(RelayToken); !errors.Is(err, ErrNotFound) {
		t.Errorf("profiles must not share secrets, got %v", err)
	}

	if err := s.Delete(RelayToken); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(RelayToken); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.Delete(RelayToken); err != nil {
		t.Errorf("deleting a missing secret: %v", err)
	}
}

func TestStoreFallbackFile(t *testing.T) {
	keyring.MockInitWithError(errors.New("dbus: session bus not available"))
	defer keyring.MockInit()

	path := filepath.Join(t.TempDir(), "secrets", "fallback.json")
	s := NewStore("coinmerge-test", "prod", path)

	if err := s.Set(AdminKey, "admin-xyz"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("fallback file not written: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("fallback file mode %v", info.Mode().Perm())
	}

	got, err := NewStore("coinmerge-test", "prod", path).Get(AdminKey)
	if err != nil || got != "admin-xyz" {
		t.Fatalf("Get from fallback: %q, %v", got, err)
	}

	if err := s.Delete(AdminKey); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(AdminKey); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreUnavailableWithoutFallback(t *testing.T) {
	keyring.MockInitWithError(errors.New("dbus: session bus not available"))
	defer keyring.MockInit()

	if err := NewStore("", "", "").Set(AdminKey, "x"); err == nil {
		t.Error("expected error when no keychain and no fallback path")
	}
}

func TestResolve(t *testing.T) {
	keyring.MockInit()
	s := NewStore("coinmerge-test", "resolve", "")

	if v, err := s.Resolve(AdminKey, ""); err != nil || v != "" {
		t.Errorf("missing secret should resolve empty, got %q, %v", v, err)
	}
	if err := s.Set(AdminKey, "stored"); err != nil {
		t.Fatal(err)
	}
	if v, _ := s.Resolve(AdminKey, ""); v != "stored" {
		t.Errorf("expected stored value, got %q", v)
	}
	if v, _ := s.Resolve(AdminKey, "from-env"); v != "from-env" {
		t.Errorf("explicit value should win, got %q", v)
	}
	if _, err := s.Get(" "); err == nil {
		t.Error("expected error for empty name")
	}
}
