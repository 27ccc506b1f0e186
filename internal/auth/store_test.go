package auth

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *TokenStore {
	t.Helper()
	store, err := NewTokenStore(filepath.Join(t.TempDir(), "nested", "tokens.yaml"))
	if err != nil {
		t.Fatalf("NewTokenStore() error = %v", err)
	}
	return store
}

func TestTokenStore_RoundTrip(t *testing.T) {
	store := newTestStore(t)

	if _, ok := store.Token(); ok {
		t.Fatal("Token() reported a token before any was stored")
	}
	if _, err := store.AccessToken(); !errors.Is(err, ErrNoToken) {
		t.Errorf("AccessToken() error = %v, want ErrNoToken", err)
	}

	if err := store.SetTokens("aaa.bbb.ccc", "refresh-1"); err != nil {
		t.Fatalf("SetTokens() error = %v", err)
	}
	token, ok := store.Token()
	if !ok || token != "aaa.bbb.ccc" {
		t.Errorf("Token() = %q, %v", token, ok)
	}
	if refresh, _ := store.RefreshToken(); refresh != "refresh-1" { //nolint:errcheck // Compared below
		t.Errorf("RefreshToken() = %q", refresh)
	}

	info, err := os.Stat(store.Path())
	if err != nil {
		t.Fatalf("stat token file: %v", err)
	}
	if perm := info.Mode().Perm(); perm != filePermissions {
		t.Errorf("file mode = %o, want %o", perm, filePermissions)
	}

	if err := store.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if _, ok := store.Token(); ok {
		t.Error("Token() present after Clear()")
	}
	if err := store.Clear(); err != nil {
		t.Errorf("second Clear() error = %v", err)
	}
}

func TestTokenStore_RejectsMalformedAccessToken(t *testing.T) {
	store := newTestStore(t)
	if err := store.SetTokens("opaque-session-id", ""); err != nil {
		t.Fatalf("SetTokens() error = %v", err)
	}
	if _, ok := store.Token(); ok {
		t.Error("Token() accepted a non-JWT access token")
	}
	if token, err := store.AccessToken(); err != nil || token != "opaque-session-id" {
		t.Errorf("AccessToken() = %q, %v", token, err)
	}
}

func TestTokenStore_CorruptFile(t *testing.T) {
	store := newTestStore(t)
	if err := os.MkdirAll(filepath.Dir(store.Path()), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(store.Path(), []byte("access_token: [unclosed"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, ok := store.Token(); ok {
		t.Error("Token() succeeded on a corrupt file")
	}
	if _, err := store.AccessToken(); err == nil || !strings.Contains(err.Error(), "parsing token file") {
		t.Errorf("AccessToken() error = %v", err)
	}
}

func TestNewTokenStore_ExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	tests := []struct {
		in   string
		want string
	}{
		{"~/tokens.yaml", filepath.Join(home, "tokens.yaml")},
		{"", filepath.Join(home, ".config", "labdash", "tokens.yaml")},
		{"/etc/labdash/tokens.yaml", "/etc/labdash/tokens.yaml"},
		{"relative/tokens.yaml", "relative/tokens.yaml"},
	}
	for _, tt := range tests {
		store, err := NewTokenStore(tt.in)
		if err != nil {
			t.Fatalf("NewTokenStore(%q) error = %v", tt.in, err)
		}
		if store.Path() != tt.want {
			t.Errorf("NewTokenStore(%q).Path() = %q, want %q", tt.in, store.Path(), tt.want)
		}
	}
}
