package auth

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	dirPermissions  = 0700
	filePermissions = 0600
)

// DefaultTokenFile is the token store location when none is configured.
const DefaultTokenFile = "~/.config/labdash/tokens.yaml"

// tokenFile is the on-disk layout.
type tokenFile struct {
	AccessToken  string `yaml:"access_token"`
	RefreshToken string `yaml:"refresh_token,omitempty"`
}

// TokenStore keeps the operator's tokens in a YAML file.
//
// Thread Safety: all methods are safe for concurrent use. The file is
// re-read on every call so a login performed by another process is seen.
type TokenStore struct {
	path string
	mu   sync.Mutex
}

// NewTokenStore creates a store at path. A leading "~" is expanded to the
// user's home directory and an empty path selects DefaultTokenFile.
func NewTokenStore(path string) (*TokenStore, error) {
	if path == "" {
		path = DefaultTokenFile
	}
	expanded, err := expandHome(path)
	if err != nil {
		return nil, err
	}
	return &TokenStore{path: expanded}, nil
}

// Path returns the expanded file path.
func (s *TokenStore) Path() string {
	return s.path
}

// Token returns the stored access token when it looks like a JWT.
// It satisfies relay.TokenSource.
func (s *TokenStore) Token() (string, bool) {
	tf, err := s.read()
	if err != nil || !LooksLikeJWT(tf.AccessToken) {
		return "", false
	}
	return tf.AccessToken, true
}

// AccessToken returns the stored access token.
func (s *TokenStore) AccessToken() (string, error) {
	tf, err := s.read()
	if err != nil {
		return "", err
	}
	if tf.AccessToken == "" {
		return "", ErrNoToken
	}
	return tf.AccessToken, nil
}

// RefreshToken returns the stored refresh token, possibly empty.
func (s *TokenStore) RefreshToken() (string, error) {
	tf, err := s.read()
	if err != nil {
		return "", err
	}
	return tf.RefreshToken, nil
}

// SetTokens replaces the stored tokens.
func (s *TokenStore) SetTokens(access, refresh string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := yaml.Marshal(tokenFile{AccessToken: access, RefreshToken: refresh})
	if err != nil {
		return fmt.Errorf("encoding tokens: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), dirPermissions); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}
	if err := os.WriteFile(s.path, data, filePermissions); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	return nil
}

// Clear removes the token file. A missing file is not an error.
func (s *TokenStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing token file: %w", err)
	}
	return nil
}

func (s *TokenStore) read() (tokenFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tf tokenFile
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return tf, ErrNoToken
	}
	if err != nil {
		return tf, fmt.Errorf("reading token file: %w", err)
	}
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return tf, fmt.Errorf("parsing token file: %w", err)
	}
	tf.AccessToken = strings.TrimSpace(tf.AccessToken)
	return tf, nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
