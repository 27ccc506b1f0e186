package connection

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Scheme is the WebSocket transport scheme.
type Scheme string

// Supported schemes.
const (
	SchemeWS  Scheme = "ws"
	SchemeWSS Scheme = "wss"
)

// Secure reports whether the scheme uses TLS.
func (s Scheme) Secure() bool {
	return s == SchemeWSS
}

// maxPort is the highest valid TCP port.
const maxPort = 65535

// Config describes one transport connection.
//
// Port is kept as a string because it is entered by an operator; Validate
// checks that it is numeric.
type Config struct {
	Scheme   Scheme
	Address  string
	Port     string
	Path     string
	Username string
	Password string
	ClientID string

	// KeepAlive is the heartbeat interval the transport negotiates.
	KeepAlive time.Duration

	// ReconnectPeriod is the delay between automatic reconnect attempts.
	ReconnectPeriod time.Duration

	// ConnectTimeout bounds the handshake; the transport enforces it.
	ConnectTimeout time.Duration
}

// URL returns the transport URL in the form scheme://address:port/path.
func (c Config) URL() string {
	scheme := c.Scheme
	if scheme == "" {
		scheme = SchemeWS
	}
	path := c.Path
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return fmt.Sprintf("%s://%s:%s%s", scheme, strings.TrimSpace(c.Address), strings.TrimSpace(c.Port), path)
}

// Validate checks the parameters needed to build a transport URL.
//
// Returns:
//   - error: wraps ErrInvalidConfig describing every problem found, or nil
func (c Config) Validate() error {
	var errs []string

	if strings.TrimSpace(c.Address) == "" {
		errs = append(errs, "address is required")
	}

	port := strings.TrimSpace(c.Port)
	if port == "" {
		errs = append(errs, "port is required")
	} else if n, err := strconv.Atoi(port); err != nil || n < 1 || n > maxPort {
		errs = append(errs, fmt.Sprintf("port %q must be between 1 and %d", port, maxPort))
	}

	switch c.Scheme {
	case "", SchemeWS, SchemeWSS:
	default:
		errs = append(errs, fmt.Sprintf("scheme %q must be ws or wss", c.Scheme))
	}

	if c.KeepAlive < 0 || c.ReconnectPeriod < 0 || c.ConnectTimeout < 0 {
		errs = append(errs, "durations cannot be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}
