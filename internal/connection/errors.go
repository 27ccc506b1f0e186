package connection

import "errors"

// Errors reported by the connection manager.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrInvalidConfig is returned when connection parameters are missing or
	// malformed. It is raised before any I/O and never retried.
	ErrInvalidConfig = errors.New("connection: invalid configuration")

	// ErrTransport wraps every failure reported by the underlying transport
	// (handshake rejected, network unreachable, protocol violation).
	ErrTransport = errors.New("connection: transport error")

	// ErrNotConnected is returned when an operation needs an established
	// connection and there is none.
	ErrNotConnected = errors.New("connection: not connected")
)
