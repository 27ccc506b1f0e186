package relay

import "errors"

// Domain-specific errors for the relay channel and wire types.
var (
	// ErrInvalidCommand is returned for malformed device commands.
	ErrInvalidCommand = errors.New("relay: invalid device command")

	// ErrUnknownActuator is returned for actuator names the lab nodes do not have.
	ErrUnknownActuator = errors.New("relay: unknown actuator")

	// ErrInvalidDevice is returned when a channel is opened without a device ID.
	ErrInvalidDevice = errors.New("relay: device ID is required")

	// ErrUnauthorized is returned when the relay rejects the handshake token.
	// It is not retried.
	ErrUnauthorized = errors.New("relay: unauthorized")
)
