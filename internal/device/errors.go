package device

import "errors"

// Domain errors for the device package; check with errors.Is.
var (
	// ErrDeviceNotFound is returned when a registry or hardware id does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when registering a hardware id twice.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrInvalidDevice is returned when device validation fails.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrFrameNotFound is returned when a device has no stored frames.
	ErrFrameNotFound = errors.New("device: no sensor data")

	// ErrCommandNotFound is returned when no outstanding command can be
	// matched to a response.
	ErrCommandNotFound = errors.New("device: no outstanding command")
)
