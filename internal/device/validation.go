package device

import (
	"fmt"
	"strings"
)

const (
	maxDeviceIDLength = 64
	maxNameLength     = 100
)

// IsNodeID reports whether id names a lab node ("node_" followed by at
// least one character).
func IsNodeID(id string) bool {
	return len(id) > len(NodePrefix) && strings.HasPrefix(id, NodePrefix)
}

// ValidateDevice checks a device before it is stored.
func ValidateDevice(d *Device) error {
	if d == nil {
		return fmt.Errorf("%w: nil device", ErrInvalidDevice)
	}
	id := strings.TrimSpace(d.DeviceID)
	switch {
	case id == "":
		return fmt.Errorf("%w: deviceId is required", ErrInvalidDevice)
	case len(id) > maxDeviceIDLength:
		return fmt.Errorf("%w: deviceId exceeds %d characters", ErrInvalidDevice, maxDeviceIDLength)
	case strings.ContainsAny(id, "/+#"):
		return fmt.Errorf("%w: deviceId %q contains topic characters", ErrInvalidDevice, id)
	}
	if len(d.Name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidDevice, maxNameLength)
	}
	return nil
}

// applyDefaults fills the registration defaults for empty fields.
func applyDefaults(d *Device) {
	d.DeviceID = strings.TrimSpace(d.DeviceID)
	if d.Name == "" {
		d.Name = d.DeviceID
	}
	if d.Type == "" {
		d.Type = DefaultType
	}
	if d.Location == "" {
		d.Location = DefaultLocation
	}
}
