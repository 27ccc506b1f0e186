// Package audit records who registered devices and who commanded their
// actuators, in the audit_logs table.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/nerrad567/labdash/internal/device"
)

// Actions.
const (
	ActionDeviceCreate = "device.create"
	ActionCommandSend  = "command.send"
)

// Entity types.
const (
	EntityDevice = "device"
)

// Sources.
const (
	SourceAPI   = "api"
	SourceRelay = "relay"
)

// ErrInvalidEntry is returned when an entry lacks its action, entity type
// or source.
var ErrInvalidEntry = errors.New("invalid audit entry")

// Entry is one audit trail record.
type Entry struct {
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entityType"`
	EntityID   string         `json:"entityId,omitempty"`
	Subject    string         `json:"subject,omitempty"`
	Source     string         `json:"source"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// Filter selects entries. Empty fields match everything; Page and Size
// follow device.NormalizePage.
type Filter struct {
	Action     string
	EntityType string
	EntityID   string
	Subject    string
	Page       int
	Size       int
}

// Repository stores audit entries.
type Repository interface {
	Create(ctx context.Context, e *Entry) error
	List(ctx context.Context, f Filter) (device.Page[Entry], error)
}
