package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry fronts a Repository with a device cache keyed by both ids, so
// ingesting a report does not hit the iot_devices table once the node is
// known.
//
// All public methods are thread-safe. Returned devices are copies.
type Registry struct {
	repo Repository

	mu         sync.RWMutex
	byDeviceID map[string]*Device
	byID       map[int64]*Device

	// registerMu serialises auto-registration so concurrent first reports
	// from one node create a single row.
	registerMu sync.Mutex

	logger Logger
}

// NewRegistry creates a registry over repo.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:       repo,
		byDeviceID: make(map[string]*Device),
		byID:       make(map[int64]*Device),
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Repository returns the underlying repository.
func (r *Registry) Repository() Repository {
	return r.repo
}

func (r *Registry) remember(d *Device) {
	cp := *d
	r.mu.Lock()
	r.byDeviceID[cp.DeviceID] = &cp
	r.byID[cp.ID] = &cp
	r.mu.Unlock()
}

// Create registers a device manually.
func (r *Registry) Create(ctx context.Context, d *Device) error {
	if err := r.repo.Create(ctx, d); err != nil {
		return err
	}
	r.remember(d)
	r.logger.Info("device registered", "id", d.ID, "device_id", d.DeviceID)
	return nil
}

// GetByID returns a device by registry id.
func (r *Registry) GetByID(ctx context.Context, id int64) (*Device, error) {
	r.mu.RLock()
	cached, ok := r.byID[id]
	r.mu.RUnlock()
	if ok {
		cp := *cached
		return &cp, nil
	}

	d, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	r.remember(d)
	return d, nil
}

// GetByDeviceID returns a device by hardware id.
func (r *Registry) GetByDeviceID(ctx context.Context, deviceID string) (*Device, error) {
	r.mu.RLock()
	cached, ok := r.byDeviceID[deviceID]
	r.mu.RUnlock()
	if ok {
		cp := *cached
		return &cp, nil
	}

	d, err := r.repo.GetByDeviceID(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	r.remember(d)
	return d, nil
}

// EnsureDevice returns the device for report.DeviceID, registering it with
// report's details (and the node defaults) if unknown. created reports
// whether a row was inserted.
func (r *Registry) EnsureDevice(ctx context.Context, report Device) (d *Device, created bool, err error) {
	d, err = r.GetByDeviceID(ctx, report.DeviceID)
	if err == nil {
		return d, false, nil
	}
	if !errors.Is(err, ErrDeviceNotFound) {
		return nil, false, err
	}

	r.registerMu.Lock()
	defer r.registerMu.Unlock()

	// Another report may have registered it while we waited.
	if d, err = r.GetByDeviceID(ctx, report.DeviceID); err == nil {
		return d, false, nil
	}

	report.ID = 0
	if err := r.Create(ctx, &report); err != nil {
		if errors.Is(err, ErrDeviceExists) {
			d, err = r.GetByDeviceID(ctx, report.DeviceID)
			return d, false, err
		}
		return nil, false, fmt.Errorf("registering %s: %w", report.DeviceID, err)
	}
	return &report, true, nil
}

// List returns one page of devices from the repository.
func (r *Registry) List(ctx context.Context, page, size int) (Page[Device], error) {
	return r.repo.List(ctx, page, size)
}

// RecordFrame stores a frame for a registered device.
func (r *Registry) RecordFrame(ctx context.Context, f *Frame) error {
	if err := r.repo.RecordFrame(ctx, f); err != nil {
		return err
	}
	r.logger.Debug("sensor frame stored", "id", f.DeviceID, "frame_id", f.ID)
	return nil
}

// LatestFrame returns the newest frame of a registered device.
func (r *Registry) LatestFrame(ctx context.Context, id int64) (*Frame, error) {
	if _, err := r.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return r.repo.LatestFrame(ctx, id)
}

// FrameHistory returns a page of a registered device's frames, newest first.
func (r *Registry) FrameHistory(ctx context.Context, id int64, page, size int) (Page[Frame], error) {
	if _, err := r.GetByID(ctx, id); err != nil {
		return Page[Frame]{}, err
	}
	return r.repo.FrameHistory(ctx, id, page, size)
}

// RecordCommand audits a command sent to a device.
func (r *Registry) RecordCommand(ctx context.Context, c *Command) error {
	if err := r.repo.RecordCommand(ctx, c); err != nil {
		return err
	}
	r.logger.Debug("command recorded", "id", c.DeviceID, "command_id", c.ID, "status", c.Status)
	return nil
}

// AcknowledgeCommand matches a response from hardware id deviceID to its
// newest outstanding command.
func (r *Registry) AcknowledgeCommand(ctx context.Context, deviceID, response string) (*Command, error) {
	d, err := r.GetByDeviceID(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	return r.repo.AcknowledgeCommand(ctx, d.ID, response)
}

// CachedCount returns the number of cached devices.
func (r *Registry) CachedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
