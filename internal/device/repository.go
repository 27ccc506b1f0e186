package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines device persistence. SQLiteRepository is the production
// implementation; tests may substitute their own.
type Repository interface {
	// Create inserts d and sets its ID and timestamps.
	// Returns ErrDeviceExists if the hardware id is taken.
	Create(ctx context.Context, d *Device) error

	// GetByID returns ErrDeviceNotFound for unknown registry ids.
	GetByID(ctx context.Context, id int64) (*Device, error)

	// GetByDeviceID returns ErrDeviceNotFound for unknown hardware ids.
	GetByDeviceID(ctx context.Context, deviceID string) (*Device, error)

	// List returns one page of devices ordered by registry id.
	List(ctx context.Context, page, size int) (Page[Device], error)

	// RecordFrame stores a report and sets its ID and CreatedAt if zero.
	RecordFrame(ctx context.Context, f *Frame) error

	// LatestFrame returns ErrFrameNotFound when the device has no frames.
	LatestFrame(ctx context.Context, deviceID int64) (*Frame, error)

	// FrameHistory returns one page of frames, newest first.
	FrameHistory(ctx context.Context, deviceID int64, page, size int) (Page[Frame], error)

	// RecordCommand stores an audited command and sets its ID and timestamps.
	RecordCommand(ctx context.Context, c *Command) error

	// AcknowledgeCommand marks the newest PENDING or SENT command of the
	// device as acknowledged with response.
	AcknowledgeCommand(ctx context.Context, deviceID int64, response string) (*Command, error)
}

// SQLiteRepository implements Repository on the iot_devices, sensor_data and
// commands tables.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a repository on an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

const deviceColumns = `id, device_id, device_name, device_type, device_location,
	device_wifi, device_ip, created_at, updated_at`

// Create inserts a new device.
func (r *SQLiteRepository) Create(ctx context.Context, d *Device) error {
	applyDefaults(d)
	if err := ValidateDevice(d); err != nil {
		return err
	}
	now := r.now()
	d.CreatedAt, d.UpdatedAt = now, now

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO iot_devices (device_id, device_name, device_type, device_location,
			device_wifi, device_ip, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.DeviceID, d.Name, d.Type, d.Location, d.Wifi, d.IP,
		formatTime(now), formatTime(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDeviceExists, d.DeviceID)
		}
		return fmt.Errorf("inserting device: %w", err)
	}
	d.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading device id: %w", err)
	}
	return nil
}

// GetByID retrieves a device by registry id.
func (r *SQLiteRepository) GetByID(ctx context.Context, id int64) (*Device, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM iot_devices WHERE id = ?`, id)
	return scanDeviceRow(row)
}

// GetByDeviceID retrieves a device by hardware id.
func (r *SQLiteRepository) GetByDeviceID(ctx context.Context, deviceID string) (*Device, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM iot_devices WHERE device_id = ?`, deviceID)
	return scanDeviceRow(row)
}

// List returns one page of devices.
func (r *SQLiteRepository) List(ctx context.Context, page, size int) (Page[Device], error) {
	page, size = NormalizePage(page, size)
	result := Page[Device]{Page: page, Size: size, Items: []Device{}}

	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM iot_devices`).Scan(&result.Total); err != nil {
		return result, fmt.Errorf("counting devices: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+deviceColumns+` FROM iot_devices ORDER BY id LIMIT ? OFFSET ?`,
		size, page*size)
	if err != nil {
		return result, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return result, err
		}
		result.Items = append(result.Items, *d)
	}
	if err := rows.Err(); err != nil {
		return result, fmt.Errorf("iterating devices: %w", err)
	}
	return result, nil
}

const frameColumns = `id, device_id, temperature, humidity, light, gas,
	led, buzzer, fan, alert_led, servo, topic, broker, payload, created_at`

// RecordFrame stores a device report.
func (r *SQLiteRepository) RecordFrame(ctx context.Context, f *Frame) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = r.now()
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO sensor_data (device_id, temperature, humidity, light, gas,
			led, buzzer, fan, alert_led, servo, topic, broker, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.DeviceID, f.Temperature, f.Humidity, f.Light, f.Gas,
		f.Led, f.Buzzer, f.Fan, f.AlertLed, f.Servo,
		f.Topic, f.Broker, f.Payload, formatTime(f.CreatedAt),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: id %d", ErrDeviceNotFound, f.DeviceID)
		}
		return fmt.Errorf("inserting sensor data: %w", err)
	}
	f.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading sensor data id: %w", err)
	}
	return nil
}

// LatestFrame returns the newest frame of a device.
func (r *SQLiteRepository) LatestFrame(ctx context.Context, deviceID int64) (*Frame, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+frameColumns+` FROM sensor_data
		WHERE device_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, deviceID)

	f, err := scanFrame(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrFrameNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest frame: %w", err)
	}
	return f, nil
}

// FrameHistory returns one page of a device's frames, newest first.
func (r *SQLiteRepository) FrameHistory(ctx context.Context, deviceID int64, page, size int) (Page[Frame], error) {
	page, size = NormalizePage(page, size)
	result := Page[Frame]{Page: page, Size: size, Items: []Frame{}}

	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sensor_data WHERE device_id = ?`, deviceID,
	).Scan(&result.Total); err != nil {
		return result, fmt.Errorf("counting frames: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+frameColumns+` FROM sensor_data
		WHERE device_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`, deviceID, size, page*size)
	if err != nil {
		return result, fmt.Errorf("querying frames: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		f, err := scanFrame(rows)
		if err != nil {
			return result, fmt.Errorf("scanning frame: %w", err)
		}
		result.Items = append(result.Items, *f)
	}
	if err := rows.Err(); err != nil {
		return result, fmt.Errorf("iterating frames: %w", err)
	}
	return result, nil
}

// RecordCommand stores an audited command. An empty status is PENDING.
func (r *SQLiteRepository) RecordCommand(ctx context.Context, c *Command) error {
	if c.Status == "" {
		c.Status = CommandPending
	}
	now := r.now()
	c.CreatedAt, c.UpdatedAt = now, now

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO commands (device_id, command, status, response, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.DeviceID, c.Command, string(c.Status), c.Response, formatTime(now), formatTime(now),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: id %d", ErrDeviceNotFound, c.DeviceID)
		}
		return fmt.Errorf("inserting command: %w", err)
	}
	c.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading command id: %w", err)
	}
	return nil
}

// AcknowledgeCommand matches a node's response to its newest outstanding command.
func (r *SQLiteRepository) AcknowledgeCommand(ctx context.Context, deviceID int64, response string) (*Command, error) {
	var c Command
	var status, created string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, device_id, command, status, created_at FROM commands
		WHERE device_id = ? AND status IN (?, ?)
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, deviceID, string(CommandPending), string(CommandSent),
	).Scan(&c.ID, &c.DeviceID, &c.Command, &status, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCommandNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying outstanding command: %w", err)
	}

	now := r.now()
	if _, err := r.db.ExecContext(ctx,
		`UPDATE commands SET status = ?, response = ?, updated_at = ? WHERE id = ?`,
		string(CommandAcknowledged), response, formatTime(now), c.ID,
	); err != nil {
		return nil, fmt.Errorf("updating command: %w", err)
	}

	c.Status = CommandAcknowledged
	c.Response = response
	c.CreatedAt = parseTime(created)
	c.UpdatedAt = now
	return &c, nil
}

// rowScanner is implemented by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeviceRow(row *sql.Row) (*Device, error) {
	d, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDeviceNotFound
	}
	return d, err
}

func scanDevice(row rowScanner) (*Device, error) {
	var d Device
	var created, updated string
	err := row.Scan(&d.ID, &d.DeviceID, &d.Name, &d.Type, &d.Location,
		&d.Wifi, &d.IP, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning device: %w", err)
	}
	d.CreatedAt = parseTime(created)
	d.UpdatedAt = parseTime(updated)
	return &d, nil
}

func scanFrame(row rowScanner) (*Frame, error) {
	var f Frame
	var created string
	if err := row.Scan(&f.ID, &f.DeviceID, &f.Temperature, &f.Humidity, &f.Light, &f.Gas,
		&f.Led, &f.Buzzer, &f.Fan, &f.AlertLed, &f.Servo,
		&f.Topic, &f.Broker, &f.Payload, &created); err != nil {
		return nil, err
	}
	f.CreatedAt = parseTime(created)
	return &f, nil
}

// Times are stored as fixed-width UTC text so lexical order is time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s) //nolint:errcheck // Zero time for foreign formats
	}
	return t
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyViolation(err error) bool {
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
