package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/devicevault/server/internal/models"
)

// DeviceRepository implements DeviceRepo for PostgreSQL/SQLite
type DeviceRepository struct {
	db      *sql.DB
	dialect Dialect
}

// NewDeviceRepository creates a new DeviceRepository
func NewDeviceRepository(db *sql.DB, dialect Dialect) *DeviceRepository {
	return &DeviceRepository{db: db, dialect: dialect}
}

const deviceColumns = `id, device_name, model, manufacturer, os_version, app_version, token_hash, registered_at, last_seen_at, is_active`

func (r *DeviceRepository) GetByID(ctx context.Context, id string) (*models.Device, error) {
	query := r.dialect.Rebind(`SELECT ` + deviceColumns + ` FROM devices WHERE id = ?`)

	device, err := scanDevice(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return device, nil
}

func (r *DeviceRepository) GetAll(ctx context.Context) ([]*models.Device, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+deviceColumns+` FROM devices ORDER BY last_seen_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []*models.Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, device)
	}
	return devices, rows.Err()
}

// Add inserts a new device; ErrDuplicate if the id is taken
func (r *DeviceRepository) Add(ctx context.Context, device *models.Device) error {
	query := r.dialect.Rebind(`INSERT INTO devices (` + deviceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := r.db.ExecContext(ctx, query,
		device.ID, device.DeviceName, device.Model, device.Manufacturer, device.OSVersion,
		device.AppVersion, device.TokenHash, device.RegisteredAt, device.LastSeenAt, device.IsActive,
	)
	if IsUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// Update writes metadata, token hash and activity for an existing device
func (r *DeviceRepository) Update(ctx context.Context, device *models.Device) error {
	query := r.dialect.Rebind(`UPDATE devices SET device_name = ?, model = ?, manufacturer = ?, os_version = ?,
		app_version = ?, token_hash = ?, last_seen_at = ?, is_active = ?
		WHERE id = ?`)

	_, err := r.db.ExecContext(ctx, query,
		device.DeviceName, device.Model, device.Manufacturer, device.OSVersion,
		device.AppVersion, device.TokenHash, device.LastSeenAt, device.IsActive, device.ID,
	)
	return err
}

// UpdateLastSeen bumps last_seen_at; returns false if the device does not exist
func (r *DeviceRepository) UpdateLastSeen(ctx context.Context, id string, seen time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.dialect.Rebind(`UPDATE devices SET last_seen_at = ? WHERE id = ?`), seen.UTC(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SetActive flips the soft-delete flag. Devices are never hard-deleted.
func (r *DeviceRepository) SetActive(ctx context.Context, id string, active bool) error {
	_, err := r.db.ExecContext(ctx, r.dialect.Rebind(`UPDATE devices SET is_active = ? WHERE id = ?`), active, id)
	return err
}

func scanDevice(row rowScanner) (*models.Device, error) {
	var device models.Device
	err := row.Scan(
		&device.ID, &device.DeviceName, &device.Model, &device.Manufacturer, &device.OSVersion,
		&device.AppVersion, &device.TokenHash, &device.RegisteredAt, &device.LastSeenAt, &device.IsActive,
	)
	if err != nil {
		return nil, err
	}
	return &device, nil
}
