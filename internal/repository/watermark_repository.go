package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/devicevault/server/internal/models"
)

// WatermarkRepository handles per-(device, data type) sync watermark persistence
type WatermarkRepository struct {
	db      *sql.DB
	dialect Dialect
}

// NewWatermarkRepository creates a new WatermarkRepository
func NewWatermarkRepository(db *sql.DB, dialect Dialect) *WatermarkRepository {
	return &WatermarkRepository{db: db, dialect: dialect}
}

const watermarkColumns = `device_id, data_type, last_sync_time, item_count, status, message, updated_at`

// Get retrieves the watermark for a device and data type
func (r *WatermarkRepository) Get(ctx context.Context, deviceID string, dt models.DataType) (*models.SyncWatermark, error) {
	query := r.dialect.Rebind(`SELECT ` + watermarkColumns + ` FROM sync_watermarks WHERE device_id = ? AND data_type = ?`)

	wm, err := scanWatermark(r.db.QueryRowContext(ctx, query, deviceID, string(dt)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return wm, nil
}

// ListForDevice returns every watermark of a device ordered by data type
func (r *WatermarkRepository) ListForDevice(ctx context.Context, deviceID string) ([]*models.SyncWatermark, error) {
	query := r.dialect.Rebind(`SELECT ` + watermarkColumns + ` FROM sync_watermarks WHERE device_id = ? ORDER BY data_type`)

	rows, err := r.db.QueryContext(ctx, query, deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	watermarks := make([]*models.SyncWatermark, 0)
	for rows.Next() {
		wm, err := scanWatermark(rows)
		if err != nil {
			return nil, err
		}
		watermarks = append(watermarks, wm)
	}
	return watermarks, rows.Err()
}

// RecordSuccess creates or replaces the watermark after a completed batch
func (r *WatermarkRepository) RecordSuccess(ctx context.Context, wm *models.SyncWatermark) error {
	query := r.dialect.Rebind(`INSERT INTO sync_watermarks (` + watermarkColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (device_id, data_type) DO UPDATE SET
			last_sync_time = excluded.last_sync_time,
			item_count = excluded.item_count,
			status = excluded.status,
			message = excluded.message,
			updated_at = excluded.updated_at`)

	_, err := r.db.ExecContext(ctx, query,
		wm.DeviceID,
		string(wm.DataType),
		wm.LastSyncTime,
		wm.ItemCount,
		string(models.SyncStatusSuccess),
		wm.Message,
		wm.UpdatedAt.UTC(),
	)
	return err
}

// RecordFailure marks the watermark FAILED while leaving last_sync_time as it was
func (r *WatermarkRepository) RecordFailure(ctx context.Context, deviceID string, dt models.DataType, message string) error {
	query := r.dialect.Rebind(`INSERT INTO sync_watermarks (` + watermarkColumns + `)
		VALUES (?, ?, NULL, 0, ?, ?, ?)
		ON CONFLICT (device_id, data_type) DO UPDATE SET
			status = excluded.status,
			message = excluded.message,
			updated_at = excluded.updated_at`)

	_, err := r.db.ExecContext(ctx, query,
		deviceID,
		string(dt),
		string(models.SyncStatusFailed),
		message,
		time.Now().UTC(),
	)
	return err
}

func scanWatermark(row rowScanner) (*models.SyncWatermark, error) {
	var (
		wm       models.SyncWatermark
		dt       string
		status   string
		lastSync sql.NullTime
	)
	if err := row.Scan(&wm.DeviceID, &dt, &lastSync, &wm.ItemCount, &status, &wm.Message, &wm.UpdatedAt); err != nil {
		return nil, err
	}
	wm.DataType = models.DataType(dt)
	wm.Status = models.SyncStatus(status)
	if lastSync.Valid {
		t := lastSync.Time.UTC()
		wm.LastSyncTime = &t
	}
	return &wm, nil
}
