package repository

import (
	"context"
	"time"

	"github.com/devicevault/server/internal/models"
)

// DeviceRepo defines the interface for device persistence operations
type DeviceRepo interface {
	GetByID(ctx context.Context, id string) (*models.Device, error)
	GetAll(ctx context.Context) ([]*models.Device, error)
	Add(ctx context.Context, device *models.Device) error
	Update(ctx context.Context, device *models.Device) error
	UpdateLastSeen(ctx context.Context, id string, seen time.Time) (bool, error)
	SetActive(ctx context.Context, id string, active bool) error
}

// WatermarkRepo defines the interface for sync watermark persistence
type WatermarkRepo interface {
	Get(ctx context.Context, deviceID string, dt models.DataType) (*models.SyncWatermark, error)
	ListForDevice(ctx context.Context, deviceID string) ([]*models.SyncWatermark, error)
	RecordSuccess(ctx context.Context, wm *models.SyncWatermark) error
	RecordFailure(ctx context.Context, deviceID string, dt models.DataType, message string) error
}

// PartitionStore is the record-level view of one partition used by the ingest
// pipeline and the auditor
type PartitionStore interface {
	Insert(ctx context.Context, rec *models.Record) error
	HashesByNaturalKey(ctx context.Context, naturalKey string) ([]string, error)
	ExistsByFingerprint(ctx context.Context, hash string) (bool, error)
	List(ctx context.Context, since time.Time, offset, limit int) ([]*models.Record, error)
	Count(ctx context.Context, since time.Time) (int, error)
	Scan(ctx context.Context, fn func(*models.Record) error) error
	DeleteIfHash(ctx context.Context, id, hash string) (bool, error)
	UpdateHash(ctx context.Context, id, oldHash, newHash string) (bool, error)
}

// Ensure implementations satisfy interfaces
var (
	_ DeviceRepo     = (*DeviceRepository)(nil)
	_ WatermarkRepo  = (*WatermarkRepository)(nil)
	_ PartitionStore = (*Partition)(nil)
)
