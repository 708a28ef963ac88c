package models

import "time"

// SyncStatus is the outcome of the most recent batch for a (device, data type) pair
type SyncStatus string

const (
	SyncStatusSuccess SyncStatus = "SUCCESS"
	SyncStatusFailed  SyncStatus = "FAILED"
)

// SyncWatermark tracks the last successful sync per device and data type
type SyncWatermark struct {
	DeviceID     string     `json:"deviceId"`
	DataType     DataType   `json:"dataType"`
	LastSyncTime *time.Time `json:"lastSyncTime"`
	ItemCount    int        `json:"itemCount"`
	Status       SyncStatus `json:"status"`
	Message      string     `json:"message,omitempty"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// NewSuccessWatermark creates the watermark written after a completed batch
func NewSuccessWatermark(deviceID string, dt DataType, syncTime time.Time, itemCount int, message string) *SyncWatermark {
	syncTime = syncTime.UTC()
	return &SyncWatermark{
		DeviceID:     deviceID,
		DataType:     dt,
		LastSyncTime: &syncTime,
		ItemCount:    itemCount,
		Status:       SyncStatusSuccess,
		Message:      message,
		UpdatedAt:    time.Now().UTC(),
	}
}
