package models

import (
	"encoding/json"
	"time"
)

// SyncRequest is the body of POST /devices/{deviceId}/sync
type SyncRequest struct {
	DataType  string            `json:"dataType" validate:"required"`
	Data      []json.RawMessage `json:"data"`
	Timestamp Flex              `json:"timestamp"`
}

// BatchStats counts what happened to the items of one batch.
// Received == Normalized + Failed and Normalized == Duplicates + Stored + storage failures.
type BatchStats struct {
	Received   int `json:"received"`
	Normalized int `json:"normalized"`
	Duplicates int `json:"duplicates"`
	Stored     int `json:"stored"`
	Failed     int `json:"failed"`
}

// SyncResult is returned after ingesting a batch
type SyncResult struct {
	ItemsSynced  int        `json:"itemsSynced"`
	LastSyncTime time.Time  `json:"lastSyncTime"`
	Message      string     `json:"message"`
	Stats        BatchStats `json:"stats"`
}

// LastSyncResponse is returned by the watermark query
type LastSyncResponse struct {
	LastSyncTime *time.Time `json:"lastSyncTime"`
}

// SyncStatusResponse lists every watermark of a device
type SyncStatusResponse struct {
	DeviceID   string           `json:"deviceId"`
	Watermarks []*SyncWatermark `json:"watermarks"`
}

// Pagination describes one page of a record listing
type Pagination struct {
	Current int `json:"current"`
	Pages   int `json:"pages"`
	Total   int `json:"total"`
	Limit   int `json:"limit"`
}

// NewPagination computes the page count for total items at limit per page
func NewPagination(current, limit, total int) Pagination {
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}
	return Pagination{Current: current, Pages: pages, Total: total, Limit: limit}
}

// RecordListResponse is returned when listing stored records
type RecordListResponse struct {
	Records    []*Record  `json:"records"`
	Pagination Pagination `json:"pagination"`
}

// HealthResponse is returned by health check
type HealthResponse struct {
	Status    string    `json:"status"`
	Database  string    `json:"database"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

// Response is the envelope of every JSON API response
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}
