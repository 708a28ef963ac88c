package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/devicevault/server/internal/models"
	"github.com/devicevault/server/internal/services"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
)

// SyncHandler handles the device sync and read endpoints
type SyncHandler struct {
	ingest       *services.IngestService
	devices      *services.DeviceService
	validate     *validator.Validate
	maxBodyBytes int64
}

// NewSyncHandler creates a new SyncHandler
func NewSyncHandler(ingest *services.IngestService, devices *services.DeviceService, maxBodyBytes int64) *SyncHandler {
	return &SyncHandler{
		ingest:       ingest,
		devices:      devices,
		validate:     newValidator(),
		maxBodyBytes: maxBodyBytes,
	}
}

// Sync ingests one batch of a single data kind
// @Summary Sync a batch
// @Description Normalize, deduplicate and store a batch of device records
// @Tags sync
// @Accept json
// @Produce json
// @Param deviceId path string true "Device ID"
// @Param request body models.SyncRequest true "Batch"
// @Success 200 {object} models.SyncResult
// @Failure 400 {object} models.Response
// @Router /devices/{deviceId}/sync [post]
func (h *SyncHandler) Sync(w http.ResponseWriter, r *http.Request) {
	deviceID, err := models.NormalizeDeviceID(chi.URLParam(r, "deviceId"))
	if err != nil {
		respondModelError(w, r, err)
		return
	}

	var req models.SyncRequest
	if status, err := decodeBody(w, r, h.maxBodyBytes, h.validate, &req); err != nil {
		respondError(w, status, err.Error())
		return
	}
	if _, err := models.ParseDataType(req.DataType); err != nil {
		respondModelError(w, r, err)
		return
	}

	if err := h.devices.Touch(r.Context(), deviceID); err != nil {
		respondModelError(w, r, err)
		return
	}

	result, err := h.ingest.Ingest(r.Context(), deviceID, &req)
	if err != nil {
		respondModelError(w, r, err)
		return
	}

	respondOK(w, result)
}

// ListRecords returns stored records newest first
// @Summary List records
// @Description Page through the records of one device and data kind, ordered by sync time descending
// @Tags sync
// @Produce json
// @Param deviceId path string true "Device ID"
// @Param dataType path string true "Data type (CALL_LOGS or call-logs)"
// @Param page query int false "Page number" default(1)
// @Param limit query int false "Page size" default(50)
// @Param since query string false "Only records synced after this instant"
// @Success 200 {object} models.RecordListResponse
// @Router /devices/{deviceId}/{dataType} [get]
func (h *SyncHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	deviceID, dt, ok := h.pathParams(w, r)
	if !ok {
		return
	}

	page := queryInt(r, "page", 1)
	if page < 1 {
		page = 1
	}
	limit := queryInt(r, "limit", defaultPageLimit)
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	// An unparseable since is ignored rather than defaulted to now
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		if t, ok := services.ParseTimestamp(raw); ok {
			since = t
		}
	}

	result, err := h.ingest.ListRecords(r.Context(), deviceID, dt, since, (page-1)*limit, limit)
	if err != nil {
		respondModelError(w, r, err)
		return
	}

	respondOK(w, models.RecordListResponse{
		Records:    result.Records,
		Pagination: models.NewPagination(page, limit, result.Total),
	})
}

// LastSync returns the watermark of one data kind
// @Summary Last sync time
// @Tags sync
// @Produce json
// @Param deviceId path string true "Device ID"
// @Param dataType path string true "Data type"
// @Success 200 {object} models.LastSyncResponse
// @Router /devices/{deviceId}/last-sync/{dataType} [get]
func (h *SyncHandler) LastSync(w http.ResponseWriter, r *http.Request) {
	deviceID, dt, ok := h.pathParams(w, r)
	if !ok {
		return
	}

	wm, err := h.ingest.LastSync(r.Context(), deviceID, dt)
	if err != nil {
		respondModelError(w, r, err)
		return
	}

	var resp models.LastSyncResponse
	if wm != nil {
		resp.LastSyncTime = wm.LastSyncTime
	}
	respondOK(w, resp)
}

// SyncStatus lists every watermark of a device
// @Summary Sync status
// @Tags sync
// @Produce json
// @Param deviceId path string true "Device ID"
// @Success 200 {object} models.SyncStatusResponse
// @Router /devices/{deviceId}/sync-status [get]
func (h *SyncHandler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	deviceID, err := models.NormalizeDeviceID(chi.URLParam(r, "deviceId"))
	if err != nil {
		respondModelError(w, r, err)
		return
	}

	marks, err := h.ingest.SyncStatus(r.Context(), deviceID)
	if err != nil {
		respondModelError(w, r, err)
		return
	}
	if marks == nil {
		marks = []*models.SyncWatermark{}
	}

	respondOK(w, models.SyncStatusResponse{DeviceID: deviceID, Watermarks: marks})
}

func (h *SyncHandler) pathParams(w http.ResponseWriter, r *http.Request) (string, models.DataType, bool) {
	deviceID, err := models.NormalizeDeviceID(chi.URLParam(r, "deviceId"))
	if err != nil {
		respondModelError(w, r, err)
		return "", "", false
	}
	dt, err := models.ParseDataType(chi.URLParam(r, "dataType"))
	if err != nil {
		respondModelError(w, r, err)
		return "", "", false
	}
	return deviceID, dt, true
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
