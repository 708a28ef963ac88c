package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/devicevault/server/internal/models"
	"github.com/devicevault/server/internal/services"
)

// DeviceHandler handles device registration endpoints
type DeviceHandler struct {
	devices     *services.DeviceService
	validate    *validator.Validate
	tokenHeader string
	isAdmin     func(*http.Request) bool
}

// NewDeviceHandler creates a new DeviceHandler. tokenHeader carries the device
// token on re-registration; isAdmin may be nil.
func NewDeviceHandler(devices *services.DeviceService, tokenHeader string, isAdmin func(*http.Request) bool) *DeviceHandler {
	if isAdmin == nil {
		isAdmin = func(*http.Request) bool { return false }
	}
	return &DeviceHandler{
		devices:     devices,
		validate:    newValidator(),
		tokenHeader: tokenHeader,
		isAdmin:     isAdmin,
	}
}

// RegisterDevice registers a new device or refreshes an existing one
// @Summary Register device
// @Description Create or update a device; the token is only returned when one is issued.
// @Description Updating an existing device needs its current token or the admin API key.
// @Tags devices
// @Accept json
// @Produce json
// @Param request body models.RegisterDeviceRequest true "Device info"
// @Success 200 {object} models.RegisterDeviceResponse
// @Failure 400 {object} models.Response
// @Failure 401 {object} models.Response
// @Failure 403 {object} models.Response
// @Router /devices/register [post]
func (h *DeviceHandler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterDeviceRequest
	if status, err := decodeBody(w, r, 64<<10, h.validate, &req); err != nil {
		respondError(w, status, err.Error())
		return
	}

	who := services.Registrant{
		DeviceToken: r.Header.Get(h.tokenHeader),
		Admin:       h.isAdmin(r),
	}
	device, token, err := h.devices.Register(r.Context(), req, who)
	if err != nil {
		respondModelError(w, r, err)
		return
	}

	respondOK(w, models.RegisterDeviceResponse{
		Device: device.ToResponse(),
		Token:  token,
	})
}

// GetDevice returns device metadata
// @Summary Get device
// @Tags devices
// @Produce json
// @Param deviceId path string true "Device ID"
// @Success 200 {object} models.DeviceResponse
// @Failure 404 {object} models.Response
// @Router /devices/{deviceId} [get]
func (h *DeviceHandler) GetDevice(w http.ResponseWriter, r *http.Request) {
	deviceID, err := models.NormalizeDeviceID(chi.URLParam(r, "deviceId"))
	if err != nil {
		respondModelError(w, r, err)
		return
	}

	device, err := h.devices.Get(r.Context(), deviceID)
	if err != nil {
		respondModelError(w, r, err)
		return
	}

	respondOK(w, device.ToResponse())
}

// ListDevices returns every registered device
// @Summary List devices
// @Tags admin
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {array} models.DeviceResponse
// @Router /admin/devices [get]
func (h *DeviceHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.devices.List(r.Context())
	if err != nil {
		respondModelError(w, r, err)
		return
	}

	resp := make([]models.DeviceResponse, 0, len(devices))
	for _, device := range devices {
		resp = append(resp, device.ToResponse())
	}
	respondOK(w, resp)
}

// DeactivateDevice stops a device from syncing or re-registering
// @Summary Deactivate device
// @Tags admin
// @Produce json
// @Security ApiKeyAuth
// @Param deviceId path string true "Device ID"
// @Success 200 {object} models.DeviceResponse
// @Failure 404 {object} models.Response
// @Router /admin/devices/{deviceId}/deactivate [post]
func (h *DeviceHandler) DeactivateDevice(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

// ActivateDevice re-enables a deactivated device
// @Summary Activate device
// @Tags admin
// @Produce json
// @Security ApiKeyAuth
// @Param deviceId path string true "Device ID"
// @Success 200 {object} models.DeviceResponse
// @Failure 404 {object} models.Response
// @Router /admin/devices/{deviceId}/activate [post]
func (h *DeviceHandler) ActivateDevice(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

func (h *DeviceHandler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	deviceID, err := models.NormalizeDeviceID(chi.URLParam(r, "deviceId"))
	if err != nil {
		respondModelError(w, r, err)
		return
	}

	device, err := h.devices.SetActive(r.Context(), deviceID, active)
	if err != nil {
		respondModelError(w, r, err)
		return
	}

	respondOK(w, device.ToResponse())
}
