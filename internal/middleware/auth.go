package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/devicevault/server/internal/models"
	"github.com/devicevault/server/internal/observability"
)

type contextKey string

const DeviceContextKey contextKey = "device"

// DeviceAuthenticator verifies a device token
type DeviceAuthenticator interface {
	RequireRegistered() bool
	Authenticate(ctx context.Context, id, token string) (*models.Device, error)
}

// GetDeviceFromContext retrieves the authenticated device from request context
func GetDeviceFromContext(ctx context.Context) *models.Device {
	if device, ok := ctx.Value(DeviceContextKey).(*models.Device); ok {
		return device
	}
	return nil
}

// DeviceAuth checks the device token on routes carrying a {deviceId} when
// registration is enforced. Otherwise requests pass through untouched.
func DeviceAuth(devices DeviceAuthenticator, headerName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !devices.RequireRegistered() {
				next.ServeHTTP(w, r)
				return
			}

			deviceID := chi.URLParam(r, "deviceId")
			token := r.Header.Get(headerName)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "Device token is required.")
				return
			}

			device, err := devices.Authenticate(r.Context(), deviceID, token)
			switch {
			case err == nil:
			case errors.Is(err, models.ErrDeviceNotFound):
				writeError(w, http.StatusNotFound, "Device not registered.")
				return
			case errors.Is(err, models.ErrDeviceInactive):
				writeError(w, http.StatusForbidden, "Device is disabled.")
				return
			case errors.Is(err, models.ErrInvalidDeviceToken):
				writeError(w, http.StatusUnauthorized, "Invalid device token.")
				return
			default:
				observability.WithContext(r.Context()).Errorf("Device authentication failed: %v", err)
				writeError(w, http.StatusInternalServerError, "Internal server error.")
				return
			}

			ctx := context.WithValue(r.Context(), DeviceContextKey, device)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(models.Response{Success: false, Error: message})
}
