package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes groups the handlers and per-group middleware served by the API
type Routes struct {
	Health  *HealthHandler
	Devices *DeviceHandler
	Sync    *SyncHandler
	Audit   *AuditHandler

	// DeviceAuth guards every /devices/{deviceId} route
	DeviceAuth func(http.Handler) http.Handler
	// AdminAuth guards /admin
	AdminAuth func(http.Handler) http.Handler
}

// Mount registers the API on r
func (rt Routes) Mount(r chi.Router) {
	r.Get("/health", rt.Health.HealthCheck)
	r.Get("/api/health", rt.Health.HealthCheck)
	r.Get("/api/version", VersionHandler)

	r.Route("/devices", func(r chi.Router) {
		r.Post("/register", rt.Devices.RegisterDevice)

		r.Route("/{deviceId}", func(r chi.Router) {
			if rt.DeviceAuth != nil {
				r.Use(rt.DeviceAuth)
			}
			r.Get("/", rt.Devices.GetDevice)
			r.Post("/sync", rt.Sync.Sync)
			r.Get("/sync-status", rt.Sync.SyncStatus)
			r.Get("/last-sync/{dataType}", rt.Sync.LastSync)
			r.Get("/{dataType}", rt.Sync.ListRecords)
		})
	})

	r.Route("/admin", func(r chi.Router) {
		if rt.AdminAuth != nil {
			r.Use(rt.AdminAuth)
		}
		r.Get("/devices", rt.Devices.ListDevices)
		r.Post("/devices/{deviceId}/deactivate", rt.Devices.DeactivateDevice)
		r.Post("/devices/{deviceId}/activate", rt.Devices.ActivateDevice)
		r.Post("/audit/run", rt.Audit.RunAudit)
		r.Get("/audit/status", rt.Audit.GetStatus)
	})
}
