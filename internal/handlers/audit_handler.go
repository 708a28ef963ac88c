package handlers

import (
	"net/http"

	"github.com/devicevault/server/internal/models"
	"github.com/devicevault/server/internal/services"
)

// AuditHandler exposes the dedup auditor to operators
type AuditHandler struct {
	audit *services.AuditService
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(audit *services.AuditService) *AuditHandler {
	return &AuditHandler{audit: audit}
}

// RunAudit triggers an audit over every partition, or a synchronous dry run
// when dryRun=true. device and dataType narrow a dry run.
// @Summary Run dedup audit
// @Tags admin
// @Produce json
// @Param dryRun query bool false "Report without writing"
// @Param device query string false "Device ID filter (dry run only)"
// @Param dataType query string false "Data type filter (dry run only)"
// @Success 202 {object} models.Response
// @Security ApiKeyAuth
// @Router /admin/audit/run [post]
func (h *AuditHandler) RunAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("dryRun") == "true" {
		var dt models.DataType
		if raw := q.Get("dataType"); raw != "" {
			parsed, err := models.ParseDataType(raw)
			if err != nil {
				respondModelError(w, r, err)
				return
			}
			dt = parsed
		}

		summary, err := h.audit.AuditAll(r.Context(), q.Get("device"), dt, true)
		if err != nil {
			respondModelError(w, r, err)
			return
		}
		respondOK(w, summary)
		return
	}

	if !h.audit.RunNow() {
		respondError(w, http.StatusConflict, "Audit already running")
		return
	}
	writeJSON(w, http.StatusAccepted, models.Response{
		Success: true,
		Data:    map[string]string{"message": "Audit started"},
	})
}

// GetStatus reports the auditor schedule and last run
// @Summary Audit status
// @Tags admin
// @Produce json
// @Success 200 {object} services.AuditStatus
// @Security ApiKeyAuth
// @Router /admin/audit/status [get]
func (h *AuditHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	respondOK(w, h.audit.GetStatus())
}
