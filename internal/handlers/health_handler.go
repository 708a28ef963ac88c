package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/devicevault/server/internal/models"
	"github.com/devicevault/server/internal/observability"
)

const healthPingTimeout = 2 * time.Second

// HealthHandler reports whether the server can reach its store
type HealthHandler struct {
	db *sql.DB
}

// NewHealthHandler creates a HealthHandler; a nil db skips the store check
func NewHealthHandler(db *sql.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

// HealthCheck returns the server health status
// @Summary Health check
// @Description Pings the record store; 503 when it is unreachable
// @Tags health
// @Produce json
// @Success 200 {object} models.HealthResponse "Server is healthy"
// @Failure 503 {object} models.HealthResponse "Store unreachable"
// @Router /api/health [get]
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := models.HealthResponse{
		Status:    "healthy",
		Database:  "ok",
		Version:   Version,
		Timestamp: time.Now().UTC(),
	}
	status := http.StatusOK

	if h.db == nil {
		response.Database = "unchecked"
	} else {
		ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			observability.WithContext(r.Context()).Warnf("Health check: database ping failed: %v", err)
			response.Status = "unhealthy"
			response.Database = "unreachable"
			status = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}
