package handlers

import (
	"net/http"

	"github.com/devicevault/server/internal/models"
	"github.com/devicevault/server/internal/services"
)

// Version information injected at build time
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

type VersionResponse struct {
	Version            string            `json:"version"`
	GitCommit          string            `json:"gitCommit"`
	BuildTime          string            `json:"buildTime"`
	FingerprintVersion int               `json:"fingerprintVersion"`
	DataTypes          []models.DataType `json:"dataTypes"`
}

// VersionHandler reports the build and the ingest contract agents can rely on
// @Summary Server version
// @Tags health
// @Produce json
// @Success 200 {object} models.Response{data=VersionResponse}
// @Router /api/version [get]
func VersionHandler(w http.ResponseWriter, r *http.Request) {
	respondOK(w, VersionResponse{
		Version:            Version,
		GitCommit:          GitCommit,
		BuildTime:          BuildTime,
		FingerprintVersion: int(services.CurrentFingerprintVersion),
		DataTypes:          models.AllDataTypes(),
	})
}
