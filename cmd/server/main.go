package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/devicevault/server/internal/config"
	"github.com/devicevault/server/internal/handlers"
	custommw "github.com/devicevault/server/internal/middleware"
	"github.com/devicevault/server/internal/observability"
	"github.com/devicevault/server/internal/repository"
	"github.com/devicevault/server/internal/services"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	observability.GetLogger().SetLevel(observability.ParseLevel(cfg.LogLevel))

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	telemetry, err := observability.Initialize(ctx, observability.NewConfig("devicevault-server", handlers.Version))
	if err != nil {
		log.Fatalf("Failed to initialize telemetry: %v", err)
	}

	// Initialize database
	db, dialect, err := repository.OpenDatabase(cfg.DatabaseURL, cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to initialize %s database: %v", dialectName(cfg), err)
	}
	defer db.Close()
	observability.Infof("Using %s database", dialectName(cfg))

	ingestMetrics, err := observability.NewIngestMetrics()
	if err != nil {
		log.Fatalf("Failed to create ingest metrics: %v", err)
	}
	httpMetrics, err := observability.NewHTTPMetrics()
	if err != nil {
		log.Fatalf("Failed to create HTTP metrics: %v", err)
	}

	// Repositories
	partitions := repository.NewPartitionRegistry(db, dialect)
	partitions.SetMetrics(ingestMetrics)
	partitions.StartSweeper(ctx, cfg.Partitions.IdleTTL()/2, cfg.Partitions.IdleTTL())
	watermarks := repository.NewWatermarkRepository(db, dialect)
	deviceRepo := repository.NewDeviceRepository(db, dialect)

	// Services
	fingerprints := services.NewFingerprintService()
	ingest := services.NewIngestService(partitions, watermarks, services.NewNormalizer(), fingerprints, services.NewDedupGate())
	ingest.SetMetrics(ingestMetrics)
	ingest.SetMaxItems(cfg.Ingest.MaxBatchItems)
	devices := services.NewDeviceService(deviceRepo, cfg.Security.RequireRegisteredDevice)

	auditor := services.NewAuditService(partitions, fingerprints, time.Duration(cfg.Auditor.IntervalHours)*time.Hour)
	auditor.SetMetrics(ingestMetrics)
	if cfg.Auditor.Enabled {
		auditor.Start()
		defer auditor.Stop()
	}
	if cfg.Auditor.AutoStart {
		auditor.RunNow()
	}

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.TracingMiddleware())
	r.Use(observability.MetricsMiddleware(httpMetrics))

	handlers.Routes{
		Health:     handlers.NewHealthHandler(db),
		Devices:    handlers.NewDeviceHandler(devices, cfg.Security.DeviceTokenHeader, custommw.APIKeyMatches(cfg.Security.APIKey, cfg.Security.APIKeyHeader)),
		Sync:       handlers.NewSyncHandler(ingest, devices, cfg.Ingest.MaxBodyBytes),
		Audit:      handlers.NewAuditHandler(auditor),
		DeviceAuth: custommw.DeviceAuth(devices, cfg.Security.DeviceTokenHeader),
		AdminAuth:  custommw.APIKeyAuth(cfg.Security.APIKey, cfg.Security.APIKeyHeader),
	}.Mount(r)

	// Create server
	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // Large batches
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		observability.Infof("DeviceVault Server %s starting on %s", handlers.Version, cfg.ServerAddress)
		observability.Infof("Max batch: %d items, %d bytes", cfg.Ingest.MaxBatchItems, cfg.Ingest.MaxBodyBytes)
		if cfg.Security.RequireRegisteredDevice {
			observability.Info("Device registration required for sync")
		}

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	observability.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		observability.Warnf("Telemetry shutdown: %v", err)
	}

	observability.Info("Server stopped")
}

func dialectName(cfg *config.Config) string {
	if cfg.UsePostgres() {
		return "PostgreSQL"
	}
	return "SQLite"
}
