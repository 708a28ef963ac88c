package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/devicevault/server/internal/config"
	"github.com/devicevault/server/internal/models"
	"github.com/devicevault/server/internal/observability"
	"github.com/devicevault/server/internal/repository"
	"github.com/devicevault/server/internal/services"
)

// audit runs one dedup audit over the configured store and prints the summary as JSON.
func main() {
	device := flag.String("device", "", "only audit this device")
	dataType := flag.String("type", "", "only audit this data type (e.g. CALL_LOGS or call-logs)")
	dryRun := flag.Bool("dry-run", false, "report what would change without writing")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	observability.GetLogger().SetLevel(observability.ParseLevel(cfg.LogLevel))
	// stdout carries the JSON summary
	observability.GetLogger().SetOutput(os.Stderr)

	var dt models.DataType
	if *dataType != "" {
		dt, err = models.ParseDataType(*dataType)
		if err != nil {
			log.Fatalf("invalid -type %q: %v", *dataType, err)
		}
	}

	db, dialect, err := repository.OpenDatabase(cfg.DatabaseURL, cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	auditor := services.NewAuditService(repository.NewPartitionRegistry(db, dialect), services.NewFingerprintService(), 0)
	summary, err := auditor.AuditAll(ctx, *device, dt, *dryRun)
	if err != nil {
		log.Fatalf("Audit failed: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		log.Fatalf("Failed to write summary: %v", err)
	}
	if len(summary.Errors) > 0 {
		os.Exit(1)
	}
}
