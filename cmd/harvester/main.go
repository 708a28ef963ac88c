package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/devicevault/server/internal/harvester"
	"github.com/devicevault/server/internal/observability"
)

func main() {
	serverURL := flag.String("server-url", envOrDefault("DEVICEVAULT_SERVER_URL", "http://127.0.0.1:5000"), "devicevault server base URL")
	deviceID := flag.String("device", strings.TrimSpace(os.Getenv("DEVICEVAULT_DEVICE_ID")), "device ID")
	token := flag.String("token", strings.TrimSpace(os.Getenv("DEVICEVAULT_DEVICE_TOKEN")), "device token issued at registration")
	exportDir := flag.String("export-dir", strings.TrimSpace(os.Getenv("DEVICEVAULT_EXPORT_DIR")), "directory holding <kind>.json exports")
	statePath := flag.String("state", envOrDefault("DEVICEVAULT_STATE_PATH", "harvester-state.db"), "watermark state database")
	kinds := flag.String("kinds", strings.TrimSpace(os.Getenv("DEVICEVAULT_KINDS")), "comma separated data types (default all)")
	interval := flag.Duration("interval", durationEnv("DEVICEVAULT_INTERVAL", 5*time.Minute), "harvest interval")
	intervalJitter := flag.Float64("interval-jitter", floatEnv("DEVICEVAULT_INTERVAL_JITTER", 0.2), "harvest interval jitter ratio (0.0-1.0)")
	timeout := flag.Duration("timeout", durationEnv("DEVICEVAULT_TIMEOUT", time.Minute), "per-cycle timeout")
	watch := flag.Bool("watch", os.Getenv("DEVICEVAULT_WATCH") == "true", "harvest early when the export dir changes")
	once := flag.Bool("once", false, "run one harvest cycle and exit")
	flag.Parse()

	parsedKinds, err := harvester.ParseKinds(*kinds)
	if err != nil {
		log.Fatalf("invalid -kinds %q: %v", *kinds, err)
	}
	cfg := harvester.Config{
		ServerURL:      *serverURL,
		DeviceID:       *deviceID,
		DeviceToken:    strings.TrimSpace(*token),
		ExportDir:      *exportDir,
		StatePath:      *statePath,
		Interval:       *interval,
		IntervalJitter: *intervalJitter,
		Timeout:        *timeout,
		Kinds:          parsedKinds,
		Watch:          *watch,
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("%v", err)
	}

	store, err := harvester.NewSQLiteStateStore(cfg.StatePath)
	if err != nil {
		log.Fatalf("failed to open state store: %v", err)
	}
	defer store.Close()

	transport := harvester.NewHTTPTransport(cfg.ServerURL, cfg.DeviceToken, &http.Client{Timeout: cfg.Timeout})
	agent := harvester.New(cfg.DeviceID, harvester.NewDirSources(cfg.ExportDir, cfg.Kinds), store, transport)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	run := func() {
		ctx, cancel := context.WithTimeout(rootCtx, cfg.Timeout)
		defer cancel()
		results, err := agent.SyncOnce(ctx)
		for _, res := range results {
			if res.Sent {
				observability.Infof("%s: sent %d, stored %d", res.DataType, res.Pending, res.Stored)
			}
		}
		if err != nil {
			observability.Warnf("harvest cycle failed: %v", err)
			return
		}
		observability.Info("harvest cycle completed")
	}

	run()
	if *once {
		return
	}

	var changes <-chan struct{}
	if cfg.Watch {
		watcher, err := harvester.NewWatcher(cfg.ExportDir, 0)
		if err != nil {
			log.Fatalf("failed to watch %s: %v", cfg.ExportDir, err)
		}
		defer watcher.Close()
		go watcher.Run(rootCtx)
		changes = watcher.Changes()
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	next := func() time.Duration {
		return harvester.JitteredInterval(cfg.Interval, cfg.IntervalJitter, rng.Float64())
	}
	timer := time.NewTimer(next())
	defer timer.Stop()
	for {
		select {
		case <-rootCtx.Done():
			observability.Infof("harvester stopping: %v", rootCtx.Err())
			return
		case <-changes:
			run()
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(next())
		case <-timer.C:
			run()
			timer.Reset(next())
		}
	}
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}

func floatEnv(name string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %f", name, raw, fallback)
		return fallback
	}
	return value
}
