package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/devicevault/server/internal/models"
	"github.com/devicevault/server/internal/observability"
	"github.com/devicevault/server/internal/repository"
)

// AuditCounts are the per-kind totals of an audit run
type AuditCounts struct {
	Scanned int `json:"scanned"`
	Deleted int `json:"deleted"`
	Updated int `json:"updated"`
}

func (c *AuditCounts) add(o AuditCounts) {
	c.Scanned += o.Scanned
	c.Deleted += o.Deleted
	c.Updated += o.Updated
}

// AuditReport is the result of auditing one partition
type AuditReport struct {
	DeviceID string          `json:"deviceId"`
	DataType models.DataType `json:"dataType"`
	DryRun   bool            `json:"dryRun"`
	AuditCounts
}

// AuditSummary aggregates partition reports by data type
type AuditSummary struct {
	DryRun     bool                             `json:"dryRun"`
	Partitions int                              `json:"partitions"`
	ByType     map[models.DataType]*AuditCounts `json:"byType"`
	Reports    []AuditReport                    `json:"reports"`
	Errors     []string                         `json:"errors,omitempty"`
}

// AuditStatus represents the current status of the background auditor
type AuditStatus struct {
	Running          bool          `json:"running"`
	Enabled          bool          `json:"enabled"`
	LastRun          time.Time     `json:"lastRun,omitempty"`
	LastRunDuration  string        `json:"lastRunDuration,omitempty"`
	LastSummary      *AuditSummary `json:"lastSummary,omitempty"`
	NextScheduledRun time.Time     `json:"nextScheduledRun,omitempty"`
}

// AuditService recomputes fingerprints over stored partitions and collapses
// duplicates that slipped past the gate, including records hashed by an older
// fingerprint algorithm. It never locks a partition.
type AuditService struct {
	partitions   *repository.PartitionRegistry
	fingerprints *FingerprintService
	metrics      *observability.IngestMetrics
	interval     time.Duration

	mu       sync.RWMutex
	enabled  bool
	running  bool
	stopChan chan struct{}
	status   AuditStatus
	ticker   *time.Ticker
}

// NewAuditService creates a new AuditService
func NewAuditService(partitions *repository.PartitionRegistry, fingerprints *FingerprintService, interval time.Duration) *AuditService {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &AuditService{
		partitions:   partitions,
		fingerprints: fingerprints,
		interval:     interval,
		stopChan:     make(chan struct{}),
	}
}

// SetMetrics attaches the metrics sink
func (s *AuditService) SetMetrics(m *observability.IngestMetrics) {
	s.metrics = m
}

// Start begins the background audit loop
func (s *AuditService) Start() {
	s.mu.Lock()
	if s.ticker != nil {
		s.mu.Unlock()
		return // Already started
	}
	s.enabled = true
	s.status.Enabled = true
	s.stopChan = make(chan struct{})
	s.ticker = time.NewTicker(s.interval)
	s.status.NextScheduledRun = time.Now().Add(s.interval)
	ticker, stop := s.ticker, s.stopChan
	s.mu.Unlock()

	observability.Infof("Dedup auditor started (runs every %s)", s.interval)

	go func() {
		for {
			select {
			case <-ticker.C:
				s.mu.Lock()
				s.status.NextScheduledRun = time.Now().Add(s.interval)
				s.mu.Unlock()
				s.run(context.Background())
			case <-stop:
				ticker.Stop()
				observability.Info("Dedup auditor stopped")
				return
			}
		}
	}()
}

// Stop stops the background loop; a run in progress finishes
func (s *AuditService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return // Already stopped
	}

	s.enabled = false
	s.status.Enabled = false
	s.status.NextScheduledRun = time.Time{}
	s.ticker = nil
	close(s.stopChan)
}

// IsEnabled returns whether the scheduled auditor is enabled
func (s *AuditService) IsEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled
}

// GetStatus returns the current audit status
func (s *AuditService) GetStatus() AuditStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// RunNow triggers an immediate audit of every partition in the background.
// Returns false if a run is already in progress.
func (s *AuditService) RunNow() bool {
	s.mu.RLock()
	running := s.running
	s.mu.RUnlock()
	if running {
		return false
	}
	go s.run(context.Background())
	return true
}

func (s *AuditService) run(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		observability.Info("Audit already running, skipping")
		return
	}
	s.running = true
	s.status.Running = true
	s.mu.Unlock()

	startTime := time.Now()
	observability.Info("Running dedup audit...")

	ctx, span := observability.StartServiceSpan(ctx, "AuditService", "Run")
	defer span.End()

	summary, err := s.AuditAll(ctx, "", "", false)
	if err != nil {
		observability.RecordError(span, err)
		summary = &AuditSummary{Errors: []string{err.Error()}}
	}
	duration := time.Since(startTime)
	observability.AddEvent(span, "audit completed", observability.Duration(duration))

	s.mu.Lock()
	s.running = false
	s.status.Running = false
	s.status.LastRun = startTime
	s.status.LastRunDuration = duration.Round(time.Millisecond).String()
	s.status.LastSummary = summary
	s.mu.Unlock()

	if len(summary.Errors) > 0 {
		observability.Warnf("Audit: completed with %d errors", len(summary.Errors))
	}
	observability.Infof("Audit completed in %s over %d partitions", duration.Round(time.Millisecond), summary.Partitions)
}

// AuditAll audits every partition matching the filters. Empty deviceID or
// dataType means all. A failing partition is reported and skipped.
func (s *AuditService) AuditAll(ctx context.Context, deviceID string, dt models.DataType, dryRun bool) (*AuditSummary, error) {
	infos, err := s.partitions.List(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}

	summary := &AuditSummary{
		DryRun:  dryRun,
		ByType:  make(map[models.DataType]*AuditCounts),
		Reports: []AuditReport{},
	}

	for _, info := range infos {
		if dt != "" && info.DataType != dt {
			continue
		}
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		partition, err := s.partitions.Lookup(ctx, info.DeviceID, info.DataType)
		if err != nil || partition == nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("open %s/%s: %v", info.DeviceID, info.DataType, err))
			continue
		}

		report, err := s.AuditPartition(ctx, partition, info.DeviceID, info.DataType, dryRun)
		if err != nil {
			msg := fmt.Sprintf("audit %s/%s: %v", info.DeviceID, info.DataType, err)
			observability.Warnf("Audit: %s", msg)
			summary.Errors = append(summary.Errors, msg)
			continue
		}

		summary.Partitions++
		summary.Reports = append(summary.Reports, *report)
		counts, ok := summary.ByType[info.DataType]
		if !ok {
			counts = &AuditCounts{}
			summary.ByType[info.DataType] = counts
		}
		counts.add(report.AuditCounts)
	}

	return summary, nil
}

// auditEntry is the part of a scanned record the auditor needs after the scan
type auditEntry struct {
	id          string
	storedHash  string
	fingerprint string
}

// AuditPartition scans one partition and collapses duplicates. The first
// record of each fingerprint group (insertion order) is kept; later members
// are deleted, and a kept record whose stored hash is stale gets the current
// one. All writes are conditional on the hash seen during the scan, so rows
// changed or removed by live traffic in between are left alone.
func (s *AuditService) AuditPartition(
	ctx context.Context,
	store repository.PartitionStore,
	deviceID string,
	dt models.DataType,
	dryRun bool,
) (*AuditReport, error) {
	ctx, span := observability.StartServiceSpan(ctx, "AuditService", "AuditPartition")
	defer span.End()
	span.SetAttributes(
		observability.DeviceID(deviceID),
		observability.DataType(dt.String()),
		observability.Operation(auditOperation(dryRun)),
	)

	report := &AuditReport{DeviceID: deviceID, DataType: dt, DryRun: dryRun}
	kept := make(map[string]auditEntry)
	var deletes, updates []auditEntry

	err := store.Scan(ctx, func(rec *models.Record) error {
		report.Scanned++
		fp, err := s.fingerprints.FingerprintRecord(rec)
		if err != nil {
			return fmt.Errorf("fingerprint %s: %w", rec.ID, err)
		}
		entry := auditEntry{id: rec.ID, storedHash: rec.DataHash, fingerprint: fp}

		if _, seen := kept[fp]; seen {
			deletes = append(deletes, entry)
			return nil
		}
		kept[fp] = entry
		if rec.DataHash != fp {
			updates = append(updates, entry)
		}
		return nil
	})
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	if dryRun {
		report.Deleted = len(deletes)
		report.Updated = len(updates)
		return report, nil
	}

	// Deletes first: a later duplicate may hold the hash a kept record is about to take
	for _, e := range deletes {
		ok, err := store.DeleteIfHash(ctx, e.id, e.storedHash)
		if err != nil {
			observability.RecordError(span, err)
			return report, fmt.Errorf("delete %s: %w", e.id, err)
		}
		if ok {
			report.Deleted++
		}
	}

	for _, e := range updates {
		ok, err := store.UpdateHash(ctx, e.id, e.storedHash, e.fingerprint)
		if errors.Is(err, repository.ErrDuplicate) {
			// Live ingestion stored an identical record since the scan; that
			// one already carries the current hash, so this one is redundant
			removed, delErr := store.DeleteIfHash(ctx, e.id, e.storedHash)
			if delErr != nil {
				return report, fmt.Errorf("delete superseded %s: %w", e.id, delErr)
			}
			if removed {
				report.Deleted++
			}
			continue
		}
		if err != nil {
			observability.RecordError(span, err)
			return report, fmt.Errorf("update %s: %w", e.id, err)
		}
		if ok {
			report.Updated++
		}
	}

	s.metrics.RecordAudit(ctx, dt.String(), report.Deleted, report.Updated)
	if report.Deleted > 0 || report.Updated > 0 {
		observability.WithFields(map[string]interface{}{
			"device_id": deviceID,
			"data_type": dt.String(),
			"scanned":   report.Scanned,
			"deleted":   report.Deleted,
			"updated":   report.Updated,
		}).Info("Audit repaired partition")
	}
	observability.SetSuccess(span)
	return report, nil
}

func auditOperation(dryRun bool) string {
	if dryRun {
		return "dry-run"
	}
	return "repair"
}
