package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/devicevault/server/internal/models"
	"github.com/devicevault/server/internal/observability"
	"github.com/devicevault/server/internal/repository"
)

// itemOutcome is what happened to one batch item
type itemOutcome int

const (
	outcomeStored itemOutcome = iota
	outcomeDuplicate
	outcomeMappingFailed
	outcomeStoreFailed
)

// IngestService runs the server side of a sync: normalize, dedup, store, then
// advance the watermark. Items are processed sequentially in input order.
type IngestService struct {
	partitions   *repository.PartitionRegistry
	watermarks   repository.WatermarkRepo
	normalizer   *Normalizer
	fingerprints *FingerprintService
	gate         *DedupGate
	metrics      *observability.IngestMetrics
	maxItems     int
	now          func() time.Time
}

// NewIngestService creates a new IngestService
func NewIngestService(
	partitions *repository.PartitionRegistry,
	watermarks repository.WatermarkRepo,
	normalizer *Normalizer,
	fingerprints *FingerprintService,
	gate *DedupGate,
) *IngestService {
	return &IngestService{
		partitions:   partitions,
		watermarks:   watermarks,
		normalizer:   normalizer,
		fingerprints: fingerprints,
		gate:         gate,
		now:          time.Now,
	}
}

// SetMetrics attaches the metrics sink
func (s *IngestService) SetMetrics(m *observability.IngestMetrics) {
	s.metrics = m
}

// SetMaxItems bounds the batch size; zero disables the check
func (s *IngestService) SetMaxItems(n int) {
	s.maxItems = n
}

// Ingest stores a batch for deviceID. Item-level problems never fail the
// batch; they only lower ItemsSynced. The returned error is request-level:
// ErrUnsupportedDataType or ErrBatchTooLarge for bad input, anything else is
// a storage failure.
func (s *IngestService) Ingest(ctx context.Context, deviceID string, req *models.SyncRequest) (*models.SyncResult, error) {
	dt, err := models.ParseDataType(req.DataType)
	if err != nil {
		return nil, err
	}
	if s.maxItems > 0 && len(req.Data) > s.maxItems {
		return nil, models.ErrBatchTooLarge
	}

	ctx, span := observability.StartServiceSpan(ctx, "IngestService", "Ingest")
	defer span.End()
	span.SetAttributes(observability.DeviceID(deviceID), observability.DataType(dt.String()))

	log := observability.WithContext(ctx).WithFields(map[string]interface{}{
		"device_id": deviceID,
		"data_type": dt.String(),
	})

	partition, err := s.partitions.Open(ctx, deviceID, dt)
	if err != nil {
		observability.RecordError(span, err)
		s.recordFailure(ctx, deviceID, dt, err)
		return nil, fmt.Errorf("open partition: %w", err)
	}
	span.SetAttributes(observability.Partition(partition.Table()))

	stats := models.BatchStats{Received: len(req.Data)}
	for i, item := range req.Data {
		switch s.processItem(ctx, log, partition, deviceID, dt, i, item) {
		case outcomeStored:
			stats.Normalized++
			stats.Stored++
		case outcomeDuplicate:
			stats.Normalized++
			stats.Duplicates++
		case outcomeStoreFailed:
			stats.Normalized++
			stats.Failed++
		case outcomeMappingFailed:
			stats.Failed++
		}
	}

	syncTime := CoerceTimestamp(req.Timestamp, s.now())
	message := fmt.Sprintf("Synced %d of %d %s items", stats.Stored, stats.Received, dt)

	wm := models.NewSuccessWatermark(deviceID, dt, syncTime, stats.Stored, message)
	if err := s.watermarks.RecordSuccess(ctx, wm); err != nil {
		// Records are already stored; a stale watermark only causes a resend that dedup absorbs
		log.Warnf("Failed to advance watermark: %v", err)
	}

	s.recordMetrics(ctx, dt, stats)
	log.WithFields(map[string]interface{}{
		"received":   stats.Received,
		"normalized": stats.Normalized,
		"duplicates": stats.Duplicates,
		"stored":     stats.Stored,
		"failed":     stats.Failed,
	}).Info("Batch ingested")
	observability.SetSuccess(span)

	return &models.SyncResult{
		ItemsSynced:  stats.Stored,
		LastSyncTime: syncTime,
		Message:      message,
		Stats:        stats,
	}, nil
}

// processItem isolates one item: any error or panic is logged and counted, never propagated
func (s *IngestService) processItem(
	ctx context.Context,
	log *observability.Logger,
	partition repository.PartitionStore,
	deviceID string,
	dt models.DataType,
	index int,
	item json.RawMessage,
) (outcome itemOutcome) {
	itemLog := log.WithField("item", index)
	normalized := false

	defer func() {
		if r := recover(); r != nil {
			itemLog.Warnf("Item skipped after panic: %v", r)
			if normalized {
				outcome = outcomeStoreFailed
			} else {
				outcome = outcomeMappingFailed
			}
		}
	}()

	rec, err := s.normalizer.Normalize(deviceID, dt, item)
	if err != nil {
		itemLog.Warnf("Item skipped, mapping failed: %v", err)
		return outcomeMappingFailed
	}
	rec.DataHash, err = s.fingerprints.FingerprintRecord(rec)
	if err != nil {
		itemLog.Warnf("Item skipped, fingerprint failed: %v", err)
		return outcomeMappingFailed
	}
	normalized = true

	verdict, err := s.gate.Check(ctx, partition, rec)
	if err != nil {
		itemLog.Warnf("Dedup check failed, relying on unique index: %v", err)
	} else if verdict == VerdictDuplicate {
		itemLog.Debug("duplicate suppressed")
		return outcomeDuplicate
	}

	if err := partition.Insert(ctx, rec); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			itemLog.Debug("duplicate suppressed by unique index")
			return outcomeDuplicate
		}
		itemLog.Warnf("Item skipped, insert failed: %v", err)
		return outcomeStoreFailed
	}
	return outcomeStored
}

func (s *IngestService) recordFailure(ctx context.Context, deviceID string, dt models.DataType, cause error) {
	s.metrics.RecordBatch(ctx, dt.String(), false)
	if err := s.watermarks.RecordFailure(ctx, deviceID, dt, cause.Error()); err != nil {
		observability.WithContext(ctx).Errorf("Failed to record sync failure for %s/%s: %v", deviceID, dt, err)
	}
	observability.WithContext(ctx).Errorf("Sync failed for %s/%s: %v", deviceID, dt, cause)
}

func (s *IngestService) recordMetrics(ctx context.Context, dt models.DataType, stats models.BatchStats) {
	kind := dt.String()
	s.metrics.RecordItems(ctx, kind, observability.OutcomeReceived, stats.Received)
	s.metrics.RecordItems(ctx, kind, observability.OutcomeNormalized, stats.Normalized)
	s.metrics.RecordItems(ctx, kind, observability.OutcomeDuplicate, stats.Duplicates)
	s.metrics.RecordItems(ctx, kind, observability.OutcomeStored, stats.Stored)
	s.metrics.RecordItems(ctx, kind, observability.OutcomeFailed, stats.Failed)
	s.metrics.RecordBatch(ctx, kind, true)
}

// RecordsPage is one page of stored records
type RecordsPage struct {
	Records []*models.Record
	Total   int
}

// ListRecords pages through a partition newest first. An unknown partition
// yields an empty page and is not provisioned.
func (s *IngestService) ListRecords(ctx context.Context, deviceID string, dt models.DataType, since time.Time, offset, limit int) (*RecordsPage, error) {
	partition, err := s.partitions.Lookup(ctx, deviceID, dt)
	if err != nil {
		return nil, err
	}
	if partition == nil {
		return &RecordsPage{Records: []*models.Record{}}, nil
	}

	total, err := partition.Count(ctx, since)
	if err != nil {
		return nil, err
	}
	records, err := partition.List(ctx, since, offset, limit)
	if err != nil {
		return nil, err
	}
	return &RecordsPage{Records: records, Total: total}, nil
}

// LastSync returns the watermark for a device and data type, or nil
func (s *IngestService) LastSync(ctx context.Context, deviceID string, dt models.DataType) (*models.SyncWatermark, error) {
	return s.watermarks.Get(ctx, deviceID, dt)
}

// SyncStatus returns every watermark of a device
func (s *IngestService) SyncStatus(ctx context.Context, deviceID string) ([]*models.SyncWatermark, error) {
	return s.watermarks.ListForDevice(ctx, deviceID)
}
