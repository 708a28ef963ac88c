package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicevault/server/internal/models"
	"github.com/devicevault/server/internal/repository"
)

func seedRecord(t *testing.T, partition *repository.Partition, raw, hash string) *models.Record {
	t.Helper()
	rec, err := NewNormalizer().Normalize(partition.DeviceID(), partition.DataType(), json.RawMessage(raw))
	require.NoError(t, err)
	rec.DataHash = hash
	require.NoError(t, partition.Insert(context.Background(), rec))
	return rec
}

func storedHashes(t *testing.T, partition *repository.Partition) map[string]string {
	t.Helper()
	hashes := make(map[string]string)
	err := partition.Scan(context.Background(), func(rec *models.Record) error {
		hashes[rec.ID] = rec.DataHash
		return nil
	})
	require.NoError(t, err)
	return hashes
}

func TestAuditService_AuditPartition(t *testing.T) {
	ctx := context.Background()
	const item = `{"number":"+1555","type":"INCOMING","date":1690000000000,"duration":42}`

	t.Run("collapses records stored under stale hashes", func(t *testing.T) {
		p := newTestPipeline(t)
		audit := NewAuditService(p.partitions, p.fingerprints, time.Hour)
		partition, err := p.partitions.Open(ctx, "D1", models.DataTypeCallLogs)
		require.NoError(t, err)

		first := seedRecord(t, partition, item, "legacy-a")
		seedRecord(t, partition, item, "legacy-b")
		other := seedRecord(t, partition, `{"number":"+1666","date":1690000000000}`, "legacy-c")

		report, err := audit.AuditPartition(ctx, partition, "D1", models.DataTypeCallLogs, false)
		require.NoError(t, err)
		assert.Equal(t, 3, report.Scanned)
		assert.Equal(t, 1, report.Deleted)
		assert.Equal(t, 2, report.Updated)

		hashes := storedHashes(t, partition)
		require.Len(t, hashes, 2)
		expected, err := p.fingerprints.FingerprintRecord(first)
		require.NoError(t, err)
		assert.Equal(t, expected, hashes[first.ID])
		assert.Contains(t, hashes, other.ID)
	})

	t.Run("v1 hashed duplicate of a current record is removed", func(t *testing.T) {
		p := newTestPipeline(t)
		audit := NewAuditService(p.partitions, p.fingerprints, time.Hour)
		partition, err := p.partitions.Open(ctx, "D1", models.DataTypeCallLogs)
		require.NoError(t, err)

		sample, err := NewNormalizer().Normalize("D1", models.DataTypeCallLogs, json.RawMessage(item))
		require.NoError(t, err)
		legacy, err := p.fingerprints.Compute(FingerprintV1, sample)
		require.NoError(t, err)
		current, err := p.fingerprints.FingerprintRecord(sample)
		require.NoError(t, err)

		old := seedRecord(t, partition, item, legacy)
		fresh := seedRecord(t, partition, item, current)

		report, err := audit.AuditPartition(ctx, partition, "D1", models.DataTypeCallLogs, false)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Deleted)
		assert.Equal(t, 1, report.Updated)

		hashes := storedHashes(t, partition)
		assert.Equal(t, map[string]string{old.ID: current}, hashes)
		assert.NotContains(t, hashes, fresh.ID)
	})

	t.Run("dry run reports without writing", func(t *testing.T) {
		p := newTestPipeline(t)
		audit := NewAuditService(p.partitions, p.fingerprints, time.Hour)
		partition, err := p.partitions.Open(ctx, "D1", models.DataTypeCallLogs)
		require.NoError(t, err)

		seedRecord(t, partition, item, "legacy-a")
		seedRecord(t, partition, item, "legacy-b")
		before := storedHashes(t, partition)

		report, err := audit.AuditPartition(ctx, partition, "D1", models.DataTypeCallLogs, true)
		require.NoError(t, err)
		assert.True(t, report.DryRun)
		assert.Equal(t, 1, report.Deleted)
		assert.Equal(t, 1, report.Updated)
		assert.Equal(t, before, storedHashes(t, partition))
	})

	t.Run("clean partition is left alone", func(t *testing.T) {
		p := newTestPipeline(t)
		audit := NewAuditService(p.partitions, p.fingerprints, time.Hour)

		_, err := p.ingest.Ingest(ctx, "D1", &models.SyncRequest{DataType: "CALL_LOGS", Data: callLogItems(3)})
		require.NoError(t, err)
		partition, err := p.partitions.Open(ctx, "D1", models.DataTypeCallLogs)
		require.NoError(t, err)

		report, err := audit.AuditPartition(ctx, partition, "D1", models.DataTypeCallLogs, false)
		require.NoError(t, err)
		assert.Equal(t, AuditCounts{Scanned: 3}, report.AuditCounts)
	})
}

func TestAuditService_AuditAll(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t)
	audit := NewAuditService(p.partitions, p.fingerprints, time.Hour)

	calls, err := p.partitions.Open(ctx, "D1", models.DataTypeCallLogs)
	require.NoError(t, err)
	seedRecord(t, calls, `{"number":"+1555","date":1690000000000}`, "legacy-a")
	seedRecord(t, calls, `{"number":"+1555","date":1690000000000}`, "legacy-b")

	messages, err := p.partitions.Open(ctx, "D2", models.DataTypeMessages)
	require.NoError(t, err)
	seedRecord(t, messages, `{"address":"+1555","body":"hi","date":1690000000000}`, "legacy-c")

	t.Run("filters by device and kind", func(t *testing.T) {
		summary, err := audit.AuditAll(ctx, "D2", "", true)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Partitions)

		summary, err = audit.AuditAll(ctx, "", models.DataTypeCallLogs, true)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Partitions)
		require.Contains(t, summary.ByType, models.DataTypeCallLogs)
		assert.Equal(t, 1, summary.ByType[models.DataTypeCallLogs].Deleted)
	})

	t.Run("scheduled run repairs every partition", func(t *testing.T) {
		require.True(t, audit.RunNow())

		require.Eventually(t, func() bool {
			status := audit.GetStatus()
			return !status.Running && status.LastSummary != nil
		}, 5*time.Second, 20*time.Millisecond)

		summary := audit.GetStatus().LastSummary
		assert.False(t, summary.DryRun)
		assert.Equal(t, 2, summary.Partitions)
		assert.Empty(t, summary.Errors)
		assert.Equal(t, 1, summary.ByType[models.DataTypeCallLogs].Deleted)
		assert.Equal(t, 1, summary.ByType[models.DataTypeCallLogs].Updated)
		assert.Equal(t, 1, summary.ByType[models.DataTypeMessages].Updated)

		assert.Len(t, storedHashes(t, calls), 1)
	})
}

func TestAuditService_StartStop(t *testing.T) {
	p := newTestPipeline(t)
	audit := NewAuditService(p.partitions, p.fingerprints, time.Hour)

	assert.False(t, audit.IsEnabled())
	audit.Start()
	assert.True(t, audit.IsEnabled())
	assert.False(t, audit.GetStatus().NextScheduledRun.IsZero())

	audit.Start()
	audit.Stop()
	assert.False(t, audit.IsEnabled())
	assert.True(t, audit.GetStatus().NextScheduledRun.IsZero())
	audit.Stop()
}
