package repository

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicevault/server/internal/models"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := NewSQLiteDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func callLogRecord(deviceID, hash string, at time.Time, duration int64) *models.Record {
	payload := models.CallLog{
		PhoneNumber: "+1555",
		CallType:    models.CallTypeIncoming,
		Duration:    duration,
		Timestamp:   at,
	}
	return &models.Record{
		ID:        uuid.New().String(),
		DeviceID:  deviceID,
		DataType:  models.DataTypeCallLogs,
		Timestamp: at,
		DataHash:  hash,
		Payload:   payload,
	}
}

func TestTableName(t *testing.T) {
	t.Run("is stable and safe for hostile device ids", func(t *testing.T) {
		name := TableName("D1'; DROP TABLE devices;--", models.DataTypeCallLogs)
		assert.Regexp(t, `^rec_call_logs_[0-9a-f]{20}$`, name)
		assert.Equal(t, name, TableName("D1'; DROP TABLE devices;--", models.DataTypeCallLogs))
	})

	t.Run("differs per device and per kind", func(t *testing.T) {
		assert.NotEqual(t, TableName("D1", models.DataTypeCallLogs), TableName("D2", models.DataTypeCallLogs))
		assert.NotEqual(t, TableName("D1", models.DataTypeCallLogs), TableName("D1", models.DataTypeMessages))
	})
}

func TestPartitionRegistry_Open(t *testing.T) {
	ctx := context.Background()

	t.Run("concurrent first opens provision once", func(t *testing.T) {
		reg := NewPartitionRegistry(newTestDB(t), DialectSQLite)

		var wg sync.WaitGroup
		handles := make([]*Partition, 8)
		errs := make([]error, 8)
		for i := range handles {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				handles[i], errs[i] = reg.Open(ctx, "D1", models.DataTypeCallLogs)
			}(i)
		}
		wg.Wait()

		for i := range handles {
			require.NoError(t, errs[i])
			assert.Same(t, handles[0], handles[i])
		}
		assert.Equal(t, 1, reg.Size())

		infos, err := reg.List(ctx, "D1")
		require.NoError(t, err)
		require.Len(t, infos, 1)
		assert.Equal(t, models.DataTypeCallLogs, infos[0].DataType)
		assert.Equal(t, handles[0].Table(), infos[0].Table)
	})

	t.Run("rejects unsupported kinds", func(t *testing.T) {
		reg := NewPartitionRegistry(newTestDB(t), DialectSQLite)
		_, err := reg.Open(ctx, "D1", models.DataType("PHOTOS"))
		assert.ErrorIs(t, err, models.ErrUnsupportedDataType)
	})

	t.Run("lookup never provisions", func(t *testing.T) {
		reg := NewPartitionRegistry(newTestDB(t), DialectSQLite)

		p, err := reg.Lookup(ctx, "ghost", models.DataTypeMessages)
		require.NoError(t, err)
		assert.Nil(t, p)

		infos, err := reg.List(ctx, "")
		require.NoError(t, err)
		assert.Empty(t, infos)
	})

	t.Run("lookup re-attaches a provisioned partition from another registry", func(t *testing.T) {
		db := newTestDB(t)
		first := NewPartitionRegistry(db, DialectSQLite)
		_, err := first.Open(ctx, "D1", models.DataTypeMessages)
		require.NoError(t, err)

		second := NewPartitionRegistry(db, DialectSQLite)
		p, err := second.Lookup(ctx, "D1", models.DataTypeMessages)
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, TableName("D1", models.DataTypeMessages), p.Table())
	})
}

func TestPartitionRegistry_Sweep(t *testing.T) {
	ctx := context.Background()
	reg := NewPartitionRegistry(newTestDB(t), DialectSQLite)

	now := time.Date(2025, 7, 27, 12, 0, 0, 0, time.UTC)
	reg.SetClock(func() time.Time { return now })

	_, err := reg.Open(ctx, "D1", models.DataTypeCallLogs)
	require.NoError(t, err)
	now = now.Add(10 * time.Minute)
	_, err = reg.Open(ctx, "D1", models.DataTypeMessages)
	require.NoError(t, err)

	now = now.Add(6 * time.Minute)
	assert.Equal(t, 1, reg.Sweep(15*time.Minute))
	assert.Equal(t, 1, reg.Size())
	assert.Equal(t, 0, reg.Sweep(0))

	// Evicting a handle never drops data
	p, err := reg.Lookup(ctx, "D1", models.DataTypeCallLogs)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 2, reg.Size())
}

func TestPartitionRegistry_SweepKeepsSyncClock(t *testing.T) {
	ctx := context.Background()
	reg := NewPartitionRegistry(newTestDB(t), DialectSQLite)

	start := time.Date(2025, 7, 27, 12, 0, 0, 0, time.UTC)
	now := start
	reg.SetClock(func() time.Time { return now })
	at := time.UnixMilli(1690000000000).UTC()

	stale, err := reg.Open(ctx, "D1", models.DataTypeCallLogs)
	require.NoError(t, err)
	require.NoError(t, stale.Insert(ctx, callLogRecord("D1", "h1", at, 1)))

	now = start.Add(2 * time.Hour)
	require.Equal(t, 1, reg.Sweep(time.Hour))
	fresh, err := reg.Open(ctx, "D1", models.DataTypeCallLogs)
	require.NoError(t, err)
	require.NotSame(t, stale, fresh)

	// A request still holding the evicted handle writes after the replacement was seeded
	now = start.Add(3 * time.Hour)
	late := callLogRecord("D1", "h2", at, 2)
	require.NoError(t, stale.Insert(ctx, late))

	now = start.Add(150 * time.Minute)
	next := callLogRecord("D1", "h3", at, 3)
	require.NoError(t, fresh.Insert(ctx, next))

	assert.False(t, next.SyncTime.Before(late.SyncTime), "sync time went backwards: %s < %s", next.SyncTime, late.SyncTime)
}

func TestPartition_Insert(t *testing.T) {
	ctx := context.Background()
	at := time.UnixMilli(1690000000000).UTC()

	t.Run("duplicate fingerprint is rejected by the unique index", func(t *testing.T) {
		reg := NewPartitionRegistry(newTestDB(t), DialectSQLite)
		p, err := reg.Open(ctx, "D1", models.DataTypeCallLogs)
		require.NoError(t, err)

		require.NoError(t, p.Insert(ctx, callLogRecord("D1", "hash-1", at, 42)))
		err = p.Insert(ctx, callLogRecord("D1", "hash-1", at, 42))
		assert.ErrorIs(t, err, ErrDuplicate)

		count, err := p.Count(ctx, time.Time{})
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		exists, err := p.ExistsByFingerprint(ctx, "hash-1")
		require.NoError(t, err)
		assert.True(t, exists)

		exists, err = p.ExistsByFingerprint(ctx, "hash-2")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("sync time never goes backwards", func(t *testing.T) {
		reg := NewPartitionRegistry(newTestDB(t), DialectSQLite)
		now := time.Date(2025, 7, 27, 12, 0, 0, 0, time.UTC)
		reg.SetClock(func() time.Time { return now })

		p, err := reg.Open(ctx, "D1", models.DataTypeCallLogs)
		require.NoError(t, err)

		first := callLogRecord("D1", "a", at, 1)
		require.NoError(t, p.Insert(ctx, first))

		now = now.Add(-time.Hour)
		second := callLogRecord("D1", "b", at, 2)
		require.NoError(t, p.Insert(ctx, second))

		assert.False(t, second.SyncTime.Before(first.SyncTime))
	})

	t.Run("clock resumes from stored max after re-open", func(t *testing.T) {
		db := newTestDB(t)
		now := time.Date(2025, 7, 27, 12, 0, 0, 0, time.UTC)

		first := NewPartitionRegistry(db, DialectSQLite)
		first.SetClock(func() time.Time { return now })
		p, err := first.Open(ctx, "D1", models.DataTypeCallLogs)
		require.NoError(t, err)
		stored := callLogRecord("D1", "a", at, 1)
		require.NoError(t, p.Insert(ctx, stored))

		second := NewPartitionRegistry(db, DialectSQLite)
		second.SetClock(func() time.Time { return now.Add(-time.Hour) })
		p2, err := second.Open(ctx, "D1", models.DataTypeCallLogs)
		require.NoError(t, err)
		next := callLogRecord("D1", "b", at, 2)
		require.NoError(t, p2.Insert(ctx, next))

		assert.Equal(t, stored.SyncTime, next.SyncTime)
	})
}

func TestPartition_ListAndCount(t *testing.T) {
	ctx := context.Background()
	reg := NewPartitionRegistry(newTestDB(t), DialectSQLite)
	now := time.Date(2025, 7, 27, 12, 0, 0, 0, time.UTC)
	reg.SetClock(func() time.Time { return now })

	p, err := reg.Open(ctx, "D1", models.DataTypeCallLogs)
	require.NoError(t, err)

	at := time.UnixMilli(1690000000000).UTC()
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Insert(ctx, callLogRecord("D1", uuid.NewString(), at, int64(i))))
		now = now.Add(time.Minute)
	}

	t.Run("newest first with paging", func(t *testing.T) {
		page, err := p.List(ctx, time.Time{}, 0, 2)
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.True(t, page[0].SyncTime.After(page[1].SyncTime))
		assert.Equal(t, int64(4), page[0].Payload.(models.CallLog).Duration)

		rest, err := p.List(ctx, time.Time{}, 4, 2)
		require.NoError(t, err)
		require.Len(t, rest, 1)
		assert.Equal(t, int64(0), rest[0].Payload.(models.CallLog).Duration)
	})

	t.Run("since filter is inclusive", func(t *testing.T) {
		since := time.Date(2025, 7, 27, 12, 2, 0, 0, time.UTC)
		records, err := p.List(ctx, since, 0, 50)
		require.NoError(t, err)
		assert.Len(t, records, 3)

		count, err := p.Count(ctx, since)
		require.NoError(t, err)
		assert.Equal(t, 3, count)
	})

	t.Run("decoded records carry metadata", func(t *testing.T) {
		records, err := p.List(ctx, time.Time{}, 0, 1)
		require.NoError(t, err)
		require.Len(t, records, 1)
		rec := records[0]
		assert.Equal(t, "D1", rec.DeviceID)
		assert.Equal(t, models.DataTypeCallLogs, rec.DataType)
		assert.True(t, rec.Timestamp.Equal(at))
	})
}

func TestPartition_AuditWrites(t *testing.T) {
	ctx := context.Background()
	reg := NewPartitionRegistry(newTestDB(t), DialectSQLite)
	p, err := reg.Open(ctx, "D1", models.DataTypeCallLogs)
	require.NoError(t, err)

	at := time.UnixMilli(1690000000000).UTC()
	a := callLogRecord("D1", "old-a", at, 1)
	b := callLogRecord("D1", "old-b", at, 2)
	require.NoError(t, p.Insert(ctx, a))
	require.NoError(t, p.Insert(ctx, b))

	t.Run("update hash honours the expected old value", func(t *testing.T) {
		ok, err := p.UpdateHash(ctx, a.ID, "wrong", "new-a")
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = p.UpdateHash(ctx, a.ID, "old-a", "new-a")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("update to a taken hash is a duplicate", func(t *testing.T) {
		_, err := p.UpdateHash(ctx, b.ID, "old-b", "new-a")
		assert.ErrorIs(t, err, ErrDuplicate)
	})

	t.Run("conditional delete tolerates vanished rows", func(t *testing.T) {
		ok, err := p.DeleteIfHash(ctx, b.ID, "old-b")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = p.DeleteIfHash(ctx, b.ID, "old-b")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("scan visits remaining records in insertion order", func(t *testing.T) {
		var seen []string
		require.NoError(t, p.Scan(ctx, func(rec *models.Record) error {
			seen = append(seen, rec.DataHash)
			return nil
		}))
		assert.Equal(t, []string{"new-a"}, seen)
	})

	t.Run("natural key lookup returns stored hashes", func(t *testing.T) {
		hashes, err := p.HashesByNaturalKey(ctx, a.NaturalKeyString())
		require.NoError(t, err)
		assert.Equal(t, []string{"new-a"}, hashes)
	})
}
