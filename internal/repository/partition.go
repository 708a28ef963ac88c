package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devicevault/server/internal/models"
	"github.com/devicevault/server/internal/observability"
)

// Partition is the storage handle for one (device, data type) pair.
// Handles are obtained from a PartitionRegistry.
type Partition struct {
	db       *sql.DB
	dialect  Dialect
	table    string
	deviceID string
	dataType models.DataType
	now      func() time.Time
	clock    *syncClock // shared by every handle of the same key

	lastUsed atomic.Int64 // unix nanos, read by Sweep
}

// syncClock hands out non-decreasing sync times for one partition key
type syncClock struct {
	mu   sync.Mutex
	last int64 // ms
}

func (c *syncClock) observe(ms int64) {
	c.mu.Lock()
	if ms > c.last {
		c.last = ms
	}
	c.mu.Unlock()
}

func (c *syncClock) next(now time.Time) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ms := now.UnixMilli()
	if ms < c.last {
		ms = c.last
	}
	c.last = ms
	return time.UnixMilli(ms).UTC()
}

// Table returns the physical table name of the partition
func (p *Partition) Table() string { return p.table }

// DeviceID returns the owning device
func (p *Partition) DeviceID() string { return p.deviceID }

// DataType returns the kind stored in the partition
func (p *Partition) DataType() models.DataType { return p.dataType }

func (p *Partition) touch() {
	p.lastUsed.Store(p.now().UnixNano())
}

func (p *Partition) q(query string) string {
	return p.dialect.Rebind(fmt.Sprintf(query, p.table))
}

// provision creates the table and its indexes if they do not exist yet
func (p *Partition) provision(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			device_id TEXT NOT NULL,
			occurred_at BIGINT NOT NULL,
			sync_time BIGINT NOT NULL,
			natural_key TEXT NOT NULL,
			data_hash TEXT NOT NULL,
			payload TEXT NOT NULL
		)`, p.table),
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s_hash ON %s(data_hash)`, p.table, p.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_nk ON %s(natural_key)`, p.table, p.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_sync ON %s(sync_time)`, p.table, p.table),
	}

	for _, stmt := range stmts {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			if !isConcurrentDDL(err) {
				return err
			}
			// Another server created it between our check and create; run once more as a no-op
			if _, err := p.db.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
	}
	return nil
}

// loadClock seeds the monotonic sync clock from what is already stored
func (p *Partition) loadClock(ctx context.Context) error {
	var maxSync sql.NullInt64
	if err := p.db.QueryRowContext(ctx, p.q(`SELECT MAX(sync_time) FROM %s`)).Scan(&maxSync); err != nil {
		return err
	}
	if maxSync.Valid {
		p.clock.observe(maxSync.Int64)
	}
	return nil
}

// nextSyncTime returns a sync time that never goes backwards for this partition
func (p *Partition) nextSyncTime() time.Time {
	return p.clock.next(p.now())
}

// Insert stores rec unless a record with the same fingerprint exists.
// It assigns rec.SyncTime and returns ErrDuplicate when the unique index rejects the row.
func (p *Partition) Insert(ctx context.Context, rec *models.Record) error {
	p.touch()
	ctx, span := observability.StartDBSpan(ctx, p.dialect.System(), "INSERT", p.table)
	defer span.End()

	payload, err := models.EncodePayload(rec.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	rec.SyncTime = p.nextSyncTime()

	res, err := p.db.ExecContext(ctx, p.q(`INSERT INTO %s (id, device_id, occurred_at, sync_time, natural_key, data_hash, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (data_hash) DO NOTHING`),
		rec.ID,
		rec.DeviceID,
		rec.Timestamp.UnixMilli(),
		rec.SyncTime.UnixMilli(),
		rec.NaturalKeyString(),
		rec.DataHash,
		payload,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return ErrDuplicate
		}
		observability.RecordError(span, err)
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrDuplicate
	}
	observability.SetSuccess(span)
	return nil
}

// HashesByNaturalKey returns the fingerprints of records sharing the given natural key
func (p *Partition) HashesByNaturalKey(ctx context.Context, naturalKey string) ([]string, error) {
	p.touch()
	rows, err := p.db.QueryContext(ctx, p.q(`SELECT data_hash FROM %s WHERE natural_key = ?`), naturalKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}

// ExistsByFingerprint reports whether a record with the fingerprint is stored
func (p *Partition) ExistsByFingerprint(ctx context.Context, hash string) (bool, error) {
	p.touch()
	var one int
	err := p.db.QueryRowContext(ctx, p.q(`SELECT 1 FROM %s WHERE data_hash = ?`), hash).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// List returns records with sync_time >= since, newest first. A zero since means no filter.
func (p *Partition) List(ctx context.Context, since time.Time, offset, limit int) ([]*models.Record, error) {
	p.touch()
	ctx, span := observability.StartDBSpan(ctx, p.dialect.System(), "SELECT", p.table)
	defer span.End()

	rows, err := p.db.QueryContext(ctx, p.q(`SELECT id, device_id, occurred_at, sync_time, data_hash, payload
		FROM %s WHERE sync_time >= ?
		ORDER BY sync_time DESC, id DESC
		LIMIT ? OFFSET ?`),
		sinceMillis(since), limit, offset,
	)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	defer rows.Close()

	records := make([]*models.Record, 0)
	for rows.Next() {
		rec, err := p.scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Count returns the number of records with sync_time >= since
func (p *Partition) Count(ctx context.Context, since time.Time) (int, error) {
	p.touch()
	var count int
	err := p.db.QueryRowContext(ctx, p.q(`SELECT COUNT(*) FROM %s WHERE sync_time >= ?`), sinceMillis(since)).Scan(&count)
	return count, err
}

// Scan calls fn for every record in insertion order (sync_time, then id).
// fn must not write to the partition; collect and apply changes after Scan returns.
func (p *Partition) Scan(ctx context.Context, fn func(*models.Record) error) error {
	p.touch()
	rows, err := p.db.QueryContext(ctx, p.q(`SELECT id, device_id, occurred_at, sync_time, data_hash, payload
		FROM %s ORDER BY sync_time ASC, id ASC`))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := p.scanRecord(rows)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

// DeleteIfHash removes the record only if it still carries the expected fingerprint.
// A record that is already gone reports false without error.
func (p *Partition) DeleteIfHash(ctx context.Context, id, hash string) (bool, error) {
	p.touch()
	res, err := p.db.ExecContext(ctx, p.q(`DELETE FROM %s WHERE id = ? AND data_hash = ?`), id, hash)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// UpdateHash rewrites a stored fingerprint computed by an older algorithm.
// Returns ErrDuplicate if another record already holds newHash.
func (p *Partition) UpdateHash(ctx context.Context, id, oldHash, newHash string) (bool, error) {
	p.touch()
	res, err := p.db.ExecContext(ctx, p.q(`UPDATE %s SET data_hash = ? WHERE id = ? AND data_hash = ?`), newHash, id, oldHash)
	if err != nil {
		if IsUniqueViolation(err) {
			return false, ErrDuplicate
		}
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (p *Partition) scanRecord(row rowScanner) (*models.Record, error) {
	var (
		rec        models.Record
		occurredAt int64
		syncTime   int64
		payload    string
	)
	if err := row.Scan(&rec.ID, &rec.DeviceID, &occurredAt, &syncTime, &rec.DataHash, &payload); err != nil {
		return nil, err
	}

	decoded, err := models.DecodePayload(p.dataType, payload)
	if err != nil {
		return nil, fmt.Errorf("decode record %s: %w", rec.ID, err)
	}
	rec.DataType = p.dataType
	rec.Payload = decoded
	rec.Timestamp = time.UnixMilli(occurredAt).UTC()
	rec.SyncTime = time.UnixMilli(syncTime).UTC()
	return &rec, nil
}

func sinceMillis(since time.Time) int64 {
	if since.IsZero() {
		return 0
	}
	return since.UnixMilli()
}
