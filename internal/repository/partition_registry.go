package repository

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/devicevault/server/internal/models"
	"github.com/devicevault/server/internal/observability"
)

// PartitionKey identifies one per-device partition
type PartitionKey struct {
	DeviceID string
	DataType models.DataType
}

func (k PartitionKey) String() string {
	return k.DeviceID + "/" + string(k.DataType)
}

// PartitionInfo is a row of the partitions catalog
type PartitionInfo struct {
	Table     string          `json:"table"`
	DeviceID  string          `json:"deviceId"`
	DataType  models.DataType `json:"dataType"`
	CreatedAt time.Time       `json:"createdAt"`
}

// TableName derives the physical table for a partition. Device ids are
// client-controlled, so only a digest of them ever reaches SQL text.
func TableName(deviceID string, dt models.DataType) string {
	sum := sha256.Sum256([]byte(deviceID))
	return fmt.Sprintf("rec_%s_%s", dt.Tag(), hex.EncodeToString(sum[:])[:20])
}

// PartitionRegistry maps (deviceId, dataType) to storage handles and owns the
// single creation path for partitions.
type PartitionRegistry struct {
	db      *sql.DB
	dialect Dialect
	metrics *observability.IngestMetrics
	now     func() time.Time

	mu      sync.RWMutex
	handles map[PartitionKey]*Partition
	clocks  map[PartitionKey]*syncClock // outlive handle eviction
	group   singleflight.Group
}

// NewPartitionRegistry creates a registry over db
func NewPartitionRegistry(db *sql.DB, dialect Dialect) *PartitionRegistry {
	return &PartitionRegistry{
		db:      db,
		dialect: dialect,
		now:     time.Now,
		handles: make(map[PartitionKey]*Partition),
		clocks:  make(map[PartitionKey]*syncClock),
	}
}

// SetMetrics attaches the metrics sink used for registry size
func (r *PartitionRegistry) SetMetrics(m *observability.IngestMetrics) {
	r.metrics = m
}

// SetClock overrides the clock used for sync times and idle tracking
func (r *PartitionRegistry) SetClock(now func() time.Time) {
	r.now = now
}

// Open returns the partition handle, provisioning the partition on first use.
// Concurrent first opens of the same key share one provisioning call.
func (r *PartitionRegistry) Open(ctx context.Context, deviceID string, dt models.DataType) (*Partition, error) {
	if !dt.IsValid() {
		return nil, models.ErrUnsupportedDataType
	}
	key := PartitionKey{DeviceID: deviceID, DataType: dt}

	if p := r.cached(key); p != nil {
		p.touch()
		return p, nil
	}

	v, err, _ := r.group.Do(key.String(), func() (interface{}, error) {
		if p := r.cached(key); p != nil {
			return p, nil
		}
		p, err := r.provision(ctx, key)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.handles[key] = p
		r.mu.Unlock()
		r.metrics.PartitionOpened(ctx, 1)
		return p, nil
	})
	if err != nil {
		return nil, err
	}

	p := v.(*Partition)
	p.touch()
	return p, nil
}

// Lookup returns the handle for an existing partition, or nil if the pair was
// never written to. It never provisions.
func (r *PartitionRegistry) Lookup(ctx context.Context, deviceID string, dt models.DataType) (*Partition, error) {
	key := PartitionKey{DeviceID: deviceID, DataType: dt}
	if p := r.cached(key); p != nil {
		p.touch()
		return p, nil
	}

	var table string
	err := r.db.QueryRowContext(ctx,
		r.dialect.Rebind(`SELECT table_name FROM partitions WHERE device_id = ? AND data_type = ?`),
		deviceID, string(dt),
	).Scan(&table)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return r.Open(ctx, deviceID, dt)
}

// List returns catalog entries, for one device or for all devices when deviceID is empty
func (r *PartitionRegistry) List(ctx context.Context, deviceID string) ([]PartitionInfo, error) {
	query := `SELECT table_name, device_id, data_type, created_at FROM partitions`
	var args []any
	if deviceID != "" {
		query += ` WHERE device_id = ?`
		args = append(args, deviceID)
	}
	query += ` ORDER BY device_id, data_type`

	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var infos []PartitionInfo
	for rows.Next() {
		var (
			info PartitionInfo
			dt   string
		)
		if err := rows.Scan(&info.Table, &info.DeviceID, &dt, &info.CreatedAt); err != nil {
			return nil, err
		}
		info.DataType = models.DataType(dt)
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// Sweep drops handles idle for longer than ttl. Stored data is untouched;
// a later Open re-attaches. A request may still hold an evicted handle; it
// keeps working and shares its sync clock with the replacement handle, so
// sync times of one key never go backwards. Returns the number of evicted
// handles.
func (r *PartitionRegistry) Sweep(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	cutoff := r.now().Add(-ttl).UnixNano()

	r.mu.Lock()
	var evicted []PartitionKey
	for key, p := range r.handles {
		if p.lastUsed.Load() < cutoff {
			evicted = append(evicted, key)
			delete(r.handles, key)
		}
	}
	r.mu.Unlock()

	if len(evicted) > 0 {
		r.metrics.PartitionOpened(context.Background(), -len(evicted))
		observability.Debugf("Evicted %d idle partition handles", len(evicted))
	}
	return len(evicted)
}

// Size returns the number of cached handles
func (r *PartitionRegistry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// StartSweeper runs Sweep every interval until ctx is done
func (r *PartitionRegistry) StartSweeper(ctx context.Context, interval, ttl time.Duration) {
	if interval <= 0 || ttl <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Sweep(ttl)
			}
		}
	}()
}

func (r *PartitionRegistry) cached(key PartitionKey) *Partition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handles[key]
}

func (r *PartitionRegistry) clockFor(key PartitionKey) *syncClock {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clocks[key]
	if !ok {
		c = &syncClock{}
		r.clocks[key] = c
	}
	return c
}

func (r *PartitionRegistry) provision(ctx context.Context, key PartitionKey) (*Partition, error) {
	p := &Partition{
		db:       r.db,
		dialect:  r.dialect,
		table:    TableName(key.DeviceID, key.DataType),
		deviceID: key.DeviceID,
		dataType: key.DataType,
		now:      r.now,
		clock:    r.clockFor(key),
	}

	if err := p.provision(ctx); err != nil {
		return nil, fmt.Errorf("provision partition %s: %w", key, err)
	}

	_, err := r.db.ExecContext(ctx, r.dialect.Rebind(`INSERT INTO partitions (table_name, device_id, data_type, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (table_name) DO NOTHING`),
		p.table, key.DeviceID, string(key.DataType), r.now().UTC(),
	)
	if err != nil && !IsUniqueViolation(err) {
		return nil, fmt.Errorf("register partition %s: %w", key, err)
	}

	if err := p.loadClock(ctx); err != nil {
		return nil, fmt.Errorf("load partition clock %s: %w", key, err)
	}
	return p, nil
}
