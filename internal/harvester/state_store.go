package harvester

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/devicevault/server/internal/models"
)

// WatermarkStore is the agent's durable key/value map of harvest watermarks.
// Values are epoch milliseconds; a missing key means never synced.
type WatermarkStore interface {
	Get(ctx context.Context, key string) (int64, bool, error)
	Set(ctx context.Context, key string, value int64) error
}

// WatermarkKey is the store key of one (device, kind) pair
func WatermarkKey(deviceID string, kind models.DataType) string {
	return "last_sync_" + deviceID + "_" + kind.Tag()
}

// SQLiteStateStore keeps watermarks in a local SQLite file
type SQLiteStateStore struct {
	db *sql.DB
}

// NewSQLiteStateStore opens (or creates) the state database at path
func NewSQLiteStateStore(path string) (*SQLiteStateStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS harvest_watermarks (
		key TEXT PRIMARY KEY,
		value INTEGER NOT NULL,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create state table: %w", err)
	}

	return &SQLiteStateStore{db: db}, nil
}

func (s *SQLiteStateStore) Get(ctx context.Context, key string) (int64, bool, error) {
	var value int64
	err := s.db.QueryRowContext(ctx, `SELECT value FROM harvest_watermarks WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return value, true, nil
}

func (s *SQLiteStateStore) Set(ctx context.Context, key string, value int64) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO harvest_watermarks (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	return err
}

// Close releases the database
func (s *SQLiteStateStore) Close() error {
	return s.db.Close()
}

// MemoryStateStore is an in-process WatermarkStore
type MemoryStateStore struct {
	mu     sync.Mutex
	values map[string]int64
}

// NewMemoryStateStore creates an empty store
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{values: make(map[string]int64)}
}

func (s *MemoryStateStore) Get(_ context.Context, key string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *MemoryStateStore) Set(_ context.Context, key string, value int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}
