package repository

import (
	"database/sql"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// NewSQLiteDB creates and initializes a SQLite database
func NewSQLiteDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", sqliteDSN(dbPath))
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// sqliteDSN adds the pragmas needed for concurrent request handlers on one file
func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_busy_timeout=5000&_journal_mode=WAL"
}

func createTables(db *sql.DB) error {
	schema := `
	-- Devices (edge agent installations)
	CREATE TABLE IF NOT EXISTS devices (
		id TEXT PRIMARY KEY,
		device_name TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		manufacturer TEXT NOT NULL DEFAULT '',
		os_version TEXT NOT NULL DEFAULT '',
		app_version TEXT NOT NULL DEFAULT '',
		token_hash TEXT NOT NULL DEFAULT '',
		registered_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_seen_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		is_active INTEGER NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_devices_last_seen ON devices(last_seen_at);

	-- Sync watermarks, one per (device, data type)
	CREATE TABLE IF NOT EXISTS sync_watermarks (
		device_id TEXT NOT NULL,
		data_type TEXT NOT NULL,
		last_sync_time DATETIME,
		item_count INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (device_id, data_type)
	);

	-- Catalog of provisioned per-device partitions
	CREATE TABLE IF NOT EXISTS partitions (
		table_name TEXT PRIMARY KEY,
		device_id TEXT NOT NULL,
		data_type TEXT NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (device_id, data_type)
	);
	`

	_, err := db.Exec(schema)
	return err
}
