package repository

import (
	"database/sql"
)

// OpenDatabase opens PostgreSQL when databaseURL is set and SQLite at
// databasePath otherwise, returning the dialect the repositories need.
func OpenDatabase(databaseURL, databasePath string) (*sql.DB, Dialect, error) {
	if databaseURL != "" {
		db, err := NewPostgresDB(databaseURL)
		if err != nil {
			return nil, "", err
		}
		return db, DialectPostgres, nil
	}

	db, err := NewSQLiteDB(databasePath)
	if err != nil {
		return nil, "", err
	}
	return db, DialectSQLite, nil
}
