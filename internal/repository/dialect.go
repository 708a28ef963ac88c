package repository

import (
	"errors"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Dialect identifies the SQL engine behind a *sql.DB
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

// ErrDuplicate is returned when a write loses to an existing row with the same unique key
var ErrDuplicate = errors.New("duplicate record")

// Rebind rewrites ? placeholders into the engine's native form.
// Queries are written with ? so the same text serves both engines.
func (d Dialect) Rebind(query string) string {
	if d != DialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// System returns the db.system attribute value used on spans
func (d Dialect) System() string {
	if d == DialectPostgres {
		return "postgresql"
	}
	return "sqlite"
}

// IsUniqueViolation reports whether err is a unique or primary key constraint failure on either engine
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// isConcurrentDDL reports whether a CREATE ... IF NOT EXISTS lost a race on Postgres,
// which can surface as a duplicate catalog row instead of a no-op.
func isConcurrentDDL(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505" || pqErr.Code == "42P07"
	}
	return false
}
