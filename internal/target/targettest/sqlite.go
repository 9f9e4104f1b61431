// Package targettest provides real target databases for tests.
package targettest

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/stanstork/aegis-api/internal/target"
)

// NewSQLite creates a file-backed SQLite database, runs the given statements
// and returns a spec pointing at it plus a separate connection for
// assertions. Both are cleaned up with the test.
func NewSQLite(t *testing.T, statements ...string) (target.ConnectionSpec, *sql.DB) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "target.db")
	db, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=5000")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	for _, stmt := range statements {
		_, err := db.Exec(stmt)
		require.NoError(t, err, stmt)
	}

	return target.ConnectionSpec{Driver: target.DriverSQLite, DBName: path}, db
}

// Options allows the SQLite driver in a broker.
func Options() target.Options {
	return target.Options{AllowedDrivers: []string{target.DriverPostgres, target.DriverSQLite}}
}

// CustomersSchema is the fixture most component tests share.
var CustomersSchema = []string{
	`CREATE TABLE customers (
		id INTEGER PRIMARY KEY,
		email TEXT,
		phone TEXT CHECK (phone IS NULL OR phone NOT LIKE '****5678'),
		created_at DATETIME
	)`,
	`INSERT INTO customers (id, email, phone, created_at) VALUES
		(1, 'alice@example.com', '+15551230001', '2024-01-02 10:00:00'),
		(2, 'bob@example.org', '12345678', '2024-02-03 11:00:00'),
		(3, 'carol@example.net', NULL, '2024-03-04 12:00:00')`,
}
