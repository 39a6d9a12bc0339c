// Package repotest provides a throwaway SQLite database with the users schema
// for tests that need a real credential store.
package repotest

import (
	"database/sql"
	"os"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// schema mirrors database.usersDDL in SQLite syntax. The unique index names
// match the MySQL ones so duplicate detection sees the same column names.
const schema = `
	CREATE TABLE users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL,
		email TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'user',
		is_logged_in BOOLEAN NOT NULL DEFAULT 0,
		access_token TEXT NULL,
		access_token_expires_at DATETIME NULL,
		refresh_token TEXT NULL,
		refresh_token_expires_at DATETIME NULL,
		last_login DATETIME NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		CHECK (role IN ('user','admin','moderator','vendor'))
	);
	CREATE UNIQUE INDEX uq_users_username ON users(username);
	CREATE UNIQUE INDEX uq_users_email ON users(email);
	CREATE INDEX idx_users_refresh_token ON users(refresh_token);
`

// NewDB creates a temporary database file with the schema applied. It is
// removed when the test completes.
func NewDB(t testing.TB) *sql.DB {
	t.Helper()

	f, err := os.CreateTemp("", "session-auth-test-*.db")
	if err != nil {
		t.Fatalf("creating temp db: %v", err)
	}
	path := f.Name()
	f.Close()
	t.Cleanup(func() { os.Remove(path) })

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	// One connection serializes statements the way row locks serialize
	// conflicting updates in MySQL; goroutines still interleave between them.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("applying schema: %v", err)
	}
	return db
}
