package database

import (
	"context"
	"database/sql"
	"fmt"
)

// usersDDL creates the credential table. Session state lives on the user row:
// at most one token pair per account.
const usersDDL = `CREATE TABLE IF NOT EXISTS users (
	id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
	username VARCHAR(64) NOT NULL,
	email VARCHAR(255) NOT NULL,
	password_hash VARCHAR(255) NOT NULL,
	role VARCHAR(16) NOT NULL DEFAULT 'user',
	is_logged_in TINYINT(1) NOT NULL DEFAULT 0,
	access_token CHAR(64) NULL,
	access_token_expires_at DATETIME NULL,
	refresh_token CHAR(64) NULL,
	refresh_token_expires_at DATETIME NULL,
	last_login DATETIME NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (id),
	UNIQUE KEY uq_users_username (username),
	UNIQUE KEY uq_users_email (email),
	KEY idx_users_refresh_token (refresh_token),
	CONSTRAINT chk_users_role CHECK (role IN ('user','admin','moderator','vendor'))
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

// Migrate creates the schema if it does not exist yet.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, usersDDL); err != nil {
		return fmt.Errorf("migrate users: %w", err)
	}
	return nil
}
