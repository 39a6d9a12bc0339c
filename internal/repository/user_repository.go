package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/session-auth/internal/model"
)

const userColumns = "id,username,email,password_hash,role,is_logged_in," +
	"access_token,access_token_expires_at,refresh_token,refresh_token_expires_at," +
	"last_login,created_at,updated_at"

// UserRepo handles the identity part of the users table.
type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

// Create inserts u with no session and fills in its ID.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	u.Email = NormalizeEmail(u.Email)
	now := time.Now().UTC().Truncate(time.Second)
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO users (username, email, password_hash, role, is_logged_in, created_at, updated_at) VALUES (?,?,?,?,?,?,?)",
		u.Username, u.Email, u.PasswordHash, string(u.Role), false, now, now)
	if err != nil {
		if dupErr, ok := duplicateKeyError(err); ok {
			return dupErr
		}
		return fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert user id: %w", err)
	}
	u.ID = uint64(id)
	u.IsLoggedIn = false
	u.CreatedAt, u.UpdatedAt = now, now
	return nil
}

// FindByEmail fetches a user by normalized email.
func (r *UserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return queryUser(ctx, r.DB, "SELECT "+userColumns+" FROM users WHERE email=? LIMIT 1", NormalizeEmail(email))
}

// FindByID fetches a user by id. Authorization reads go through here, so it
// always hits the database.
func (r *UserRepo) FindByID(ctx context.Context, id uint64) (*model.User, error) {
	return queryUser(ctx, r.DB, "SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id)
}

// Delete removes the row. A missing id yields ErrNotFound.
func (r *UserRepo) Delete(ctx context.Context, id uint64) error {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM users WHERE id=?", id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete user rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// NormalizeEmail lower-cases and trims an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func queryUser(ctx context.Context, db *sql.DB, query string, args ...any) (*model.User, error) {
	var (
		u                     model.User
		role                  string
		accessTok, refreshTok sql.NullString
		accessExp, refreshExp sql.NullTime
		lastLogin             sql.NullTime
	)
	err := db.QueryRowContext(ctx, query, args...).Scan(
		&u.ID, &u.Username, &u.Email, &u.PasswordHash, &role, &u.IsLoggedIn,
		&accessTok, &accessExp, &refreshTok, &refreshExp,
		&lastLogin, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	u.Role = model.Role(role)
	u.AccessToken = nullString(accessTok)
	u.AccessTokenExpiresAt = nullTime(accessExp)
	u.RefreshToken = nullString(refreshTok)
	u.RefreshTokenExpiresAt = nullTime(refreshExp)
	u.LastLogin = nullTime(lastLogin)
	return &u, nil
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}
