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

// TokenRepo persists the session columns of the users table. Every write is a
// single UPDATE whose WHERE clause carries the caller's guard, so the check
// and the write happen in one statement.
type TokenRepo struct{ DB *sql.DB }

func NewTokenRepo(db *sql.DB) *TokenRepo { return &TokenRepo{DB: db} }

// FindByRefreshToken returns the user whose stored refresh digest equals
// digest. Expiry is left to the caller.
func (r *TokenRepo) FindByRefreshToken(ctx context.Context, digest string) (*model.User, error) {
	return queryUser(ctx, r.DB, "SELECT "+userColumns+" FROM users WHERE refresh_token=? LIMIT 1", digest)
}

// UpdateSession applies patch to user id if the row satisfies guard. It
// reports whether a row was changed; false with a nil error means the guard
// did not hold (or the id does not exist).
func (r *TokenRepo) UpdateSession(ctx context.Context, id uint64, guard model.SessionGuard, patch model.SessionPatch) (bool, error) {
	if patch.Empty() {
		return false, errors.New("update session: empty patch")
	}
	q, args := buildSessionUpdate(id, guard, patch, time.Now().UTC())
	res, err := r.DB.ExecContext(ctx, q, args...)
	if err != nil {
		return false, fmt.Errorf("update session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update session rows: %w", err)
	}
	return n == 1, nil
}

func buildSessionUpdate(id uint64, guard model.SessionGuard, p model.SessionPatch, now time.Time) (string, []any) {
	b := newUpdateBuilder("users")
	if p.Clear {
		b.Set("access_token", nil)
		b.Set("access_token_expires_at", nil)
		b.Set("refresh_token", nil)
		b.Set("refresh_token_expires_at", nil)
	} else {
		if p.AccessToken != nil {
			b.Set("access_token", *p.AccessToken)
		}
		if p.AccessTokenExpiresAt != nil {
			b.Set("access_token_expires_at", p.AccessTokenExpiresAt.UTC())
		}
		if p.RefreshToken != nil {
			b.Set("refresh_token", *p.RefreshToken)
		}
		if p.RefreshTokenExpiresAt != nil {
			b.Set("refresh_token_expires_at", p.RefreshTokenExpiresAt.UTC())
		}
	}
	if p.IsLoggedIn != nil {
		b.Set("is_logged_in", *p.IsLoggedIn)
	}
	if p.LastLogin != nil {
		b.Set("last_login", p.LastLogin.UTC())
	}
	b.Set("updated_at", now.Truncate(time.Second))

	b.Where("id=?", id)
	if guard.LoggedOut {
		b.Where("is_logged_in=?", false)
	}
	if guard.RefreshToken != nil {
		b.Where("refresh_token=?", *guard.RefreshToken)
	}
	return b.Build()
}

// updateBuilder assembles "UPDATE t SET c=?,... WHERE p AND ..." from fixed
// column names; values always travel as bind arguments.
type updateBuilder struct {
	table     string
	sets      []string
	setArgs   []any
	where     []string
	whereArgs []any
}

func newUpdateBuilder(table string) *updateBuilder { return &updateBuilder{table: table} }

func (b *updateBuilder) Set(column string, v any) {
	b.sets = append(b.sets, column+"=?")
	b.setArgs = append(b.setArgs, v)
}

func (b *updateBuilder) Where(cond string, args ...any) {
	b.where = append(b.where, cond)
	b.whereArgs = append(b.whereArgs, args...)
}

func (b *updateBuilder) Build() (string, []any) {
	var sb strings.Builder
	sb.WriteString("UPDATE ")
	sb.WriteString(b.table)
	sb.WriteString(" SET ")
	sb.WriteString(strings.Join(b.sets, ", "))
	if len(b.where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(b.where, " AND "))
	}
	args := make([]any, 0, len(b.setArgs)+len(b.whereArgs))
	args = append(args, b.setArgs...)
	args = append(args, b.whereArgs...)
	return sb.String(), args
}
