package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/iliyamo/session-auth/internal/model"
)

func TestBuildSessionUpdate_IssueWithLoggedOutGuard(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p := model.IssuePatch("acc", now.Add(5*time.Minute), "ref", now.Add(15*time.Minute), now)

	q, args := buildSessionUpdate(7, model.GuardLoggedOut(), p, now)

	assert.Equal(t,
		"UPDATE users SET access_token=?, access_token_expires_at=?, refresh_token=?, refresh_token_expires_at=?, "+
			"is_logged_in=?, last_login=?, updated_at=? WHERE id=? AND is_logged_in=?", q)
	assert.Equal(t, []any{
		"acc", now.Add(5 * time.Minute), "ref", now.Add(15 * time.Minute),
		true, now, now, uint64(7), false,
	}, args)
}

func TestBuildSessionUpdate_ClearByID(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	q, args := buildSessionUpdate(9, model.SessionGuard{}, model.ClearPatch(), now)

	assert.Equal(t,
		"UPDATE users SET access_token=?, access_token_expires_at=?, refresh_token=?, refresh_token_expires_at=?, "+
			"is_logged_in=?, updated_at=? WHERE id=?", q)
	assert.Equal(t, []any{nil, nil, nil, nil, false, now, uint64(9)}, args)
}

func TestBuildSessionUpdate_RefreshGuardKeepsLastLogin(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p := model.IssuePatch("acc", now.Add(time.Minute), "ref", now.Add(2*time.Minute), time.Time{})

	q, args := buildSessionUpdate(1, model.GuardRefresh("old"), p, now)

	assert.NotContains(t, q, "last_login")
	assert.Contains(t, q, "WHERE id=? AND refresh_token=?")
	assert.Equal(t, "old", args[len(args)-1])
}

func TestDuplicateKeyError(t *testing.T) {
	_, ok := duplicateKeyError(assert.AnError)
	assert.False(t, ok)
}
