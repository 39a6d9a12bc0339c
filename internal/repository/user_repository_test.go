package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/session-auth/internal/model"
	"github.com/iliyamo/session-auth/internal/repository"
	"github.com/iliyamo/session-auth/internal/repository/repotest"
)

func seedUser(t *testing.T, s *repository.Store, username, email string) *model.User {
	t.Helper()
	u := &model.User{Username: username, Email: email, PasswordHash: "hash", Role: model.RoleUser}
	require.NoError(t, s.Create(context.Background(), u))
	return u
}

func TestUserRepo_CreateAndFind(t *testing.T) {
	s := repository.NewStore(repotest.NewDB(t))
	ctx := context.Background()

	u := seedUser(t, s, "alice", "  Alice@Example.COM ")
	require.NotZero(t, u.ID)
	assert.Equal(t, "alice@example.com", u.Email)

	byEmail, err := s.FindByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byEmail.ID)
	assert.Equal(t, model.RoleUser, byEmail.Role)
	assert.False(t, byEmail.IsLoggedIn)
	assert.Nil(t, byEmail.AccessToken)
	assert.Nil(t, byEmail.RefreshToken)
	assert.Nil(t, byEmail.LastLogin)

	byID, err := s.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", byID.Username)
}

func TestUserRepo_NotFound(t *testing.T) {
	s := repository.NewStore(repotest.NewDB(t))
	ctx := context.Background()

	_, err := s.FindByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = s.FindByID(ctx, 42)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, 42), repository.ErrNotFound)
}

func TestUserRepo_DuplicateIdentity(t *testing.T) {
	s := repository.NewStore(repotest.NewDB(t))
	ctx := context.Background()
	seedUser(t, s, "alice", "alice@example.com")

	err := s.Create(ctx, &model.User{Username: "alice", Email: "other@example.com", PasswordHash: "h", Role: model.RoleUser})
	assert.ErrorIs(t, err, repository.ErrUsernameExists)

	err = s.Create(ctx, &model.User{Username: "bob", Email: "alice@example.com", PasswordHash: "h", Role: model.RoleUser})
	assert.ErrorIs(t, err, repository.ErrEmailExists)
}

func TestUserRepo_Delete(t *testing.T) {
	s := repository.NewStore(repotest.NewDB(t))
	ctx := context.Background()
	u := seedUser(t, s, "alice", "alice@example.com")

	require.NoError(t, s.Delete(ctx, u.ID))
	_, err := s.FindByID(ctx, u.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestTokenRepo_GuardedIssue(t *testing.T) {
	s := repository.NewStore(repotest.NewDB(t))
	ctx := context.Background()
	u := seedUser(t, s, "alice", "alice@example.com")

	now := time.Now().UTC().Truncate(time.Second)
	first := model.IssuePatch("a1", now.Add(5*time.Minute), "r1", now.Add(15*time.Minute), now)

	ok, err := s.UpdateSession(ctx, u.ID, model.GuardLoggedOut(), first)
	require.NoError(t, err)
	require.True(t, ok)

	// The row is now logged in, so a second guarded issue must not apply.
	second := model.IssuePatch("a2", now.Add(5*time.Minute), "r2", now.Add(15*time.Minute), now)
	ok, err = s.UpdateSession(ctx, u.ID, model.GuardLoggedOut(), second)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, got.IsLoggedIn)
	require.NotNil(t, got.AccessToken)
	assert.Equal(t, "a1", *got.AccessToken)
	require.NotNil(t, got.RefreshToken)
	assert.Equal(t, "r1", *got.RefreshToken)
	require.NotNil(t, got.LastLogin)
	assert.True(t, got.LastLogin.Equal(now))
	assert.True(t, got.AccessTokenExpiresAt.Before(*got.RefreshTokenExpiresAt))
}

func TestTokenRepo_RotateByRefreshDigest(t *testing.T) {
	s := repository.NewStore(repotest.NewDB(t))
	ctx := context.Background()
	u := seedUser(t, s, "alice", "alice@example.com")
	now := time.Now().UTC().Truncate(time.Second)

	_, err := s.UpdateSession(ctx, u.ID, model.GuardLoggedOut(),
		model.IssuePatch("a1", now.Add(time.Minute), "r1", now.Add(2*time.Minute), now))
	require.NoError(t, err)

	found, err := s.FindByRefreshToken(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, u.ID, found.ID)

	rotate := model.IssuePatch("a2", now.Add(time.Minute), "r2", now.Add(2*time.Minute), time.Time{})
	ok, err := s.UpdateSession(ctx, u.ID, model.GuardRefresh("r1"), rotate)
	require.NoError(t, err)
	assert.True(t, ok)

	// The old digest no longer matches anything.
	ok, err = s.UpdateSession(ctx, u.ID, model.GuardRefresh("r1"), rotate)
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = s.FindByRefreshToken(ctx, "r1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestTokenRepo_Clear(t *testing.T) {
	s := repository.NewStore(repotest.NewDB(t))
	ctx := context.Background()
	u := seedUser(t, s, "alice", "alice@example.com")
	now := time.Now().UTC().Truncate(time.Second)

	_, err := s.UpdateSession(ctx, u.ID, model.SessionGuard{},
		model.IssuePatch("a1", now.Add(time.Minute), "r1", now.Add(2*time.Minute), now))
	require.NoError(t, err)

	ok, err := s.UpdateSession(ctx, u.ID, model.SessionGuard{}, model.ClearPatch())
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, got.IsLoggedIn)
	assert.Nil(t, got.AccessToken)
	assert.Nil(t, got.AccessTokenExpiresAt)
	assert.Nil(t, got.RefreshToken)
	assert.Nil(t, got.RefreshTokenExpiresAt)
	// last_login survives logout.
	assert.NotNil(t, got.LastLogin)
}

func TestTokenRepo_EmptyPatch(t *testing.T) {
	s := repository.NewStore(repotest.NewDB(t))
	_, err := s.UpdateSession(context.Background(), 1, model.SessionGuard{}, model.SessionPatch{})
	assert.Error(t, err)
}
