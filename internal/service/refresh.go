package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/session-auth/internal/model"
	"github.com/iliyamo/session-auth/internal/repository"
	"github.com/iliyamo/session-auth/internal/utils"
)

// Refresh exchanges a live refresh token for a brand-new pair. The presented
// token is consumed: the write is guarded on its digest, so of two concurrent
// refreshes with the same token exactly one wins and a replay afterwards is
// rejected. is_logged_in and last_login are left untouched.
func (m *SessionManager) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	raw := strings.TrimSpace(refreshToken)
	if raw == "" {
		return nil, fmt.Errorf("%w: refreshToken is required", ErrValidation)
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	digest := utils.HashToken(raw)
	u, err := m.store.FindByRefreshToken(ctx, digest)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, storeErr("find refresh token", err)
	}
	if !u.IsLoggedIn || u.RefreshTokenExpiresAt == nil || !m.now().Before(*u.RefreshTokenExpiresAt) {
		return nil, ErrInvalidRefreshToken
	}

	pair, ok, err := m.issue(ctx, u, model.GuardRefresh(digest), time.Time{})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidRefreshToken
	}
	return &pair, nil
}
