// Package service implements the session lifecycle: credential checks, the
// single-active-session rule, token issuance, rotation and revocation.
//
// The credential store is the only shared state. Every session write is one
// guarded UPDATE, so two requests racing on the same account cannot both
// install a token pair.
package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/session-auth/internal/model"
	"github.com/iliyamo/session-auth/internal/queue"
	"github.com/iliyamo/session-auth/internal/repository"
	"github.com/iliyamo/session-auth/internal/utils"
)

// Store is the credential store contract.
type Store interface {
	Create(ctx context.Context, u *model.User) error
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	FindByID(ctx context.Context, id uint64) (*model.User, error)
	FindByRefreshToken(ctx context.Context, digest string) (*model.User, error)
	UpdateSession(ctx context.Context, id uint64, guard model.SessionGuard, patch model.SessionPatch) (bool, error)
	Delete(ctx context.Context, id uint64) error
}

// PasswordHasher is the one-way password primitive.
type PasswordHasher interface {
	Hash(plain string) (string, error)
	Verify(plain, hash string) bool
}

// EventPublisher delivers committed session events. Failures never undo the
// mutation that produced the event.
type EventPublisher interface {
	PublishSessionEvent(ctx context.Context, ev queue.SessionEvent) error
}

// TokenPair is what a client receives after login, takeover or refresh.
type TokenPair struct {
	AccessToken           string    `json:"accessToken"`
	AccessTokenExpiresAt  time.Time `json:"accessTokenExpiresAt"`
	RefreshToken          string    `json:"refreshToken"`
	RefreshTokenExpiresAt time.Time `json:"refreshTokenExpiresAt"`
}

// LoginResult pairs fresh tokens with the public user fields.
type LoginResult struct {
	Tokens TokenPair
	User   model.PublicUser
}

// Options tunes a SessionManager. Zero values select defaults.
type Options struct {
	// StoreTimeout bounds each operation's store round trips.
	StoreTimeout time.Duration
	Events       EventPublisher
	Logger       logrus.FieldLogger
	Now          func() time.Time
}

// SessionManager owns the single-session invariant.
type SessionManager struct {
	store   Store
	hasher  PasswordHasher
	codec   *utils.TokenCodec
	events  EventPublisher
	log     logrus.FieldLogger
	timeout time.Duration
	now     func() time.Time
}

func NewSessionManager(store Store, hasher PasswordHasher, codec *utils.TokenCodec, opts Options) *SessionManager {
	m := &SessionManager{
		store:   store,
		hasher:  hasher,
		codec:   codec,
		events:  opts.Events,
		log:     opts.Logger,
		timeout: opts.StoreTimeout,
		now:     opts.Now,
	}
	if m.log == nil {
		m.log = logrus.StandardLogger()
	}
	if m.timeout <= 0 {
		m.timeout = 5 * time.Second
	}
	if m.now == nil {
		m.now = func() time.Time { return time.Now().UTC() }
	}
	return m
}

// Login verifies credentials and opens a session if none is active. An active
// session yields a *ConflictError; the caller must then go through
// ConfirmAndTakeover.
func (m *SessionManager) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	u, err := m.verifyCredentials(ctx, email, password)
	if err != nil {
		return nil, err
	}

	now := m.now()
	guard := model.GuardLoggedOut()
	if u.IsLoggedIn {
		if u.HasActiveSession(now) || u.RefreshToken == nil {
			return nil, &ConflictError{User: u.Public()}
		}
		// Flagged, but the refresh token has run out so nobody can continue
		// it. Replace it only if it is still the session we looked at.
		guard = model.GuardRefresh(*u.RefreshToken)
	}

	pair, ok, err := m.issue(ctx, u, guard, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Another login for this account committed between our read and
		// our write.
		m.log.WithField("user_id", u.ID).Info("login lost race to concurrent session")
		return nil, &ConflictError{User: u.Public()}
	}

	m.publish(ctx, queue.EventSessionIssued, u)
	return &LoginResult{Tokens: pair, User: u.Public()}, nil
}

// ConfirmAndTakeover re-verifies credentials and installs a new pair whatever
// the current session state, invalidating any pair issued before.
func (m *SessionManager) ConfirmAndTakeover(ctx context.Context, email, password string) (*LoginResult, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	u, err := m.verifyCredentials(ctx, email, password)
	if err != nil {
		return nil, err
	}

	now := m.now()
	displaced := u.HasActiveSession(now)
	pair, ok, err := m.issue(ctx, u, model.SessionGuard{}, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}

	if displaced {
		m.log.WithField("user_id", u.ID).Info("session superseded by takeover")
		m.publish(ctx, queue.EventSessionSuperseded, u)
	}
	m.publish(ctx, queue.EventSessionIssued, u)
	return &LoginResult{Tokens: pair, User: u.Public()}, nil
}

// Logout ends the session of userID. Logging out twice is not an error.
func (m *SessionManager) Logout(ctx context.Context, userID uint64) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	u, err := m.store.FindByID(ctx, userID)
	if err != nil {
		return storeErr("find user", err)
	}
	if !u.IsLoggedIn && u.AccessToken == nil && u.RefreshToken == nil {
		return nil
	}
	ok, err := m.store.UpdateSession(ctx, userID, model.SessionGuard{}, model.ClearPatch())
	if err != nil {
		return storeErr("clear session", err)
	}
	if !ok {
		return ErrNotFound
	}
	m.publish(ctx, queue.EventSessionEnded, u)
	return nil
}

// ResolveSession cross-checks a signature-verified access token against the
// stored session of userID. It is what makes logout and takeover take effect
// before the token's own expiry.
func (m *SessionManager) ResolveSession(ctx context.Context, userID uint64, rawAccess string) (model.Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	u, err := m.store.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.Identity{}, ErrInvalidToken
		}
		return model.Identity{}, storeErr("find user", err)
	}
	if !u.IsLoggedIn || u.AccessToken == nil || u.AccessTokenExpiresAt == nil {
		return model.Identity{}, ErrInvalidToken
	}
	digest := utils.HashToken(rawAccess)
	if subtle.ConstantTimeCompare([]byte(digest), []byte(*u.AccessToken)) != 1 {
		return model.Identity{}, ErrInvalidToken
	}
	if !m.now().Before(*u.AccessTokenExpiresAt) {
		return model.Identity{}, ErrInvalidToken
	}
	return model.Identity{
		ID:         u.ID,
		Username:   u.Username,
		Email:      u.Email,
		Role:       u.Role,
		IsLoggedIn: u.IsLoggedIn,
	}, nil
}

// verifyCredentials looks the account up and checks the password. Unknown
// email and wrong password produce the same error and cost the same time.
func (m *SessionManager) verifyCredentials(ctx context.Context, email, password string) (*model.User, error) {
	email = repository.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", ErrValidation)
	}
	u, err := m.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			if b, ok := m.hasher.(interface{ Burn(string) }); ok {
				b.Burn(password)
			}
			return nil, ErrInvalidCredentials
		}
		return nil, storeErr("find user", err)
	}
	if !m.hasher.Verify(password, u.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// issue mints a pair for u and writes it under guard in one statement. The
// bool is false when the guard did not hold.
func (m *SessionManager) issue(ctx context.Context, u *model.User, guard model.SessionGuard, loginAt time.Time) (TokenPair, bool, error) {
	access, err := m.codec.IssueAccess(u.Public())
	if err != nil {
		return TokenPair{}, false, err
	}
	refresh, err := m.codec.NewRefreshToken()
	if err != nil {
		return TokenPair{}, false, err
	}
	if !access.Exp.Before(refresh.Exp) {
		return TokenPair{}, false, fmt.Errorf("issue: access expiry %s not before refresh expiry %s", access.Exp, refresh.Exp)
	}

	patch := model.IssuePatch(utils.HashToken(access.Token), access.Exp, utils.HashToken(refresh.Raw), refresh.Exp, loginAt)
	ok, err := m.store.UpdateSession(ctx, u.ID, guard, patch)
	if err != nil {
		return TokenPair{}, false, storeErr("write session", err)
	}
	if !ok {
		return TokenPair{}, false, nil
	}
	return TokenPair{
		AccessToken:           access.Token,
		AccessTokenExpiresAt:  access.Exp,
		RefreshToken:          refresh.Raw,
		RefreshTokenExpiresAt: refresh.Exp,
	}, true, nil
}

func (m *SessionManager) publish(ctx context.Context, typ string, u *model.User) {
	if m.events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	ev := queue.NewSessionEvent(typ, u.ID, u.Username, u.Email)
	if err := m.events.PublishSessionEvent(ctx, ev); err != nil {
		m.log.WithError(err).WithFields(logrus.Fields{"user_id": u.ID, "event": typ}).Warn("session event not published")
	}
}
