package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/session-auth/internal/model"
	"github.com/iliyamo/session-auth/internal/repository"
)

// maxPasswordBytes is bcrypt's input limit. It counts bytes, not characters.
const maxPasswordBytes = 72

// RegisterInput is the data needed to create an account.
type RegisterInput struct {
	Username string
	Email    string
	Password string
	Role     string
}

// Register creates an account with no session. An empty role means user.
func (m *SessionManager) Register(ctx context.Context, in RegisterInput) (model.PublicUser, error) {
	username := strings.TrimSpace(in.Username)
	email := repository.NormalizeEmail(in.Email)
	if username == "" || email == "" || in.Password == "" {
		return model.PublicUser{}, fmt.Errorf("%w: username, email and password are required", ErrValidation)
	}
	if len(in.Password) > maxPasswordBytes {
		return model.PublicUser{}, fmt.Errorf("%w: password must be at most %d bytes", ErrValidation, maxPasswordBytes)
	}
	role, ok := model.ParseRole(in.Role)
	if !ok {
		return model.PublicUser{}, fmt.Errorf("%w: unknown role %q", ErrValidation, in.Role)
	}
	hash, err := m.hasher.Hash(in.Password)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return model.PublicUser{}, fmt.Errorf("%w: %w", ErrValidation, err)
		}
		return model.PublicUser{}, fmt.Errorf("hash password: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	u := &model.User{Username: username, Email: email, PasswordHash: hash, Role: role}
	if err := m.store.Create(ctx, u); err != nil {
		return model.PublicUser{}, storeErr("create user", err)
	}
	return u.Public(), nil
}

// GetUser returns the public fields of id.
func (m *SessionManager) GetUser(ctx context.Context, id uint64) (model.PublicUser, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	u, err := m.store.FindByID(ctx, id)
	if err != nil {
		return model.PublicUser{}, storeErr("find user", err)
	}
	return u.Public(), nil
}

// DeleteUser removes targetID on behalf of actorID. Administrators cannot
// delete their own account.
func (m *SessionManager) DeleteUser(ctx context.Context, actorID, targetID uint64) error {
	if actorID == targetID {
		return fmt.Errorf("%w: cannot delete your own account", ErrValidation)
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if err := m.store.Delete(ctx, targetID); err != nil {
		return storeErr("delete user", err)
	}
	return nil
}
