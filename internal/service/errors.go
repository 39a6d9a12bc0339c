package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/iliyamo/session-auth/internal/model"
	"github.com/iliyamo/session-auth/internal/repository"
)

var (
	// ErrValidation covers missing or malformed input and invalid roles.
	ErrValidation = errors.New("validation error")
	// ErrDuplicateIdentity is returned when username or email is taken.
	ErrDuplicateIdentity = errors.New("username or email already in use")
	// ErrInvalidCredentials never says which of email or password was wrong.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrSessionConflict means the account already holds an active session.
	ErrSessionConflict = errors.New("session already active")
	// ErrUnauthenticated means no bearer token was presented.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrInvalidToken covers bad signatures, expiry and tokens that no longer
	// match the stored session.
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrInvalidRefreshToken is returned for unknown, rotated or expired
	// refresh tokens.
	ErrInvalidRefreshToken = errors.New("invalid or expired refresh token")
	// ErrForbidden means the caller's role is not allowed on the route.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound is returned for operations on a missing user id.
	ErrNotFound = errors.New("user not found")
	// ErrStoreUnavailable wraps every infrastructure failure.
	ErrStoreUnavailable = errors.New("credential store unavailable")
)

// ConflictError is returned by Login when a session is already active. It
// matches ErrSessionConflict and carries the identity hint the client needs
// to offer a takeover.
type ConflictError struct {
	User model.PublicUser
}

func (e *ConflictError) Error() string { return ErrSessionConflict.Error() }

func (e *ConflictError) Unwrap() error { return ErrSessionConflict }

// storeErr classifies a repository error: not-found stays recognisable,
// everything else becomes ErrStoreUnavailable with the cause attached for
// logging.
func storeErr(op string, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, repository.ErrEmailExists), errors.Is(err, repository.ErrUsernameExists):
		return fmt.Errorf("%w: %w", ErrDuplicateIdentity, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s: timed out: %w", ErrStoreUnavailable, op, err)
	default:
		return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
	}
}
