package model

import (
	"strings"
	"time"
)

// Role is the capability set attached to an account. It never changes after
// registration.
type Role string

const (
	RoleUser      Role = "user"
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleVendor    Role = "vendor"
)

// ParseRole normalizes s and reports whether it names a known role. An empty
// string maps to RoleUser.
func ParseRole(s string) (Role, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return RoleUser, true
	}
	switch r := Role(s); r {
	case RoleUser, RoleAdmin, RoleModerator, RoleVendor:
		return r, true
	}
	return "", false
}

// User represents a row of the `users` table. Identity, role and the state of
// the one session the account may hold all live on the same row.
//
// The token columns hold SHA-256 digests, never the raw tokens handed to the
// client. They are nil whenever IsLoggedIn is false.
type User struct {
	ID                    uint64     // users.id
	Username              string     // users.username
	Email                 string     // users.email
	PasswordHash          string     // users.password_hash
	Role                  Role       // users.role
	IsLoggedIn            bool       // users.is_logged_in
	AccessToken           *string    // users.access_token (digest)
	AccessTokenExpiresAt  *time.Time // users.access_token_expires_at
	RefreshToken          *string    // users.refresh_token (digest)
	RefreshTokenExpiresAt *time.Time // users.refresh_token_expires_at
	LastLogin             *time.Time // users.last_login
	CreatedAt             time.Time  // users.created_at
	UpdatedAt             time.Time  // users.updated_at
}

// HasActiveSession reports whether the stored session is still usable at now,
// i.e. the account is flagged as logged in and its refresh token has not run
// out. A flagged session whose refresh token already expired can no longer be
// continued by anyone.
func (u *User) HasActiveSession(now time.Time) bool {
	if !u.IsLoggedIn || u.RefreshToken == nil || u.RefreshTokenExpiresAt == nil {
		return false
	}
	return now.Before(*u.RefreshTokenExpiresAt)
}

// Public returns the fields that may be shown to the account holder.
func (u *User) Public() PublicUser {
	return PublicUser{ID: u.ID, Username: u.Username, Email: u.Email, Role: u.Role}
}

// PublicUser is the subset of User returned over the wire.
type PublicUser struct {
	ID       uint64 `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     Role   `json:"role"`
}

// Identity is what the authorization pipeline attaches to a request once the
// bearer token has been matched against the stored session.
type Identity struct {
	ID         uint64 `json:"id"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	Role       Role   `json:"role"`
	IsLoggedIn bool   `json:"is_logged_in"`
}
