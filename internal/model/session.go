package model

import "time"

// SessionPatch lists the session columns a single update may touch. A nil
// field is left unchanged. Clear wins over any token values and nulls all
// four token columns.
type SessionPatch struct {
	IsLoggedIn            *bool
	AccessToken           *string
	AccessTokenExpiresAt  *time.Time
	RefreshToken          *string
	RefreshTokenExpiresAt *time.Time
	LastLogin             *time.Time
	Clear                 bool
}

// Empty reports whether applying p would change nothing.
func (p SessionPatch) Empty() bool {
	return !p.Clear && p.IsLoggedIn == nil && p.AccessToken == nil &&
		p.AccessTokenExpiresAt == nil && p.RefreshToken == nil &&
		p.RefreshTokenExpiresAt == nil && p.LastLogin == nil
}

// IssuePatch sets a complete new token pair. loginAt is stamped as last_login
// unless it is zero, which refresh uses to leave last_login alone.
func IssuePatch(accessDigest string, accessExp time.Time, refreshDigest string, refreshExp time.Time, loginAt time.Time) SessionPatch {
	on := true
	p := SessionPatch{
		IsLoggedIn:            &on,
		AccessToken:           &accessDigest,
		AccessTokenExpiresAt:  &accessExp,
		RefreshToken:          &refreshDigest,
		RefreshTokenExpiresAt: &refreshExp,
	}
	if !loginAt.IsZero() {
		p.LastLogin = &loginAt
	}
	return p
}

// ClearPatch ends the session: all token columns null, is_logged_in false.
func ClearPatch() SessionPatch {
	off := false
	return SessionPatch{IsLoggedIn: &off, Clear: true}
}

// SessionGuard is the predicate a session update must satisfy on the stored
// row for the write to apply. The zero value matches on id alone.
type SessionGuard struct {
	// LoggedOut requires is_logged_in = false.
	LoggedOut bool
	// RefreshToken requires the stored refresh digest to equal the value.
	RefreshToken *string
}

// GuardLoggedOut matches rows with no session flagged.
func GuardLoggedOut() SessionGuard { return SessionGuard{LoggedOut: true} }

// GuardRefresh matches rows whose stored refresh digest is exactly digest.
func GuardRefresh(digest string) SessionGuard { return SessionGuard{RefreshToken: &digest} }
