package utils // package utils provides helper functions for token creation and hashing

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/iliyamo/session-auth/internal/model"
)

// ErrTokenInvalid is returned by ParseAccess for any token that fails
// signature, algorithm, expiry or claim checks.
var ErrTokenInvalid = errors.New("invalid access token")

// AccessToken represents a signed JWT access token along with its expiry.
type AccessToken struct {
	Token string    // the serialized JWT string
	Exp   time.Time // the UTC expiration time
}

// RefreshToken represents the opaque token used to obtain a new pair. Only
// the SHA-256 digest of Raw is ever persisted.
type RefreshToken struct {
	Raw string    // raw token string returned to the client
	Exp time.Time // UTC expiration time
}

// AccessClaims is the payload of an access token.
type AccessClaims struct {
	Username string     `json:"username"`
	Email    string     `json:"email"`
	Role     model.Role `json:"role"`
	jwt.RegisteredClaims
}

// UserID returns the numeric subject.
func (c *AccessClaims) UserID() (uint64, error) {
	return strconv.ParseUint(c.Subject, 10, 64)
}

// TokenCodec issues and verifies access tokens and mints refresh tokens. It
// never talks to the store: a token it accepts has only proven signature and
// expiry.
type TokenCodec struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenCodec builds a codec. accessTTL must be strictly shorter than
// refreshTTL so a refresh can outlive the access token it replaces.
func NewTokenCodec(secret, issuer string, accessTTL, refreshTTL time.Duration) (*TokenCodec, error) {
	if secret == "" {
		return nil, errors.New("token codec: empty secret")
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, errors.New("token codec: TTLs must be positive")
	}
	if accessTTL >= refreshTTL {
		return nil, fmt.Errorf("token codec: access TTL %s must be shorter than refresh TTL %s", accessTTL, refreshTTL)
	}
	return &TokenCodec{
		secret:     []byte(secret),
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// AccessTTL returns the configured access token lifetime.
func (c *TokenCodec) AccessTTL() time.Duration { return c.accessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (c *TokenCodec) RefreshTTL() time.Duration { return c.refreshTTL }

// IssueAccess builds and signs an HS256 JWT for u. Every token carries a fresh
// jti so two tokens issued within the same second never collide.
func (c *TokenCodec) IssueAccess(u model.PublicUser) (AccessToken, error) {
	now := c.now()
	exp := now.Add(c.accessTTL)
	claims := AccessClaims{
		Username: u.Username,
		Email:    u.Email,
		Role:     u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(u.ID, 10),
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString(c.secret)
	if err != nil {
		return AccessToken{}, fmt.Errorf("signing access token: %w", err)
	}
	// JWT expiry has second precision; keep the stored expiry identical.
	return AccessToken{Token: signed, Exp: claims.ExpiresAt.Time.UTC()}, nil
}

// ParseAccess validates signature, algorithm, issuer and expiry.
func (c *TokenCodec) ParseAccess(raw string) (*AccessClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}
	tok, err := jwt.ParseWithClaims(raw, &AccessClaims{}, func(_ *jwt.Token) (any, error) {
		return c.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	claims, ok := tok.Claims.(*AccessClaims)
	if !ok || !tok.Valid {
		return nil, ErrTokenInvalid
	}
	if _, err := claims.UserID(); err != nil {
		return nil, fmt.Errorf("%w: bad subject", ErrTokenInvalid)
	}
	if claims.Role == "" {
		return nil, fmt.Errorf("%w: missing role", ErrTokenInvalid)
	}
	return claims, nil
}

// NewRefreshToken returns a random 256-bit token and its expiry. The expiry is
// truncated to whole seconds like the access token's, so I3 survives storage
// in a DATETIME column.
func (c *TokenCodec) NewRefreshToken() (RefreshToken, error) {
	raw, err := randomHex(32)
	if err != nil {
		return RefreshToken{}, fmt.Errorf("generating refresh token: %w", err)
	}
	return RefreshToken{
		Raw: raw,
		Exp: c.now().Add(c.refreshTTL).Truncate(time.Second),
	}, nil
}

// HashToken returns the SHA-256 hash of a raw token as a hex string. Only
// this digest is stored, for access and refresh tokens alike.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// randomHex returns a hex-encoded string generated from n bytes of
// cryptographically secure random data.
func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
