package middleware

// identity.go holds the echo context keys the authorization pipeline writes
// and the accessors handlers use to read them back.

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/session-auth/internal/model"
	"github.com/iliyamo/session-auth/internal/utils"
)

const (
	ctxKeyAccessToken = "access_token"
	ctxKeyClaims      = "access_claims"
	ctxKeyIdentity    = "identity"
)

// AccessToken returns the raw bearer token extracted by BearerToken.
func AccessToken(c echo.Context) (string, bool) {
	s, ok := c.Get(ctxKeyAccessToken).(string)
	return s, ok && s != ""
}

// Claims returns the signature-verified claims set by VerifySignature. They
// are not yet proof of a live session.
func Claims(c echo.Context) (*utils.AccessClaims, bool) {
	cl, ok := c.Get(ctxKeyClaims).(*utils.AccessClaims)
	return cl, ok && cl != nil
}

// CurrentIdentity returns the identity resolved against the store by
// MatchSession.
func CurrentIdentity(c echo.Context) (model.Identity, bool) {
	id, ok := c.Get(ctxKeyIdentity).(model.Identity)
	return id, ok
}

// userID returns the authenticated user id as a string, or "anon".
func userID(c echo.Context) string {
	if id, ok := CurrentIdentity(c); ok {
		return strconv.FormatUint(id.ID, 10)
	}
	return "anon"
}
