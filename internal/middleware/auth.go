package middleware // declare the middleware package; contains reusable HTTP middleware functions

import (
	"context"
	"errors"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/session-auth/internal/model"
	"github.com/iliyamo/session-auth/internal/service"
	"github.com/iliyamo/session-auth/internal/utils"
)

// TokenVerifier checks an access token's signature and expiry without any
// store access.
type TokenVerifier interface {
	ParseAccess(raw string) (*utils.AccessClaims, error)
}

// SessionResolver matches a verified token against the stored session.
type SessionResolver interface {
	ResolveSession(ctx context.Context, userID uint64, rawAccess string) (model.Identity, error)
}

// Authenticate is the full per-request gate for protected routes:
// BearerToken, then VerifySignature, then MatchSession. Each stage rejects on
// its own so failures can be traced to one layer.
func Authenticate(verifier TokenVerifier, sessions SessionResolver, log logrus.FieldLogger) echo.MiddlewareFunc {
	return Chain(
		BearerToken(),
		VerifySignature(verifier, log),
		MatchSession(sessions, log),
	)
}

// Chain composes middlewares so the first one runs first.
func Chain(mws ...echo.MiddlewareFunc) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// BearerToken requires an "Authorization: Bearer <token>" header and stores
// the raw token in the context.
func BearerToken() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw, ok := bearer(c.Request().Header.Get(echo.HeaderAuthorization))
			if !ok {
				return service.ErrUnauthenticated
			}
			c.Set(ctxKeyAccessToken, raw)
			return next(c)
		}
	}
}

// VerifySignature parses the bearer token and stores its claims. It is only
// a cheap filter: a token that passes may already have been revoked.
func VerifySignature(verifier TokenVerifier, log logrus.FieldLogger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw, ok := AccessToken(c)
			if !ok {
				return service.ErrUnauthenticated
			}
			claims, err := verifier.ParseAccess(raw)
			if err != nil {
				log.WithError(err).Debug("access token rejected by signature check")
				return service.ErrInvalidToken
			}
			c.Set(ctxKeyClaims, claims)
			return next(c)
		}
	}
}

// MatchSession requires the token to be the one currently stored for its
// subject, with the stored expiry still ahead. This is what makes logout and
// takeover effective before the token expires on its own.
func MatchSession(sessions SessionResolver, log logrus.FieldLogger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw, okTok := AccessToken(c)
			claims, okClaims := Claims(c)
			if !okTok || !okClaims {
				return service.ErrInvalidToken
			}
			uid, err := claims.UserID()
			if err != nil {
				return service.ErrInvalidToken
			}
			ident, err := sessions.ResolveSession(c.Request().Context(), uid, raw)
			if err != nil {
				if errors.Is(err, service.ErrInvalidToken) {
					log.WithField("user_id", uid).Debug("access token does not match stored session")
				}
				return err
			}
			c.Set(ctxKeyIdentity, ident)
			return next(c)
		}
	}
}

func bearer(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}
