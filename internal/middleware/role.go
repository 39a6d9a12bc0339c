package middleware // middleware provides shared request processing for handlers

import (
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/session-auth/internal/model"
	"github.com/iliyamo/session-auth/internal/service"
)

// RequireRole returns a middleware that lets the request through only when
// the identity resolved by Authenticate has one of roles. It must run after
// Authenticate; without an identity the request is treated as
// unauthenticated.
func RequireRole(log logrus.FieldLogger, roles ...model.Role) echo.MiddlewareFunc {
	allowed := make(map[model.Role]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ident, ok := CurrentIdentity(c)
			if !ok {
				return service.ErrUnauthenticated
			}
			if !allowed[ident.Role] {
				log.WithFields(logrus.Fields{
					"user_id": ident.ID,
					"role":    ident.Role,
					"method":  c.Request().Method,
					"route":   c.Path(),
				}).Warn("role gate denied request")
				return service.ErrForbidden
			}
			return next(c)
		}
	}
}

// AdminOnly admits administrators.
func AdminOnly(log logrus.FieldLogger) echo.MiddlewareFunc {
	return RequireRole(log, model.RoleAdmin)
}

// AdminOrModerator admits administrators and moderators.
func AdminOrModerator(log logrus.FieldLogger) echo.MiddlewareFunc {
	return RequireRole(log, model.RoleAdmin, model.RoleModerator)
}
