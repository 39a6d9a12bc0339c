package router // package router defines how HTTP routes are registered for the API

import (
	"database/sql"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/session-auth/internal/config"
	"github.com/iliyamo/session-auth/internal/handler"
	"github.com/iliyamo/session-auth/internal/middleware"
	"github.com/iliyamo/session-auth/internal/service"
	"github.com/iliyamo/session-auth/internal/utils"
)

// Deps is everything the HTTP layer needs.
type Deps struct {
	Sessions  *service.SessionManager
	Codec     *utils.TokenCodec
	DB        *sql.DB       // optional, used by /healthz
	Redis     *redis.Client // optional, nil disables rate limiting
	RateLimit config.RateLimitConfig
	Logger    logrus.FieldLogger
}

// New builds the echo instance with the shared error handler, validator and
// request logging, and registers every route.
func New(d Deps) *echo.Echo {
	if d.Logger == nil {
		d.Logger = logrus.StandardLogger()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewRequestValidator()
	e.HTTPErrorHandler = handler.HTTPErrorHandler(d.Logger)

	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(d.Logger))
	e.Use(echomw.Recover())
	e.Use(echomw.BodyLimit("64K"))

	RegisterRoutes(e, d.DB)
	auth := middleware.Authenticate(d.Codec, d.Sessions, d.Logger)
	RegisterAuth(e, handler.NewAuthHandler(d.Sessions), auth, middleware.NewTokenBucket(d.RateLimit, d.Redis, d.Logger))
	RegisterAdmin(e, handler.NewAdminHandler(d.Sessions), auth, d.Logger)
	return e
}

// RegisterRoutes registers routes that do not require authentication.
func RegisterRoutes(e *echo.Echo, db *sql.DB) {
	e.GET("/healthz", handler.Health(db))
}

// RegisterAuth registers the session endpoints. The credential and refresh
// endpoints sit behind the rate limiter; /logout and /me require a live
// session.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, auth, limit echo.MiddlewareFunc) {
	g := e.Group("/v1/auth")
	g.POST("/register", a.Register, limit)
	g.POST("/login", a.Login, limit)
	g.POST("/confirm-logout-login", a.ConfirmLogoutLogin, limit)
	g.POST("/refresh-token", a.RefreshToken, limit)
	g.POST("/logout", a.Logout, auth)

	e.GET("/v1/me", a.Me, auth)
}

// RegisterAdmin registers user administration. Reads are open to moderators,
// creation and deletion are admin only.
func RegisterAdmin(e *echo.Echo, h *handler.AdminHandler, auth echo.MiddlewareFunc, log logrus.FieldLogger) {
	g := e.Group("/v1/admin", auth)
	g.POST("/users", h.CreateUser, middleware.AdminOnly(log))
	g.GET("/users/:id", h.GetUser, middleware.AdminOrModerator(log))
	g.DELETE("/users/:id", h.DeleteUser, middleware.AdminOnly(log))
}
