package handler

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/session-auth/internal/middleware"
	"github.com/iliyamo/session-auth/internal/service"
)

// AuthHandler serves the /v1/auth endpoints and /v1/me.
type AuthHandler struct {
	Sessions *service.SessionManager
}

func NewAuthHandler(s *service.SessionManager) *AuthHandler {
	return &AuthHandler{Sessions: s}
}

// bindValid decodes the JSON body into req and runs its validate tags.
func bindValid(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return fmt.Errorf("%w: malformed request body", service.ErrValidation)
	}
	return c.Validate(req)
}

// Register creates a plain user account. No session is opened. A role in the
// body is ignored; elevated accounts are created through AdminHandler.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := bindValid(c, &req); err != nil {
		return err
	}
	user, err := h.Sessions.Register(c.Request().Context(), service.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, user)
}

// Login opens a session, or answers 409 with action confirm_logout when one
// is already active.
func (h *AuthHandler) Login(c echo.Context) error {
	var req credentialsReq
	if err := bindValid(c, &req); err != nil {
		return err
	}
	res, err := h.Sessions.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, loginResp{TokenPair: res.Tokens, User: res.User})
}

// ConfirmLogoutLogin ends any active session and opens a new one.
func (h *AuthHandler) ConfirmLogoutLogin(c echo.Context) error {
	var req credentialsReq
	if err := bindValid(c, &req); err != nil {
		return err
	}
	res, err := h.Sessions.ConfirmAndTakeover(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, loginResp{TokenPair: res.Tokens, User: res.User})
}

// RefreshToken rotates the pair. The presented refresh token is dead after a
// successful call.
func (h *AuthHandler) RefreshToken(c echo.Context) error {
	var req refreshReq
	if err := bindValid(c, &req); err != nil {
		return err
	}
	pair, err := h.Sessions.Refresh(c.Request().Context(), req.RefreshToken)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pair)
}

// Logout ends the caller's session.
func (h *AuthHandler) Logout(c echo.Context) error {
	ident, ok := middleware.CurrentIdentity(c)
	if !ok {
		return service.ErrUnauthenticated
	}
	if err := h.Sessions.Logout(c.Request().Context(), ident.ID); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, messageResp{Message: "logged out"})
}

// Me returns the identity resolved for the bearer token.
func (h *AuthHandler) Me(c echo.Context) error {
	ident, ok := middleware.CurrentIdentity(c)
	if !ok {
		return service.ErrUnauthenticated
	}
	return c.JSON(http.StatusOK, ident)
}
