package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/session-auth/internal/middleware"
	"github.com/iliyamo/session-auth/internal/service"
)

// AdminHandler serves /v1/admin. Role checks happen in the router.
type AdminHandler struct {
	Sessions *service.SessionManager
}

func NewAdminHandler(s *service.SessionManager) *AdminHandler {
	return &AdminHandler{Sessions: s}
}

// CreateUser registers an account with any known role.
func (h *AdminHandler) CreateUser(c echo.Context) error {
	var req createUserReq
	if err := bindValid(c, &req); err != nil {
		return err
	}
	user, err := h.Sessions.Register(c.Request().Context(), service.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, user)
}

func (h *AdminHandler) GetUser(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	user, err := h.Sessions.GetUser(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, user)
}

// DeleteUser removes an account. Deleting yourself is rejected.
func (h *AdminHandler) DeleteUser(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	actor, ok := middleware.CurrentIdentity(c)
	if !ok {
		return service.ErrUnauthenticated
	}
	if err := h.Sessions.DeleteUser(c.Request().Context(), actor.ID, id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func pathID(c echo.Context) (uint64, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: invalid user id %q", service.ErrValidation, c.Param("id"))
	}
	return id, nil
}
