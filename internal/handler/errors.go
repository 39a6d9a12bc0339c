package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/session-auth/internal/service"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// conflictBody asks the client to confirm a takeover of the active session.
type conflictBody struct {
	Error   string      `json:"error"`
	Message string      `json:"message"`
	Action  string      `json:"action"`
	User    interface{} `json:"user"`
}

// ActionConfirmLogout tells the client to call /v1/auth/confirm-logout-login.
const ActionConfirmLogout = "confirm_logout"

var errorTable = []struct {
	err    error
	status int
	code   string
}{
	{service.ErrValidation, http.StatusBadRequest, "validation_error"},
	{service.ErrDuplicateIdentity, http.StatusConflict, "duplicate_identity"},
	{service.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
	{service.ErrSessionConflict, http.StatusConflict, "session_conflict"},
	{service.ErrUnauthenticated, http.StatusUnauthorized, "unauthenticated"},
	{service.ErrInvalidToken, http.StatusUnauthorized, "invalid_token"},
	{service.ErrInvalidRefreshToken, http.StatusForbidden, "invalid_refresh_token"},
	{service.ErrForbidden, http.StatusForbidden, "forbidden"},
	{service.ErrNotFound, http.StatusNotFound, "not_found"},
}

// statusFor maps an error to its HTTP status and code. Anything unknown,
// including ErrStoreUnavailable, is a 500.
func statusFor(err error) (int, string) {
	for _, e := range errorTable {
		if errors.Is(err, e.err) {
			return e.status, e.code
		}
	}
	return http.StatusInternalServerError, "server_error"
}

// publicMessage is the text sent to the client. Only the sentinel's own
// message is exposed so wrapped causes never leak.
func publicMessage(err error, status int) string {
	if status >= http.StatusInternalServerError {
		return "internal server error"
	}
	for _, e := range errorTable {
		if errors.Is(err, e.err) {
			if errors.Is(err, service.ErrValidation) {
				return err.Error()
			}
			return e.err.Error()
		}
	}
	return http.StatusText(status)
}

// HTTPErrorHandler renders handler and middleware errors with one body shape
// and logs server-side failures with their cause.
func HTTPErrorHandler(log logrus.FieldLogger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var (
			status int
			body   interface{}
		)

		var he *echo.HTTPError
		var conflict *service.ConflictError
		switch {
		case errors.As(err, &conflict):
			status = http.StatusConflict
			body = conflictBody{
				Error:   "session_conflict",
				Message: service.ErrSessionConflict.Error(),
				Action:  ActionConfirmLogout,
				User:    conflict.User,
			}
		case errors.As(err, &he):
			status = he.Code
			msg := http.StatusText(status)
			if s, ok := he.Message.(string); ok && status < http.StatusInternalServerError {
				msg = s
			}
			body = errorBody{Error: codeForStatus(status), Message: msg}
		default:
			var code string
			status, code = statusFor(err)
			body = errorBody{Error: code, Message: publicMessage(err, status)}
		}

		if status >= http.StatusInternalServerError {
			log.WithError(err).WithFields(logrus.Fields{
				"method": c.Request().Method,
				"route":  c.Path(),
			}).Error("request failed")
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, body)
		}
		if err != nil {
			log.WithError(err).Warn("write error response")
		}
	}
}

// codeForStatus names framework-level errors (bad JSON, unknown route,
// wrong method).
func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "validation_error"
	case http.StatusUnauthorized:
		return "unauthenticated"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusTooManyRequests:
		return "too_many_requests"
	case http.StatusRequestEntityTooLarge:
		return "payload_too_large"
	}
	if status >= http.StatusInternalServerError {
		return "server_error"
	}
	return "error"
}
