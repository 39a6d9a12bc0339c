package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// RequestLogger writes one structured line per request. Handler errors are
// rendered through echo's error handler first so the logged status is the
// one the client saw.
func RequestLogger(log logrus.FieldLogger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			res := c.Response()
			fields := logrus.Fields{
				"method":     req.Method,
				"route":      c.Path(),
				"status":     res.Status,
				"latency_ms": time.Since(start).Milliseconds(),
				"remote_ip":  c.RealIP(),
				"request_id": res.Header().Get(echo.HeaderXRequestID),
			}
			if id, ok := CurrentIdentity(c); ok {
				fields["user_id"] = id.ID
			}
			entry := log.WithFields(fields)
			switch {
			case res.Status >= 500:
				if err != nil {
					entry = entry.WithError(err)
				}
				entry.Error("request failed")
			case res.Status >= 400:
				entry.Info("request rejected")
			default:
				entry.Debug("request served")
			}
			return nil
		}
	}
}
