package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Audit logs one line per request. Server errors log at error level and client
// errors at warn; the caller and any idempotent replay are recorded so money
// movements can be traced back to a user.
func Audit(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		var ferr *fiber.Error
		if errors.As(err, &ferr) {
			status = ferr.Code
		} else if err != nil {
			status = http.StatusInternalServerError
		}

		attrs := []any{
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
		}
		if id := RequestIDFrom(c); id != "" {
			attrs = append(attrs, slog.String("request_id", id))
		}
		if uid, _ := c.Locals(userIDLocal).(string); uid != "" {
			attrs = append(attrs, slog.String("user_id", uid))
		}
		if string(c.Response().Header.Peek(replayedHeader)) == "true" {
			attrs = append(attrs, slog.Bool("replayed", true))
		}

		switch {
		case status >= http.StatusInternalServerError:
			if err != nil {
				attrs = append(attrs, slog.Any("error", err))
			}
			logger.Error("request completed", attrs...)
		case status >= http.StatusBadRequest:
			logger.Warn("request completed", attrs...)
		default:
			logger.Info("request completed", attrs...)
		}
		return err
	}
}
