package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/ledgerd/internal/ratelimit"
)

// LoginRateLimit throttles login attempts per email, or per client IP when the
// body carries no email. A nil limiter disables the check. Limiter errors fail
// open so a cache outage cannot lock every user out.
func LoginRateLimit(limiter *ratelimit.Limiter, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if limiter == nil {
			return c.Next()
		}
		var req struct {
			Email string `json:"email"`
		}
		_ = c.BodyParser(&req)
		subject := strings.ToLower(strings.TrimSpace(req.Email))
		if subject == "" {
			subject = c.IP()
		}
		decision, err := limiter.Check(c.UserContext(), subject)
		if err != nil {
			logger.Warn("login rate limit check failed", slog.Any("error", err))
			return c.Next()
		}
		if !decision.Allowed {
			return fiber.NewError(http.StatusTooManyRequests, "too many login attempts, try again later")
		}
		return c.Next()
	}
}
