package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/ledgerd/internal/identity"
)

// RegisterIdentityRoutes wires user registration. Every new user gets a wallet.
func RegisterIdentityRoutes(r fiber.Router, h *identity.Handler) {
	r.Post("/auth/register", h.Register)
}
