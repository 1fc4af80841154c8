package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/ledgerd/internal/wallet"
)

// RegisterWalletRoutes wires wallet endpoints. Mutations run behind the
// idempotency middleware.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler, idempotency fiber.Handler) {
	group := r.Group("/wallet")
	group.Get("/balance", h.Balance)
	group.Get("/history", h.History)
	group.Post("/deposit", idempotency, h.Deposit)
	group.Post("/transfer", idempotency, h.Transfer)
}
