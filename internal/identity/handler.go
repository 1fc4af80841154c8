package identity

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes identity endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs an identity HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type registerRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type userResponse struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	WalletID string `json:"walletId,omitempty"`
}

// Register handles user onboarding.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	account, err := h.service.Register(c.UserContext(), Credentials{Email: req.Email, Name: req.Name, Password: req.Password})
	switch {
	case errors.Is(err, ErrInvalidInput):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrEmailTaken):
		return fiber.NewError(http.StatusConflict, err.Error())
	case err != nil:
		return fiber.NewError(http.StatusInternalServerError, "registration failed")
	}
	return c.Status(http.StatusCreated).JSON(userResponse{
		ID:       account.User.ID,
		Email:    account.User.Email,
		Name:     account.User.Name,
		WalletID: account.WalletID,
	})
}
