package wallet

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/ledgerd/internal/ledger"
)

// Handler exposes wallet HTTP endpoints for the authenticated user.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type depositRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type transferRequest struct {
	ReceiverID string          `json:"receiverId"`
	Amount     decimal.Decimal `json:"amount"`
}

type resultResponse struct {
	Message    string      `json:"message"`
	NewBalance json.Number `json:"newBalance"`
}

type partyResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type historyResponse struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Amount    json.Number    `json:"amount"`
	Sender    *partyResponse `json:"sender"`
	Receiver  *partyResponse `json:"receiver"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Balance returns the caller's balance.
func (h *Handler) Balance(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	balance, err := h.service.GetBalance(c.UserContext(), userID)
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"balance":   money(balance.Amount),
		"fromCache": balance.FromCache,
	})
}

// Deposit credits the caller's wallet.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	var req depositRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	res, err := h.service.Deposit(c.UserContext(), userID, req.Amount)
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusOK).JSON(resultResponse{Message: res.Message, NewBalance: money(res.NewBalance)})
}

// Transfer moves funds from the caller to another user.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if req.ReceiverID == "" {
		return fiber.NewError(http.StatusBadRequest, "receiverId is required")
	}
	res, err := h.service.Transfer(c.UserContext(), userID, req.ReceiverID, req.Amount)
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusOK).JSON(resultResponse{Message: res.Message, NewBalance: money(res.NewBalance)})
}

// History lists the caller's transactions, newest first.
func (h *Handler) History(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	entries, err := h.service.GetHistory(c.UserContext(), userID)
	if err != nil {
		return httpError(err)
	}
	out := make([]historyResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyResponse{
			ID:        e.ID,
			Type:      string(e.Type),
			Amount:    money(e.Amount),
			Sender:    party(e.Sender),
			Receiver:  party(e.Receiver),
			CreatedAt: e.CreatedAt,
		})
	}
	return c.Status(http.StatusOK).JSON(out)
}

func currentUser(c *fiber.Ctx) (string, error) {
	uid, _ := c.Locals("user_id").(string)
	if uid == "" {
		return "", fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}
	return uid, nil
}

func httpError(err error) error {
	var werr *Error
	msg := "internal error"
	if errors.As(err, &werr) {
		msg = werr.Msg
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(http.StatusNotFound, msg)
	case errors.Is(err, ErrInvalidOperation), errors.Is(err, ErrInsufficientFunds):
		return fiber.NewError(http.StatusBadRequest, msg)
	case errors.Is(err, ErrRateLimited):
		return fiber.NewError(http.StatusTooManyRequests, msg)
	default:
		return fiber.NewError(http.StatusInternalServerError, "internal error")
	}
}

func money(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(2))
}

func party(p *ledger.Party) *partyResponse {
	if p == nil {
		return nil
	}
	return &partyResponse{ID: p.ID, Name: p.Name}
}
