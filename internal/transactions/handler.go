package transactions

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ishantswami13-crypto/pesa-ledger/internal/audit"
	"github.com/ishantswami13-crypto/pesa-ledger/internal/money"
)

type Handler struct {
	Store *Store
	Log   *zap.Logger
	Audit *audit.Recorder
}

func NewHandler(store *Store, log *zap.Logger) *Handler {
	return &Handler{Store: store, Log: log}
}

func (h *Handler) List(c *fiber.Ctx) error {
	var p ListParams
	if raw := strings.TrimSpace(c.Query("type")); raw != "" {
		p.Type = ParseType(raw)
		if p.Type == "" {
			return fiber.NewError(fiber.StatusBadRequest, `type must be either "income" or "expense"`)
		}
	}
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > MaxListLimit {
			return fiber.NewError(fiber.StatusBadRequest, "limit must be between 1 and 500")
		}
		p.Limit = n
	}

	items, err := h.Store.List(c.UserContext(), p)
	if err != nil {
		h.Log.Error("Error fetching transactions", zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to fetch transactions")
	}
	return c.JSON(fiber.Map{
		"success":      true,
		"transactions": items,
	})
}

func (h *Handler) Create(c *fiber.Ctx) error {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(c.Body(), &body); err != nil || body == nil {
		return fiber.NewError(fiber.StatusBadRequest, "Missing required fields: description, amount, transaction_type")
	}
	for _, key := range []string{"description", "amount", "transaction_type"} {
		if _, ok := body[key]; !ok {
			return fiber.NewError(fiber.StatusBadRequest, "Missing required fields: description, amount, transaction_type")
		}
	}

	var typ string
	if err := json.Unmarshal(body["transaction_type"], &typ); err != nil || (Type(typ) != Income && Type(typ) != Expense) {
		return fiber.NewError(fiber.StatusBadRequest, `Transaction type must be either "income" or "expense"`)
	}

	amount, err := money.ParseJSON(body["amount"])
	if err != nil {
		if errors.Is(err, money.ErrNotPositive) {
			return fiber.NewError(fiber.StatusBadRequest, "Amount must be greater than 0")
		}
		return fiber.NewError(fiber.StatusBadRequest, "Invalid amount format")
	}

	var description string
	if err := json.Unmarshal(body["description"], &description); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Description must be a string")
	}

	t, err := h.Store.Create(c.UserContext(), NewTransaction{
		Description: description,
		AmountCents: amount,
		Type:        Type(typ),
	})
	switch {
	case errors.Is(err, ErrEmptyDescription):
		return fiber.NewError(fiber.StatusBadRequest, "Description cannot be empty")
	case errors.Is(err, ErrDescriptionTooLong):
		return fiber.NewError(fiber.StatusBadRequest, "Description must be at most 200 characters")
	case err != nil:
		h.Log.Error("Error adding transaction", zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to add transaction")
	}

	h.Audit.Record(c, "transaction.create", "transaction", strconv.FormatInt(t.ID, 10), fiber.Map{
		"amount":           money.String(t.AmountCents),
		"transaction_type": t.Type,
	})
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success":     true,
		"transaction": t,
	})
}

func (h *Handler) Delete(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return fiber.NewError(fiber.StatusBadRequest, "invalid transaction id")
	}

	if err := h.Store.Delete(c.UserContext(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "Transaction not found")
		}
		h.Log.Error("Error deleting transaction", zap.Int64("id", id), zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to delete transaction")
	}

	h.Audit.Record(c, "transaction.delete", "transaction", strconv.FormatInt(id, 10), nil)
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Transaction deleted successfully",
	})
}

func (h *Handler) Balance(c *fiber.Ctx) error {
	b, err := h.Store.Balance(c.UserContext())
	if err != nil {
		h.Log.Error("Error calculating balance", zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to calculate balance")
	}
	return c.JSON(fiber.Map{
		"success":        true,
		"balance":        money.Float(b.NetCents()),
		"total_income":   money.Float(b.IncomeCents),
		"total_expenses": money.Float(b.ExpenseCents),
	})
}
