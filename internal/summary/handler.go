package summary

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ishantswami13-crypto/pesa-ledger/internal/money"
)

const currency = "KES"

type Handler struct {
	Repo Repo
	Log  *zap.Logger
}

// GetSummary answers GET /api/summary?month=YYYY-MM (month optional).
func (h Handler) GetSummary(c *fiber.Ctx) error {
	month := strings.TrimSpace(c.Query("month"))

	t, err := h.Repo.Get(c.UserContext(), month)
	if err != nil {
		if errors.Is(err, ErrInvalidMonth) {
			return fiber.NewError(fiber.StatusBadRequest, "month must be formatted YYYY-MM")
		}
		h.Log.Error("Error summarizing ledger", zap.String("month", month), zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to fetch summary")
	}

	return c.JSON(fiber.Map{
		"success":           true,
		"month":             month,
		"total_income":      money.Float(t.IncomeCents),
		"total_expense":     money.Float(t.ExpenseCents),
		"net":               money.Float(t.IncomeCents - t.ExpenseCents),
		"mpesa_income":      money.Float(t.MpesaIncomeCents),
		"transaction_count": t.Count,
		"currency":          currency,
	})
}
