package payments

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ishantswami13-crypto/pesa-ledger/internal/audit"
	"github.com/ishantswami13-crypto/pesa-ledger/internal/money"
	"github.com/ishantswami13-crypto/pesa-ledger/internal/mpesa"
)

const callbackPath = "/api/mpesa/callback"

type Handler struct {
	Service       *Service
	Log           *zap.Logger
	Audit         *audit.Recorder
	CallbackURL   string
	CallbackToken string
}

func NewHandler(svc *Service, callbackURL, callbackToken string, log *zap.Logger) *Handler {
	return &Handler{
		Service:       svc,
		Log:           log,
		CallbackURL:   strings.TrimSpace(callbackURL),
		CallbackToken: callbackToken,
	}
}

func (h *Handler) Status(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"success":     true,
		"configured":  h.Service.Gateway.IsConfigured(),
		"environment": h.Service.Gateway.Environment(),
	})
}

func (h *Handler) Initiate(c *fiber.Ctx) error {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(c.Body(), &body); err != nil || body == nil {
		return fiber.NewError(fiber.StatusBadRequest, "Missing required fields: phone_number, amount, description")
	}
	var phone, description string
	if err := json.Unmarshal(body["phone_number"], &phone); err != nil || strings.TrimSpace(phone) == "" {
		return fiber.NewError(fiber.StatusBadRequest, "Missing required fields: phone_number, amount, description")
	}
	if err := json.Unmarshal(body["description"], &description); err != nil || strings.TrimSpace(description) == "" {
		return fiber.NewError(fiber.StatusBadRequest, "Missing required fields: phone_number, amount, description")
	}
	if _, ok := body["amount"]; !ok {
		return fiber.NewError(fiber.StatusBadRequest, "Missing required fields: phone_number, amount, description")
	}
	amount, err := money.ParseJSON(body["amount"])
	if err != nil {
		if errors.Is(err, money.ErrNotPositive) {
			return fiber.NewError(fiber.StatusBadRequest, "Amount must be at least 1")
		}
		return fiber.NewError(fiber.StatusBadRequest, "Invalid amount format")
	}

	res, err := h.Service.Initiate(c.UserContext(), InitiateRequest{
		PhoneNumber: phone,
		AmountCents: amount,
		Description: description,
		CallbackURL: h.callbackURL(c),
	})
	if err != nil {
		return h.initiateError(err)
	}

	h.Audit.Record(c, "mpesa.initiate", "mpesa_payment", strconv.FormatInt(res.Payment.ID, 10), fiber.Map{
		"checkout_request_id": res.Payment.CheckoutRequestID,
		"amount":              money.String(res.Payment.AmountCents),
	})

	message := res.CustomerMessage
	if message == "" {
		message = "Payment request sent. Please check your phone and enter your M-Pesa PIN."
	}
	return c.JSON(fiber.Map{
		"success":             true,
		"message":             message,
		"payment_id":          res.Payment.ID,
		"checkout_request_id": res.Payment.CheckoutRequestID,
		"payment":             res.Payment,
	})
}

func (h *Handler) initiateError(err error) error {
	var apiErr *mpesa.APIError
	switch {
	case errors.Is(err, mpesa.ErrNotConfigured):
		return fiber.NewError(fiber.StatusServiceUnavailable, "M-Pesa is not configured. Please contact administrator.")
	case errors.Is(err, mpesa.ErrInvalidPhone):
		return fiber.NewError(fiber.StatusBadRequest, "Invalid phone number format. Use format: 254XXXXXXXXX")
	case errors.Is(err, mpesa.ErrInvalidAmount):
		return fiber.NewError(fiber.StatusBadRequest, "Amount must be at least 1")
	case errors.As(err, &apiErr):
		h.Log.Warn("stk push rejected", zap.String("code", apiErr.Code), zap.String("description", apiErr.Description))
		return fiber.NewError(fiber.StatusBadGateway, apiErr.Description)
	case errors.Is(err, mpesa.ErrNetwork):
		h.Log.Warn("stk push network error", zap.Error(err))
		return fiber.NewError(fiber.StatusBadGateway, "Network error occurred. Please try again.")
	case errors.Is(err, mpesa.ErrAuthentication):
		h.Log.Error("mpesa authentication failed", zap.Error(err))
		return fiber.NewError(fiber.StatusBadGateway, "Failed to authenticate with M-Pesa API")
	}
	h.Log.Error("Error initiating payment", zap.Error(err))
	return fiber.NewError(fiber.StatusInternalServerError, "Failed to initiate payment")
}

// callbackURL is the configured URL or this server's own callback route,
// carrying the shared token when one is set.
func (h *Handler) callbackURL(c *fiber.Ctx) string {
	target := h.CallbackURL
	if target == "" {
		target = c.BaseURL() + callbackPath
	}
	if h.CallbackToken == "" {
		return target
	}
	sep := "?"
	if strings.Contains(target, "?") {
		sep = "&"
	}
	return target + sep + url.Values{"token": {h.CallbackToken}}.Encode()
}

func (h *Handler) Callback(c *fiber.Ctx) error {
	if h.CallbackToken != "" {
		got := c.Query("token")
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.CallbackToken)) != 1 {
			h.Log.Warn("stk callback rejected: bad token", zap.String("ip", c.IP()))
			return fiber.NewError(fiber.StatusUnauthorized, "invalid callback token")
		}
	}

	// fiber reuses the request buffer once the handler returns
	raw := append([]byte(nil), c.Body()...)

	p, err := h.Service.HandleCallback(c.UserContext(), raw)
	switch {
	case errors.Is(err, mpesa.ErrMalformedCallback):
		h.Log.Warn("stk callback malformed", zap.ByteString("body", raw))
		return fiber.NewError(fiber.StatusBadRequest, "Invalid callback payload")
	case errors.Is(err, ErrNotFound):
		h.Log.Warn("stk callback for unknown checkout", zap.ByteString("body", raw))
	case errors.Is(err, ErrAlreadyFinal):
		h.Log.Info("stk callback for settled payment ignored")
	case err != nil:
		h.Log.Error("Error applying stk callback", zap.Error(err))
	default:
		h.Audit.Record(c, "mpesa.callback", "mpesa_payment", strconv.FormatInt(p.ID, 10), fiber.Map{
			"status":      p.Status,
			"result_code": p.ResultCode,
		})
	}

	return c.JSON(fiber.Map{"ResultCode": 0, "ResultDesc": "Accepted"})
}

func (h *Handler) Query(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("payment_id"), 10, 64)
	if err != nil || id <= 0 {
		return fiber.NewError(fiber.StatusBadRequest, "invalid payment id")
	}

	p, err := h.Service.Refresh(c.UserContext(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "Payment not found")
		}
		h.Log.Error("Error querying payment", zap.Int64("id", id), zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to query payment status")
	}
	return c.JSON(fiber.Map{
		"success": true,
		"payment": p,
	})
}

func (h *Handler) List(c *fiber.Ctx) error {
	limit := DefaultListLimit
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > MaxListLimit {
			return fiber.NewError(fiber.StatusBadRequest, "limit must be between 1 and 500")
		}
		limit = n
	}

	items, err := h.Service.List(c.UserContext(), limit)
	if err != nil {
		h.Log.Error("Error fetching payments", zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to fetch payments")
	}
	return c.JSON(fiber.Map{
		"success":  true,
		"payments": items,
	})
}
