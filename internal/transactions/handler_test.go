package transactions

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apphttp "github.com/ishantswami13-crypto/pesa-ledger/internal/http"
)

func newTestApp(t *testing.T) (*fiber.App, *Store) {
	t.Helper()
	store := newTestStore(t)
	h := NewHandler(store, zap.NewNop())

	app := fiber.New(fiber.Config{ErrorHandler: apphttp.ErrorHandler(zap.NewNop())})
	app.Get("/api/transactions/statement.pdf", h.StatementPDF)
	app.Get("/api/transactions", h.List)
	app.Post("/api/transactions", h.Create)
	app.Delete("/api/transactions/:id", h.Delete)
	app.Get("/api/balance", h.Balance)
	return app, store
}

func doJSON(t *testing.T, app *fiber.App, method, path, body string) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestHandler_CreateValidation(t *testing.T) {
	app, _ := newTestApp(t)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty body", ``, "Missing required fields: description, amount, transaction_type"},
		{"not an object", `[1,2]`, "Missing required fields: description, amount, transaction_type"},
		{"missing amount", `{"description":"x","transaction_type":"income"}`, "Missing required fields: description, amount, transaction_type"},
		{"bad type", `{"description":"x","amount":5,"transaction_type":"transfer"}`, `Transaction type must be either "income" or "expense"`},
		{"bad amount", `{"description":"x","amount":"lots","transaction_type":"income"}`, "Invalid amount format"},
		{"zero amount", `{"description":"x","amount":0,"transaction_type":"income"}`, "Amount must be greater than 0"},
		{"negative amount", `{"description":"x","amount":"-3","transaction_type":"expense"}`, "Amount must be greater than 0"},
		{"blank description", `{"description":"  ","amount":3,"transaction_type":"expense"}`, "Description cannot be empty"},
		{"numeric description", `{"description":7,"amount":3,"transaction_type":"expense"}`, "Description must be a string"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, out := doJSON(t, app, "POST", "/api/transactions", tt.body)
			assert.Equal(t, fiber.StatusBadRequest, code)
			assert.Equal(t, false, out["success"])
			assert.Equal(t, tt.want, out["error"])
		})
	}
}

func TestHandler_CreateListBalanceDelete(t *testing.T) {
	app, _ := newTestApp(t)

	code, out := doJSON(t, app, "POST", "/api/transactions", `{"description":" Salary ","amount":"1500.50","transaction_type":"income"}`)
	require.Equal(t, fiber.StatusCreated, code)
	assert.Equal(t, true, out["success"])
	tx := out["transaction"].(map[string]any)
	assert.Equal(t, "Salary", tx["description"])
	assert.Equal(t, 1500.5, tx["amount"])
	assert.Equal(t, "income", tx["transaction_type"])
	assert.Equal(t, "manual", tx["payment_method"])
	assert.Nil(t, tx["mpesa_receipt_number"])
	assert.Equal(t, "2026-01-02 03:04:06", tx["created_at"])
	incomeID := tx["id"].(float64)

	code, _ = doJSON(t, app, "POST", "/api/transactions", `{"description":"Lunch","amount":250.25,"transaction_type":"expense"}`)
	require.Equal(t, fiber.StatusCreated, code)

	code, out = doJSON(t, app, "GET", "/api/transactions", "")
	require.Equal(t, fiber.StatusOK, code)
	list := out["transactions"].([]any)
	require.Len(t, list, 2)
	assert.Equal(t, "Lunch", list[0].(map[string]any)["description"])

	code, out = doJSON(t, app, "GET", "/api/balance", "")
	require.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, 1250.25, out["balance"])
	assert.Equal(t, 1500.5, out["total_income"])
	assert.Equal(t, 250.25, out["total_expenses"])

	code, out = doJSON(t, app, "DELETE", "/api/transactions/"+jsonInt(incomeID), "")
	require.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, "Transaction deleted successfully", out["message"])

	code, out = doJSON(t, app, "DELETE", "/api/transactions/"+jsonInt(incomeID), "")
	assert.Equal(t, fiber.StatusNotFound, code)
	assert.Equal(t, "Transaction not found", out["error"])

	code, out = doJSON(t, app, "GET", "/api/balance", "")
	require.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, -250.25, out["balance"])
}

func TestHandler_ListQueryValidation(t *testing.T) {
	app, _ := newTestApp(t)

	code, _ := doJSON(t, app, "GET", "/api/transactions?type=gift", "")
	assert.Equal(t, fiber.StatusBadRequest, code)

	code, _ = doJSON(t, app, "GET", "/api/transactions?limit=0", "")
	assert.Equal(t, fiber.StatusBadRequest, code)

	code, out := doJSON(t, app, "GET", "/api/transactions?type=expense&limit=10", "")
	assert.Equal(t, fiber.StatusOK, code)
	assert.Empty(t, out["transactions"])
}

func TestHandler_DeleteBadID(t *testing.T) {
	app, _ := newTestApp(t)

	code, _ := doJSON(t, app, "DELETE", "/api/transactions/abc", "")
	assert.Equal(t, fiber.StatusBadRequest, code)
}

func TestHandler_StatementPDF(t *testing.T) {
	app, store := newTestApp(t)
	_, err := store.Create(context.Background(), NewTransaction{Description: "Café rent", AmountCents: 123456, Type: Expense})
	require.NoError(t, err)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/transactions/statement.pdf", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(body), "%PDF"))
}

func TestWithCommas(t *testing.T) {
	assert.Equal(t, "0.00", withCommas(0))
	assert.Equal(t, "1,234.56", withCommas(123456))
	assert.Equal(t, "-1,000,000.05", withCommas(-100000005))
}

func jsonInt(f float64) string {
	b, _ := json.Marshal(int64(f))
	return string(b)
}
