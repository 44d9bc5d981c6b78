package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ishantswami13-crypto/pesa-ledger/internal/audit"
	handlers "github.com/ishantswami13-crypto/pesa-ledger/internal/http"
	"github.com/ishantswami13-crypto/pesa-ledger/internal/payments"
	"github.com/ishantswami13-crypto/pesa-ledger/internal/summary"
	"github.com/ishantswami13-crypto/pesa-ledger/internal/transactions"
)

type Router struct {
	AuthHandler         *handlers.AuthHandler
	TransactionsHandler *transactions.Handler
	PaymentsHandler     *payments.Handler
	SummaryHandler      *summary.Handler
	Audit               *audit.Recorder

	// TokenMW authenticates /api/auth/me. AuthMW, when set, also guards the
	// ledger and payment routes.
	TokenMW fiber.Handler
	AuthMW  fiber.Handler
	WriteMW fiber.Handler
	LoginMW fiber.Handler
}

func (r *Router) RegisterRoutes(app *fiber.App) {
	if r.AuthHandler != nil {
		auth := app.Group("/api/auth")
		auth.Post("/register", r.chain(r.LoginMW, r.AuthHandler.Register)...)
		auth.Post("/login", r.chain(r.LoginMW, r.AuthHandler.Login)...)
		if r.TokenMW != nil {
			auth.Get("/me", r.TokenMW, r.AuthHandler.Me)
		}
	}

	if r.TransactionsHandler != nil {
		h := r.TransactionsHandler
		app.Get("/api/transactions/statement.pdf", r.protected(h.StatementPDF)...)
		app.Get("/api/transactions", r.protected(h.List)...)
		app.Post("/api/transactions", r.protected(r.WriteMW, h.Create)...)
		app.Delete("/api/transactions/:id", r.protected(r.WriteMW, h.Delete)...)
		app.Get("/api/balance", r.protected(h.Balance)...)
	}

	if r.SummaryHandler != nil {
		app.Get("/api/summary", r.protected(r.SummaryHandler.GetSummary)...)
	}

	if r.Audit != nil {
		app.Get("/api/audit", r.protected(r.Audit.ListHandler)...)
	}

	if r.PaymentsHandler != nil {
		h := r.PaymentsHandler
		// Daraja calls the callback unauthenticated; it carries its own token.
		app.Get("/api/mpesa/status", h.Status)
		app.Post("/api/mpesa/callback", h.Callback)
		app.Post("/api/mpesa/initiate", r.protected(r.WriteMW, h.Initiate)...)
		app.Get("/api/mpesa/query/:payment_id", r.protected(h.Query)...)
		app.Get("/api/mpesa/payments", r.protected(h.List)...)
	}
}

func (r *Router) protected(hs ...fiber.Handler) []fiber.Handler {
	return r.chain(append([]fiber.Handler{r.AuthMW}, hs...)...)
}

// chain drops unset middleware.
func (r *Router) chain(hs ...fiber.Handler) []fiber.Handler {
	out := make([]fiber.Handler, 0, len(hs))
	for _, h := range hs {
		if h != nil {
			out = append(out, h)
		}
	}
	return out
}
