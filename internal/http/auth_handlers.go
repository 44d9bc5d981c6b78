package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ishantswami13-crypto/pesa-ledger/internal/auth"
)

type AuthHandler struct {
	Users  *auth.Store
	Tokens *auth.Tokens
	Log    *zap.Logger
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var body credentialsRequest
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}

	u, err := h.Users.Register(c.UserContext(), body.Email, body.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidEmail):
		return fiber.NewError(fiber.StatusBadRequest, "Invalid email address")
	case errors.Is(err, auth.ErrWeakPassword):
		return fiber.NewError(fiber.StatusBadRequest, "Password must be between 8 and 72 characters")
	case errors.Is(err, auth.ErrEmailTaken):
		return fiber.NewError(fiber.StatusConflict, "Email already registered")
	case err != nil:
		h.Log.Error("Error registering user", zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "could not create user")
	}

	return h.respondWithToken(c, fiber.StatusCreated, u)
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var body credentialsRequest
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}

	u, err := h.Users.Authenticate(c.UserContext(), body.Email, body.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return fiber.NewError(fiber.StatusUnauthorized, "invalid credentials")
	case err != nil:
		h.Log.Error("Error logging in", zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "internal error")
	}

	return h.respondWithToken(c, fiber.StatusOK, u)
}

func (h *AuthHandler) Me(c *fiber.Ctx) error {
	id, ok := UserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "missing token")
	}

	u, err := h.Users.Get(c.UserContext(), id)
	switch {
	case errors.Is(err, auth.ErrNotFound):
		return fiber.NewError(fiber.StatusUnauthorized, "invalid token")
	case err != nil:
		h.Log.Error("Error loading user", zap.Int64("id", id), zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "internal error")
	}

	return c.JSON(fiber.Map{"success": true, "user": u})
}

func (h *AuthHandler) respondWithToken(c *fiber.Ctx, status int, u auth.User) error {
	token, err := h.Tokens.Issue(u.ID)
	if err != nil {
		h.Log.Error("Error signing token", zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "could not create token")
	}
	return c.Status(status).JSON(fiber.Map{
		"success": true,
		"user":    u,
		"token":   token,
	})
}
