package handler

import (
	"github.com/dubstudio/api/internal/auth"
	"github.com/dubstudio/api/internal/middleware"
	"github.com/gofiber/fiber/v2"
)

// AuthHandler answers gateway ForwardAuth checks
type AuthHandler struct {
	verifier auth.TokenVerifier
}

func NewAuthHandler(verifier auth.TokenVerifier) *AuthHandler {
	return &AuthHandler{verifier: verifier}
}

// Verify handles GET /auth/verify. It returns 200 with X-User-* headers on
// success and 401 otherwise.
func (h *AuthHandler) Verify(c *fiber.Ctx) error {
	tokenString, ok := middleware.BearerToken(c)
	if !ok || h.verifier == nil {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	claims, err := h.verifier.Validate(tokenString)
	if err != nil {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	c.Set("X-User-Id", claims.Identity())
	c.Set("X-User-Email", claims.Email)
	c.Set("X-User-Name", claims.Name)
	return c.SendStatus(fiber.StatusOK)
}
