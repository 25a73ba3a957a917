package middleware

import (
	"strings"

	"github.com/dubstudio/api/internal/auth"
	"github.com/dubstudio/api/pkg/response"
	"github.com/gofiber/fiber/v2"
)

// AuthMiddleware validates bearer tokens against a verifier
type AuthMiddleware struct {
	verifier auth.TokenVerifier
}

func NewAuthMiddleware(verifier auth.TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier}
}

// Authenticate validates the JWT from the Authorization header
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString, ok := BearerToken(c)
		if !ok {
			return response.Unauthorized(c, "Missing or malformed authorization header")
		}
		if m.verifier == nil {
			return response.Unauthorized(c, "Authentication not configured")
		}

		claims, err := m.verifier.Validate(tokenString)
		if err != nil {
			return response.Unauthorized(c, "Invalid or expired token")
		}

		setIdentity(c, claims.Identity(), claims.Email, claims.Name)
		return c.Next()
	}
}

// GatewayAuthMiddleware reads user identity from X-User-* headers
// set by the gateway's ForwardAuth
func GatewayAuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Get("X-User-Id")
		if userID == "" {
			return response.Unauthorized(c, "Missing user identity headers")
		}
		setIdentity(c, userID, c.Get("X-User-Email"), c.Get("X-User-Name"))
		return c.Next()
	}
}

// BearerToken extracts the token from "Authorization: Bearer <token>".
func BearerToken(c *fiber.Ctx) (string, bool) {
	parts := strings.SplitN(c.Get(fiber.HeaderAuthorization), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

func setIdentity(c *fiber.Ctx, userID, email, name string) {
	c.Locals("userId", userID)
	c.Locals("email", email)
	c.Locals("name", name)
}

// GetUserID extracts user ID from context
func GetUserID(c *fiber.Ctx) string {
	if userID, ok := c.Locals("userId").(string); ok {
		return userID
	}
	return ""
}
