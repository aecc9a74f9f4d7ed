package middleware

import (
	"strings"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/reelforge/api/internal/auth"
	"github.com/reelforge/api/pkg/response"
)

// AuthMiddleware handles bearer token authentication
type AuthMiddleware struct {
	verifier auth.TokenVerifier
}

// NewAuthMiddleware accepts any verifier; pass an auth.Chain to try JWKS before the shared secret
func NewAuthMiddleware(verifier auth.TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier}
}

// Authenticate validates the token from the Authorization header. Browsers
// cannot set headers on a WebSocket upgrade, so upgrades may pass ?token= instead.
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if m.verifier == nil {
			return response.Unauthorized(c, "Authentication not configured")
		}

		token := ""
		authHeader := c.Get("Authorization")
		switch {
		case authHeader != "":
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				return response.Unauthorized(c, "Invalid authorization header format")
			}
			token = parts[1]
		case websocket.IsWebSocketUpgrade(c) && c.Query("token") != "":
			token = c.Query("token")
		default:
			return response.Unauthorized(c, "Missing authorization header")
		}

		identity, err := m.verifier.Verify(token)
		if err != nil {
			return response.Unauthorized(c, "Invalid or expired token")
		}

		setIdentity(c, identity)
		return c.Next()
	}
}

func setIdentity(c *fiber.Ctx, identity *auth.Identity) {
	c.Locals("userId", identity.UserID)
	c.Locals("email", identity.Email)
	c.Locals("name", identity.Name)
	c.Locals("identity", identity)
}

// GetUserID extracts user ID from context
func GetUserID(c *fiber.Ctx) string {
	if userID, ok := c.Locals("userId").(string); ok {
		return userID
	}
	return ""
}

// GetUserEmail extracts user email from context
func GetUserEmail(c *fiber.Ctx) string {
	if email, ok := c.Locals("email").(string); ok {
		return email
	}
	return ""
}

// GetIdentity returns the full identity set by Authenticate or GatewayAuth
func GetIdentity(c *fiber.Ctx) *auth.Identity {
	if identity, ok := c.Locals("identity").(*auth.Identity); ok {
		return identity
	}
	return nil
}
