package handler

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/reelforge/api/internal/auth"
)

// AuthHandler handles ForwardAuth verification for the API gateway
type AuthHandler struct {
	verifier auth.TokenVerifier
}

func NewAuthHandler(verifier auth.TokenVerifier) *AuthHandler {
	return &AuthHandler{verifier: verifier}
}

// Verify handles GET /auth/verify, called by Traefik ForwardAuth.
// Returns 200 with X-User-* headers on success, 401 on failure.
func (h *AuthHandler) Verify(c *fiber.Ctx) error {
	if h.verifier == nil {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	parts := strings.SplitN(c.Get("Authorization"), " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	identity, err := h.verifier.Verify(parts[1])
	if err != nil {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	c.Set("X-User-Id", identity.UserID)
	c.Set("X-User-Email", identity.Email)
	c.Set("X-User-Name", identity.Name)
	if len(identity.Roles) > 0 {
		c.Set("X-User-Roles", strings.Join(identity.Roles, ","))
	}
	return c.SendStatus(fiber.StatusOK)
}
