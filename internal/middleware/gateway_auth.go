package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/reelforge/api/internal/auth"
	"github.com/reelforge/api/pkg/response"
)

// GatewayAuth reads user identity from X-User-* headers
// set by Traefik ForwardAuth and populates Fiber context locals.
func GatewayAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Get("X-User-Id")
		if userID == "" {
			return response.Unauthorized(c, "Missing user identity headers")
		}

		identity := &auth.Identity{
			UserID: userID,
			Email:  c.Get("X-User-Email"),
			Name:   c.Get("X-User-Name"),
		}
		if roles := c.Get("X-User-Roles"); roles != "" {
			for _, r := range strings.Split(roles, ",") {
				if r = strings.TrimSpace(r); r != "" {
					identity.Roles = append(identity.Roles, r)
				}
			}
		}

		setIdentity(c, identity)
		return c.Next()
	}
}
