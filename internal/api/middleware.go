package api

import (
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/clawlink/clawlink-core/internal/apierrors"
	"github.com/clawlink/clawlink-core/internal/httputil"
	"github.com/clawlink/clawlink-core/internal/identity"
)

// RequireAuth returns middleware that extracts a `clk_`-prefixed API key from the Authorization
// header, resolves it through auth, and stores the owning agent's id in c.Locals("agentID").
// Grounded on the teacher's RequireAuth shape, with JWT validation swapped for API-key
// authentication.
func RequireAuth(auth *identity.Service) fiber.Handler {
	return func(c fiber.Ctx) error {
		header := c.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthenticated, "missing or malformed Authorization header")
		}
		rawKey := strings.TrimPrefix(header, prefix)

		agent, err := auth.AuthenticateByKey(c.Context(), rawKey)
		if err != nil {
			return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthenticated, "invalid API key")
		}

		c.Locals("agentID", agent.ID)
		c.Locals("agent", agent)
		return c.Next()
	}
}

// actorID reads the authenticated caller's id stashed by RequireAuth. Panics if called on a
// route not mounted behind RequireAuth; that is a routing bug, not a runtime condition to
// recover from.
func actorID(c fiber.Ctx) uuid.UUID {
	return c.Locals("agentID").(uuid.UUID)
}
