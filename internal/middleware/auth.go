package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/example/fulfillment/internal/config"
	"github.com/example/fulfillment/internal/models"
	"github.com/example/fulfillment/internal/utils"
)

const actorContextKey = "currentActor"

// AuthMiddleware validates JWT tokens and loads the authenticated actor
// (user id, role, email) into the request context. The identity rides in the
// token claims, so no user lookup happens per request; disabled accounts are
// rejected at login and age out with the token TTL.
func AuthMiddleware(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing authorization header")
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid authorization header")
		}

		identity, err := utils.ParseToken(cfg.JWTSecret, parts[1])
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid token")
		}

		c.Locals(actorContextKey, models.Actor{
			UserID: identity.UserID,
			Role:   identity.Role,
			Email:  identity.Email,
		})
		return c.Next()
	}
}

// RequireRoles rejects requests whose actor role is not in the allowed set.
// Role checks happen here, before any handler mutation.
func RequireRoles(roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, ok := CurrentActor(c)
		if !ok {
			return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
		}
		for _, role := range roles {
			if actor.Role == role {
				return c.Next()
			}
		}
		return fiber.NewError(fiber.StatusForbidden, "role not permitted for this operation")
	}
}

// CurrentActor extracts the authenticated actor from context.
func CurrentActor(c *fiber.Ctx) (models.Actor, bool) {
	value := c.Locals(actorContextKey)
	if value == nil {
		return models.Actor{}, false
	}

	if actor, ok := value.(models.Actor); ok {
		return actor, true
	}

	return models.Actor{}, false
}
