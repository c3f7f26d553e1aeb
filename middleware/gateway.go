package middleware

import (
	"crypto/subtle"
	"log/slog"
	"strings"

	"competition-lifecycle/utils"

	"github.com/gofiber/fiber/v2"
)

// GatewayAuthMiddleware accepts only requests carrying the shared gateway
// token, either as "Bearer <token>" or as the raw Authorization value.
func GatewayAuthMiddleware(expectedToken string, logger *slog.Logger) fiber.Handler {
	log := utils.ResolveLogger(logger).With("component", "gateway_auth")
	expected := []byte(expectedToken)

	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			log.Warn("missing authorization header", "path", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "gateway authentication token missing",
			})
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if len(expected) == 0 || subtle.ConstantTimeCompare([]byte(token), expected) != 1 {
			log.Warn("invalid gateway token", "path", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid gateway authentication token",
			})
		}

		log.Debug("gateway request accepted", "method", c.Method(), "path", c.Path())
		return c.Next()
	}
}
