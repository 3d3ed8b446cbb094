// middleware/api_token.go
package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"

	"lab-competition-system/logger"
)

// APITokenMiddleware checks the shared service token sent as a Bearer
// token. An empty expected token disables the check.
func APITokenMiddleware(expected string, log *logger.Logger) fiber.Handler {
	if expected == "" {
		log.Warn("API_TOKEN is not set, API token check disabled")
		return func(c *fiber.Ctx) error { return c.Next() }
	}

	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			log.Debug("missing authorization header", "path", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "authentication token missing",
				"code":  "unauthorized",
			})
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
			log.Warn("invalid API token", "path", c.Path(), "ip", c.IP())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid authentication token",
				"code":  "unauthorized",
			})
		}
		return c.Next()
	}
}
