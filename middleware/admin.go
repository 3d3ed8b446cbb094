// middleware/admin.go
package middleware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"lab-competition-system/logger"
	"lab-competition-system/models"
)

const AdminUserKey = "admin_user"

// AdminContextMiddleware requires X-User-ID to name a staff user (by id
// or username) and stores that user in the request locals.
func AdminContextMiddleware(db *gorm.DB, log *logger.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ref := strings.TrimSpace(c.Get("X-User-ID"))
		if ref == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-User-ID",
				"code":  "unauthorized",
			})
		}

		var user models.User
		err := db.WithContext(c.UserContext()).Where("id = ? OR username = ?", ref, ref).First(&user).Error
		if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && !user.IsStaff) {
			log.Warn("admin access denied", "user", ref, "path", c.Path())
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "admin access required",
				"code":  "forbidden",
			})
		}
		if err != nil {
			return err
		}

		c.Locals(AdminUserKey, &user)
		log.Debug("admin request", "username", user.Username, "method", c.Method(), "path", c.Path())
		return c.Next()
	}
}
