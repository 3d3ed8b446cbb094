package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"lab-competition-system/apierr"
	"lab-competition-system/logger"
)

// NewApp returns a fiber app that renders every error as
// {"error": message, "code": code}.
func NewApp(log *logger.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "lab-competition-system",
		BodyLimit:    4 * 1024 * 1024,
		ErrorHandler: ErrorHandler(log),
	})
	app.Use(recover.New())
	return app
}

func ErrorHandler(log *logger.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		if ae, ok := apierr.As(err); ok {
			return c.Status(ae.Status).JSON(fiber.Map{"error": ae.Error(), "code": ae.Code})
		}
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message, "code": "http_error"})
		}
		log.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error", "code": "internal"})
	}
}

func parseBody(c *fiber.Ctx, out interface{}) error {
	if err := c.BodyParser(out); err != nil {
		return apierr.BadRequest("invalid_body", "request body could not be parsed")
	}
	return nil
}
