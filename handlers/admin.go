package handlers

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"lab-competition-system/logger"
	"lab-competition-system/middleware"
	"lab-competition-system/services"
)

// SetupAdminRoutes registers the administrative endpoints behind the
// admin context check.
func SetupAdminRoutes(
	router fiber.Router,
	db *gorm.DB,
	labs *services.LabService,
	comps *services.CompetitionService,
	kkz *services.KkzService,
	teams *services.TeamService,
	users *services.UserService,
	log *logger.Logger,
) {
	admin := router.Group("/admin", middleware.AdminContextMiddleware(db, log))

	// Labs
	admin.Get("/labs", func(c *fiber.Ctx) error {
		list, err := labs.List(c.UserContext())
		if err != nil {
			return err
		}
		return c.JSON(list)
	})
	admin.Post("/labs", func(c *fiber.Ctx) error {
		var in services.LabInput
		if err := parseBody(c, &in); err != nil {
			return err
		}
		lab, err := labs.CreateLab(c.UserContext(), in)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(lab)
	})

	// Competitions
	admin.Post("/competitions", func(c *fiber.Ctx) error {
		var in services.CompetitionInput
		if err := parseBody(c, &in); err != nil {
			return err
		}
		comp, err := comps.CreateCompetition(c.UserContext(), in)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(comp)
	})
	admin.Get("/competitions/:id", func(c *fiber.Ctx) error {
		comp, err := comps.Get(c.UserContext(), c.Params("id"))
		if err != nil {
			return err
		}
		return c.JSON(comp)
	})
	admin.Post("/competitions/:id/resolve", func(c *fiber.Ctx) error {
		res, err := comps.ResolveParticipants(c.UserContext(), c.Params("id"))
		if err != nil {
			return err
		}
		return c.JSON(res)
	})
	admin.Delete("/competitions/:id", func(c *fiber.Ctx) error {
		n, err := comps.DeleteCompetition(c.UserContext(), c.Params("id"))
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"deleted": true, "assignments": n})
	})

	// Exam sets
	admin.Post("/kkz", func(c *fiber.Ctx) error {
		var in services.KkzInput
		if err := parseBody(c, &in); err != nil {
			return err
		}
		set, created, err := kkz.CreateKkz(c.UserContext(), in)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"kkz": set, "competitions": created})
	})

	// Platoons, teams, users
	admin.Post("/platoons", func(c *fiber.Ctx) error {
		var in services.PlatoonInput
		if err := parseBody(c, &in); err != nil {
			return err
		}
		p, err := users.CreatePlatoon(c.UserContext(), in)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(p)
	})
	admin.Post("/teams", func(c *fiber.Ctx) error {
		var in services.TeamInput
		if err := parseBody(c, &in); err != nil {
			return err
		}
		team, err := teams.CreateTeam(c.UserContext(), in)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(team)
	})
	admin.Post("/users", func(c *fiber.Ctx) error {
		var in services.UserInput
		if err := parseBody(c, &in); err != nil {
			return err
		}
		user, status, err := users.CreateUser(c.UserContext(), in)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"user": user, "credentials": status})
	})
	admin.Delete("/users/:id", func(c *fiber.Ctx) error {
		status, err := users.DeleteUser(c.UserContext(), c.Params("id"))
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"deleted": true, "credentials": status})
	})
}
