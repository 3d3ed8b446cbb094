package handlers

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"lab-competition-system/apierr"
	"lab-competition-system/logger"
	"lab-competition-system/services"
)

// SetupParticipantRoutes registers the endpoints used by lab clients and
// the public leaderboard.
func SetupParticipantRoutes(router fiber.Router, comps *services.CompetitionService, leaderboard *services.LeaderboardService, notifier services.UpdateNotifier, log *logger.Logger) {
	api := router.Group("/api")

	api.Post("/start-lab", func(c *fiber.Ctx) error {
		var req services.StartLabRequest
		if err := parseBody(c, &req); err != nil {
			return err
		}
		resp, err := comps.StartLab(c.UserContext(), req)
		if err != nil {
			return err
		}
		return c.JSON(resp)
	})

	api.Post("/end-lab", func(c *fiber.Ctx) error {
		var req services.EndLabRequest
		if err := parseBody(c, &req); err != nil {
			return err
		}
		resp, err := comps.EndLab(c.UserContext(), req)
		if err != nil {
			return err
		}
		return c.JSON(resp)
	})

	api.Get("/get_solutions/:slug", func(c *fiber.Ctx) error {
		board, err := leaderboard.Solutions(c.UserContext(), c.Params("slug"))
		if err != nil {
			return err
		}
		return c.JSON(board)
	})

	api.Get("/get_competition_time/:id", func(c *fiber.Ctx) error {
		t, err := comps.CompetitionTime(c.UserContext(), c.Params("id"))
		if err != nil {
			return err
		}
		return c.JSON(t)
	})

	api.Post("/press_button/:action", func(c *fiber.Ctx) error {
		var req struct {
			CompetitionID string `json:"competition_id" form:"competition_id"`
		}
		if err := parseBody(c, &req); err != nil {
			return err
		}
		if strings.TrimSpace(req.CompetitionID) == "" {
			return apierr.BadRequest("missing_fields", "competition_id is required")
		}
		comp, err := comps.PressButton(c.UserContext(), c.Params("action"), req.CompetitionID)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{
			"competition": comp.Slug,
			"start":       comp.Start,
			"finish":      comp.Finish,
		})
	})

	api.Get("/check_updates", func(c *fiber.Ctx) error {
		last, err := notifier.LastChanged(c.UserContext())
		if err != nil {
			log.Warn("update marker unavailable", "error", err)
			return c.JSON(fiber.Map{"update": false, "updated_at": 0})
		}
		since := int64(c.QueryInt("since", 0))
		updated := !last.IsZero() && last.After(time.Unix(since, 0))
		var updatedAt int64
		if !last.IsZero() {
			updatedAt = last.Unix()
		}
		return c.JSON(fiber.Map{"update": updated, "updated_at": updatedAt})
	})
}
