package handlers

import (
	"errors"
	"log/slog"
	"time"

	"competition-lifecycle/models"
	"competition-lifecycle/services"
	"competition-lifecycle/utils"

	"github.com/gofiber/fiber/v2"
	fiberutils "github.com/gofiber/fiber/v2/utils"
)

// CompetitionHandler exposes the lifecycle to the bot front end and to operators.
type CompetitionHandler struct {
	svc    *services.CompetitionService
	sched  *services.JobScheduler
	logger *slog.Logger
}

func NewCompetitionHandler(svc *services.CompetitionService, sched *services.JobScheduler, logger *slog.Logger) *CompetitionHandler {
	return &CompetitionHandler{
		svc:    svc,
		sched:  sched,
		logger: utils.ResolveLogger(logger).With("component", "http"),
	}
}

func SetupCompetitionRoutes(app *fiber.App, h *CompetitionHandler) {
	// Host flow
	app.Post("/competitions/polls", h.HostCompetition)
	app.Post("/polls/:id/finalized", h.PollFinalized)

	// Competitions outside the poll flow
	app.Post("/competitions", h.CreateCompetition)
	app.Post("/competitions/:id/link", h.LinkCompetition)
	app.Get("/guilds/:guildId/competitions", h.ListCompetitions)

	// Operator actions
	app.Post("/competitions/reschedule", h.RescheduleAll)
	app.Get("/competitions/:id", h.GetCompetition)
	app.Patch("/competitions/:id/times", h.UpdateTimes)
	app.Post("/competitions/:id/sync", h.SyncTimes)
	app.Delete("/competitions/:id", h.Unlink)
	app.Get("/jobs", h.ListJobs)

	// Guild settings
	app.Get("/guilds/:guildId/settings", h.GetSettings)
	app.Put("/guilds/:guildId/settings", h.SaveSettings)
}

func (h *CompetitionHandler) HostCompetition(c *fiber.Ctx) error {
	var in services.HostInput
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if in.GuildID == "" || in.Type == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "guild_id and type are required"})
	}
	comp, err := h.svc.HostCompetition(c.UserContext(), in)
	if err != nil {
		return h.fail(c, "host competition", err)
	}
	return c.Status(fiber.StatusCreated).JSON(comp)
}

// PollFinalized is called by the chat gateway when a poll closes.
func (h *CompetitionHandler) PollFinalized(c *fiber.Ctx) error {
	pollID := param(c, "id")
	if err := h.svc.OnVoteFinalized(c.UserContext(), pollID); err != nil {
		return h.fail(c, "process finalized poll", err)
	}
	return c.JSON(fiber.Map{"status": "processed", "poll_id": pollID})
}

func (h *CompetitionHandler) CreateCompetition(c *fiber.Ctx) error {
	var in services.ManualInput
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if in.GuildID == "" || in.Metric == "" || in.StartsAt.IsZero() || in.EndsAt.IsZero() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "guild_id, metric, starts_at and ends_at are required"})
	}
	comp, err := h.svc.CreateCompetition(c.UserContext(), in)
	if err != nil {
		return h.fail(c, "create competition", err)
	}
	return c.Status(fiber.StatusCreated).JSON(comp)
}

func (h *CompetitionHandler) LinkCompetition(c *fiber.Ctx) error {
	var in services.LinkInput
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if in.GuildID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "guild_id is required"})
	}
	in.CompetitionID = param(c, "id")
	comp, err := h.svc.LinkCompetition(c.UserContext(), in)
	if err != nil {
		return h.fail(c, "link competition", err)
	}
	return c.JSON(comp)
}

func (h *CompetitionHandler) ListCompetitions(c *fiber.Ctx) error {
	comps, err := h.svc.ListCompetitions(c.UserContext(), param(c, "guildId"))
	if err != nil {
		return h.fail(c, "list competitions", err)
	}
	return c.JSON(fiber.Map{"count": len(comps), "competitions": comps})
}

func (h *CompetitionHandler) RescheduleAll(c *fiber.Ctx) error {
	report, err := h.svc.RescheduleAll(c.UserContext())
	if err != nil {
		return h.fail(c, "reschedule competitions", err)
	}
	return c.JSON(report)
}

func (h *CompetitionHandler) GetCompetition(c *fiber.Ctx) error {
	comp, err := h.svc.Get(c.UserContext(), param(c, "id"))
	if err != nil {
		return h.fail(c, "get competition", err)
	}
	return c.JSON(comp)
}

type timesRequest struct {
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
}

func (h *CompetitionHandler) UpdateTimes(c *fiber.Ctx) error {
	var req timesRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "starts_at and ends_at must be RFC 3339 timestamps"})
	}
	if req.StartsAt.IsZero() || req.EndsAt.IsZero() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "starts_at and ends_at are required"})
	}
	comp, err := h.svc.CancelAndReschedule(c.UserContext(), param(c, "id"), req.StartsAt, req.EndsAt)
	if err != nil {
		return h.fail(c, "reschedule competition", err)
	}
	return c.JSON(comp)
}

func (h *CompetitionHandler) SyncTimes(c *fiber.Ctx) error {
	comp, changed, err := h.svc.SyncTimes(c.UserContext(), param(c, "id"))
	if err != nil {
		return h.fail(c, "sync competition times", err)
	}
	return c.JSON(fiber.Map{"changed": changed, "competition": comp})
}

func (h *CompetitionHandler) Unlink(c *fiber.Ctx) error {
	if err := h.svc.Unlink(c.UserContext(), param(c, "id")); err != nil {
		return h.fail(c, "unlink competition", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *CompetitionHandler) ListJobs(c *fiber.Ctx) error {
	jobs := h.sched.Armed()
	return c.JSON(fiber.Map{"count": len(jobs), "jobs": jobs})
}

func (h *CompetitionHandler) GetSettings(c *fiber.Ctx) error {
	settings, err := h.svc.GetSettings(c.UserContext(), param(c, "guildId"))
	if err != nil {
		return h.fail(c, "get settings", err)
	}
	return c.JSON(settings)
}

func (h *CompetitionHandler) SaveSettings(c *fiber.Ctx) error {
	var settings models.CompetitionSettings
	if err := c.BodyParser(&settings); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	settings.GuildID = param(c, "guildId")
	if err := h.svc.SaveSettings(c.UserContext(), &settings); err != nil {
		return h.fail(c, "save settings", err)
	}
	return c.JSON(settings)
}

// param copies a route parameter out of fiber's reused request buffer so it
// can outlive the handler.
func param(c *fiber.Ctx, name string) string {
	return fiberutils.CopyString(c.Params(name))
}

func (h *CompetitionHandler) fail(c *fiber.Ctx, action string, err error) error {
	status := statusFor(err)
	if status >= fiber.StatusInternalServerError {
		h.logger.Error(action+" failed", "path", c.Path(), "error", err)
	} else {
		h.logger.Warn(action+" rejected", "path", c.Path(), "status", status, "error", err)
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

func statusFor(err error) int {
	var upstream *services.StatusError
	switch {
	case errors.Is(err, services.ErrCompetitionNotFound),
		errors.Is(err, services.ErrVoteNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, services.ErrInvalidTimes),
		errors.Is(err, services.ErrUnknownCompetitionType),
		errors.Is(err, services.ErrUnknownMetric),
		errors.Is(err, services.ErrInvalidSettings),
		errors.Is(err, utils.ErrInvalidStartingHour):
		return fiber.StatusBadRequest
	case errors.Is(err, services.ErrCompetitionUnresolved),
		errors.Is(err, services.ErrMissingVerificationCode),
		errors.Is(err, services.ErrMissingChannel),
		errors.Is(err, services.ErrNotEnoughOptions):
		return fiber.StatusConflict
	case errors.As(err, &upstream):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}
