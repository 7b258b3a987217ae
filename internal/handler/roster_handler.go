package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/crewtalk-io/crewtalk-api/internal/dto"
	"github.com/crewtalk-io/crewtalk-api/internal/service"
	"github.com/crewtalk-io/crewtalk-api/internal/utils"
)

// RosterHandler exposes the provisioning surface: manager assignments and the
// admin direct-room bootstrap run over REST, not over the event channel.
type RosterHandler struct {
	roster service.RosterService
	logger zerolog.Logger
}

// NewRosterHandler creates a roster handler instance.
func NewRosterHandler(roster service.RosterService, logger zerolog.Logger) *RosterHandler {
	return &RosterHandler{
		roster: roster,
		logger: logger.With().Str("component", "roster_handler").Logger(),
	}
}

// Register binds roster routes under the provided router group.
func (h *RosterHandler) Register(router fiber.Router) {
	router.Post("/managers", h.assignManager)
	router.Delete("/managers", h.unassignManager)
	router.Post("/users/:id/rooms", h.provisionRooms)
}

func (h *RosterHandler) assignManager(c *fiber.Ctx) error {
	var req dto.ManagerAssignmentRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	message, err := h.roster.AssignManager(requestContext(c), req)
	if err != nil {
		return sendServiceError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, message, nil)
}

func (h *RosterHandler) unassignManager(c *fiber.Ctx) error {
	var req dto.ManagerAssignmentRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	message, err := h.roster.UnassignManager(requestContext(c), req)
	if err != nil {
		return sendServiceError(c, err)
	}

	return utils.SendSuccess(c, message, nil)
}

func (h *RosterHandler) provisionRooms(c *fiber.Ctx) error {
	userID := c.Params("id")
	if userID == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "user id required")
	}

	if err := h.roster.ProvisionDirectRooms(requestContext(c), userID); err != nil {
		return sendServiceError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "direct rooms provisioned", nil)
}
