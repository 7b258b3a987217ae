package handler

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/crewtalk-io/crewtalk-api/internal/dto"
	"github.com/crewtalk-io/crewtalk-api/internal/middleware"
	"github.com/crewtalk-io/crewtalk-api/internal/service"
	"github.com/crewtalk-io/crewtalk-api/internal/utils"
)

// ChatHandler wires the websocket upgrade and the REST read endpoints around
// the chat session protocol.
type ChatHandler struct {
	session   service.ChatSessionService
	messages  service.MessageService
	groups    service.GroupService
	validator *validator.Validate
	jwtSecret string
	logger    zerolog.Logger
}

// NewChatHandler creates a chat handler instance.
func NewChatHandler(
	session service.ChatSessionService,
	messages service.MessageService,
	groups service.GroupService,
	validate *validator.Validate,
	jwtSecret string,
	logger zerolog.Logger,
) *ChatHandler {
	return &ChatHandler{
		session:   session,
		messages:  messages,
		groups:    groups,
		validator: validate,
		jwtSecret: jwtSecret,
		logger:    logger.With().Str("component", "chat_handler").Logger(),
	}
}

// Register binds chat routes under the provided router group. The websocket
// gate authenticates the ?token= credential before the upgrade completes, so
// an invalid token is refused at handshake time, never after.
func (h *ChatHandler) Register(router fiber.Router) {
	router.Use("/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}

		token := strings.TrimSpace(c.Query("token"))
		if token == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, "token required")
		}

		identity, err := middleware.ParseIdentity(token, h.jwtSecret)
		if err != nil {
			h.logger.Warn().Err(err).Msg("websocket handshake refused")
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid token")
		}

		ctx := c.UserContext()
		if ctx == nil {
			ctx = context.Background()
		}
		ctx = middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))

		c.Locals("identity", identity)
		c.Locals("request_ctx", ctx)
		return c.Next()
	})

	router.Get("/ws", websocket.New(h.handleConnection))
	router.Get("/history", h.history)
	router.Get("/rooms/:id/events", h.roomEvents)
}

func (h *ChatHandler) handleConnection(conn *websocket.Conn) {
	identity, ok := conn.Locals("identity").(middleware.Identity)
	if !ok || identity.ID == "" {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(fiber.StatusUnauthorized, "identity missing"))
		_ = conn.Close()
		return
	}

	baseCtx, _ := conn.Locals("request_ctx").(context.Context)

	h.logger.Info().Str("user_id", identity.ID).Msg("chat websocket connected")
	h.session.ServeConnection(baseCtx, conn, identity)
	h.logger.Info().Str("user_id", identity.ID).Msg("chat websocket disconnected")
}

func (h *ChatHandler) history(c *fiber.Ctx) error {
	roomID := c.Query("room_id")
	if roomID == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "room_id required")
	}

	var beforePtr *time.Time
	if before := c.Query("before"); before != "" {
		parsed, err := time.Parse(time.RFC3339, before)
		if err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid before timestamp")
		}
		beforePtr = &parsed
	}

	limit := 0
	if limitRaw := c.Query("limit"); limitRaw != "" {
		parsed, err := strconv.Atoi(limitRaw)
		if err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
		}
		limit = parsed
	}

	query := dto.ChatHistoryQuery{
		RoomID: roomID,
		Before: beforePtr,
		Limit:  limit,
	}

	messages, err := h.messages.History(requestContext(c), query)
	if err != nil {
		return sendServiceError(c, err)
	}

	return utils.SendSuccess(c, "chat history", messages)
}

func (h *ChatHandler) roomEvents(c *fiber.Ctx) error {
	roomID := c.Params("id")
	if err := h.validator.Var(roomID, "required,uuid4"); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid room id")
	}

	limit := 0
	if limitRaw := c.Query("limit"); limitRaw != "" {
		parsed, err := strconv.Atoi(limitRaw)
		if err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
		}
		limit = parsed
	}

	entries, err := h.groups.AuditLog(requestContext(c), roomID, limit)
	if err != nil {
		return sendServiceError(c, err)
	}

	return utils.SendSuccess(c, "room events", entries)
}
