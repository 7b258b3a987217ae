package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/crewtalk-io/crewtalk-api/internal/chaterr"
	"github.com/crewtalk-io/crewtalk-api/internal/middleware"
	"github.com/crewtalk-io/crewtalk-api/internal/utils"
)

// sendServiceError maps a service failure onto the common response envelope.
func sendServiceError(c *fiber.Ctx, err error) error {
	chatErr := chaterr.From(err)
	return utils.SendError(c, chatErr.Status, chatErr.Msg)
}

// requestContext returns the request context enriched with the correlation id.
func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))
}
