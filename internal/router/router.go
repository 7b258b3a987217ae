package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/crewtalk-io/crewtalk-api/internal/config"
	"github.com/crewtalk-io/crewtalk-api/internal/handler"
	"github.com/crewtalk-io/crewtalk-api/internal/middleware"
	"github.com/crewtalk-io/crewtalk-api/internal/models"
	"github.com/crewtalk-io/crewtalk-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	ChatHandler   *handler.ChatHandler
	RosterHandler *handler.RosterHandler
	JWTMiddleware fiber.Handler
}

// Register wires the HTTP routes into the fiber application. The websocket
// upgrade authenticates itself through the query token, so the chat group does
// not sit behind the bearer middleware; the REST read endpoints do.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))

	app.Get("/metrics", observability.MetricsHandler())

	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	if deps.ChatHandler != nil {
		chat := app.Group("/api/v1/chat")
		chat.Use(func(c *fiber.Ctx) error {
			// The websocket route carries its credential in the handshake query.
			if c.Path() == "/api/v1/chat/ws" {
				return c.Next()
			}
			return jwtMiddleware(c)
		})
		deps.ChatHandler.Register(chat)
	}

	if deps.RosterHandler != nil {
		roster := app.Group("/api/v1/roster", jwtMiddleware, middleware.RequireRole(models.RoleAdmin))
		deps.RosterHandler.Register(roster)
	}
}
