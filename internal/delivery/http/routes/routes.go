package routes

import (
	"github.com/gofiber/fiber/v3"

	"github.com/progprogect/steamids-parser/internal/delivery/http/handler"
	"github.com/progprogect/steamids-parser/internal/delivery/http/middleware"
	v1 "github.com/progprogect/steamids-parser/internal/delivery/http/routes/v1"
	"github.com/progprogect/steamids-parser/internal/ws"
)

type Registry struct {
	health *handler.HealthHandler
	ws     *ws.Handler
	v1     v1.Handlers
}

func NewRegistry(health *handler.HealthHandler, wsHandler *ws.Handler, jobs *handler.JobHandler, auth *middleware.AuthMiddleware) *Registry {
	return &Registry{
		health: health,
		ws:     wsHandler,
		v1:     v1.Handlers{Jobs: jobs, Auth: auth},
	}
}

func (r *Registry) Register(app *fiber.App) {
	if app == nil {
		return
	}

	r.health.RegisterRoutes(app)
	r.ws.RegisterRoutes(app)
	r.registerAPI(app)
}

func (r *Registry) registerAPI(app *fiber.App) {
	api := app.Group("/api")
	RegisterV1(api.Group("/v1"), r.v1)
}
