package v1

import (
	"github.com/gofiber/fiber/v3"

	"github.com/progprogect/steamids-parser/internal/delivery/http/handler"
	"github.com/progprogect/steamids-parser/internal/delivery/http/middleware"
)

type Handlers struct {
	Jobs *handler.JobHandler
	Auth *middleware.AuthMiddleware
}

func Register(r fiber.Router, h Handlers) {
	if r == nil {
		return
	}

	RegisterJobs(r, h.Jobs, h.Auth)
}
