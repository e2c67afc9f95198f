package v1

import (
	"github.com/gofiber/fiber/v3"

	"github.com/progprogect/steamids-parser/internal/delivery/http/handler"
	"github.com/progprogect/steamids-parser/internal/delivery/http/middleware"
)

func RegisterJobs(r fiber.Router, jobHandler *handler.JobHandler, auth *middleware.AuthMiddleware) {
	if r == nil || jobHandler == nil {
		return
	}

	jobs := r.Group("/jobs", auth.Middleware())
	jobHandler.RegisterRoutes(jobs)
}
