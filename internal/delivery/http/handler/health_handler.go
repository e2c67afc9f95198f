package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/progprogect/steamids-parser/internal/delivery/http/dto"
	"github.com/progprogect/steamids-parser/internal/pkg/response"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type clientCounter interface {
	ClientCount() int
}

// HealthHandler reports dependency health. Only the database is required;
// an unreachable redis is reported but keeps the status at 200.
type HealthHandler struct {
	db    Pinger
	redis Pinger
	hub   clientCounter
	now   func() time.Time
}

func NewHealthHandler(db, redis Pinger, hub clientCounter) *HealthHandler {
	return &HealthHandler{db: db, redis: redis, hub: hub, now: time.Now}
}

func (h *HealthHandler) RegisterRoutes(r fiber.Router) {
	if r == nil {
		return
	}
	r.Get("/health", h.Health)
}

func (h *HealthHandler) Health(c fiber.Ctx) error {
	data := dto.HealthResponse{
		Database:   ping(c.Context(), h.db),
		Redis:      ping(c.Context(), h.redis),
		ServerTime: h.now().UTC(),
	}
	if h.hub != nil {
		data.WSClients = h.hub.ClientCount()
	}

	if !data.Database {
		return response.Error(c, fiber.StatusServiceUnavailable, "Database unavailable", data)
	}
	return response.Success(c, fiber.StatusOK, response.MessageOK, data)
}

func ping(ctx context.Context, p Pinger) bool {
	if p == nil {
		return false
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.Ping(pingCtx) == nil
}
