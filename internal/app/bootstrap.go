package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/progprogect/steamids-parser/internal/config"
	"github.com/progprogect/steamids-parser/internal/delivery/http/handler"
	"github.com/progprogect/steamids-parser/internal/delivery/http/middleware"
	"github.com/progprogect/steamids-parser/internal/delivery/http/routes"
	"github.com/progprogect/steamids-parser/internal/pkg/jwt"
	"github.com/progprogect/steamids-parser/internal/ws"
)

type App struct {
	Fiber     *fiber.App
	Container *Container
}

func New(c *Container) *App {
	f := fiber.New(fiber.Config{AppName: c.Config.App.AppName})

	registerGlobalMiddleware(f, c.Log)
	registerRoutes(f, c)

	return &App{Fiber: f, Container: c}
}

// Bootstrap builds the container and the HTTP app and starts the websocket
// hub. The returned cleanup stops running jobs and closes every resource.
func Bootstrap(ctx context.Context, cfg config.Config, log *logrus.Logger) (*App, func() error, error) {
	c, err := NewContainer(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	go c.Hub.Run(hubCtx)

	if c.JWT == nil {
		log.Warn("CONTROL_JWT_SECRET is empty, control plane is unauthenticated")
	}

	cleanup := func() error {
		err := c.Close()
		stopHub()
		return err
	}
	return New(c), cleanup, nil
}

func registerGlobalMiddleware(app *fiber.App, log logrus.FieldLogger) {
	if app == nil {
		return
	}

	app.Use(middleware.NewAccessLogMiddleware(log).Middleware())
	app.Use(middleware.NewErrorMiddleware(log).Middleware())
}

func registerRoutes(app *fiber.App, c *Container) {
	if app == nil {
		return
	}

	// a nil *HMACService must stay a nil interface so auth is skipped
	var jwtSvc jwt.Service
	if c.JWT != nil {
		jwtSvc = c.JWT
	}

	routes.NewRegistry(
		handler.NewHealthHandler(c.DB, c.Redis, c.Hub),
		ws.NewHandler(c.Hub, c.Log),
		handler.NewJobHandler(c.Jobs, c.Log),
		middleware.NewAuthMiddleware(jwtSvc),
	).Register(app)
}

func ListenAddr(port string) (string, error) {
	p := strings.TrimSpace(port)
	if p == "" {
		return "", fmt.Errorf("empty HTTP port")
	}
	if strings.HasPrefix(p, ":") {
		return p, nil
	}
	return ":" + p, nil
}
