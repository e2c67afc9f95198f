package middleware

import (
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/progprogect/steamids-parser/internal/pkg/logging"
)

const HeaderRequestID = "X-Request-ID"

type AccessLogMiddleware struct {
	log logrus.FieldLogger
}

func NewAccessLogMiddleware(log logrus.FieldLogger) *AccessLogMiddleware {
	return &AccessLogMiddleware{log: logging.OrStandard(log).WithField("component", "http")}
}

func (m *AccessLogMiddleware) Middleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		start := time.Now()

		rid := c.Get(HeaderRequestID)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(HeaderRequestID, rid)

		err := c.Next()

		m.log.WithFields(logrus.Fields{
			"rid":        rid,
			"ip":         c.IP(),
			"method":     c.Method(),
			"path":       c.OriginalURL(),
			"status":     c.Response().StatusCode(),
			"latency":    time.Since(start).Round(time.Microsecond),
			"resp_bytes": len(c.Response().Body()),
			"ua":         c.Get("User-Agent"),
		}).Info("http access")

		return err
	}
}
