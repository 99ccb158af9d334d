// Package server assembles the HTTP application.
package server

import (
	"errors"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/signcast/api/internal/handler"
	"github.com/signcast/api/internal/middleware"
	ws "github.com/signcast/api/internal/websocket"
	"github.com/signcast/api/pkg/response"
)

// Options wires the handlers into routes. RateLimiter and Hub are optional.
type Options struct {
	Translate     *handler.TranslateHandler
	Health        *handler.HealthHandler
	Hub           *ws.Hub
	RateLimiter   *middleware.RateLimiter
	SubmitPerHour int
	OutputDir     string
	AccessLog     bool
}

// NewApp builds the fiber app with every route registered
func NewApp(opts Options) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    50 * 1024 * 1024, // 50MB
	})

	// Global middleware
	app.Use(recover.New())
	if opts.AccessLog {
		app.Use(logger.New(logger.Config{
			Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
		}))
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	// Health
	app.Get("/", opts.Health.Root)
	app.Get("/health", opts.Health.Health)

	// Translation
	app.Post("/translate_audio", opts.RateLimiter.SubmitLimit(opts.SubmitPerHour), opts.Translate.Translate)
	app.Get("/video_status/:jobId", opts.Translate.Status)

	// Rendered videos
	app.Static("/videos", opts.OutputDir, fiber.Static{
		ByteRange: true,
	})

	// WebSocket progress
	if opts.Hub != nil {
		hub := opts.Hub
		app.Use("/ws", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
			hub.HandleConnection(c, c.Params("jobId"))
		}))
	}

	return app
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}

	errCode := response.CodeServiceError
	if code == fiber.StatusNotFound {
		errCode = response.CodeNotFound
	}
	return response.Error(c, code, errCode, message, nil)
}
