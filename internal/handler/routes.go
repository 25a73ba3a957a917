package handler

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/dubstudio/api/internal/model"
	ws "github.com/dubstudio/api/internal/websocket"
	"github.com/dubstudio/api/pkg/response"
)

// AppConfig controls the global fiber setup.
type AppConfig struct {
	BodyLimitMB int
	LogLevel    string
	// Quiet disables the request logger (tests).
	Quiet bool
}

// Routes holds everything Register mounts. APIAuth and UploadLimit may be
// nil, in which case the routes are open.
type Routes struct {
	Dubbing     *DubbingHandler
	Auth        *AuthHandler
	Hub         *ws.Hub
	APIAuth     fiber.Handler
	UploadLimit fiber.Handler
	Health      func() fiber.Map
}

// NewApp creates the fiber app with the global middleware stack.
func NewApp(cfg AppConfig) *fiber.App {
	bodyLimit := cfg.BodyLimitMB
	if bodyLimit <= 0 {
		bodyLimit = 110
	}
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    bodyLimit * 1024 * 1024,
	})

	app.Use(recover.New())
	if !cfg.Quiet {
		logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
		if strings.EqualFold(cfg.LogLevel, "debug") {
			logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${reqHeaders}\n"
			log.Println("Debug logging enabled")
		}
		app.Use(logger.New(logger.Config{
			Format: logFormat,
		}))
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))
	return app
}

// Register mounts the HTTP and WebSocket routes.
func Register(app *fiber.App, r Routes) {
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		body := fiber.Map{"status": "ok"}
		if r.Health != nil {
			body["services"] = r.Health()
		}
		return c.JSON(body)
	})

	if r.Auth != nil {
		// ForwardAuth verification endpoint, called by the gateway
		app.Get("/auth/verify", r.Auth.Verify)
	}

	api := app.Group("/api", orNext(r.APIAuth))
	api.Post("/upload", orNext(r.UploadLimit), r.Dubbing.Upload)
	api.Get("/status/:jobId", r.Dubbing.Status)
	api.Get("/result/:jobId", r.Dubbing.Result)
	api.Get("/jobs", r.Dubbing.Jobs)

	if r.Hub == nil {
		return
	}
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
		jobID := c.Params("jobId")
		var snapshot *model.Job
		if job, ok, err := r.Dubbing.service.Job(context.Background(), jobID); err == nil && ok {
			snapshot = &job
		}
		r.Hub.HandleConnection(c, jobID, snapshot)
	}))
}

func orNext(h fiber.Handler) fiber.Handler {
	if h != nil {
		return h
	}
	return func(c *fiber.Ctx) error { return c.Next() }
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	errCode := response.CodeServiceError
	switch code {
	case fiber.StatusNotFound:
		errCode = response.CodeNotFound
	case fiber.StatusRequestEntityTooLarge:
		errCode = response.CodeValidationError
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    errCode,
			"message": message,
		},
	})
}
