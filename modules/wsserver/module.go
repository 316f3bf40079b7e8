// Package wsserver exposes the WebSocket transport and the small REST
// surface around it.
package wsserver

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-monolith/mono/pkg/types"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/example/chat-fanout-demo/modules/fanout"
	"github.com/example/chat-fanout-demo/modules/identity"
	"github.com/example/chat-fanout-demo/modules/presence"
)

// Module implements the WebSocket server module using Fiber framework.
type Module struct {
	app            *fiber.App
	handlers       *Handlers
	addr           string
	identityModule *identity.Module
	fanoutModule   *fanout.Module
	presenceModule *presence.Module
	logger         types.Logger
}

// NewModule creates a new WebSocket server module.
func NewModule(addr string, identityModule *identity.Module, fanoutModule *fanout.Module, presenceModule *presence.Module, moduleLogger types.Logger) *Module {
	return &Module{
		addr:           addr,
		identityModule: identityModule,
		fanoutModule:   fanoutModule,
		presenceModule: presenceModule,
		logger:         moduleLogger,
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "ws-server"
}

// Dependencies declares the modules that must start first.
func (m *Module) Dependencies() []string {
	return []string{"identity", "fanout", "presence"}
}

// Start initializes and starts the WebSocket server.
func (m *Module) Start(ctx context.Context) error {
	// Create Fiber app with custom config
	m.app = fiber.New(fiber.Config{
		AppName:               "Chat Fanout Demo",
		DisableStartupMessage: true,
		ErrorHandler:          m.errorHandler,
	})

	// Add middleware
	m.app.Use(recover.New())
	m.app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} ${method} ${path} ${latency}\n",
	}))

	// CORS configuration
	allowedOrigins := os.Getenv("CORS_ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		allowedOrigins = "http://localhost:3000,http://localhost:8080"
	}
	m.app.Use(cors.New(cors.Config{
		AllowOrigins: allowedOrigins,
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Content-Type,Authorization",
	}))

	// Create handlers
	m.handlers = NewHandlers(
		m.identityModule.Verifier(),
		m.fanoutModule.Registry(),
		m.fanoutModule.Broadcaster(),
		m.presenceModule.Tracker(),
	)

	// Register routes
	m.registerRoutes()

	// Start server in goroutine with startup error detection
	errCh := make(chan error, 1)
	go func() {
		if err := m.app.Listen(m.addr); err != nil {
			errCh <- err
		}
	}()

	// Wait briefly to catch immediate startup errors
	select {
	case err := <-errCh:
		return fmt.Errorf("WebSocket server failed to start: %w", err)
	case <-time.After(100 * time.Millisecond):
		// Server started successfully
	}

	m.logger.Info("WebSocket server started", "addr", m.addr)
	return nil
}

// Stop gracefully shuts down the WebSocket server.
func (m *Module) Stop(ctx context.Context) error {
	if m.app != nil {
		if err := m.app.ShutdownWithContext(ctx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
	}
	m.logger.Info("WebSocket server stopped")
	return nil
}

// registerRoutes sets up all HTTP and WebSocket routes.
func (m *Module) registerRoutes() {
	m.handlers.mount(m.app)
}

// errorHandler handles errors globally.
func (m *Module) errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	m.logger.Error("HTTP error", "code", code, "message", message, "error", err)

	return c.Status(code).JSON(fiber.Map{
		"error": message,
	})
}
