// Package api exposes the engine's operations over HTTP for hosts that embed
// engram as a sidecar rather than a library.
package api

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/engramlabs/engram/pkg/engine"
)

// Config holds API server settings.
type Config struct {
	ListenAddr string
}

// Server is the HTTP API server for the engram memory engine.
type Server struct {
	config Config
	engine *engine.Engine
	logger *zap.Logger
	app    *fiber.App
}

// ErrorResponse is the JSON error envelope returned by every handler.
type ErrorResponse struct {
	Error string `json:"error"`
}

// NewServer creates a new API server around an already-assembled engine.
func NewServer(config Config, eng *engine.Engine, logger *zap.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config: config,
		engine: eng,
		logger: logger,
		app:    app,
	}

	app.Get("/ping", s.handlePing)

	app.Post("/episodes", s.handleRecordEpisode)
	app.Post("/context", s.handleGetContext)

	app.Get("/search", s.handleSearch)
	app.Post("/facts", s.handleRememberFact)
	app.Get("/facts/low-confidence", s.handleListLowConfidence)
	app.Post("/facts/:id/correct", s.handleCorrectFact)
	app.Post("/facts/:id/confirm", s.handleConfirmFact)
	app.Get("/facts/:id/explain", s.handleExplain)

	app.Get("/entities/:name", s.handleEntityProfile)
	app.Get("/stats", s.handleStats)

	app.Post("/maintenance/:task", s.handleMaintain)

	return s
}

// Mount attaches an extra handler at the given path, used to co-host the MCP
// endpoint on the API listener.
func (s *Server) Mount(path string, handler fiber.Handler) {
	s.app.All(path, handler)
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server",
		zap.String("listen", s.config.ListenAddr),
	)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
