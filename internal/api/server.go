// Package api serves the medication and reminder HTTP API.
package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hray3182/medline/internal/engine"
	"github.com/hray3182/medline/internal/metrics"
	"go.uber.org/zap"
)

// Server handles the HTTP API
type Server struct {
	app     *fiber.App
	engine  *engine.Engine
	metrics *metrics.Metrics
	logger  *zap.Logger
	started time.Time
}

func New(eng *engine.Engine, m *metrics.Metrics, log *zap.Logger) *Server {
	app := fiber.New(fiber.Config{
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		IdleTimeout:           120 * time.Second,
		DisableStartupMessage: true,
	})

	s := &Server{
		app:     app,
		engine:  eng,
		metrics: m,
		logger:  log,
		started: time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.app.Use(recover.New())
	s.app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	s.app.Use(cors.New(cors.Config{
		AllowHeaders: "Origin, Content-Type, Accept",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))

	s.app.Get("/api/health", s.handleHealth)
	if s.metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))
	}

	api := s.app.Group("/api")

	api.Get("/medications", s.handleListMedications)
	api.Post("/medications", s.handleCreateMedication)
	api.Get("/medications/:id", s.handleGetMedication)
	api.Put("/medications/:id", s.handleUpdateMedication)
	api.Delete("/medications/:id", s.handleDeleteMedication)
	api.Post("/medications/:id/activate", s.handleSetActive(true))
	api.Post("/medications/:id/deactivate", s.handleSetActive(false))

	api.Get("/medications/:id/alarms", s.handleMedicationAlarms)
	api.Post("/medications/:id/reschedule", s.handleReschedule)
	api.Get("/medications/:id/occurrences", s.handleOccurrences)
	api.Get("/medications/:id/history", s.handleHistory)
	api.Get("/medications/:id/adherence", s.handleAdherence)
	api.Post("/medications/:id/ack", s.handleAck)

	api.Get("/alarms", s.handleUpcoming)
	api.Get("/stats", s.handleStats)
	api.Get("/summary", s.handleSummary)
	api.Get("/calendar.ics", s.handleCalendar)
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start listens on addr until ctx is done.
func (s *Server) Start(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", zap.String("addr", addr))
		errCh <- s.app.Listen(addr)
	}()

	select {
	case <-ctx.Done():
		return s.app.ShutdownWithTimeout(5 * time.Second)
	case err := <-errCh:
		return err
	}
}
