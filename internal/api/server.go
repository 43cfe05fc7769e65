package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/jayusctrojan/Empire-sub002/internal/coordination"
	"github.com/jayusctrojan/Empire-sub002/internal/stream"
)

// Server represents the API server
type Server struct {
	echo *echo.Echo
	port int
	svc  *coordination.Service
	hub  *stream.Hub
}

// NewServer creates a new API server
func NewServer(port int, svc *coordination.Service, hub *stream.Hub) *Server {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	server := &Server{
		echo: e,
		port: port,
		svc:  svc,
		hub:  hub,
	}

	// Setup routes
	server.setupRoutes()

	return server
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})

	// API v1 group, everything scoped to one workflow execution
	v1 := s.echo.Group("/api/v1/executions/:execution_id")

	// Messaging
	v1.POST("/messages", s.sendMessage)
	v1.POST("/broadcast", s.broadcast)
	v1.POST("/messages/:id/respond", s.respond)

	// Events
	v1.POST("/events", s.publishEvent)
	v1.GET("/events", s.listEvents)

	// State synchronization
	v1.POST("/state", s.syncState)
	v1.GET("/state/:key", s.getState)

	// Conflicts
	v1.POST("/conflicts", s.reportConflict)
	v1.POST("/conflicts/:id/resolve", s.resolveConflict)
	v1.GET("/conflicts", s.listUnresolvedConflicts)

	// Response tracking
	v1.GET("/responses/pending", s.listPendingResponses)

	// Analytics
	v1.GET("/history", s.history)
	v1.GET("/activity", s.activity)
	v1.GET("/timeline", s.timeline)
	v1.GET("/analytics/conflicts", s.conflictAnalytics)
	v1.GET("/analytics/message-flow", s.messageFlow)

	// Live stream
	v1.GET("/stream", s.streamInteractions)
}

// Start begins the API server
func (s *Server) Start() error {
	// Start server in a goroutine
	go func() {
		if err := s.echo.Start(fmt.Sprintf(":%d", s.port)); err != nil && err != http.ErrServerClosed {
			s.echo.Logger.Fatal("shutting down the server")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.echo.Shutdown(ctx)
}
