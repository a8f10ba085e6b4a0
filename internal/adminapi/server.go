// Package adminapi exposes the thin HTTP/WebSocket boundary 
// describes: spawn/stop/sendInput/interrupt/getOutput over REST, and the
// Manager's unified event stream over a single WebSocket. It is a thin
// shell — all orchestration logic lives in internal/agentsup.
package adminapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kandev/agentrelay/internal/agentsup"
	"github.com/kandev/agentrelay/internal/logging"
)

// Server wraps a gin.Engine and the http.Server serving it.
type Server struct {
	engine    *gin.Engine
	http      *http.Server
	log       *logging.Logger
	manager   *agentsup.Manager
	broadcast *eventBroadcaster
}

// New builds a Server bound to addr (host:port), routing every request
// through manager.
func New(addr string, manager *agentsup.Manager, log *logging.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(requestLogger(log), gin.Recovery())

	broadcast := newEventBroadcaster(log, manager, 64)
	h := &handlers{manager: manager, log: log, broadcast: broadcast}
	registerRoutes(engine, h)

	return &Server{
		engine:    engine,
		log:       log,
		manager:   manager,
		broadcast: broadcast,
		http: &http.Server{
			Addr:              addr,
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// ListenAndServe blocks serving HTTP until the server is shut down or an
// unrecoverable error occurs.
func (s *Server) ListenAndServe() error {
	s.log.Info("adminapi listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("adminapi: serve: %w", err)
	}
	return nil
}

// Shutdown gracefully drains in-flight requests, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Subscribe returns an additional fan-out feed of the Manager's event
// stream, for collaborators other than the websocket handlers (e.g. an
// eventbridge publisher) that must not compete directly with dashboard
// connections for the same underlying channel.
func (s *Server) Subscribe() (id uint64, events <-chan agentsup.Event) {
	return s.broadcast.subscribe()
}

// Unsubscribe releases a feed obtained from Subscribe.
func (s *Server) Unsubscribe(id uint64) {
	s.broadcast.unsubscribe(id)
}

func requestLogger(log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("adminapi request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

func registerRoutes(router *gin.Engine, h *handlers) {
	api := router.Group("/api/v1/agents")
	api.POST("", h.spawn)
	api.GET("", h.list)
	api.POST("/:agentId/stop", h.stop)
	api.POST("/:agentId/input", h.sendInput)
	api.POST("/:agentId/interrupt", h.interrupt)
	api.GET("/:agentId/output", h.getOutput)

	router.GET("/ws/events", h.eventsWS)
}
