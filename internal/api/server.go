// Package api provides the HTTP REST and WebSocket surface over the
// bridge and session manager.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/juncture-dev/juncture/internal/bridge"
	"github.com/juncture-dev/juncture/internal/common/httpmw"
	"github.com/juncture-dev/juncture/internal/common/logger"
	"github.com/juncture-dev/juncture/internal/session"
)

// Server is the HTTP API server
type Server struct {
	bridge   *bridge.Bridge
	sessions *session.Manager
	logger   *logger.Logger
	router   *gin.Engine

	upgrader websocket.Upgrader
}

// NewServer creates a new API server
func NewServer(br *bridge.Bridge, sessions *session.Manager, log *logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		bridge:   br,
		sessions: sessions,
		logger:   log.WithFields(zap.String("component", "api-server")),
		router:   gin.New(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // local-only server
			},
		},
	}

	s.setupRoutes()
	return s
}

// Router returns the HTTP router
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery())
	s.router.Use(httpmw.RequestLogger(s.logger, "api"))
	s.router.Use(httpmw.OtelTracing("api"))

	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api/v1")
	{
		// Agent connection control
		api.POST("/bridge/connect", s.handleConnect)
		api.POST("/bridge/disconnect", s.handleDisconnect)
		api.GET("/bridge/status", s.handleBridgeStatus)

		// Turn lifecycle
		api.POST("/prompt", s.handlePrompt)
		api.POST("/prompt/regenerate", s.handleRegenerate)
		api.POST("/turn/cancel", s.handleCancelTurn)

		api.GET("/models", s.handleListModels)

		// Session CRUD
		api.GET("/sessions", s.handleListSessions)
		api.POST("/sessions", s.handleCreateSession)
		api.POST("/sessions/select", s.handleSelectSession)
		api.PATCH("/sessions/:id", s.handleUpdateSession)
		api.DELETE("/sessions/:id", s.handleDeleteSession)
		api.GET("/sessions/:id/export", s.handleExportSession)

		// Event stream
		api.GET("/events", s.handleEventsWS)
	}
}

// Health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Bridge    string `json:"bridge"`
	Timestamp string `json:"timestamp"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		Bridge:    string(s.bridge.Status()),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
