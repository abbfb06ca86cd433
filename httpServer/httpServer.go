package httpServer

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rapidrtsp/internal/metrics"
	"rapidrtsp/internal/sessionmanager"
	"rapidrtsp/pkg/models"
)

// Server wraps the HTTP monitoring/management API with its dependencies
type Server struct {
	router  *gin.Engine
	manager *sessionmanager.Manager
	metrics *metrics.Metrics
}

// New creates a new HTTP server
func New(manager *sessionmanager.Manager, m *metrics.Metrics) *Server {
	s := &Server{
		manager: manager,
		metrics: m,
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	router := gin.Default()
	router.Use(s.recordMetrics())

	api := router.Group("/api")
	{
		api.GET("/ping", s.handlePing)
		api.GET("/v1/sessions", s.handleListSessions)
		api.GET("/v1/sessions/:sessionID", s.handleGetSession)
		api.POST("/v1/sessions/:sessionID/teardown", s.handleTeardownSession)
	}

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router = router
}

// Run starts the HTTP server
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

// recordMetrics observes request counts and latency per route
func (s *Server) recordMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.metrics.RecordHTTPRequest(
			c.Request.Method,
			c.FullPath(),
			c.Writer.Status(),
			time.Since(start).Seconds(),
		)
	}
}

// Handler implementations

func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "pong",
		"time":    time.Now().Unix(),
	})
}

func (s *Server) handleListSessions(c *gin.Context) {
	sessions := s.manager.All()

	infos := make([]models.SessionInfo, len(sessions))
	for i, session := range sessions {
		infos[i] = sessionToInfo(session)
	}

	c.JSON(http.StatusOK, models.SessionListResponse{
		Sessions: infos,
		Total:    len(infos),
	})
}

func (s *Server) handleGetSession(c *gin.Context) {
	sessionID := c.Param("sessionID")

	session, exists := s.manager.Get(sessionID)
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	c.JSON(http.StatusOK, sessionToInfo(session))
}

func (s *Server) handleTeardownSession(c *gin.Context) {
	sessionID := c.Param("sessionID")

	if !s.manager.Remove(sessionID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	s.metrics.RecordSessionsStopped(1)

	c.JSON(http.StatusOK, gin.H{
		"message":   "session torn down",
		"sessionID": sessionID,
	})
}

func sessionToInfo(session *models.Session) models.SessionInfo {
	info := models.SessionInfo{
		ID:        session.ID,
		URI:       session.URI,
		State:     string(session.State()),
		CreatedAt: session.CreatedAt.Format(time.RFC3339),
	}
	if t := session.Transport(); t != nil {
		info.ClientAddr = t.ClientAddr.String()
		info.ClientRTPPort = t.ClientRTPPort
	}
	return info
}
