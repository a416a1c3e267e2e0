package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"framelink/internal/peer"
)

// StatsHandler serves the read-only session API of the peer daemon.
type StatsHandler struct {
	registry  *peer.Registry
	startTime time.Time
}

func NewStatsHandler(registry *peer.Registry) *StatsHandler {
	return &StatsHandler{
		registry:  registry,
		startTime: time.Now(),
	}
}

func (h *StatsHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.GET("/stats", h.ListSessions)
		api.GET("/stats/:id", h.GetSession)
	}

	router.GET("/healthz", h.Health)
}

// ListSessions returns stats for every connected client.
func (h *StatsHandler) ListSessions(c *gin.Context) {
	sessions := h.registry.Snapshot(time.Now())
	c.JSON(http.StatusOK, gin.H{
		"count":    len(sessions),
		"sessions": sessions,
	})
}

// GetSession returns stats for one client by its session ID.
func (h *StatsHandler) GetSession(c *gin.Context) {
	id := c.Param("id")

	sess, ok := h.registry.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session": sess.Stats(time.Now()),
	})
}

func (h *StatsHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
		"uptime":    time.Since(h.startTime).String(),
		"sessions":  h.registry.Count(),
	})
}
