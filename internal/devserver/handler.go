package devserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/zfogg/emoine/pkg/logger"
)

// Handler serves the WebSocket endpoint and its status routes
type Handler struct {
	hub *Hub
}

// NewHandler creates a new handler for hub
func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// HandleWebSocket upgrades the request and relays frames until the client
// disconnects.
func (h *Handler) HandleWebSocket(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		logger.Warn("WebSocket upgrade failed", "remote", c.ClientIP(), "error", err)
		return
	}

	client := NewClient(h.hub, conn)
	client.RemoteAddr = c.ClientIP()

	if !h.hub.Register(client) {
		client.Close(shutdownStatus, shutdownReason)
		return
	}

	go client.WritePump()
	client.ReadPump()
}

// HandleHealth reports liveness and the connected client count
func (h *Handler) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"clients": h.hub.ClientCount(),
		"uptime":  h.hub.Uptime().Round(time.Second).String(),
	})
}

// HandleFrames lists recently recorded frames, newest first
func (h *Handler) HandleFrames(c *gin.Context) {
	if h.hub.recorder == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "recording_disabled",
			"message": "start the server with --store to record frames",
		})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 || limit > 1000 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_limit",
			"message": "limit must be between 1 and 1000",
		})
		return
	}

	frames, err := h.hub.recorder.RecentFrames(c.Request.Context(), limit)
	if err != nil {
		logger.Error("Failed to list frames", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"frames": frames, "count": len(frames)})
}

// HandleStats reports hub counters
func (h *Handler) HandleStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.hub.Stats())
}
