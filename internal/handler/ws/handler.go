package ws

import (
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"voxlink-backend/internal/service/call"
	"voxlink-backend/pkg/env"
	"voxlink-backend/pkg/logger"
)

// GetAllowedOrigins returns allowed WebSocket origins from environment or
// defaults
func GetAllowedOrigins() map[string]bool {
	allowedOrigins := map[string]bool{
		"http://localhost:3000": true,
		"http://localhost:8080": true,
		"http://127.0.0.1:3000": true,
		"http://127.0.0.1:8080": true,
	}

	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		for _, origin := range strings.Split(origins, ",") {
			allowedOrigins[strings.TrimSpace(origin)] = true
		}
	}

	return allowedOrigins
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Explicit origin required
			return false
		}
		return GetAllowedOrigins()[origin]
	},
}

// Handler upgrades authenticated HTTP requests into signaling connections
type Handler struct {
	hub     *Hub
	service *call.Service

	maxConnections int
	semaphore      chan struct{}
}

// NewHandler creates a WebSocket handler
func NewHandler(hub *Hub, service *call.Service) *Handler {
	maxConns := env.GetInt("WS_MAX_CONNECTIONS", 1000)
	if maxConns <= 0 {
		maxConns = 1000
	}

	return &Handler{
		hub:            hub,
		service:        service,
		maxConnections: maxConns,
		semaphore:      make(chan struct{}, maxConns),
	}
}

// Hub exposes the presence registry to other components
func (h *Handler) Hub() *Hub {
	return h.hub
}

// ServeWS handles the WebSocket upgrade for a signaling connection
func (h *Handler) ServeWS(c *gin.Context) {
	select {
	case h.semaphore <- struct{}{}:
	default:
		logger.Warn("websocket connection rejected: max connections reached",
			zap.Int("max_connections", h.maxConnections))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server at capacity, please try again later"})
		return
	}
	release := func() { <-h.semaphore }

	userIDVal, exists := c.Get("user_id")
	if !exists {
		release()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		release()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invalid user_id"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		release()
		logger.Warn("websocket upgrade failed",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return
	}

	client := newClient(h.hub, h.service, conn, userID)
	h.hub.register(client)

	go client.writePump()
	go func() {
		defer release()
		client.readPump()
	}()
}
