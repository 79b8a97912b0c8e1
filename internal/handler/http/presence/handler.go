// Package presence exposes reachability queries backed by the Redis
// presence mirror, with the local hub as fallback when Redis is degraded.
package presence

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"voxlink-backend/pkg/response"
)

// Registry is the local presence registry (the WebSocket hub)
type Registry interface {
	IsOnline(userID uuid.UUID) bool
	OnlineCount() int
}

// Mirror is the Redis-backed cluster-wide presence view
type Mirror interface {
	IsUserOnline(ctx context.Context, userID uuid.UUID) (bool, error)
	GetOnlineUsers(ctx context.Context) ([]uuid.UUID, error)
	GetOnlineCount(ctx context.Context) (int64, error)
	IsDegraded() bool
}

// Handler handles presence HTTP requests
type Handler struct {
	registry Registry
	mirror   Mirror // optional
}

// NewHandler creates a presence handler. mirror may be nil.
func NewHandler(registry Registry, mirror Mirror) *Handler {
	return &Handler{registry: registry, mirror: mirror}
}

// GetUserPresence reports whether one user is reachable
// GET /v1/presence/:id
func (h *Handler) GetUserPresence(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid user ID")
		return
	}

	online := h.registry.IsOnline(userID)
	if !online && h.mirror != nil && !h.mirror.IsDegraded() {
		// The user may be connected to another signaling node.
		if mirrored, err := h.mirror.IsUserOnline(c.Request.Context(), userID); err == nil {
			online = mirrored
		}
	}

	response.Success(c, http.StatusOK, gin.H{
		"user_id": userID,
		"online":  online,
	})
}

// GetOnlineUsers lists cluster-wide online users
// GET /v1/presence/online
func (h *Handler) GetOnlineUsers(c *gin.Context) {
	if h.mirror == nil || h.mirror.IsDegraded() {
		response.Success(c, http.StatusOK, gin.H{
			"count":   h.registry.OnlineCount(),
			"partial": true,
		})
		return
	}

	users, err := h.mirror.GetOnlineUsers(c.Request.Context())
	if err != nil {
		response.InternalError(c, "Failed to list online users")
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"count": len(users),
		"users": users,
	})
}
