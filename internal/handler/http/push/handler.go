package push

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"voxlink-backend/pkg/push"
	"voxlink-backend/pkg/response"
)

// Handler handles push token HTTP requests
type Handler struct {
	pushService *push.Service
}

// NewHandler creates a new push token handler
func NewHandler(pushService *push.Service) *Handler {
	return &Handler{pushService: pushService}
}

// RegisterTokenRequest represents a token registration request
type RegisterTokenRequest struct {
	Token    string         `json:"token" binding:"required"`
	Type     push.TokenType `json:"type" binding:"required,oneof=fcm apns"`
	DeviceID string         `json:"device_id"`
	Platform string         `json:"platform" binding:"omitempty,oneof=ios android"`
}

// RegisterToken registers a push token for the authenticated user
// POST /v1/push/tokens
func (h *Handler) RegisterToken(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req RegisterTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	token := &push.Token{
		UserID:   userID,
		Token:    req.Token,
		Type:     req.Type,
		DeviceID: req.DeviceID,
		Platform: req.Platform,
		Active:   true,
	}

	if err := h.pushService.RegisterToken(c.Request.Context(), token); err != nil {
		response.InternalError(c, "Failed to register push token")
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "Token registered"})
}

// UnregisterTokenRequest identifies the token to remove
type UnregisterTokenRequest struct {
	Token string `json:"token" binding:"required"`
}

// UnregisterToken removes one push token of the authenticated user
// DELETE /v1/push/tokens
func (h *Handler) UnregisterToken(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req UnregisterTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	if err := h.pushService.UnregisterToken(c.Request.Context(), userID, req.Token); err != nil {
		response.InternalError(c, "Failed to unregister push token")
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "Token unregistered"})
}

// UnregisterAllTokens removes every push token of the authenticated user
// DELETE /v1/push/tokens/all
func (h *Handler) UnregisterAllTokens(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	if err := h.pushService.UnregisterAllTokens(c.Request.Context(), userID); err != nil {
		response.InternalError(c, "Failed to unregister push tokens")
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "All tokens unregistered"})
}

func currentUserID(c *gin.Context) (uuid.UUID, bool) {
	userIDVal, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "Not authenticated")
		return uuid.Nil, false
	}
	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		response.InternalError(c, "Invalid user ID")
		return uuid.Nil, false
	}
	return userID, true
}
