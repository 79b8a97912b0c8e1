// Package call exposes the call lifecycle over REST. Clients normally
// drive calls over the WebSocket surface; this handler serves the same
// operations for native callkit integrations and for history queries.
package call

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"voxlink-backend/internal/domain"
	"voxlink-backend/internal/service/call"
	"voxlink-backend/pkg/pagination"
	"voxlink-backend/pkg/response"
)

// Handler handles call HTTP requests
type Handler struct {
	callService *call.Service
}

// NewHandler creates a new call handler
func NewHandler(callService *call.Service) *Handler {
	return &Handler{callService: callService}
}

// StartCallRequest represents a call creation request
type StartCallRequest struct {
	MediaKind string   `json:"media_kind" binding:"required,oneof=audio video"`
	CallKind  string   `json:"call_kind" binding:"required,oneof=direct group"`
	Title     string   `json:"title"`
	TargetIDs []string `json:"target_ids" binding:"required,min=1"`
}

// JoinCallRequest carries the joiner's published stream id
type JoinCallRequest struct {
	StreamID string `json:"stream_id"`
}

// EndCallRequest carries the caller's measured talk time
type EndCallRequest struct {
	Duration int `json:"duration"`
}

// Start creates a new call
// POST /v1/calls
func (h *Handler) Start(c *gin.Context) {
	var req StartCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	targetIDs := make([]uuid.UUID, len(req.TargetIDs))
	for i, idStr := range req.TargetIDs {
		id, err := uuid.Parse(idStr)
		if err != nil {
			response.ValidationError(c, "Invalid target ID: "+idStr)
			return
		}
		targetIDs[i] = id
	}

	created, err := h.callService.Start(c.Request.Context(), userID, call.StartRequest{
		MediaKind: domain.MediaKind(req.MediaKind),
		CallKind:  domain.CallKind(req.CallKind),
		Title:     req.Title,
		TargetIDs: targetIDs,
	})
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, created)
}

// Get returns the current state of a call
// GET /v1/calls/:id
func (h *Handler) Get(c *gin.Context) {
	callID, userID, ok := callAndUser(c)
	if !ok {
		return
	}

	current, err := h.callService.Get(c.Request.Context(), callID, userID)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, current)
}

// Accept answers a ringing call
// POST /v1/calls/:id/accept
func (h *Handler) Accept(c *gin.Context) {
	h.applyEvent(c, func(callID, userID uuid.UUID) (*domain.Call, error) {
		return h.callService.Accept(c.Request.Context(), callID, userID)
	})
}

// Join answers or rejoins a call with a published stream
// POST /v1/calls/:id/join
func (h *Handler) Join(c *gin.Context) {
	var req JoinCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	h.applyEvent(c, func(callID, userID uuid.UUID) (*domain.Call, error) {
		return h.callService.Join(c.Request.Context(), callID, userID, req.StreamID)
	})
}

// Decline refuses a ringing call
// POST /v1/calls/:id/decline
func (h *Handler) Decline(c *gin.Context) {
	h.applyEvent(c, func(callID, userID uuid.UUID) (*domain.Call, error) {
		return h.callService.Decline(c.Request.Context(), callID, userID)
	})
}

// Missed reports a client-side ring timeout
// POST /v1/calls/:id/missed
func (h *Handler) Missed(c *gin.Context) {
	h.applyEvent(c, func(callID, userID uuid.UUID) (*domain.Call, error) {
		return h.callService.Missed(c.Request.Context(), callID, userID)
	})
}

// Leave exits an ongoing call
// POST /v1/calls/:id/leave
func (h *Handler) Leave(c *gin.Context) {
	h.applyEvent(c, func(callID, userID uuid.UUID) (*domain.Call, error) {
		return h.callService.Leave(c.Request.Context(), callID, userID)
	})
}

// Cancel withdraws a ringing call (initiator only)
// POST /v1/calls/:id/cancel
func (h *Handler) Cancel(c *gin.Context) {
	h.applyEvent(c, func(callID, userID uuid.UUID) (*domain.Call, error) {
		return h.callService.Cancel(c.Request.Context(), callID, userID)
	})
}

// End terminates a call for everyone
// POST /v1/calls/:id/end
func (h *Handler) End(c *gin.Context) {
	var req EndCallRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.ValidationError(c, err.Error())
			return
		}
	}

	h.applyEvent(c, func(callID, userID uuid.UUID) (*domain.Call, error) {
		return h.callService.End(c.Request.Context(), callID, userID, req.Duration)
	})
}

// History lists the caller's archived calls
// GET /v1/calls?status=&page=&limit=
func (h *Handler) History(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	params, err := pagination.Parse(c.Query("page"), c.Query("limit"))
	if err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	status := domain.CallStatus(c.Query("status"))
	calls, total, err := h.callService.History(c.Request.Context(), userID, status, params)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, pagination.PagedResponse{
		Page:  params.Page,
		Limit: params.Limit,
		Total: total,
		Data:  calls,
	})
}

// Activity lists a call's transition trail
// GET /v1/calls/:id/activity
func (h *Handler) Activity(c *gin.Context) {
	callID, userID, ok := callAndUser(c)
	if !ok {
		return
	}

	params, err := pagination.Parse("", c.Query("limit"))
	if err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	entries, err := h.callService.Activity(c.Request.Context(), callID, userID, params.Limit)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, entries)
}

func (h *Handler) applyEvent(c *gin.Context, fn func(callID, userID uuid.UUID) (*domain.Call, error)) {
	callID, userID, ok := callAndUser(c)
	if !ok {
		return
	}

	current, err := fn(callID, userID)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, current)
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

func callAndUser(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid call ID")
		return uuid.Nil, uuid.Nil, false
	}

	userID, ok := currentUserID(c)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}

	return callID, userID, true
}
