// Package ws carries real-time signaling over WebSocket. The Hub is the
// presence registry: it knows every live connection, which user owns it,
// and which call channels it has joined, and it is the delivery fan-out
// the call service notifies through.
package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	pkgctx "voxlink-backend/pkg/context"
	"voxlink-backend/pkg/logger"
	"voxlink-backend/pkg/metrics"
)

// PresenceMirror propagates connect/disconnect into Redis so other
// services can see reachability. Mirror failures never affect delivery.
type PresenceMirror interface {
	SetDeviceOnline(ctx context.Context, userID uuid.UUID, connectionID string) error
	SetDeviceOffline(ctx context.Context, userID uuid.UUID, connectionID string) error
	Refresh(ctx context.Context, userID uuid.UUID) error
}

// Frame is the outbound wire envelope
type Frame struct {
	Event     string    `json:"event"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub tracks live connections and fans out signaling frames. A user may
// hold any number of simultaneous connections; personal delivery reaches
// all of them. Delivery is best-effort and at-most-once: a connection
// whose outbound queue is full is killed rather than allowed to stall
// everyone else.
type Hub struct {
	mu        sync.RWMutex
	byUser    map[uuid.UUID]map[*Client]bool
	byChannel map[string]map[*Client]bool

	presence PresenceMirror   // optional
	metrics  *metrics.Metrics // optional
}

// NewHub creates a hub. presence and m may be nil.
func NewHub(presence PresenceMirror, m *metrics.Metrics) *Hub {
	return &Hub{
		byUser:    make(map[uuid.UUID]map[*Client]bool),
		byChannel: make(map[string]map[*Client]bool),
		presence:  presence,
		metrics:   m,
	}
}

// register adds a live connection to the registry
func (h *Hub) register(c *Client) {
	h.mu.Lock()
	if h.byUser[c.userID] == nil {
		h.byUser[c.userID] = make(map[*Client]bool)
	}
	h.byUser[c.userID][c] = true
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.WebSocketConnected()
	}
	h.mirrorOnline(c)

	logger.Debug("websocket connected",
		zap.String("user_id", c.userID.String()),
		zap.String("connection_id", c.connectionID))
}

// unregister removes a connection and all its channel memberships
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if conns, ok := h.byUser[c.userID]; ok {
		if _, exists := conns[c]; exists {
			delete(conns, c)
			if len(conns) == 0 {
				delete(h.byUser, c.userID)
			}
		} else {
			h.mu.Unlock()
			return
		}
	} else {
		h.mu.Unlock()
		return
	}
	for channelID := range c.channels {
		if members, ok := h.byChannel[channelID]; ok {
			delete(members, c)
			if len(members) == 0 {
				delete(h.byChannel, channelID)
			}
		}
	}
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.WebSocketDisconnected()
	}
	h.mirrorOffline(c)

	logger.Debug("websocket disconnected",
		zap.String("user_id", c.userID.String()),
		zap.String("connection_id", c.connectionID))
}

// joinChannel subscribes a connection to a call's signaling channel
func (h *Hub) joinChannel(c *Client, channelID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.byChannel[channelID] == nil {
		h.byChannel[channelID] = make(map[*Client]bool)
	}
	h.byChannel[channelID][c] = true
	c.channels[channelID] = true
}

// leaveChannel unsubscribes a connection from a channel
func (h *Hub) leaveChannel(c *Client, channelID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.byChannel[channelID]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.byChannel, channelID)
		}
	}
	delete(c.channels, channelID)
}

// ToUser delivers a frame to every live connection of one user. Users with
// no connections are silently skipped; push wake-up is a separate concern.
func (h *Hub) ToUser(userID uuid.UUID, event string, payload any) {
	data := encodeFrame(event, payload)
	if data == nil {
		return
	}

	h.mu.RLock()
	conns := make([]*Client, 0, len(h.byUser[userID]))
	for c := range h.byUser[userID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		h.push(c, event, data)
	}
}

// ToCall delivers a frame to every connection joined to a call's signaling
// channel and to every connection of the call's members. A connection
// reachable both ways still receives exactly one copy.
func (h *Hub) ToCall(channelID string, members []uuid.UUID, event string, payload any) {
	data := encodeFrame(event, payload)
	if data == nil {
		return
	}

	h.mu.RLock()
	seen := make(map[*Client]bool, len(h.byChannel[channelID]))
	conns := make([]*Client, 0, len(h.byChannel[channelID]))
	for c := range h.byChannel[channelID] {
		seen[c] = true
		conns = append(conns, c)
	}
	for _, userID := range members {
		for c := range h.byUser[userID] {
			if seen[c] {
				continue
			}
			seen[c] = true
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range conns {
		h.push(c, event, data)
	}
}

// Relay forwards an opaque media-negotiation payload (SDP, ICE) within a
// channel. With a target it reaches only that user's connections, without
// one it reaches everyone but the sender.
func (h *Hub) Relay(channelID string, senderID, targetID uuid.UUID, event string, payload json.RawMessage) {
	data := encodeFrame(event, payload)
	if data == nil {
		return
	}

	h.mu.RLock()
	conns := make([]*Client, 0, len(h.byChannel[channelID]))
	for c := range h.byChannel[channelID] {
		if c.userID == senderID {
			continue
		}
		if targetID != uuid.Nil && c.userID != targetID {
			continue
		}
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		h.push(c, event, data)
	}
}

// IsOnline reports whether a user holds at least one live connection
func (h *Hub) IsOnline(userID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID]) > 0
}

// OnlineCount returns the number of distinct online users
func (h *Hub) OnlineCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser)
}

// push enqueues a pre-encoded frame. A full queue means the client cannot
// keep up; it is killed and its pumps clean up through unregister. The
// send channel stays open for the life of the Client, so push may race
// with unregister safely; frames enqueued to a dead client are dropped
// when its write pump exits.
func (h *Hub) push(c *Client, event string, data []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- data:
		if h.metrics != nil {
			h.metrics.RecordWebSocketMessage("out", event)
		}
	default:
		if h.metrics != nil {
			h.metrics.RecordWebSocketDrop()
		}
		logger.Warn("killing slow websocket connection",
			zap.String("user_id", c.userID.String()),
			zap.String("connection_id", c.connectionID))
		c.kill()
	}
}

func (h *Hub) mirrorOnline(c *Client) {
	if h.presence == nil {
		return
	}
	ctx, cancel := pkgctx.WithShortTimeout(context.Background())
	defer cancel()
	if err := h.presence.SetDeviceOnline(ctx, c.userID, c.connectionID); err != nil {
		logger.Warn("presence mirror online failed",
			zap.String("user_id", c.userID.String()),
			zap.Error(err))
	}
}

func (h *Hub) mirrorOffline(c *Client) {
	if h.presence == nil {
		return
	}
	ctx, cancel := pkgctx.WithShortTimeout(context.Background())
	defer cancel()
	if err := h.presence.SetDeviceOffline(ctx, c.userID, c.connectionID); err != nil {
		logger.Warn("presence mirror offline failed",
			zap.String("user_id", c.userID.String()),
			zap.Error(err))
	}
}

// refreshPresence keeps the Redis mirror alive while the connection lives
func (h *Hub) refreshPresence(c *Client) {
	if h.presence == nil {
		return
	}
	ctx, cancel := pkgctx.WithShortTimeout(context.Background())
	defer cancel()
	if err := h.presence.Refresh(ctx, c.userID); err != nil {
		logger.Debug("presence refresh failed",
			zap.String("user_id", c.userID.String()),
			zap.Error(err))
	}
}

func encodeFrame(event string, payload any) []byte {
	data, err := json.Marshal(Frame{
		Event:     event,
		Data:      payload,
		Timestamp: time.Now(),
	})
	if err != nil {
		logger.Error("failed to encode websocket frame",
			zap.String("event", event),
			zap.Error(err))
		return nil
	}
	return data
}
