package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"voxlink-backend/internal/domain"
	"voxlink-backend/internal/service/call"
	"voxlink-backend/pkg/constants"
	"voxlink-backend/pkg/errors"
	"voxlink-backend/pkg/logger"
)

// Client actions
const (
	ActionCallStart    = "call.start"
	ActionCallAccept   = "call.accept"
	ActionCallJoin     = "call.join"
	ActionCallDecline  = "call.decline"
	ActionCallMissed   = "call.missed"
	ActionCallLeave    = "call.leave"
	ActionCallCancel   = "call.cancel"
	ActionCallEnd      = "call.end"
	ActionCallGet      = "call.get"
	ActionChannelJoin  = "channel.join"
	ActionChannelLeave = "channel.leave"
	ActionSignal       = "signal"
)

// Command is one inbound client message. Fields beyond Action are
// action-specific; unused ones stay zero.
type Command struct {
	Action    string           `json:"action"`
	CallID    uuid.UUID        `json:"call_id,omitempty"`
	MediaKind domain.MediaKind `json:"media_kind,omitempty"`
	CallKind  domain.CallKind  `json:"call_kind,omitempty"`
	Title     string           `json:"title,omitempty"`
	TargetIDs []uuid.UUID      `json:"target_ids,omitempty"`
	StreamID  string           `json:"stream_id,omitempty"`
	Duration  int              `json:"duration,omitempty"`
	TargetID  uuid.UUID        `json:"target_id,omitempty"`
	Signal    string           `json:"signal,omitempty"` // offer, answer, ice_candidate
	Payload   json.RawMessage  `json:"payload,omitempty"`
}

// errorData is the body of an "error" frame
type errorData struct {
	Action  string    `json:"action"`
	CallID  uuid.UUID `json:"call_id,omitempty"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
}

// Client is one live WebSocket connection
type Client struct {
	hub          *Hub
	service      *call.Service
	conn         *websocket.Conn
	send         chan []byte
	userID       uuid.UUID
	connectionID string
	channels     map[string]bool
	done         chan struct{}
	closeOnce    sync.Once
}

func newClient(hub *Hub, service *call.Service, conn *websocket.Conn, userID uuid.UUID) *Client {
	return &Client{
		hub:          hub,
		service:      service,
		conn:         conn,
		send:         make(chan []byte, constants.WebSocketSendBuffer),
		userID:       userID,
		connectionID: uuid.New().String(),
		channels:     make(map[string]bool),
		done:         make(chan struct{}),
	}
}

// kill marks the connection dead and closes it; the read pump then
// unregisters. send is never closed, so a fan-out that snapshotted this
// client before it died enqueues harmlessly instead of panicking.
func (c *Client) kill() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// readPump reads and dispatches client commands until the connection dies
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.kill()
	}()

	c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval * 2))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval * 2))
		c.hub.refreshPresence(c)
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("websocket closed unexpectedly",
					zap.String("user_id", c.userID.String()),
					zap.Error(err))
			}
			return
		}

		var cmd Command
		if err := json.Unmarshal(raw, &cmd); err != nil {
			c.sendError(Command{}, errors.InvalidInputError("malformed command"))
			continue
		}

		if c.hub.metrics != nil {
			c.hub.metrics.RecordWebSocketMessage("in", cmd.Action)
		}
		c.dispatch(cmd)
	}
}

// dispatch executes one command. Call operations run against the service;
// the resulting notifications come back through the hub like everyone
// else's, so a command's effects and its fan-out stay on one path.
func (c *Client) dispatch(cmd Command) {
	ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultTimeout)
	defer cancel()

	switch cmd.Action {
	case ActionCallStart:
		created, err := c.service.Start(ctx, c.userID, call.StartRequest{
			MediaKind: cmd.MediaKind,
			CallKind:  cmd.CallKind,
			Title:     cmd.Title,
			TargetIDs: cmd.TargetIDs,
		})
		if err != nil {
			c.sendError(cmd, err)
			return
		}
		// The initiator's connection starts subscribed to its own call.
		c.hub.joinChannel(c, created.ChannelID)

	case ActionCallAccept:
		c.applyAndSubscribe(ctx, cmd, func() (*domain.Call, error) {
			return c.service.Accept(ctx, cmd.CallID, c.userID)
		})

	case ActionCallJoin:
		c.applyAndSubscribe(ctx, cmd, func() (*domain.Call, error) {
			return c.service.Join(ctx, cmd.CallID, c.userID, cmd.StreamID)
		})

	case ActionCallDecline:
		if _, err := c.service.Decline(ctx, cmd.CallID, c.userID); err != nil {
			c.sendError(cmd, err)
		}

	case ActionCallMissed:
		if _, err := c.service.Missed(ctx, cmd.CallID, c.userID); err != nil {
			c.sendError(cmd, err)
		}

	case ActionCallLeave:
		current, err := c.service.Leave(ctx, cmd.CallID, c.userID)
		if err != nil {
			c.sendError(cmd, err)
			return
		}
		c.hub.leaveChannel(c, current.ChannelID)

	case ActionCallCancel:
		if _, err := c.service.Cancel(ctx, cmd.CallID, c.userID); err != nil {
			c.sendError(cmd, err)
		}

	case ActionCallEnd:
		if _, err := c.service.End(ctx, cmd.CallID, c.userID, cmd.Duration); err != nil {
			c.sendError(cmd, err)
		}

	case ActionCallGet:
		current, err := c.service.Get(ctx, cmd.CallID, c.userID)
		if err != nil {
			c.sendError(cmd, err)
			return
		}
		c.sendFrame("call-state", current)

	case ActionChannelJoin:
		// Membership check so only participants can watch a call's channel.
		current, err := c.service.Get(ctx, cmd.CallID, c.userID)
		if err != nil {
			c.sendError(cmd, err)
			return
		}
		c.hub.joinChannel(c, current.ChannelID)

	case ActionChannelLeave:
		c.hub.leaveChannel(c, domain.ChannelIDFor(cmd.CallID))

	case ActionSignal:
		// SDP and ICE pass through opaquely; only channel members hear them.
		current, err := c.service.Get(ctx, cmd.CallID, c.userID)
		if err != nil {
			c.sendError(cmd, err)
			return
		}
		c.hub.Relay(current.ChannelID, c.userID, cmd.TargetID, cmd.Signal, cmd.Payload)

	default:
		c.sendError(cmd, errors.InvalidInputError("unknown action"))
	}
}

// applyAndSubscribe runs an answering transition and joins this connection
// to the call's channel on success.
func (c *Client) applyAndSubscribe(ctx context.Context, cmd Command, fn func() (*domain.Call, error)) {
	current, err := fn()
	if err != nil {
		c.sendError(cmd, err)
		return
	}
	c.hub.joinChannel(c, current.ChannelID)
}

func (c *Client) sendFrame(event string, payload any) {
	if data := encodeFrame(event, payload); data != nil {
		c.hub.push(c, event, data)
	}
}

func (c *Client) sendError(cmd Command, err error) {
	appErr := errors.GetAppError(err)
	if appErr == nil {
		appErr = errors.InternalError("internal error")
	}
	c.sendFrame("error", errorData{
		Action:  cmd.Action,
		CallID:  cmd.CallID,
		Code:    string(appErr.Code),
		Message: appErr.Message,
	})
}

// writePump drains the outbound queue and keeps the connection alive
func (c *Client) writePump() {
	ticker := time.NewTicker(constants.WebSocketPingInterval)
	defer func() {
		ticker.Stop()
		c.kill()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
