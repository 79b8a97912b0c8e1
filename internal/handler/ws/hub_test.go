package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxlink-backend/internal/domain"
	"voxlink-backend/internal/repository/session"
	"voxlink-backend/internal/service/call"
	"voxlink-backend/pkg/errors"
)

var (
	wsAlice = &domain.Profile{UserID: uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000001"), Username: "alice", DisplayName: "Alice"}
	wsBob   = &domain.Profile{UserID: uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000002"), Username: "bob", DisplayName: "Bob"}
)

type stubDirectory struct {
	profiles map[uuid.UUID]*domain.Profile
}

func (d *stubDirectory) Lookup(ctx context.Context, userID uuid.UUID) (*domain.Profile, error) {
	p, ok := d.profiles[userID]
	if !ok {
		return nil, errors.UserNotFoundError()
	}
	return p, nil
}

func (d *stubDirectory) LookupMany(ctx context.Context, userIDs []uuid.UUID) ([]*domain.Profile, error) {
	result := make([]*domain.Profile, 0, len(userIDs))
	for _, id := range userIDs {
		p, ok := d.profiles[id]
		if !ok {
			return nil, errors.UserNotFoundError()
		}
		result = append(result, p)
	}
	return result, nil
}

type stubPresence struct {
	mu      sync.Mutex
	online  []string
	offline []string
}

func (p *stubPresence) SetDeviceOnline(ctx context.Context, userID uuid.UUID, connectionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online = append(p.online, userID.String())
	return nil
}

func (p *stubPresence) SetDeviceOffline(ctx context.Context, userID uuid.UUID, connectionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offline = append(p.offline, userID.String())
	return nil
}

func (p *stubPresence) Refresh(ctx context.Context, userID uuid.UUID) error {
	return nil
}

type wsFixture struct {
	hub      *Hub
	server   *httptest.Server
	presence *stubPresence
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	directory := &stubDirectory{profiles: map[uuid.UUID]*domain.Profile{
		wsAlice.UserID: wsAlice,
		wsBob.UserID:   wsBob,
	}}

	presence := &stubPresence{}
	hub := NewHub(presence, nil)
	service := call.NewService(session.NewStore(nil), directory, hub)
	handler := NewHandler(hub, service)

	router := gin.New()
	router.GET("/ws", func(c *gin.Context) {
		// Test stand-in for the JWT middleware.
		userID, err := uuid.Parse(c.Query("uid"))
		if err != nil {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Set("user_id", userID)
		handler.ServeWS(c)
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &wsFixture{hub: hub, server: server, presence: presence}
}

func (f *wsFixture) dial(t *testing.T, userID uuid.UUID) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws?uid=" + userID.String()
	header := http.Header{"Origin": []string{"http://localhost:3000"}}

	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads frames until one matches event, skipping unrelated ones
func readUntil(t *testing.T, conn *websocket.Conn, event string) Frame {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		conn.SetReadDeadline(deadline)
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %q frame", event)

		var frame Frame
		require.NoError(t, json.Unmarshal(raw, &frame))
		if frame.Event == event {
			return frame
		}
	}
}

func sendCommand(t *testing.T, conn *websocket.Conn, cmd Command) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(cmd))
}

func frameCall(t *testing.T, frame Frame) *domain.Call {
	t.Helper()
	data, err := json.Marshal(frame.Data)
	require.NoError(t, err)

	var payload struct {
		Call *domain.Call `json:"call"`
	}
	require.NoError(t, json.Unmarshal(data, &payload))
	require.NotNil(t, payload.Call)
	return payload.Call
}

func TestWS_CallFlowEndToEnd(t *testing.T) {
	f := newWSFixture(t)

	aliceConn := f.dial(t, wsAlice.UserID)
	bobConn := f.dial(t, wsBob.UserID)

	require.Eventually(t, func() bool { return f.hub.OnlineCount() == 2 },
		time.Second, 10*time.Millisecond)

	sendCommand(t, aliceConn, Command{
		Action:    ActionCallStart,
		MediaKind: domain.MediaAudio,
		CallKind:  domain.CallDirect,
		TargetIDs: []uuid.UUID{wsBob.UserID},
	})

	// The target gets the offer, the initiator gets the ack.
	offer := readUntil(t, bobConn, "call-offered")
	offered := frameCall(t, offer)
	assert.Equal(t, domain.CallRinging, offered.Status)
	assert.Equal(t, wsAlice.UserID, offered.InitiatorID)

	ack := readUntil(t, aliceConn, "call-started-ack")
	assert.Equal(t, offered.CallID, frameCall(t, ack).CallID)

	// Bob accepts; both sides hear the transition.
	sendCommand(t, bobConn, Command{Action: ActionCallAccept, CallID: offered.CallID})

	forAlice := frameCall(t, readUntil(t, aliceConn, "status-changed"))
	assert.Equal(t, domain.CallOngoing, forAlice.Status)
	forBob := frameCall(t, readUntil(t, bobConn, "status-changed"))
	assert.Equal(t, domain.CallOngoing, forBob.Status)

	// Alice hangs up; teardown reaches both.
	sendCommand(t, aliceConn, Command{Action: ActionCallEnd, CallID: offered.CallID})
	assert.Equal(t, domain.CallEnded, frameCall(t, readUntil(t, aliceConn, "ended")).Status)
	assert.Equal(t, domain.CallEnded, frameCall(t, readUntil(t, bobConn, "ended")).Status)
}

func TestWS_SignalRelay(t *testing.T) {
	f := newWSFixture(t)

	aliceConn := f.dial(t, wsAlice.UserID)
	bobConn := f.dial(t, wsBob.UserID)

	sendCommand(t, aliceConn, Command{
		Action:    ActionCallStart,
		MediaKind: domain.MediaVideo,
		CallKind:  domain.CallDirect,
		TargetIDs: []uuid.UUID{wsBob.UserID},
	})
	offered := frameCall(t, readUntil(t, bobConn, "call-offered"))

	sendCommand(t, bobConn, Command{Action: ActionCallAccept, CallID: offered.CallID})
	readUntil(t, aliceConn, "status-changed")

	// SDP passes through opaquely to the other channel member.
	sendCommand(t, aliceConn, Command{
		Action:  ActionSignal,
		CallID:  offered.CallID,
		Signal:  "offer",
		Payload: json.RawMessage(`{"sdp":"v=0 fake"}`),
	})

	relayed := readUntil(t, bobConn, "offer")
	data, err := json.Marshal(relayed.Data)
	require.NoError(t, err)
	assert.JSONEq(t, `{"sdp":"v=0 fake"}`, string(data))
}

func TestWS_MultiDeviceDelivery(t *testing.T) {
	f := newWSFixture(t)

	aliceConn := f.dial(t, wsAlice.UserID)
	bobPhone := f.dial(t, wsBob.UserID)
	bobLaptop := f.dial(t, wsBob.UserID)

	sendCommand(t, aliceConn, Command{
		Action:    ActionCallStart,
		MediaKind: domain.MediaAudio,
		CallKind:  domain.CallDirect,
		TargetIDs: []uuid.UUID{wsBob.UserID},
	})

	// Every live device of the target rings.
	phoneOffer := frameCall(t, readUntil(t, bobPhone, "call-offered"))
	laptopOffer := frameCall(t, readUntil(t, bobLaptop, "call-offered"))
	assert.Equal(t, phoneOffer.CallID, laptopOffer.CallID)
}

func TestWS_InvalidCommandGetsErrorFrame(t *testing.T) {
	f := newWSFixture(t)

	aliceConn := f.dial(t, wsAlice.UserID)

	sendCommand(t, aliceConn, Command{Action: ActionCallAccept, CallID: uuid.New()})

	frame := readUntil(t, aliceConn, "error")
	data, err := json.Marshal(frame.Data)
	require.NoError(t, err)

	var body errorData
	require.NoError(t, json.Unmarshal(data, &body))
	assert.Equal(t, string(errors.ErrCodeCallNotFound), body.Code)
	assert.Equal(t, ActionCallAccept, body.Action)
}

// A fan-out may snapshot a connection just before it unregisters; the
// late send must land in the still-open queue instead of panicking.
func TestHub_DeliveryRacingDisconnect(t *testing.T) {
	hub := NewHub(nil, nil)
	userID := wsAlice.UserID

	clients := make([]*Client, 8)
	for i := range clients {
		clients[i] = newClient(hub, nil, nil, userID)
		hub.register(clients[i])
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			hub.ToUser(userID, "status-changed", map[string]string{"seq": "x"})
		}
	}()

	for _, c := range clients {
		hub.unregister(c)
		time.Sleep(time.Millisecond)
	}
	<-done

	// A send after the connection is gone is dropped, never a panic.
	hub.push(clients[0], "ended", []byte(`{}`))
	assert.False(t, hub.IsOnline(userID))
}

// A connection that is both joined to the call channel and owned by a
// member must receive a call-wide frame exactly once.
func TestHub_CallFanOutDeliversOncePerConnection(t *testing.T) {
	hub := NewHub(nil, nil)
	channelID := "call:" + uuid.NewString()

	both := newClient(hub, nil, nil, wsAlice.UserID) // member, in channel
	member := newClient(hub, nil, nil, wsBob.UserID) // member only
	watcher := newClient(hub, nil, nil, uuid.New())  // in channel only
	for _, c := range []*Client{both, member, watcher} {
		hub.register(c)
	}
	hub.joinChannel(both, channelID)
	hub.joinChannel(watcher, channelID)

	members := []uuid.UUID{wsAlice.UserID, wsBob.UserID}
	hub.ToCall(channelID, members, "ended", map[string]string{"kind": "ended"})

	assert.Len(t, both.send, 1)
	assert.Len(t, member.send, 1)
	assert.Len(t, watcher.send, 1)
}

func TestWS_PresenceMirror(t *testing.T) {
	f := newWSFixture(t)

	conn := f.dial(t, wsAlice.UserID)
	require.Eventually(t, func() bool {
		f.presence.mu.Lock()
		defer f.presence.mu.Unlock()
		return len(f.presence.online) == 1
	}, time.Second, 10*time.Millisecond)

	assert.True(t, f.hub.IsOnline(wsAlice.UserID))
	assert.False(t, f.hub.IsOnline(wsBob.UserID))

	conn.Close()
	require.Eventually(t, func() bool {
		f.presence.mu.Lock()
		defer f.presence.mu.Unlock()
		return len(f.presence.offline) == 1
	}, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool { return !f.hub.IsOnline(wsAlice.UserID) },
		time.Second, 10*time.Millisecond)
}
