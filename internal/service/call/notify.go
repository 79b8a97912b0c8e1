package call

import (
	"github.com/google/uuid"

	"voxlink-backend/internal/domain"
)

// NotificationKind names a signaling notification emitted to clients
type NotificationKind string

const (
	// NoteCallOffered invites each target; personal channels only
	NoteCallOffered NotificationKind = "call-offered"
	// NoteStartedAck confirms creation to the initiator
	NoteStartedAck NotificationKind = "call-started-ack"
	// NoteStatusChanged announces any applied transition
	NoteStatusChanged NotificationKind = "status-changed"
	// NoteEnded tells clients the call is terminal and media can be torn down
	NoteEnded NotificationKind = "ended"
)

// Notification is one logical event to fan out. Call is a snapshot taken
// after the transition was applied; it is never the stored instance.
type Notification struct {
	Kind    NotificationKind
	Call    *domain.Call
	Event   EventKind   // originating event
	Actor   uuid.UUID   // user whose action triggered it
	Targets []uuid.UUID // personal recipients, for target-scoped kinds
}

// Payload is the wire shape of a delivered notification
type Payload struct {
	Kind  NotificationKind `json:"kind"`
	Event EventKind        `json:"event"`
	Actor uuid.UUID        `json:"actor_id"`
	Call  *domain.Call     `json:"call"`
}

// deliveryRule declares which recipient classes a notification kind reaches.
// Keeping this a single table means a new kind cannot accidentally skip a
// recipient class somewhere in the router.
type deliveryRule struct {
	toCall    bool // the call's signaling channel plus every member, deduplicated
	toTargets bool // personal channels of Notification.Targets only
}

var deliveryRules = map[NotificationKind]deliveryRule{
	NoteCallOffered:   {toTargets: true},
	NoteStartedAck:    {toTargets: true},
	NoteStatusChanged: {toCall: true},
	NoteEnded:         {toCall: true},
}

// Notifier abstracts the presence layer's fan-out. Delivery is best-effort,
// at-most-once per connection; implementations must never block on a slow
// client, must swallow sends to users with no live connections, and must
// deliver a single copy to a connection reachable through both the call
// channel and a member's personal channel.
type Notifier interface {
	ToUser(userID uuid.UUID, event string, payload any)
	ToCall(channelID string, members []uuid.UUID, event string, payload any)
}

// deliver fans out one notification per its delivery rule
func (s *Service) deliver(n Notification) {
	rule, ok := deliveryRules[n.Kind]
	if !ok {
		return
	}

	payload := Payload{
		Kind:  n.Kind,
		Event: n.Event,
		Actor: n.Actor,
		Call:  n.Call,
	}
	event := string(n.Kind)

	if rule.toCall {
		s.notifier.ToCall(n.Call.ChannelID, n.Call.Members, event, payload)
	}
	if rule.toTargets {
		for _, userID := range n.Targets {
			s.notifier.ToUser(userID, event, payload)
		}
	}

	if s.metrics != nil {
		s.metrics.RecordNotification(string(n.Kind))
	}
}
