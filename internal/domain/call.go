package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MediaKind is the media flavor of a call
type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

// CallKind distinguishes 1:1 calls from group calls
type CallKind string

const (
	CallDirect CallKind = "direct"
	CallGroup  CallKind = "group"
)

// CallStatus is the call-level lifecycle state
type CallStatus string

const (
	CallRinging   CallStatus = "ringing"
	CallOngoing   CallStatus = "ongoing"
	CallEnded     CallStatus = "ended"
	CallDeclined  CallStatus = "declined"
	CallMissed    CallStatus = "missed"
	CallCancelled CallStatus = "cancelled"
)

// IsTerminal reports whether no further transition is possible from s
func (s CallStatus) IsTerminal() bool {
	switch s {
	case CallEnded, CallDeclined, CallMissed, CallCancelled:
		return true
	}
	return false
}

// ParticipantStatus is the per-participant lifecycle state
type ParticipantStatus string

const (
	ParticipantInvited   ParticipantStatus = "invited"
	ParticipantJoined    ParticipantStatus = "joined"
	ParticipantDeclined  ParticipantStatus = "declined"
	ParticipantMissed    ParticipantStatus = "missed"
	ParticipantLeft      ParticipantStatus = "left"
	ParticipantCancelled ParticipantStatus = "cancelled"
)

// IsTerminal reports whether s is a final per-participant state
func (s ParticipantStatus) IsTerminal() bool {
	switch s {
	case ParticipantDeclined, ParticipantMissed, ParticipantLeft, ParticipantCancelled:
		return true
	}
	return false
}

// ParticipantRecord is one row of per-user state within a call.
// Display name and avatar are denormalized at invite time so the record
// stays self-describing even if the profile later changes.
type ParticipantRecord struct {
	UserID      uuid.UUID         `json:"user_id"`
	Status      ParticipantStatus `json:"status"`
	DisplayName string            `json:"display_name"`
	AvatarURL   string            `json:"avatar_url,omitempty"`
	JoinedAt    *time.Time        `json:"joined_at,omitempty"`
	LeftAt      *time.Time        `json:"left_at,omitempty"`
	StreamID    string            `json:"stream_id,omitempty"`
}

// Call represents one audio or video signaling session
type Call struct {
	CallID        uuid.UUID           `json:"call_id"`
	MediaKind     MediaKind           `json:"media_kind"`
	CallKind      CallKind            `json:"call_kind"`
	ChannelID     string              `json:"channel_id"`
	Status        CallStatus          `json:"status"`
	InitiatorID   uuid.UUID           `json:"initiator_id"`
	Title         string              `json:"title,omitempty"` // group calls only
	CreatedAt     time.Time           `json:"created_at"`
	RingStartedAt time.Time           `json:"ring_started_at"`
	RingEndedAt   *time.Time          `json:"ring_ended_at,omitempty"`
	RingDuration  int                 `json:"ring_duration,omitempty"` // seconds, write-once
	EndedAt       *time.Time          `json:"ended_at,omitempty"`
	Duration      int                 `json:"duration,omitempty"` // seconds, write-once
	Members       []uuid.UUID         `json:"members"`            // fixed membership list, set at creation
	Participants  []ParticipantRecord `json:"participants"`
}

// ChannelIDFor builds the signaling channel identifier clients rendezvous on
func ChannelIDFor(callID uuid.UUID) string {
	return fmt.Sprintf("call:%s", callID)
}

// IsMember reports whether userID is entitled to act on the call
func (c *Call) IsMember(userID uuid.UUID) bool {
	for _, id := range c.Members {
		if id == userID {
			return true
		}
	}
	return false
}

// Participant returns the record for userID, or nil
func (c *Call) Participant(userID uuid.UUID) *ParticipantRecord {
	for i := range c.Participants {
		if c.Participants[i].UserID == userID {
			return &c.Participants[i]
		}
	}
	return nil
}

// JoinedCount counts records currently in the joined state
func (c *Call) JoinedCount() int {
	n := 0
	for i := range c.Participants {
		if c.Participants[i].Status == ParticipantJoined {
			n++
		}
	}
	return n
}

// InvitedCount counts records still awaiting an answer
func (c *Call) InvitedCount() int {
	n := 0
	for i := range c.Participants {
		if c.Participants[i].Status == ParticipantInvited {
			n++
		}
	}
	return n
}

// WentOngoing reports whether an invitee ever accepted the call, i.e.
// whether the call left ringing into the ongoing phase at some point.
// Invitees get a join timestamp only on accept/join; the timestamp survives
// later transitions, so this holds for ended calls too.
func (c *Call) WentOngoing() bool {
	for i := range c.Participants {
		if c.Participants[i].UserID != c.InitiatorID && c.Participants[i].JoinedAt != nil {
			return true
		}
	}
	return false
}

// Clone returns a deep copy. The session store hands out and accepts only
// copies so callers can never mutate shared state outside the mutation gate.
func (c *Call) Clone() *Call {
	cp := *c
	cp.Members = append([]uuid.UUID(nil), c.Members...)
	cp.Participants = append([]ParticipantRecord(nil), c.Participants...)
	for i := range cp.Participants {
		if t := cp.Participants[i].JoinedAt; t != nil {
			tt := *t
			cp.Participants[i].JoinedAt = &tt
		}
		if t := cp.Participants[i].LeftAt; t != nil {
			tt := *t
			cp.Participants[i].LeftAt = &tt
		}
	}
	if t := c.RingEndedAt; t != nil {
		tt := *t
		cp.RingEndedAt = &tt
	}
	if t := c.EndedAt; t != nil {
		tt := *t
		cp.EndedAt = &tt
	}
	return &cp
}

// DeriveStatus computes the call status implied by the participant records.
// The call status must always equal this derivation; property tests assert
// it after every event sequence.
//
// wentOngoing distinguishes a call that an invitee accepted at some point
// from one that never left ringing.
func DeriveStatus(participants []ParticipantRecord, wentOngoing bool) CallStatus {
	var joined, invited, cancelled, declined, missed, left int
	for i := range participants {
		switch participants[i].Status {
		case ParticipantJoined:
			joined++
		case ParticipantInvited:
			invited++
		case ParticipantCancelled:
			cancelled++
		case ParticipantDeclined:
			declined++
		case ParticipantMissed:
			missed++
		case ParticipantLeft:
			left++
		}
	}

	switch {
	case cancelled > 0:
		return CallCancelled
	case wentOngoing && joined > 0:
		return CallOngoing
	case wentOngoing:
		return CallEnded
	case left > 0:
		// Left records without an ongoing phase only arise from an explicit
		// end while still ringing.
		return CallEnded
	case joined > 0 || invited > 0:
		return CallRinging
	case declined > 0 && missed == 0:
		return CallDeclined
	case missed > 0:
		return CallMissed
	default:
		return CallEnded
	}
}
