package call

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"voxlink-backend/internal/domain"
	"voxlink-backend/pkg/constants"
	"voxlink-backend/pkg/errors"
)

// EventKind names a call lifecycle event
type EventKind string

const (
	EventStart   EventKind = "start"
	EventAccept  EventKind = "accept"
	EventDecline EventKind = "decline"
	EventMissed  EventKind = "missed"
	EventJoin    EventKind = "join"
	EventLeave   EventKind = "leave"
	EventCancel  EventKind = "cancel"
	EventEnd     EventKind = "end"
)

// Event is one state-machine input. At is injected by the caller so the
// decision logic itself never reads the clock.
type Event struct {
	Kind     EventKind
	Actor    uuid.UUID
	StreamID string // join only
	Duration int    // end only; caller-supplied elapsed seconds
	At       time.Time
}

// StartInput carries everything needed to create a call in ringing state.
// Profiles come pre-resolved from the directory so creation stays pure.
type StartInput struct {
	CallID    uuid.UUID
	MediaKind domain.MediaKind
	CallKind  domain.CallKind
	Title     string
	Initiator domain.Profile
	Targets   []domain.Profile
	At        time.Time
}

// Start creates a new call in ringing state. The initiator's record starts
// joined, every target starts invited. Returns the call plus the offer and
// acknowledgement notifications to deliver.
func Start(in StartInput) (*domain.Call, []Notification, error) {
	if len(in.Targets) == 0 {
		return nil, nil, errors.ValidationError("at least one target is required")
	}
	if in.CallKind == domain.CallDirect && len(in.Targets) != 1 {
		return nil, nil, errors.ValidationError("a direct call has exactly one target")
	}
	if in.CallKind == domain.CallGroup && len(in.Targets) > maxGroupTargets {
		return nil, nil, errors.ValidationError(fmt.Sprintf("a group call supports at most %d targets", maxGroupTargets))
	}

	seen := map[uuid.UUID]bool{in.Initiator.UserID: true}
	for _, t := range in.Targets {
		if t.UserID == in.Initiator.UserID {
			return nil, nil, errors.ValidationError("initiator cannot be a target")
		}
		if seen[t.UserID] {
			return nil, nil, errors.ValidationError("duplicate target: " + t.UserID.String())
		}
		seen[t.UserID] = true
	}

	at := in.At
	c := &domain.Call{
		CallID:        in.CallID,
		MediaKind:     in.MediaKind,
		CallKind:      in.CallKind,
		ChannelID:     domain.ChannelIDFor(in.CallID),
		Status:        domain.CallRinging,
		InitiatorID:   in.Initiator.UserID,
		Title:         in.Title,
		CreatedAt:     at,
		RingStartedAt: at,
		Members:       make([]uuid.UUID, 0, len(in.Targets)+1),
		Participants:  make([]domain.ParticipantRecord, 0, len(in.Targets)+1),
	}

	joinedAt := at
	c.Members = append(c.Members, in.Initiator.UserID)
	c.Participants = append(c.Participants, domain.ParticipantRecord{
		UserID:      in.Initiator.UserID,
		Status:      domain.ParticipantJoined,
		DisplayName: in.Initiator.DisplayName,
		AvatarURL:   in.Initiator.AvatarURL,
		JoinedAt:    &joinedAt,
	})

	targetIDs := make([]uuid.UUID, 0, len(in.Targets))
	for _, t := range in.Targets {
		c.Members = append(c.Members, t.UserID)
		c.Participants = append(c.Participants, domain.ParticipantRecord{
			UserID:      t.UserID,
			Status:      domain.ParticipantInvited,
			DisplayName: t.DisplayName,
			AvatarURL:   t.AvatarURL,
		})
		targetIDs = append(targetIDs, t.UserID)
	}

	snapshot := c.Clone()
	notifications := []Notification{
		{Kind: NoteCallOffered, Call: snapshot, Event: EventStart, Actor: c.InitiatorID, Targets: targetIDs},
		{Kind: NoteStartedAck, Call: snapshot, Event: EventStart, Actor: c.InitiatorID, Targets: []uuid.UUID{c.InitiatorID}},
	}
	return c, notifications, nil
}

// The initiator occupies one of the group slots, so a start event may
// invite at most one fewer target than the member cap.
const maxGroupTargets = constants.MaxGroupCallMembers - 1

// Decide applies one event to a call and returns the next call state plus
// the notifications the transition requires. It performs no I/O, never
// mutates its input, and either returns a fully-applied next state or an
// error with the input state untouched.
//
// Idempotent re-application of an already-reached state is a silent no-op:
// the returned call equals the input and the notification list is empty.
func Decide(c *domain.Call, ev Event) (*domain.Call, []Notification, error) {
	if !c.IsMember(ev.Actor) {
		return nil, nil, errors.ForbiddenError("user is not a participant of this call")
	}

	next := c.Clone()
	p := next.Participant(ev.Actor)
	if p == nil {
		return nil, nil, errors.ForbiddenError("user is not a participant of this call")
	}

	if next.Status.IsTerminal() {
		if isTerminalNoop(next, p, ev) {
			return next, nil, nil
		}
		return nil, nil, errors.InvalidStateError(fmt.Sprintf("call is already %s", next.Status))
	}

	switch ev.Kind {
	case EventAccept:
		return decideAccept(next, p, ev, "")
	case EventJoin:
		return decideAccept(next, p, ev, ev.StreamID)
	case EventDecline:
		return decideAnswerTerminal(next, p, ev, domain.ParticipantDeclined)
	case EventMissed:
		return decideAnswerTerminal(next, p, ev, domain.ParticipantMissed)
	case EventLeave:
		return decideLeave(next, p, ev)
	case EventCancel:
		return decideCancel(next, ev)
	case EventEnd:
		applyEnd(next, ev.At, ev.Duration)
		return next, transitionNotes(next, ev), nil
	default:
		return nil, nil, errors.InvalidInputError(fmt.Sprintf("unknown call event %q", ev.Kind))
	}
}

// isTerminalNoop reports whether ev merely re-applies the state the call or
// participant is already in (duplicate client retries, reaper overlap).
func isTerminalNoop(c *domain.Call, p *domain.ParticipantRecord, ev Event) bool {
	switch ev.Kind {
	case EventEnd:
		return c.Status == domain.CallEnded
	case EventCancel:
		return c.Status == domain.CallCancelled
	case EventDecline:
		return p.Status == domain.ParticipantDeclined
	case EventMissed:
		return p.Status == domain.ParticipantMissed
	case EventLeave:
		return p.Status == domain.ParticipantLeft
	}
	return false
}

// decideAccept handles accept and join; join additionally attaches the
// participant's published stream identifier.
func decideAccept(next *domain.Call, p *domain.ParticipantRecord, ev Event, streamID string) (*domain.Call, []Notification, error) {
	if p.Status == domain.ParticipantJoined {
		// Duplicate accept, or a rejoining client refreshing its stream.
		if streamID != "" {
			p.StreamID = streamID
		}
		return next, nil, nil
	}
	if p.Status != domain.ParticipantInvited {
		return nil, nil, errors.InvalidStateError(fmt.Sprintf("participant is %s, cannot %s", p.Status, ev.Kind))
	}

	at := ev.At
	p.Status = domain.ParticipantJoined
	p.JoinedAt = &at
	if streamID != "" {
		p.StreamID = streamID
	}

	// Acceptance by either side moves the whole 2-party call forward.
	if next.CallKind == domain.CallDirect {
		for i := range next.Participants {
			other := &next.Participants[i]
			if other.UserID != p.UserID && other.Status == domain.ParticipantInvited {
				other.Status = domain.ParticipantJoined
				other.JoinedAt = &at
			}
		}
	}

	if next.Status == domain.CallRinging {
		next.Status = domain.CallOngoing
		closeRing(next, at)
	}

	return next, transitionNotes(next, ev), nil
}

// decideAnswerTerminal handles decline and missed, which differ only in the
// terminal state they assign.
func decideAnswerTerminal(next *domain.Call, p *domain.ParticipantRecord, ev Event, pStatus domain.ParticipantStatus) (*domain.Call, []Notification, error) {
	if p.Status == pStatus {
		return next, nil, nil
	}
	if p.Status != domain.ParticipantInvited {
		return nil, nil, errors.InvalidStateError(fmt.Sprintf("participant is %s, cannot %s", p.Status, ev.Kind))
	}

	p.Status = pStatus

	// When the last open invitation is answered negatively and nobody ever
	// accepted, there is no one left to carry the call: it terminates and
	// the remaining holders (the initiator) are forced into the same
	// terminal state. For direct calls this is the both-decline symmetry.
	// The call status is rederived from the records rather than taken from
	// this event's kind, so a mix of earlier missed and later declined
	// answers still resolves to missed.
	if next.Status == domain.CallRinging && next.InvitedCount() == 0 {
		for i := range next.Participants {
			r := &next.Participants[i]
			if !r.Status.IsTerminal() {
				r.Status = pStatus
			}
		}
		next.Status = domain.DeriveStatus(next.Participants, next.WentOngoing())
		at := ev.At
		closeRing(next, at)
		next.EndedAt = &at
	}

	return next, transitionNotes(next, ev), nil
}

func decideLeave(next *domain.Call, p *domain.ParticipantRecord, ev Event) (*domain.Call, []Notification, error) {
	if p.Status != domain.ParticipantJoined {
		return nil, nil, errors.InvalidStateError(fmt.Sprintf("participant is %s, cannot leave", p.Status))
	}

	at := ev.At
	p.Status = domain.ParticipantLeft
	p.LeftAt = &at

	// All parties hung up: the call reaps itself.
	if next.JoinedCount() == 0 {
		applyEnd(next, at, 0)
	}

	return next, transitionNotes(next, ev), nil
}

func decideCancel(next *domain.Call, ev Event) (*domain.Call, []Notification, error) {
	if ev.Actor != next.InitiatorID {
		return nil, nil, errors.ForbiddenError("only the initiator can cancel a call")
	}
	if next.Status != domain.CallRinging {
		return nil, nil, errors.InvalidStateError("cancel is only valid while ringing")
	}

	at := ev.At
	for i := range next.Participants {
		r := &next.Participants[i]
		if !r.Status.IsTerminal() {
			r.Status = domain.ParticipantCancelled
		}
	}
	next.Status = domain.CallCancelled
	closeRing(next, at)
	next.EndedAt = &at

	return next, transitionNotes(next, ev), nil
}

// applyEnd moves a ringing or ongoing call to ended. Remaining joined
// records become left, remaining invited records become missed, so the call
// status stays a pure function of the participant multiset.
func applyEnd(next *domain.Call, at time.Time, callerDuration int) {
	for i := range next.Participants {
		r := &next.Participants[i]
		switch r.Status {
		case domain.ParticipantJoined:
			r.Status = domain.ParticipantLeft
			if r.LeftAt == nil {
				t := at
				r.LeftAt = &t
			}
		case domain.ParticipantInvited:
			r.Status = domain.ParticipantMissed
		}
	}

	wasOngoing := next.Status == domain.CallOngoing
	next.Status = domain.CallEnded
	closeRing(next, at)
	t := at
	next.EndedAt = &t

	if next.Duration == 0 {
		switch {
		case callerDuration > 0:
			next.Duration = callerDuration
		case wasOngoing && next.RingEndedAt != nil:
			next.Duration = int(at.Sub(*next.RingEndedAt).Seconds())
		}
	}
}

// closeRing stamps the end of the ringing phase and freezes ringDuration.
// Both fields are write-once.
func closeRing(next *domain.Call, at time.Time) {
	if next.RingEndedAt == nil {
		t := at
		next.RingEndedAt = &t
	}
	if next.RingDuration == 0 {
		next.RingDuration = int(next.RingEndedAt.Sub(next.RingStartedAt).Seconds())
	}
}

// transitionNotes builds the notification set for an applied transition:
// a status-changed for every transition, plus the ended teardown trigger
// once the call reaches any terminal status.
func transitionNotes(next *domain.Call, ev Event) []Notification {
	snapshot := next.Clone()
	notes := []Notification{
		{Kind: NoteStatusChanged, Call: snapshot, Event: ev.Kind, Actor: ev.Actor},
	}
	if next.Status.IsTerminal() {
		notes = append(notes, Notification{Kind: NoteEnded, Call: snapshot, Event: ev.Kind, Actor: ev.Actor})
	}
	return notes
}
