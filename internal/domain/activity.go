package domain

import (
	"time"

	"github.com/google/uuid"
)

// ActivityEntry is one row of the append-only call activity trail.
// Every status transition is recorded exactly once, in apply order.
type ActivityEntry struct {
	CallID     uuid.UUID  `json:"call_id"`
	EntryID    uuid.UUID  `json:"entry_id"`
	OccurredAt time.Time  `json:"occurred_at"`
	ActorID    uuid.UUID  `json:"actor_id"`
	Event      string     `json:"event"`       // start, accept, decline, missed, join, leave, cancel, end
	CallStatus CallStatus `json:"call_status"` // call status after the transition
}
