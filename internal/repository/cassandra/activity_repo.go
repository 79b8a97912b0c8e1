package cassandra

import (
	"context"
	"fmt"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"voxlink-backend/internal/domain"
)

// ActivityRepository stores the append-only per-call transition trail in
// Cassandra. Rows cluster by occurred_at under the call id, so reading a
// call's trail is a single partition scan.
type ActivityRepository struct {
	session *gocql.Session
}

// NewActivityRepository creates a new ActivityRepository
func NewActivityRepository(session *gocql.Session) *ActivityRepository {
	return &ActivityRepository{session: session}
}

// Append inserts one trail entry
func (r *ActivityRepository) Append(ctx context.Context, entry *domain.ActivityEntry) error {
	if entry.EntryID == uuid.Nil {
		entry.EntryID = uuid.New()
	}

	query := `
		INSERT INTO call_activity (
			call_id, occurred_at, entry_id, actor_id, event, call_status
		) VALUES (?, ?, ?, ?, ?, ?)
	`

	err := r.session.Query(query,
		entry.CallID,
		entry.OccurredAt,
		entry.EntryID,
		entry.ActorID,
		entry.Event,
		string(entry.CallStatus),
	).WithContext(ctx).Exec()

	if err != nil {
		return fmt.Errorf("failed to append call activity: %w", err)
	}

	return nil
}

// List retrieves a call's trail, oldest first
func (r *ActivityRepository) List(ctx context.Context, callID uuid.UUID, limit int) ([]*domain.ActivityEntry, error) {
	query := `
		SELECT call_id, occurred_at, entry_id, actor_id, event, call_status
		FROM call_activity
		WHERE call_id = ?
		ORDER BY occurred_at ASC
		LIMIT ?
	`

	iter := r.session.Query(query, callID, limit).WithContext(ctx).Iter()

	var entries []*domain.ActivityEntry
	for {
		entry := &domain.ActivityEntry{}
		var status string
		if !iter.Scan(
			&entry.CallID,
			&entry.OccurredAt,
			&entry.EntryID,
			&entry.ActorID,
			&entry.Event,
			&status,
		) {
			break
		}
		entry.CallStatus = domain.CallStatus(status)
		entries = append(entries, entry)
	}

	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list call activity: %w", err)
	}

	return entries, nil
}
