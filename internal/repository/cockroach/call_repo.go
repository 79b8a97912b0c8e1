package cockroach

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"voxlink-backend/internal/domain"
	"voxlink-backend/pkg/pagination"
)

// CallRepository archives call session snapshots for history queries.
// The session store writes through on every committed transition, so a row
// always holds the latest known state of its call.
type CallRepository struct {
	pool *pgxpool.Pool
}

// NewCallRepository creates a new call repository
func NewCallRepository(pool *pgxpool.Pool) *CallRepository {
	return &CallRepository{pool: pool}
}

// Save upserts the full snapshot of a call
func (r *CallRepository) Save(ctx context.Context, call *domain.Call) error {
	participants, err := json.Marshal(call.Participants)
	if err != nil {
		return fmt.Errorf("failed to encode participants: %w", err)
	}

	query := `
		INSERT INTO calls (
			call_id, media_kind, call_kind, channel_id, status, initiator_id,
			title, created_at, ring_started_at, ring_ended_at, ring_duration,
			ended_at, duration, members, participants
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (call_id) DO UPDATE SET
			status = excluded.status,
			ring_ended_at = excluded.ring_ended_at,
			ring_duration = excluded.ring_duration,
			ended_at = excluded.ended_at,
			duration = excluded.duration,
			participants = excluded.participants
	`

	_, err = r.pool.Exec(ctx, query,
		call.CallID,
		call.MediaKind,
		call.CallKind,
		call.ChannelID,
		call.Status,
		call.InitiatorID,
		call.Title,
		call.CreatedAt,
		call.RingStartedAt,
		call.RingEndedAt,
		call.RingDuration,
		call.EndedAt,
		call.Duration,
		call.Members,
		participants,
	)

	if err != nil {
		return fmt.Errorf("failed to save call snapshot: %w", err)
	}

	return nil
}

// GetByID retrieves an archived call by ID
func (r *CallRepository) GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	query := `
		SELECT call_id, media_kind, call_kind, channel_id, status, initiator_id,
		       title, created_at, ring_started_at, ring_ended_at, ring_duration,
		       ended_at, duration, members, participants
		FROM calls
		WHERE call_id = $1
	`

	call, err := scanCall(r.pool.QueryRow(ctx, query, callID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("call not found")
		}
		return nil, fmt.Errorf("failed to get call: %w", err)
	}

	return call, nil
}

// ListByUser retrieves a user's calls, newest first. status filters to one
// call status when non-empty.
func (r *CallRepository) ListByUser(ctx context.Context, userID uuid.UUID, status domain.CallStatus, params *pagination.Params) ([]*domain.Call, int64, error) {
	var total int64
	countQuery := `
		SELECT count(*)
		FROM calls
		WHERE $1 = ANY(members) AND ($2 = '' OR status = $2)
	`
	if err := r.pool.QueryRow(ctx, countQuery, userID, string(status)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count calls: %w", err)
	}

	query := `
		SELECT call_id, media_kind, call_kind, channel_id, status, initiator_id,
		       title, created_at, ring_started_at, ring_ended_at, ring_duration,
		       ended_at, duration, members, participants
		FROM calls
		WHERE $1 = ANY(members) AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`

	rows, err := r.pool.Query(ctx, query, userID, string(status), params.Limit, params.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list calls: %w", err)
	}
	defer rows.Close()

	calls := make([]*domain.Call, 0, params.Limit)
	for rows.Next() {
		call, err := scanCall(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan call: %w", err)
		}
		calls = append(calls, call)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read calls: %w", err)
	}

	return calls, total, nil
}

func scanCall(row pgx.Row) (*domain.Call, error) {
	call := &domain.Call{}
	var participants []byte

	err := row.Scan(
		&call.CallID,
		&call.MediaKind,
		&call.CallKind,
		&call.ChannelID,
		&call.Status,
		&call.InitiatorID,
		&call.Title,
		&call.CreatedAt,
		&call.RingStartedAt,
		&call.RingEndedAt,
		&call.RingDuration,
		&call.EndedAt,
		&call.Duration,
		&call.Members,
		&participants,
	)
	if err != nil {
		return nil, err
	}

	if len(participants) > 0 {
		if err := json.Unmarshal(participants, &call.Participants); err != nil {
			return nil, fmt.Errorf("failed to decode participants: %w", err)
		}
	}

	return call, nil
}
