package cockroach

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"voxlink-backend/internal/domain"
)

// UserRepository reads user profiles from CockroachDB. The signaling
// service only consumes profiles; account writes live in the identity
// service that owns this table.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// GetByID retrieves a user profile by ID
func (r *UserRepository) GetByID(ctx context.Context, userID uuid.UUID) (*domain.Profile, error) {
	query := `
		SELECT user_id, username, display_name, avatar_url, created_at
		FROM users
		WHERE user_id = $1
	`

	profile := &domain.Profile{}
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&profile.UserID,
		&profile.Username,
		&profile.DisplayName,
		&profile.AvatarURL,
		&profile.CreatedAt,
	)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("user not found")
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return profile, nil
}

// GetByIDs retrieves multiple user profiles in one round trip. Missing ids
// are simply absent from the result.
func (r *UserRepository) GetByIDs(ctx context.Context, userIDs []uuid.UUID) ([]*domain.Profile, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT user_id, username, display_name, avatar_url, created_at
		FROM users
		WHERE user_id = ANY($1)
	`

	rows, err := r.pool.Query(ctx, query, userIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to get users: %w", err)
	}
	defer rows.Close()

	profiles := make([]*domain.Profile, 0, len(userIDs))
	for rows.Next() {
		profile := &domain.Profile{}
		err := rows.Scan(
			&profile.UserID,
			&profile.Username,
			&profile.DisplayName,
			&profile.AvatarURL,
			&profile.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		profiles = append(profiles, profile)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read users: %w", err)
	}

	return profiles, nil
}
