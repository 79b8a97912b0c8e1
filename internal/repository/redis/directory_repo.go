package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"voxlink-backend/internal/database"
	"voxlink-backend/internal/domain"
)

const profileCacheTTL = 15 * time.Minute

// DirectoryRepository caches resolved user profiles in Redis. The user
// table lives in CockroachDB; call setup resolves every participant's
// profile, so the cache keeps the hot path off the database.
type DirectoryRepository struct {
	client *database.RedisClient
}

// NewDirectoryRepository creates a new DirectoryRepository
func NewDirectoryRepository(client *database.RedisClient) *DirectoryRepository {
	return &DirectoryRepository{client: client}
}

func profileKey(userID uuid.UUID) string {
	return fmt.Sprintf("directory:profile:%s", userID)
}

// GetProfile returns the cached profile, or (nil, nil) on a miss. Degraded
// Redis reads behave as misses.
func (r *DirectoryRepository) GetProfile(ctx context.Context, userID uuid.UUID) (*domain.Profile, error) {
	data, err := r.client.SafeGet(ctx, profileKey(userID)).Result()
	if err != nil {
		if err == redis.Nil || err == database.ErrDegraded {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get cached profile: %w", err)
	}

	profile := &domain.Profile{}
	if err := json.Unmarshal([]byte(data), profile); err != nil {
		return nil, fmt.Errorf("failed to decode cached profile: %w", err)
	}
	return profile, nil
}

// SetProfile caches a profile
func (r *DirectoryRepository) SetProfile(ctx context.Context, profile *domain.Profile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}

	if err := r.client.SafeSet(ctx, profileKey(profile.UserID), data, profileCacheTTL).Err(); err != nil {
		return fmt.Errorf("failed to cache profile: %w", err)
	}
	return nil
}

// InvalidateProfile drops a cached profile, for profile-change events
func (r *DirectoryRepository) InvalidateProfile(ctx context.Context, userID uuid.UUID) error {
	if err := r.client.SafeDel(ctx, profileKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate profile: %w", err)
	}
	return nil
}
