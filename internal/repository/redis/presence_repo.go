package redis

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"voxlink-backend/internal/database"
	"voxlink-backend/pkg/constants"
)

// PresenceRepository mirrors the in-process presence registry into Redis so
// other services can answer "is this user reachable" without a hop to the
// signaling node. A user may hold several live connections; the user counts
// as online while at least one device key is alive. The hub is the source
// of truth, the mirror is advisory and TTL-guarded.
type PresenceRepository struct {
	client *database.RedisClient
}

// NewPresenceRepository creates a new PresenceRepository
func NewPresenceRepository(client *database.RedisClient) *PresenceRepository {
	return &PresenceRepository{client: client}
}

func userKey(userID uuid.UUID) string {
	return fmt.Sprintf("presence:user:%s", userID)
}

// SetDeviceOnline records one live connection for a user
func (r *PresenceRepository) SetDeviceOnline(ctx context.Context, userID uuid.UUID, connectionID string) error {
	key := userKey(userID)

	if err := r.client.SafeSAdd(ctx, key, connectionID).Err(); err != nil {
		return fmt.Errorf("failed to register device: %w", err)
	}
	// The whole device set expires unless some connection heartbeats.
	if err := r.client.SafeExpire(ctx, key, constants.PresenceTTL).Err(); err != nil {
		return fmt.Errorf("failed to set presence ttl: %w", err)
	}
	if err := r.client.SafeSAdd(ctx, "presence:online", userID.String()).Err(); err != nil {
		return fmt.Errorf("failed to add to online set: %w", err)
	}

	return nil
}

// SetDeviceOffline drops one connection. The user stays online while other
// devices remain registered.
func (r *PresenceRepository) SetDeviceOffline(ctx context.Context, userID uuid.UUID, connectionID string) error {
	key := userKey(userID)

	if err := r.client.SafeSRem(ctx, key, connectionID).Err(); err != nil {
		return fmt.Errorf("failed to remove device: %w", err)
	}

	remaining, err := r.client.SafeSCard(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to count devices: %w", err)
	}
	if remaining == 0 {
		if err := r.client.SafeDel(ctx, key).Err(); err != nil {
			return fmt.Errorf("failed to delete presence: %w", err)
		}
		if err := r.client.SafeSRem(ctx, "presence:online", userID.String()).Err(); err != nil {
			return fmt.Errorf("failed to remove from online set: %w", err)
		}
	}

	return nil
}

// Refresh keeps a user's device set alive (heartbeat)
func (r *PresenceRepository) Refresh(ctx context.Context, userID uuid.UUID) error {
	if err := r.client.SafeExpire(ctx, userKey(userID), constants.PresenceTTL).Err(); err != nil {
		return fmt.Errorf("failed to refresh presence: %w", err)
	}
	return nil
}

// IsUserOnline reports whether the user has at least one live device
func (r *PresenceRepository) IsUserOnline(ctx context.Context, userID uuid.UUID) (bool, error) {
	exists, err := r.client.SafeExists(ctx, userKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check presence: %w", err)
	}
	return exists > 0, nil
}

// GetOnlineUsers retrieves the ids of all online users
func (r *PresenceRepository) GetOnlineUsers(ctx context.Context) ([]uuid.UUID, error) {
	userIDStrs, err := r.client.SafeSMembers(ctx, "presence:online").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get online users: %w", err)
	}

	userIDs := make([]uuid.UUID, 0, len(userIDStrs))
	for _, idStr := range userIDStrs {
		userID, err := uuid.Parse(idStr)
		if err != nil {
			continue
		}
		userIDs = append(userIDs, userID)
	}

	return userIDs, nil
}

// GetOnlineCount returns the number of online users
func (r *PresenceRepository) GetOnlineCount(ctx context.Context) (int64, error) {
	count, err := r.client.SafeSCard(ctx, "presence:online").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count online users: %w", err)
	}
	return count, nil
}

// IsDegraded reports whether Redis is in degraded mode
func (r *PresenceRepository) IsDegraded() bool {
	return r.client.IsDegraded()
}
