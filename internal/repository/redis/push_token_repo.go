package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"voxlink-backend/pkg/constants"
	"voxlink-backend/pkg/logger"
	"voxlink-backend/pkg/push"
)

// PushTokenRepository stores device push tokens in Redis. Tokens index two
// ways: by value for dedup on registration, and per user for fan-out when
// a call offer needs to wake offline devices.
type PushTokenRepository struct {
	client *redis.Client
}

// NewPushTokenRepository creates a new push token repository
func NewPushTokenRepository(client *redis.Client) *PushTokenRepository {
	return &PushTokenRepository{client: client}
}

func tokenKey(tokenStr string) string {
	return fmt.Sprintf("push:token:%s", tokenStr)
}

func userTokensKey(userID uuid.UUID) string {
	return fmt.Sprintf("push:user:%s:tokens", userID)
}

// Store stores a push token
func (r *PushTokenRepository) Store(ctx context.Context, token *push.Token) error {
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}
	now := time.Now().Unix()
	if token.CreatedAt == 0 {
		token.CreatedAt = now
	}
	token.UpdatedAt = now

	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	if err := r.client.Set(ctx, tokenKey(token.Token), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}
	if err := r.client.SAdd(ctx, userTokensKey(token.UserID), token.Token).Err(); err != nil {
		return fmt.Errorf("failed to add token to user set: %w", err)
	}
	if err := r.client.Expire(ctx, userTokensKey(token.UserID), constants.PushTokenExpiry).Err(); err != nil {
		logger.Warn("failed to set expiration on user tokens set",
			zap.String("user_id", token.UserID.String()),
			zap.Error(err))
	}

	return nil
}

// GetByToken retrieves a token by its value, or nil when unknown
func (r *PushTokenRepository) GetByToken(ctx context.Context, tokenStr string) (*push.Token, error) {
	data, err := r.client.Get(ctx, tokenKey(tokenStr)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}

	var token push.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}
	return &token, nil
}

// GetByUserID retrieves all tokens of a user
func (r *PushTokenRepository) GetByUserID(ctx context.Context, userID uuid.UUID) ([]*push.Token, error) {
	tokenStrs, err := r.client.SMembers(ctx, userTokensKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get user tokens: %w", err)
	}

	result := make([]*push.Token, 0, len(tokenStrs))
	for _, tokenStr := range tokenStrs {
		token, err := r.GetByToken(ctx, tokenStr)
		if err != nil {
			logger.Warn("failed to load push token",
				zap.String("user_id", userID.String()),
				zap.Error(err))
			continue
		}
		if token != nil {
			result = append(result, token)
		}
	}

	return result, nil
}

// Update rewrites an existing token
func (r *PushTokenRepository) Update(ctx context.Context, token *push.Token) error {
	token.UpdatedAt = time.Now().Unix()

	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}
	if err := r.client.Set(ctx, tokenKey(token.Token), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to update token: %w", err)
	}
	return nil
}

// Delete removes one token of a user
func (r *PushTokenRepository) Delete(ctx context.Context, userID uuid.UUID, tokenStr string) error {
	if err := r.client.SRem(ctx, userTokensKey(userID), tokenStr).Err(); err != nil {
		return fmt.Errorf("failed to remove token from user set: %w", err)
	}
	if err := r.client.Del(ctx, tokenKey(tokenStr)).Err(); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}

// DeleteByUserID removes every token of a user
func (r *PushTokenRepository) DeleteByUserID(ctx context.Context, userID uuid.UUID) error {
	tokenStrs, err := r.client.SMembers(ctx, userTokensKey(userID)).Result()
	if err != nil {
		return fmt.Errorf("failed to get user tokens: %w", err)
	}

	for _, tokenStr := range tokenStrs {
		if err := r.client.Del(ctx, tokenKey(tokenStr)).Err(); err != nil {
			logger.Warn("failed to delete token",
				zap.String("user_id", userID.String()),
				zap.Error(err))
		}
	}

	if err := r.client.Del(ctx, userTokensKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to delete user tokens set: %w", err)
	}
	return nil
}
