// Package directory resolves user ids to display profiles. Call setup
// denormalizes every participant's profile into the session, so resolution
// sits on the hot path and reads through a Redis cache before touching
// CockroachDB.
package directory

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"voxlink-backend/internal/domain"
	"voxlink-backend/pkg/errors"
	"voxlink-backend/pkg/logger"
)

// UserReader loads profiles from the user table
type UserReader interface {
	GetByID(ctx context.Context, userID uuid.UUID) (*domain.Profile, error)
	GetByIDs(ctx context.Context, userIDs []uuid.UUID) ([]*domain.Profile, error)
}

// ProfileCache caches resolved profiles. A (nil, nil) result is a miss.
type ProfileCache interface {
	GetProfile(ctx context.Context, userID uuid.UUID) (*domain.Profile, error)
	SetProfile(ctx context.Context, profile *domain.Profile) error
}

// Service is the profile directory
type Service struct {
	users UserReader
	cache ProfileCache // optional
}

// NewService creates a directory service. cache may be nil.
func NewService(users UserReader, cache ProfileCache) *Service {
	return &Service{users: users, cache: cache}
}

// Lookup resolves one user profile
func (s *Service) Lookup(ctx context.Context, userID uuid.UUID) (*domain.Profile, error) {
	if s.cache != nil {
		cached, err := s.cache.GetProfile(ctx, userID)
		if err != nil {
			logger.Warn("profile cache read failed",
				zap.String("user_id", userID.String()),
				zap.Error(err))
		} else if cached != nil {
			return cached, nil
		}
	}

	profile, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, errors.UserNotFoundError()
	}

	s.fillCache(ctx, profile)
	return profile, nil
}

// LookupMany resolves a batch of profiles. Every requested id must
// resolve; an unknown id fails the whole batch so a call can never be
// created against a missing account.
func (s *Service) LookupMany(ctx context.Context, userIDs []uuid.UUID) ([]*domain.Profile, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	found := make(map[uuid.UUID]*domain.Profile, len(userIDs))
	missing := make([]uuid.UUID, 0, len(userIDs))

	if s.cache != nil {
		for _, id := range userIDs {
			cached, err := s.cache.GetProfile(ctx, id)
			if err == nil && cached != nil {
				found[id] = cached
				continue
			}
			missing = append(missing, id)
		}
	} else {
		missing = userIDs
	}

	if len(missing) > 0 {
		profiles, err := s.users.GetByIDs(ctx, missing)
		if err != nil {
			return nil, errors.DirectoryError("failed to resolve users")
		}
		for _, p := range profiles {
			found[p.UserID] = p
			s.fillCache(ctx, p)
		}
	}

	result := make([]*domain.Profile, 0, len(userIDs))
	for _, id := range userIDs {
		p, ok := found[id]
		if !ok {
			return nil, errors.UserNotFoundError()
		}
		result = append(result, p)
	}
	return result, nil
}

func (s *Service) fillCache(ctx context.Context, profile *domain.Profile) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetProfile(ctx, profile); err != nil {
		logger.Warn("profile cache write failed",
			zap.String("user_id", profile.UserID.String()),
			zap.Error(err))
	}
}
