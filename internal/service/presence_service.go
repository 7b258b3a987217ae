package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/crewtalk-io/crewtalk-api/internal/repository"
)

const presenceKeyPrefix = "presence:online:"

// PresenceService tracks which users are reachable. The durable flag lives on
// the user row; Redis carries a TTL'd mirror so other nodes can answer presence
// lookups without touching the database.
type PresenceService interface {
	SetOnline(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string) error
	IsOnline(ctx context.Context, userID string) (bool, error)
}

type presenceService struct {
	users       repository.UserRepository
	redisClient *redis.Client
	ttl         time.Duration
	log         zerolog.Logger
}

// NewPresenceService builds the presence tracker. The Redis client may be nil
// on single-node deployments.
func NewPresenceService(users repository.UserRepository, redisClient *redis.Client, ttl time.Duration, logger zerolog.Logger) PresenceService {
	return &presenceService{
		users:       users,
		redisClient: redisClient,
		ttl:         ttl,
		log:         logger.With().Str("component", "presence_service").Logger(),
	}
}

func (s *presenceService) SetOnline(ctx context.Context, userID string) error {
	if err := s.users.SetOnline(ctx, userID, true); err != nil {
		return fmt.Errorf("mark user online: %w", err)
	}

	if s.redisClient != nil {
		if err := s.redisClient.Set(ctx, presenceKey(userID), "1", s.ttl).Err(); err != nil {
			s.log.Warn().Err(err).Str("user_id", userID).Msg("failed to mirror presence to redis")
		}
	}

	s.log.Info().Str("user_id", userID).Msg("user is online")
	return nil
}

func (s *presenceService) SetOffline(ctx context.Context, userID string) error {
	if err := s.users.SetOnline(ctx, userID, false); err != nil {
		return fmt.Errorf("mark user offline: %w", err)
	}

	if s.redisClient != nil {
		if err := s.redisClient.Del(ctx, presenceKey(userID)).Err(); err != nil {
			s.log.Warn().Err(err).Str("user_id", userID).Msg("failed to drop presence key from redis")
		}
	}

	s.log.Info().Str("user_id", userID).Msg("user is offline")
	return nil
}

func (s *presenceService) IsOnline(ctx context.Context, userID string) (bool, error) {
	if s.redisClient != nil {
		count, err := s.redisClient.Exists(ctx, presenceKey(userID)).Result()
		if err == nil {
			return count > 0, nil
		}
		s.log.Warn().Err(err).Str("user_id", userID).Msg("presence lookup fell back to the database")
	}

	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("load user: %w", err)
	}
	return user.IsOnline, nil
}

func presenceKey(userID string) string {
	return presenceKeyPrefix + userID
}
