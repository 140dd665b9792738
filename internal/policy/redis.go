package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jcolson/dndvault-bot-sub000/internal/domain"
)

const keyPrefix = "rollcall:policy:"

// RedisSource shares stored policies across shards. Misses and Redis failures
// fall through to the wrapped source.
type RedisSource struct {
	client *redis.Client
	next   Source
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func NewRedisSource(client *redis.Client, next Source, ttl time.Duration, logger *slog.Logger) *RedisSource {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisSource{client: client, next: next, ttl: ttl, logger: logger}
}

func (s *RedisSource) Policy(ctx context.Context, guildID string) (domain.GuildPolicy, error) {
	raw, err := s.client.Get(ctx, keyPrefix+guildID).Bytes()
	switch {
	case err == nil:
		var p domain.GuildPolicy
		if jerr := json.Unmarshal(raw, &p); jerr == nil {
			return p, nil
		}
		s.logger.Warn("discarding undecodable cached policy", "guild_id", guildID)
	case errors.Is(err, redis.Nil):
	default:
		s.logger.Warn("redis policy read failed", "guild_id", guildID, "err", err)
		return s.next.Policy(ctx, guildID)
	}

	p, err := s.next.Policy(ctx, guildID)
	if err != nil {
		return p, err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return p, fmt.Errorf("encode policy: %w", err)
	}
	if err := s.client.Set(ctx, keyPrefix+guildID, data, s.ttl).Err(); err != nil {
		s.logger.Warn("redis policy write failed", "guild_id", guildID, "err", err)
	}
	return p, nil
}

func (s *RedisSource) Forget(ctx context.Context, guildID string) error {
	if err := s.client.Del(ctx, keyPrefix+guildID).Err(); err != nil {
		return fmt.Errorf("forget policy %s: %w", guildID, err)
	}
	return nil
}
