// Package policy serves per-guild configuration to the engine through an
// injected, invalidatable cache.
package policy

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jcolson/dndvault-bot-sub000/internal/clock"
	"github.com/jcolson/dndvault-bot-sub000/internal/domain"
	"github.com/jcolson/dndvault-bot-sub000/internal/metrics"
)

// Source loads the stored policy for a guild. It returns
// domain.ErrPolicyNotFound when the guild has none.
type Source interface {
	Policy(ctx context.Context, guildID string) (domain.GuildPolicy, error)
}

// forgetter is implemented by sources holding their own copy (RedisSource).
type forgetter interface {
	Forget(ctx context.Context, guildID string) error
}

const defaultTTL = 5 * time.Minute

type entry struct {
	policy  domain.GuildPolicy
	expires time.Time
}

// Cache is a read-through TTL cache in front of a Source.
type Cache struct {
	src      Source
	ttl      time.Duration
	clock    clock.Clock
	defaults func() domain.GuildPolicy
	logger   *slog.Logger

	mu      sync.Mutex
	entries map[string]entry
}

type Option func(*Cache)

func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithClock(clk clock.Clock) Option {
	return func(c *Cache) {
		c.clock = clk
	}
}

// WithDefaults sets the policy used for guilds without a stored row. The
// function is consulted on every miss so hot-reloaded defaults apply.
func WithDefaults(fn func() domain.GuildPolicy) Option {
	return func(c *Cache) {
		c.defaults = fn
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = l
	}
}

func NewCache(src Source, opts ...Option) *Cache {
	c := &Cache{
		src:      src,
		ttl:      defaultTTL,
		clock:    clock.NewSystem(),
		defaults: Default,
		logger:   slog.Default(),
		entries:  make(map[string]entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Default is the built-in policy: standby queuing on, attendee-only voice.
func Default() domain.GuildPolicy {
	return domain.GuildPolicy{
		StandbyQueuing:      true,
		VoicePermissionMode: domain.VoiceAttendees,
	}
}

func (c *Cache) Policy(ctx context.Context, guildID string) (domain.GuildPolicy, error) {
	now := c.clock.Now()

	c.mu.Lock()
	if e, ok := c.entries[guildID]; ok && now.Before(e.expires) {
		c.mu.Unlock()
		metrics.PolicyCache.WithLabelValues("hit").Inc()
		return e.policy, nil
	}
	c.mu.Unlock()

	p, err := c.src.Policy(ctx, guildID)
	switch {
	case err == nil:
		metrics.PolicyCache.WithLabelValues("miss").Inc()
	case errors.Is(err, domain.ErrPolicyNotFound):
		metrics.PolicyCache.WithLabelValues("default").Inc()
		p = c.defaults()
	default:
		return domain.GuildPolicy{}, err
	}
	p.GuildID = guildID
	if !p.VoicePermissionMode.Valid() {
		p.VoicePermissionMode = domain.VoiceAttendees
	}

	c.mu.Lock()
	c.entries[guildID] = entry{policy: p, expires: now.Add(c.ttl)}
	c.mu.Unlock()
	return p, nil
}

// Invalidate drops the cached policy for guildID here and in the source.
func (c *Cache) Invalidate(guildID string) {
	c.mu.Lock()
	delete(c.entries, guildID)
	c.mu.Unlock()

	if f, ok := c.src.(forgetter); ok {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := f.Forget(ctx, guildID); err != nil {
			c.logger.Warn("policy forget failed", "guild_id", guildID, "err", err)
		}
	}
}

// InvalidateAll empties the local cache. Shared copies expire on their own.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
}
