package app

import (
	"context"
	"time"

	"github.com/jcolson/dndvault-bot-sub000/internal/domain"
)

// EventRepository persists events. Update is a compare-and-swap on
// ev.Version: it fails with domain.ErrVersionConflict when the stored row has
// moved on, and increments ev.Version on success.
type EventRepository interface {
	Get(ctx context.Context, id string) (domain.Event, error)
	FindByAnnouncement(ctx context.Context, messageID string) (domain.Event, error)
	Insert(ctx context.Context, ev domain.Event) error
	Update(ctx context.Context, ev *domain.Event) error
	Delete(ctx context.Context, id string) error

	// ListReminderDue returns unclaimed events starting in (from, to].
	ListReminderDue(ctx context.Context, guildIDs []string, from, to time.Time) ([]domain.Event, error)
	// ListRecurrenceDue returns recurring, unclaimed events starting before cutoff.
	ListRecurrenceDue(ctx context.Context, guildIDs []string, cutoff time.Time) ([]domain.Event, error)
	// ListRetentionCandidates returns events starting before cutoff that
	// still hold a channel reference, or an announcement when withPosts is set.
	ListRetentionCandidates(ctx context.Context, guildID string, cutoff time.Time, withPosts bool) ([]domain.Event, error)

	ListUpcoming(ctx context.Context, guildID string, from time.Time, limit int) ([]domain.Event, error)
	CountUpcoming(ctx context.Context, guildID string, from time.Time) (int, error)
}

type ProfileRepository interface {
	// Profile returns domain.ErrProfileNotFound when the user has none.
	Profile(ctx context.Context, guildID, userID string) (domain.UserProfile, error)
}

type CharacterRegistry interface {
	// FindBestCharacterFor returns nil when the participant has no eligible
	// approved character.
	FindBestCharacterFor(ctx context.Context, guildID, participantID, campaign string, requireCampaignMatch bool) (*domain.CharacterRef, error)
	Character(ctx context.Context, guildID, characterID string) (domain.CharacterRef, error)
	ShortDisplayName(ref domain.CharacterRef) string
}

type PolicyProvider interface {
	Policy(ctx context.Context, guildID string) (domain.GuildPolicy, error)
	Invalidate(guildID string)
}

// GuildGuard tells whether this worker owns a guild.
type GuildGuard interface {
	Serves(guildID string) bool
	ServedGuilds() []string
}
