package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jcolson/dndvault-bot-sub000/internal/domain"
)

// PolicyRepository stores per-guild policies. It is the backing source of
// policy.Cache.
type PolicyRepository struct {
	db
}

func NewPolicyRepository(pool *pgxpool.Pool) *PolicyRepository {
	return &PolicyRepository{db{pool: pool}}
}

func (r *PolicyRepository) Policy(ctx context.Context, guildID string) (domain.GuildPolicy, error) {
	const query = `
SELECT guild_id, approver_role_id, standby_queuing, event_requires_approver,
	require_character_for_event, require_campaign_character_for_event,
	planning_category_id, voice_category_id, voice_permission_mode,
	retention_days, announcement_channel_id, auto_delete_posts
FROM guild_policies
WHERE guild_id = $1`

	var p domain.GuildPolicy
	var mode string
	err := r.queryRow(ctx, query, guildID).Scan(
		&p.GuildID, &p.ApproverRoleID, &p.StandbyQueuing, &p.EventRequiresApprover,
		&p.RequireCharacterForEvent, &p.RequireCampaignCharacterForEvent,
		&p.PlanningCategoryID, &p.VoiceCategoryID, &mode,
		&p.RetentionDays, &p.AnnouncementChannelID, &p.AutoDeletePosts,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.GuildPolicy{}, domain.ErrPolicyNotFound
		}
		return domain.GuildPolicy{}, fmt.Errorf("get policy: %w", err)
	}
	p.VoicePermissionMode = domain.VoiceMode(mode)
	return p, nil
}

func (r *PolicyRepository) Upsert(ctx context.Context, p domain.GuildPolicy) error {
	const stmt = `
INSERT INTO guild_policies (
	guild_id, approver_role_id, standby_queuing, event_requires_approver,
	require_character_for_event, require_campaign_character_for_event,
	planning_category_id, voice_category_id, voice_permission_mode,
	retention_days, announcement_channel_id, auto_delete_posts, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
ON CONFLICT (guild_id) DO UPDATE SET
	approver_role_id = EXCLUDED.approver_role_id,
	standby_queuing = EXCLUDED.standby_queuing,
	event_requires_approver = EXCLUDED.event_requires_approver,
	require_character_for_event = EXCLUDED.require_character_for_event,
	require_campaign_character_for_event = EXCLUDED.require_campaign_character_for_event,
	planning_category_id = EXCLUDED.planning_category_id,
	voice_category_id = EXCLUDED.voice_category_id,
	voice_permission_mode = EXCLUDED.voice_permission_mode,
	retention_days = EXCLUDED.retention_days,
	announcement_channel_id = EXCLUDED.announcement_channel_id,
	auto_delete_posts = EXCLUDED.auto_delete_posts,
	updated_at = NOW()`

	mode := p.VoicePermissionMode
	if mode == "" {
		mode = domain.VoiceAttendees
	}
	if !mode.Valid() || p.RetentionDays < 0 {
		return domain.ErrInvalidPolicy
	}
	_, err := r.exec(ctx, stmt,
		p.GuildID, p.ApproverRoleID, p.StandbyQueuing, p.EventRequiresApprover,
		p.RequireCharacterForEvent, p.RequireCampaignCharacterForEvent,
		p.PlanningCategoryID, p.VoiceCategoryID, string(mode),
		p.RetentionDays, p.AnnouncementChannelID, p.AutoDeletePosts,
	)
	if err != nil {
		return fmt.Errorf("upsert policy: %w", err)
	}
	return nil
}
