package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jcolson/dndvault-bot-sub000/internal/domain"
)

type ProfileRepository struct {
	db
}

func NewProfileRepository(pool *pgxpool.Pool) *ProfileRepository {
	return &ProfileRepository{db{pool: pool}}
}

func (r *ProfileRepository) Profile(ctx context.Context, guildID, userID string) (domain.UserProfile, error) {
	const query = `
SELECT guild_id, user_id, timezone, default_character_id
FROM user_profiles
WHERE guild_id = $1 AND user_id = $2`

	var p domain.UserProfile
	err := r.queryRow(ctx, query, guildID, userID).Scan(&p.GuildID, &p.UserID, &p.Timezone, &p.DefaultCharacterID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.UserProfile{}, domain.ErrProfileNotFound
		}
		return domain.UserProfile{}, fmt.Errorf("get profile: %w", err)
	}
	return p, nil
}

func (r *ProfileRepository) Upsert(ctx context.Context, p domain.UserProfile) error {
	const stmt = `
INSERT INTO user_profiles (guild_id, user_id, timezone, default_character_id, updated_at)
VALUES ($1, $2, $3, $4, NOW())
ON CONFLICT (guild_id, user_id) DO UPDATE SET
	timezone = EXCLUDED.timezone,
	default_character_id = EXCLUDED.default_character_id,
	updated_at = NOW()`

	if _, err := r.exec(ctx, stmt, p.GuildID, p.UserID, p.Timezone, p.DefaultCharacterID); err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}
