package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jcolson/dndvault-bot-sub000/internal/domain"
)

// CharacterRepository reads the approved characters registered elsewhere.
type CharacterRepository struct {
	db
}

func NewCharacterRepository(pool *pgxpool.Pool) *CharacterRepository {
	return &CharacterRepository{db{pool: pool}}
}

// FindBestCharacterFor prefers the participant's default character, then one
// in the event's campaign, then the newest. With requireCampaignMatch only
// characters of that campaign qualify.
func (r *CharacterRepository) FindBestCharacterFor(ctx context.Context, guildID, participantID, campaign string, requireCampaignMatch bool) (*domain.CharacterRef, error) {
	const query = `
SELECT c.id, c.name, c.campaign
FROM characters c
LEFT JOIN user_profiles p ON p.guild_id = c.guild_id AND p.user_id = c.user_id
WHERE c.guild_id = $1 AND c.user_id = $2 AND c.approved
	AND (NOT $4::boolean OR lower(c.campaign) = lower($3))
ORDER BY (p.default_character_id = c.id::text) DESC NULLS LAST,
	(lower(c.campaign) = lower($3)) DESC,
	c.created_at DESC
LIMIT 1`

	var ref domain.CharacterRef
	err := r.queryRow(ctx, query, guildID, participantID, campaign, requireCampaignMatch).Scan(&ref.ID, &ref.Name, &ref.Campaign)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find character: %w", err)
	}
	return &ref, nil
}

func (r *CharacterRepository) Character(ctx context.Context, guildID, characterID string) (domain.CharacterRef, error) {
	const query = `SELECT id, name, campaign FROM characters WHERE guild_id = $1 AND id = $2`

	var ref domain.CharacterRef
	err := r.queryRow(ctx, query, guildID, characterID).Scan(&ref.ID, &ref.Name, &ref.Campaign)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.CharacterRef{}, domain.ErrInvalidID
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.CharacterRef{}, domain.ErrCharacterNotFound
		}
		return domain.CharacterRef{}, fmt.Errorf("get character: %w", err)
	}
	return ref, nil
}

const maxShortName = 24

// ShortDisplayName is the character's name cut to fit a roster line.
func (r *CharacterRepository) ShortDisplayName(ref domain.CharacterRef) string {
	name := strings.Join(strings.Fields(ref.Name), " ")
	if utf8.RuneCountInString(name) <= maxShortName {
		return name
	}
	runes := []rune(name)
	return strings.TrimSpace(string(runes[:maxShortName-1])) + "…"
}
