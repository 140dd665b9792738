package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jcolson/dndvault-bot-sub000/internal/domain"
)

type EventRepository struct {
	db
}

func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{db{pool: pool}}
}

const eventColumns = `
id, guild_id, title, description, campaign, organizer_id, game_master_id,
starts_at, duration_hours, capacity, attendees,
announcement_channel_id, announcement_message_id, planning_channel_id, voice_channel_id,
deployed_by, reminder_claimed_at, recur_every_days, recurrence_claimed_at,
version, created_at`

func (r *EventRepository) Get(ctx context.Context, id string) (domain.Event, error) {
	ev, err := scanEvent(r.queryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
	if err != nil {
		if isInvalidUUID(err) {
			return domain.Event{}, domain.ErrInvalidID
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Event{}, domain.ErrEventNotFound
		}
		return domain.Event{}, fmt.Errorf("get event: %w", err)
	}
	return ev, nil
}

func (r *EventRepository) FindByAnnouncement(ctx context.Context, messageID string) (domain.Event, error) {
	ev, err := scanEvent(r.queryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE announcement_message_id = $1`, messageID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Event{}, domain.ErrEventNotFound
		}
		return domain.Event{}, fmt.Errorf("find event by announcement: %w", err)
	}
	return ev, nil
}

func (r *EventRepository) Insert(ctx context.Context, ev domain.Event) error {
	const stmt = `
INSERT INTO events (` + eventColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`

	args := eventArgs(ev)
	args = append(args, ev.Version, ev.CreatedAt)
	if _, err := r.exec(ctx, stmt, args...); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrVersionConflict
		}
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// Update writes ev when the stored version still equals ev.Version and bumps
// both on success.
func (r *EventRepository) Update(ctx context.Context, ev *domain.Event) error {
	const stmt = `
UPDATE events SET
	guild_id = $2, title = $3, description = $4, campaign = $5, organizer_id = $6, game_master_id = $7,
	starts_at = $8, duration_hours = $9, capacity = $10, attendees = $11,
	announcement_channel_id = $12, announcement_message_id = $13,
	planning_channel_id = $14, voice_channel_id = $15,
	deployed_by = $16, reminder_claimed_at = $17, recur_every_days = $18, recurrence_claimed_at = $19,
	version = version + 1
WHERE id = $1 AND version = $20`

	args := append(eventArgs(*ev), ev.Version)
	tag, err := r.exec(ctx, stmt, args...)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		if isUniqueViolation(err) {
			return domain.ErrVersionConflict
		}
		return fmt.Errorf("update event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.queryRow(ctx, `SELECT EXISTS (SELECT 1 FROM events WHERE id = $1)`, ev.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check event: %w", err)
		}
		if !exists {
			return domain.ErrEventNotFound
		}
		return domain.ErrVersionConflict
	}
	ev.Version++
	return nil
}

func (r *EventRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.exec(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("delete event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrEventNotFound
	}
	return nil
}

func (r *EventRepository) ListReminderDue(ctx context.Context, guildIDs []string, from, to time.Time) ([]domain.Event, error) {
	const query = `
SELECT ` + eventColumns + `
FROM events
WHERE guild_id = ANY($1) AND reminder_claimed_at IS NULL AND starts_at > $2 AND starts_at <= $3
ORDER BY starts_at`
	return r.list(ctx, "list reminder due", query, guildIDs, from, to)
}

func (r *EventRepository) ListRecurrenceDue(ctx context.Context, guildIDs []string, cutoff time.Time) ([]domain.Event, error) {
	const query = `
SELECT ` + eventColumns + `
FROM events
WHERE guild_id = ANY($1) AND recur_every_days IS NOT NULL AND recurrence_claimed_at IS NULL AND starts_at < $2
ORDER BY starts_at`
	return r.list(ctx, "list recurrence due", query, guildIDs, cutoff)
}

func (r *EventRepository) ListRetentionCandidates(ctx context.Context, guildID string, cutoff time.Time, withPosts bool) ([]domain.Event, error) {
	const query = `
SELECT ` + eventColumns + `
FROM events
WHERE guild_id = $1 AND starts_at < $2
	AND (planning_channel_id <> '' OR voice_channel_id <> '' OR ($3 AND announcement_message_id IS NOT NULL))
ORDER BY starts_at`
	return r.list(ctx, "list retention candidates", query, guildID, cutoff, withPosts)
}

// ListUpcoming returns events starting after from, soonest first. A limit of
// zero returns all of them.
func (r *EventRepository) ListUpcoming(ctx context.Context, guildID string, from time.Time, limit int) ([]domain.Event, error) {
	const query = `
SELECT ` + eventColumns + `
FROM events
WHERE guild_id = $1 AND starts_at > $2
ORDER BY starts_at
LIMIT NULLIF($3::int, 0)`
	return r.list(ctx, "list upcoming", query, guildID, from, limit)
}

func (r *EventRepository) CountUpcoming(ctx context.Context, guildID string, from time.Time) (int, error) {
	var n int
	if err := r.queryRow(ctx, `SELECT COUNT(*) FROM events WHERE guild_id = $1 AND starts_at > $2`, guildID, from).Scan(&n); err != nil {
		return 0, fmt.Errorf("count upcoming: %w", err)
	}
	return n, nil
}

func (r *EventRepository) list(ctx context.Context, op, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

// eventArgs returns the positional values for every mutable column, in
// eventColumns order, ending before version.
func eventArgs(ev domain.Event) []any {
	attendees := ev.Attendees
	if attendees == nil {
		attendees = []domain.Attendee{}
	}
	var postChannel, postMessage *string
	if ev.Announcement != nil {
		postChannel = &ev.Announcement.ChannelID
		postMessage = &ev.Announcement.MessageID
	}
	var every *int
	if ev.Recurrence != nil {
		every = &ev.Recurrence.EveryDays
	}
	return []any{
		ev.ID, ev.GuildID, ev.Title, ev.Description, ev.Campaign, ev.OrganizerID, ev.GameMasterID,
		ev.StartsAt, ev.DurationHours, ev.Capacity, attendees,
		postChannel, postMessage, ev.PlanningChannelID, ev.VoiceChannelID,
		ev.DeployedBy, ev.ReminderClaimedAt, every, ev.RecurrenceClaimedAt,
	}
}

func scanEvent(row pgx.Row) (domain.Event, error) {
	var (
		ev          domain.Event
		postChannel *string
		postMessage *string
		every       *int
	)
	err := row.Scan(
		&ev.ID, &ev.GuildID, &ev.Title, &ev.Description, &ev.Campaign, &ev.OrganizerID, &ev.GameMasterID,
		&ev.StartsAt, &ev.DurationHours, &ev.Capacity, &ev.Attendees,
		&postChannel, &postMessage, &ev.PlanningChannelID, &ev.VoiceChannelID,
		&ev.DeployedBy, &ev.ReminderClaimedAt, &every, &ev.RecurrenceClaimedAt,
		&ev.Version, &ev.CreatedAt,
	)
	if err != nil {
		return domain.Event{}, err
	}
	if postChannel != nil && postMessage != nil {
		ev.Announcement = &domain.PostRef{ChannelID: *postChannel, MessageID: *postMessage}
	}
	if every != nil {
		ev.Recurrence = &domain.Recurrence{EveryDays: *every}
	}
	ev.StartsAt = ev.StartsAt.UTC()
	ev.CreatedAt = ev.CreatedAt.UTC()
	if len(ev.Attendees) == 0 {
		ev.Attendees = nil
	}
	return ev, nil
}
