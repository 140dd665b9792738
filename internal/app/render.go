package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jcolson/dndvault-bot-sub000/internal/chat"
	"github.com/jcolson/dndvault-bot-sub000/internal/domain"
	"github.com/jcolson/dndvault-bot-sub000/internal/temporal"
)

// Control symbols seeded on every announcement post.
const (
	SymbolConfirm = "✅"
	SymbolDecline = "❎"
	SymbolDeploy  = "▶️"
	SymbolClock   = "🕐"
	SymbolEdit    = "📝"
	SymbolDelete  = "🗑️"
)

var ControlSymbols = []string{SymbolConfirm, SymbolDecline, SymbolDeploy, SymbolClock, SymbolEdit, SymbolDelete}

const (
	colorProposed = 0x3498db
	colorDeployed = 0x2ecc71
	colorReminder = 0xf1c40f
	colorError    = 0xe74c3c
)

// Renderer turns events into chat messages.
type Renderer struct {
	chars  CharacterRegistry
	logger *slog.Logger
}

func NewRenderer(chars CharacterRegistry, logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{chars: chars, logger: logger}
}

// Announcement renders the public post of ev.
func (r *Renderer) Announcement(ctx context.Context, ev domain.Event) chat.Message {
	color := colorProposed
	status := "Proposed"
	if ev.Status() == domain.StatusDeployed {
		color = colorDeployed
		status = "Deployed by " + chat.Mention(ev.DeployedBy)
	}

	fields := []chat.Field{
		{Name: "When", Value: discordTime(ev.StartsAt), Inline: true},
		{Name: "Duration", Value: formatHours(ev.DurationHours), Inline: true},
		{Name: "Status", Value: status, Inline: true},
		{Name: "Organizer", Value: chat.Mention(ev.OrganizerID), Inline: true},
		{Name: "Game master", Value: mentionOr(ev.GameMasterID, "_unassigned_"), Inline: true},
	}
	if ev.Campaign != "" {
		fields = append(fields, chat.Field{Name: "Campaign", Value: ev.Campaign, Inline: true})
	}
	if ev.Recurrence != nil {
		fields = append(fields, chat.Field{Name: "Repeats", Value: fmt.Sprintf("every %d days", ev.Recurrence.EveryDays), Inline: true})
	}

	var active, standby []string
	for _, a := range ev.Attendees {
		line := chat.Mention(a.ParticipantID)
		if name := r.characterName(ctx, ev.GuildID, a.CharacterID); name != "" {
			line += " - " + name
		}
		if a.Standby {
			standby = append(standby, line)
		} else {
			active = append(active, line)
		}
	}
	fields = append(fields, chat.Field{
		Name:  fmt.Sprintf("Attendees (%d/%d)", len(active), ev.Capacity),
		Value: listOr(active, "_nobody yet_"),
	})
	if len(standby) > 0 {
		fields = append(fields, chat.Field{Name: fmt.Sprintf("Standby (%d)", len(standby)), Value: listOr(standby, "")})
	}

	return chat.Message{
		Title:       ev.Title,
		Description: ev.Description,
		Color:       color,
		Fields:      fields,
		Footer: fmt.Sprintf("%s sign up  %s withdraw  %s deploy  %s my time  %s edit  %s delete | %s",
			SymbolConfirm, SymbolDecline, SymbolDeploy, SymbolClock, SymbolEdit, SymbolDelete, ev.ID),
	}
}

func (r *Renderer) Reminder(ev domain.Event) chat.Message {
	msg := chat.Message{
		Title:       "Reminder: " + ev.Title,
		Description: fmt.Sprintf("Starts %s (%s).", relativeTime(ev.StartsAt), discordTime(ev.StartsAt)),
		Color:       colorReminder,
	}
	if ev.Announcement != nil {
		msg.URL = chat.Link(ev.GuildID, *ev.Announcement)
	}
	return msg
}

// TimezoneView renders ev's start in the participant's zone, or a prompt to
// set one when tz is empty or unknown.
func (r *Renderer) TimezoneView(ev domain.Event, tz string) chat.Message {
	local, err := temporal.FormatIn(ev.StartsAt, tz)
	if err != nil {
		return chat.Message{
			Title:       ev.Title,
			Description: domain.ErrTimezoneRequired.Message,
			Color:       colorError,
		}
	}
	return chat.Message{
		Title:       ev.Title,
		Description: "Starts " + local,
		Color:       colorProposed,
	}
}

// EditTemplate renders a copy-pasteable edit command pre-filled with the
// event's current values.
func (r *Renderer) EditTemplate(ev domain.Event, tz string) chat.Message {
	at := ev.StartsAt.UTC()
	if loc, err := temporal.LoadZone(tz); err == nil {
		at = ev.StartsAt.In(loc)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "!event edit %s", ev.ID)
	fmt.Fprintf(&b, " !title [%s]", ev.Title)
	fmt.Fprintf(&b, " !dmgm [%s]", mentionOr(ev.GameMasterID, ""))
	fmt.Fprintf(&b, " !at [%s]", at.Format("3:04pm"))
	fmt.Fprintf(&b, " !on [%s]", at.Format("01/02/2006"))
	fmt.Fprintf(&b, " !for [%s]", strconv.FormatFloat(ev.DurationHours, 'f', -1, 64))
	fmt.Fprintf(&b, " !with [%d]", ev.Capacity)
	fmt.Fprintf(&b, " !campaign [%s]", ev.Campaign)
	fmt.Fprintf(&b, " !desc [%s]", ev.Description)
	return chat.Message{
		Title:       "Edit " + ev.Title,
		Description: "Copy, change what you need and send it in the event channel. Leave a field's brackets empty to clear it, or drop the field to keep it.",
		Content:     "```\n" + b.String() + "\n```",
		Color:       colorProposed,
	}
}

// ErrorMessage is the single-field rendering of a failure shown to an actor.
func (r *Renderer) ErrorMessage(actorID string, err error) chat.Message {
	return chat.Message{
		Description: mentionOr(actorID, ""),
		Color:       colorError,
		Fields:      []chat.Field{{Name: "Event error", Value: userMessage(err)}},
	}
}

func userMessage(err error) string {
	var de *domain.Error
	if errors.As(err, &de) {
		return de.Message
	}
	return "something went wrong, please try again later"
}

func (r *Renderer) characterName(ctx context.Context, guildID, characterID string) string {
	if characterID == "" || r.chars == nil {
		return ""
	}
	ref, err := r.chars.Character(ctx, guildID, characterID)
	if err != nil {
		r.logger.Debug("character lookup failed", "guild_id", guildID, "character_id", characterID, "err", err)
		return ""
	}
	return r.chars.ShortDisplayName(ref)
}

func discordTime(t time.Time) string {
	return fmt.Sprintf("<t:%d:F>", t.Unix())
}

func relativeTime(t time.Time) string {
	return fmt.Sprintf("<t:%d:R>", t.Unix())
}

func formatHours(h float64) string {
	s := strconv.FormatFloat(h, 'f', -1, 64)
	if h == 1 {
		return s + " hour"
	}
	return s + " hours"
}

func mentionOr(id, fallback string) string {
	if id == "" {
		return fallback
	}
	return chat.Mention(id)
}

func listOr(lines []string, fallback string) string {
	if len(lines) == 0 {
		return fallback
	}
	return strings.Join(lines, "\n")
}
