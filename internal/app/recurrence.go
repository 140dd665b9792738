package app

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/jcolson/dndvault-bot-sub000/internal/domain"
)

// nextStart returns the first occurrence of a daily cadence of everyDays
// anchored at start that falls after both start and now. Occurrences are
// stepped in loc so wall-clock time survives DST changes.
func nextStart(start time.Time, everyDays int, now time.Time, loc *time.Location) (time.Time, error) {
	if everyDays <= 0 {
		return time.Time{}, domain.ErrInvalidRecurrence
	}
	if loc == nil {
		loc = time.UTC
	}
	rule, err := rrule.NewRRule(rrule.ROption{
		Freq:     rrule.DAILY,
		Interval: everyDays,
		Dtstart:  start.In(loc),
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("build recurrence rule: %w", err)
	}
	after := start
	if now.After(after) {
		after = now
	}
	next := rule.After(after.In(loc), false)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("no occurrence after %s", after)
	}
	return next.UTC(), nil
}

// successor copies the durable fields of ev into a fresh event. Roster,
// post, channels and claims start empty.
func successor(ev domain.Event, id string, startsAt, now time.Time) domain.Event {
	next := domain.Event{
		ID:            id,
		GuildID:       ev.GuildID,
		Title:         domain.NextTitle(ev.Title),
		Description:   ev.Description,
		Campaign:      ev.Campaign,
		OrganizerID:   ev.OrganizerID,
		GameMasterID:  ev.GameMasterID,
		StartsAt:      startsAt,
		DurationHours: ev.DurationHours,
		Capacity:      ev.Capacity,
		DeployedBy:    ev.DeployedBy,
		Version:       1,
		CreatedAt:     now,
	}
	if ev.Recurrence != nil {
		r := *ev.Recurrence
		next.Recurrence = &r
	}
	return next
}
