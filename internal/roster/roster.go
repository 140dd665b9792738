// Package roster enforces capacity and standby rules on an event's attendee list.
package roster

import (
	"time"

	"github.com/jcolson/dndvault-bot-sub000/internal/domain"
)

// Entry describes a signup request.
type Entry struct {
	ParticipantID string
	CharacterID   string
	JoinedAt      time.Time
}

// Count returns the number of active (standby=false) or standby entries.
func Count(ev *domain.Event, standby bool) int {
	return ev.Count(standby)
}

// Add signs a participant up. Re-adding an existing participant updates the
// entry in place and, if they were on standby while a slot is free, makes
// them active. New entrants fill free slots first, then the standby queue when
// standbyQueuing is set, otherwise the call fails with ErrEventFull.
func Add(ev *domain.Event, e Entry, standbyQueuing bool) error {
	if i := ev.AttendeeIndex(e.ParticipantID); i >= 0 {
		a := &ev.Attendees[i]
		a.CharacterID = e.CharacterID
		a.JoinedAt = e.JoinedAt
		if a.Standby && ev.Count(false) < ev.Capacity {
			a.Standby = false
		}
		return nil
	}

	entry := domain.Attendee{
		ParticipantID: e.ParticipantID,
		CharacterID:   e.CharacterID,
		JoinedAt:      e.JoinedAt,
	}
	switch {
	case ev.Count(false) < ev.Capacity:
	case standbyQueuing:
		entry.Standby = true
	default:
		return domain.ErrEventFull
	}
	ev.Attendees = append(ev.Attendees, entry)
	return nil
}

// Result reports what Remove changed.
type Result struct {
	Removed  bool
	Promoted string
}

// Remove drops a participant. With standby queuing enabled, the first standby
// entry in roster order is promoted when the active count falls below capacity.
func Remove(ev *domain.Event, participantID string, standbyQueuing bool) Result {
	i := ev.AttendeeIndex(participantID)
	if i < 0 {
		return Result{}
	}
	ev.Attendees = append(ev.Attendees[:i], ev.Attendees[i+1:]...)
	res := Result{Removed: true}

	if !standbyQueuing || ev.Count(false) >= ev.Capacity {
		return res
	}
	for j := range ev.Attendees {
		if ev.Attendees[j].Standby {
			ev.Attendees[j].Standby = false
			res.Promoted = ev.Attendees[j].ParticipantID
			break
		}
	}
	return res
}
