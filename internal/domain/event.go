package domain

import (
	"strings"
	"time"
)

// Status is the derived lifecycle state of an event.
type Status string

const (
	StatusProposed Status = "proposed"
	StatusDeployed Status = "deployed"
)

// Attendee is one roster entry. ParticipantID is unique within an event.
type Attendee struct {
	ParticipantID string    `json:"participant_id"`
	CharacterID   string    `json:"character_id,omitempty"`
	JoinedAt      time.Time `json:"joined_at"`
	Standby       bool      `json:"standby"`
}

// PostRef points at the rendered announcement post of an event.
type PostRef struct {
	ChannelID string
	MessageID string
}

// Recurrence schedules a successor event every EveryDays days.
type Recurrence struct {
	EveryDays int
}

// Event is a time-bound group activity owned by a guild.
type Event struct {
	ID            string
	GuildID       string
	Title         string
	Description   string
	Campaign      string
	OrganizerID   string
	GameMasterID  string
	StartsAt      time.Time
	DurationHours float64
	Capacity      int
	Attendees     []Attendee

	Announcement      *PostRef
	PlanningChannelID string
	VoiceChannelID    string

	DeployedBy          string
	ReminderClaimedAt   *time.Time
	Recurrence          *Recurrence
	RecurrenceClaimedAt *time.Time

	Version   int64
	CreatedAt time.Time
}

func (e Event) Status() Status {
	if e.DeployedBy != "" {
		return StatusDeployed
	}
	return StatusProposed
}

func (e Event) EndsAt() time.Time {
	return e.StartsAt.Add(time.Duration(e.DurationHours * float64(time.Hour)))
}

// Count returns the number of attendees with the given standby flag.
func (e Event) Count(standby bool) int {
	n := 0
	for _, a := range e.Attendees {
		if a.Standby == standby {
			n++
		}
	}
	return n
}

// AttendeeIndex returns the index of participantID in the roster, or -1.
func (e Event) AttendeeIndex(participantID string) int {
	for i, a := range e.Attendees {
		if a.ParticipantID == participantID {
			return i
		}
	}
	return -1
}

// ActiveParticipants lists non-standby participant ids in roster order.
func (e Event) ActiveParticipants() []string {
	out := make([]string, 0, len(e.Attendees))
	for _, a := range e.Attendees {
		if !a.Standby {
			out = append(out, a.ParticipantID)
		}
	}
	return out
}

// CanManage reports whether actorID owns the event as organizer or game master.
func (e Event) CanManage(actorID string) bool {
	if actorID == "" {
		return false
	}
	return actorID == e.OrganizerID || actorID == e.GameMasterID
}

// Clone returns a deep copy safe to mutate without touching e.
func (e Event) Clone() Event {
	out := e
	if e.Attendees != nil {
		out.Attendees = append([]Attendee(nil), e.Attendees...)
	}
	if e.Announcement != nil {
		ref := *e.Announcement
		out.Announcement = &ref
	}
	if e.Recurrence != nil {
		r := *e.Recurrence
		out.Recurrence = &r
	}
	if e.ReminderClaimedAt != nil {
		t := *e.ReminderClaimedAt
		out.ReminderClaimedAt = &t
	}
	if e.RecurrenceClaimedAt != nil {
		t := *e.RecurrenceClaimedAt
		out.RecurrenceClaimedAt = &t
	}
	return out
}

// ChannelID returns the stored auxiliary channel reference for kind.
func (e Event) ChannelID(kind ChannelKind) string {
	if kind == ChannelVoice {
		return e.VoiceChannelID
	}
	return e.PlanningChannelID
}

func (e *Event) SetChannelID(kind ChannelKind, id string) {
	if kind == ChannelVoice {
		e.VoiceChannelID = id
		return
	}
	e.PlanningChannelID = id
}

// ChannelKind distinguishes the two auxiliary channels of an event.
type ChannelKind string

const (
	ChannelText  ChannelKind = "text"
	ChannelVoice ChannelKind = "voice"
)

// NextTitle increments a trailing occurrence counter ("Session 3" -> "Session 4")
// or appends " 2" when the title has none.
func NextTitle(title string) string {
	trimmed := strings.TrimRight(title, " ")
	end := len(trimmed)
	start := end
	for start > 0 && trimmed[start-1] >= '0' && trimmed[start-1] <= '9' {
		start--
	}
	if start == end || start == 0 || trimmed[start-1] != ' ' {
		return trimmed + " 2"
	}
	digits := trimmed[start:end]
	return trimmed[:start] + incrementDigits(digits)
}

func incrementDigits(digits string) string {
	b := []byte(digits)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < '9' {
			b[i]++
			return string(b)
		}
		b[i] = '0'
	}
	return "1" + string(b)
}
