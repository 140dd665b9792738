package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/jcolson/dndvault-bot-sub000/internal/app"
	"github.com/jcolson/dndvault-bot-sub000/internal/domain"
)

const actorHeader = "X-Actor-ID"

// EventAPI is the part of app.EventService the HTTP surface drives.
type EventAPI interface {
	Create(ctx context.Context, in app.CreateEventInput) (domain.Event, error)
	Edit(ctx context.Context, in app.EditEventInput) (domain.Event, error)
	Get(ctx context.Context, eventID string) (domain.Event, error)
	Upcoming(ctx context.Context, guildID string, limit int) ([]domain.Event, int, error)
	Show(ctx context.Context, guildID, channelID, eventID string) (domain.PostRef, error)
	Remove(ctx context.Context, in app.RemoveEventInput) (string, error)
	ToggleDeploy(ctx context.Context, guildID, eventID, actorID string) (domain.Event, error)
	Join(ctx context.Context, guildID, eventID, actorID string) (domain.Event, error)
	Leave(ctx context.Context, guildID, eventID, actorID string) (domain.Event, error)
	IsPrivileged(ctx context.Context, guildID, actorID string) bool
	Serves(guildID string) bool
}

const defaultListLimit = 25

// HandleListEvents serves GET /guilds/{guild}/events.
func HandleListEvents(svc EventAPI) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultListLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "limit must be a non-negative integer")
				return
			}
			limit = n
		}
		events, total, err := svc.Upcoming(r.Context(), r.PathValue("guild"), limit)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		resp := listEventsResponse{Total: total, Events: make([]eventResponse, 0, len(events))}
		for _, ev := range events {
			resp.Events = append(resp.Events, toEventResponse(ev))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// HandleCreateEvent serves POST /guilds/{guild}/events.
func HandleCreateEvent(svc EventAPI) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		var req createEventRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}
		if req.ChannelID == "" {
			writeError(w, http.StatusBadRequest, codeMissingRequiredField, "channel_id is required")
			return
		}
		if !requireServed(w, svc, r.PathValue("guild")) {
			return
		}

		ev, err := svc.Create(r.Context(), app.CreateEventInput{
			GuildID:   r.PathValue("guild"),
			ActorID:   actor,
			ChannelID: req.ChannelID,
			Fields: app.EventFields{
				Title:          req.Title,
				Description:    req.Description,
				Campaign:       req.Campaign,
				GameMasterID:   req.GameMasterID,
				Date:           req.Date,
				Time:           req.Time,
				Duration:       req.Duration,
				Slots:          req.Slots,
				RecurEveryDays: req.RecurEveryDays,
			},
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toEventResponse(ev))
	}
}

// HandleGetEvent serves GET /events/{id}.
func HandleGetEvent(svc EventAPI) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ev, err := svc.Get(r.Context(), r.PathValue("id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toEventResponse(ev))
	}
}

// HandleEditEvent serves PATCH /events/{id}. A missing key leaves the field
// alone, while null or "" clears it.
func HandleEditEvent(svc EventAPI) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		var raw map[string]json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}
		ev, err := svc.Get(r.Context(), r.PathValue("id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if !requireServed(w, svc, ev.GuildID) {
			return
		}
		in, err := decodeEdit(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, err.Error())
			return
		}
		in.GuildID = ev.GuildID
		in.EventID = ev.ID
		in.ActorID = actor

		updated, err := svc.Edit(r.Context(), in)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toEventResponse(updated))
	}
}

// HandleDeleteEvent serves DELETE /events/{id}.
func HandleDeleteEvent(svc EventAPI) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		ev, err := svc.Get(r.Context(), r.PathValue("id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if !requireServed(w, svc, ev.GuildID) {
			return
		}
		msg, err := svc.Remove(r.Context(), app.RemoveEventInput{GuildID: ev.GuildID, EventID: ev.ID, ActorID: actor})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, messageResponse{Message: msg})
	}
}

// HandleDeployEvent serves POST /events/{id}/deploy, toggling the deployed state.
func HandleDeployEvent(svc EventAPI) http.HandlerFunc {
	return eventAction(func(ctx context.Context, ev domain.Event, actor string) (domain.Event, error) {
		return svc.ToggleDeploy(ctx, ev.GuildID, ev.ID, actor)
	}, svc)
}

// HandleJoinEvent serves POST /events/{id}/attendees for the calling actor.
func HandleJoinEvent(svc EventAPI) http.HandlerFunc {
	return eventAction(func(ctx context.Context, ev domain.Event, actor string) (domain.Event, error) {
		return svc.Join(ctx, ev.GuildID, ev.ID, actor)
	}, svc)
}

// HandleLeaveEvent serves DELETE /events/{id}/attendees for the calling actor.
func HandleLeaveEvent(svc EventAPI) http.HandlerFunc {
	return eventAction(func(ctx context.Context, ev domain.Event, actor string) (domain.Event, error) {
		return svc.Leave(ctx, ev.GuildID, ev.ID, actor)
	}, svc)
}

// HandleShowEvent serves POST /events/{id}/show, re-posting the announcement
// in channel_id.
func HandleShowEvent(svc EventAPI) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req showEventRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}
		ev, err := svc.Get(r.Context(), r.PathValue("id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if !requireServed(w, svc, ev.GuildID) {
			return
		}
		post, err := svc.Show(r.Context(), ev.GuildID, req.ChannelID, ev.ID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, postResponse{ChannelID: post.ChannelID, MessageID: post.MessageID})
	}
}

func eventAction(fn func(ctx context.Context, ev domain.Event, actor string) (domain.Event, error), svc EventAPI) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		ev, err := svc.Get(r.Context(), r.PathValue("id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if !requireServed(w, svc, ev.GuildID) {
			return
		}
		updated, err := fn(r.Context(), ev, actor)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toEventResponse(updated))
	}
}

// requireServed answers 409 when another worker owns guildID; acting here
// would drive a gateway session that does not see the guild.
func requireServed(w http.ResponseWriter, svc EventAPI, guildID string) bool {
	if svc.Serves(guildID) {
		return true
	}
	writeError(w, http.StatusConflict, codeGuildNotServed, "guild "+guildID+" is served by another worker")
	return false
}

func requireActor(w http.ResponseWriter, r *http.Request) (string, bool) {
	actor := r.Header.Get(actorHeader)
	if actor == "" {
		writeError(w, http.StatusBadRequest, codeMissingActor, actorHeader+" header is required")
		return "", false
	}
	return actor, true
}

var editKeys = map[string]func(*app.EditEventInput, domain.Field[string]){
	"title":            func(in *app.EditEventInput, f domain.Field[string]) { in.Title = f },
	"description":      func(in *app.EditEventInput, f domain.Field[string]) { in.Description = f },
	"campaign":         func(in *app.EditEventInput, f domain.Field[string]) { in.Campaign = f },
	"game_master_id":   func(in *app.EditEventInput, f domain.Field[string]) { in.GameMasterID = f },
	"date":             func(in *app.EditEventInput, f domain.Field[string]) { in.Date = f },
	"time":             func(in *app.EditEventInput, f domain.Field[string]) { in.Time = f },
	"duration":         func(in *app.EditEventInput, f domain.Field[string]) { in.Duration = f },
	"slots":            func(in *app.EditEventInput, f domain.Field[string]) { in.Slots = f },
	"recur_every_days": func(in *app.EditEventInput, f domain.Field[string]) { in.RecurEveryDays = f },
}

func decodeEdit(raw map[string]json.RawMessage) (app.EditEventInput, error) {
	var in app.EditEventInput
	for key, value := range raw {
		if key == "channel_id" {
			if err := json.Unmarshal(value, &in.ChannelID); err != nil {
				return app.EditEventInput{}, fmt.Errorf("channel_id must be a string")
			}
			continue
		}
		set, ok := editKeys[key]
		if !ok {
			return app.EditEventInput{}, fmt.Errorf("unknown field %q", key)
		}
		f, err := triState(value)
		if err != nil {
			return app.EditEventInput{}, fmt.Errorf("%s: %w", key, err)
		}
		set(&in, f)
	}
	return in, nil
}

func triState(value json.RawMessage) (domain.Field[string], error) {
	if bytes.Equal(bytes.TrimSpace(value), []byte("null")) {
		return domain.Clear[string](), nil
	}
	var s string
	if err := json.Unmarshal(value, &s); err != nil {
		return domain.Field[string]{}, fmt.Errorf("must be a string or null")
	}
	if s == "" {
		return domain.Clear[string](), nil
	}
	return domain.Set(s), nil
}

type createEventRequest struct {
	ChannelID      string `json:"channel_id"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	Campaign       string `json:"campaign"`
	GameMasterID   string `json:"game_master_id"`
	Date           string `json:"date"`
	Time           string `json:"time"`
	Duration       string `json:"duration"`
	Slots          string `json:"slots"`
	RecurEveryDays string `json:"recur_every_days"`
}

type showEventRequest struct {
	ChannelID string `json:"channel_id"`
}

type listEventsResponse struct {
	Total  int             `json:"total"`
	Events []eventResponse `json:"events"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type postResponse struct {
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
}

type eventResponse struct {
	ID                string            `json:"id"`
	GuildID           string            `json:"guild_id"`
	Title             string            `json:"title"`
	Description       string            `json:"description"`
	Campaign          string            `json:"campaign,omitempty"`
	OrganizerID       string            `json:"organizer_id"`
	GameMasterID      string            `json:"game_master_id,omitempty"`
	Status            string            `json:"status"`
	StartsAt          time.Time         `json:"starts_at"`
	EndsAt            time.Time         `json:"ends_at"`
	DurationHours     float64           `json:"duration_hours"`
	Capacity          int               `json:"capacity"`
	Attendees         []domain.Attendee `json:"attendees"`
	Announcement      *postResponse     `json:"announcement,omitempty"`
	PlanningChannelID string            `json:"planning_channel_id,omitempty"`
	VoiceChannelID    string            `json:"voice_channel_id,omitempty"`
	RecurEveryDays    int               `json:"recur_every_days,omitempty"`
	Version           int64             `json:"version"`
}

func toEventResponse(ev domain.Event) eventResponse {
	resp := eventResponse{
		ID:                ev.ID,
		GuildID:           ev.GuildID,
		Title:             ev.Title,
		Description:       ev.Description,
		Campaign:          ev.Campaign,
		OrganizerID:       ev.OrganizerID,
		GameMasterID:      ev.GameMasterID,
		Status:            string(ev.Status()),
		StartsAt:          ev.StartsAt,
		EndsAt:            ev.EndsAt(),
		DurationHours:     ev.DurationHours,
		Capacity:          ev.Capacity,
		Attendees:         ev.Attendees,
		PlanningChannelID: ev.PlanningChannelID,
		VoiceChannelID:    ev.VoiceChannelID,
		Version:           ev.Version,
	}
	if resp.Attendees == nil {
		resp.Attendees = []domain.Attendee{}
	}
	if ev.Announcement != nil {
		resp.Announcement = &postResponse{ChannelID: ev.Announcement.ChannelID, MessageID: ev.Announcement.MessageID}
	}
	if ev.Recurrence != nil {
		resp.RecurEveryDays = ev.Recurrence.EveryDays
	}
	return resp
}
