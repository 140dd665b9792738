package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	"github.com/jcolson/dndvault-bot-sub000/internal/channels"
	"github.com/jcolson/dndvault-bot-sub000/internal/chat"
	"github.com/jcolson/dndvault-bot-sub000/internal/clock"
	"github.com/jcolson/dndvault-bot-sub000/internal/domain"
	"github.com/jcolson/dndvault-bot-sub000/internal/roster"
	"github.com/jcolson/dndvault-bot-sub000/internal/shard"
	"github.com/jcolson/dndvault-bot-sub000/internal/temporal"
)

// Deps are the collaborators shared by the event, reaction and sweep services.
type Deps struct {
	Events     EventRepository
	Profiles   ProfileRepository
	Characters CharacterRegistry
	Policies   PolicyProvider
	Gateway    chat.Gateway
	Guard      GuildGuard
	Clock      clock.Clock
	Limiter    *rate.Limiter
	Logger     *slog.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = clock.NewSystem()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Guard == nil {
		d.Guard = shard.New(0, 1, nil)
	}
	return d
}

// EventService runs the event lifecycle: create, edit, show, deploy and
// remove, plus roster changes.
type EventService struct {
	events   EventRepository
	profiles ProfileRepository
	chars    CharacterRegistry
	policies PolicyProvider
	gw       chat.Gateway
	guard    GuildGuard
	clock    clock.Clock
	logger   *slog.Logger

	resolver   *temporal.Resolver
	reconciler *channels.Reconciler
	render     *Renderer
	notifier   *Notifier
}

func NewEventService(d Deps) *EventService {
	d = d.withDefaults()
	render := NewRenderer(d.Characters, d.Logger)
	return &EventService{
		events:     d.Events,
		profiles:   d.Profiles,
		chars:      d.Characters,
		policies:   d.Policies,
		gw:         d.Gateway,
		guard:      d.Guard,
		clock:      d.Clock,
		logger:     d.Logger,
		resolver:   temporal.NewResolver(),
		reconciler: channels.NewReconciler(d.Gateway, d.Logger),
		render:     render,
		notifier:   NewNotifier(d.Gateway, d.Limiter, render, d.Logger),
	}
}

// EventFields are the raw, user-supplied fields of a new event.
type EventFields struct {
	Title          string
	Description    string
	Campaign       string
	GameMasterID   string
	Date           string
	Time           string
	Duration       string
	Slots          string
	RecurEveryDays string
}

type CreateEventInput struct {
	GuildID    string
	ActorID    string
	ChannelID  string
	Fields     EventFields
	SourcePost *domain.PostRef
}

// CreateEvent is safe to call on every shard: only the worker serving the
// guild acts, the others return false. Failures are also reported to the
// actor.
func (s *EventService) CreateEvent(ctx context.Context, in CreateEventInput) (bool, error) {
	if !s.guard.Serves(in.GuildID) {
		s.logger.Debug("guild not served here, ignoring create", "guild_id", in.GuildID)
		return false, nil
	}
	ev, err := s.Create(ctx, in)
	if err != nil {
		s.notifier.Error(ctx, in.ActorID, in.ChannelID, err, "op", "create", "guild_id", in.GuildID)
		return true, err
	}
	if in.SourcePost != nil {
		s.deletePost(ctx, *in.SourcePost, ev.ID)
	}
	return true, nil
}

func (s *EventService) Create(ctx context.Context, in CreateEventInput) (domain.Event, error) {
	f := in.Fields
	title := strings.TrimSpace(f.Title)
	if title == "" {
		return domain.Event{}, domain.ErrTitleRequired
	}
	duration, err := parseDuration(f.Duration)
	if err != nil {
		return domain.Event{}, err
	}
	if strings.TrimSpace(f.Date) == "" {
		return domain.Event{}, domain.ErrDateRequired
	}
	if strings.TrimSpace(f.Time) == "" {
		return domain.Event{}, domain.ErrTimeRequired
	}
	slots, err := parseSlots(f.Slots)
	if err != nil {
		return domain.Event{}, err
	}
	description := strings.TrimSpace(f.Description)
	if description == "" {
		return domain.Event{}, domain.ErrDescriptionRequired
	}
	recurrence, err := parseRecurrence(f.RecurEveryDays)
	if err != nil {
		return domain.Event{}, err
	}

	pol, err := s.policies.Policy(ctx, in.GuildID)
	if err != nil {
		return domain.Event{}, err
	}
	if pol.EventRequiresApprover && !s.privileged(ctx, in.GuildID, in.ActorID, pol) {
		return domain.Event{}, domain.ErrNotAuthorized
	}
	tz, err := s.timezone(ctx, in.GuildID, in.ActorID)
	if err != nil {
		return domain.Event{}, err
	}
	now := s.clock.Now()
	start, err := s.resolver.Resolve(f.Date, f.Time, now, tz)
	if err != nil {
		return domain.Event{}, err
	}

	ev := domain.Event{
		ID:            newUUID(),
		GuildID:       in.GuildID,
		Title:         title,
		Description:   description,
		Campaign:      strings.TrimSpace(f.Campaign),
		OrganizerID:   in.ActorID,
		GameMasterID:  ParticipantID(f.GameMasterID),
		StartsAt:      start,
		DurationHours: duration,
		Capacity:      slots,
		Recurrence:    recurrence,
		Version:       1,
		CreatedAt:     now,
	}
	if err := s.events.Insert(ctx, ev); err != nil {
		return domain.Event{}, err
	}
	s.logger.Info("event created", "event_id", ev.ID, "guild_id", ev.GuildID, "starts_at", ev.StartsAt)

	if target := s.announceChannel(ctx, pol, in.ChannelID); target != "" {
		if err := s.publish(ctx, &ev, target); err != nil {
			s.logger.Warn("announcement not posted", "event_id", ev.ID, "guild_id", ev.GuildID, "op", "create", "err", err)
		}
	}
	s.reconcileAll(ctx, &ev, pol)
	if err := s.events.Update(ctx, &ev); err != nil {
		return ev, err
	}
	return ev, nil
}

// EditEventInput carries tri-state fields: Absent keeps a value, Clear
// resets it (an error for required fields) and Set replaces it.
type EditEventInput struct {
	GuildID   string
	EventID   string
	ActorID   string
	ChannelID string

	Title          domain.Field[string]
	Description    domain.Field[string]
	Campaign       domain.Field[string]
	GameMasterID   domain.Field[string]
	Date           domain.Field[string]
	Time           domain.Field[string]
	Duration       domain.Field[string]
	Slots          domain.Field[string]
	RecurEveryDays domain.Field[string]
}

// EditEvent has the same shard contract as CreateEvent.
func (s *EventService) EditEvent(ctx context.Context, in EditEventInput) (bool, error) {
	if !s.guard.Serves(in.GuildID) {
		s.logger.Debug("guild not served here, ignoring edit", "guild_id", in.GuildID, "event_id", in.EventID)
		return false, nil
	}
	if _, err := s.Edit(ctx, in); err != nil {
		s.notifier.Error(ctx, in.ActorID, in.ChannelID, err, "op", "edit", "guild_id", in.GuildID, "event_id", in.EventID)
		return true, err
	}
	return true, nil
}

func (s *EventService) Edit(ctx context.Context, in EditEventInput) (domain.Event, error) {
	ev, err := s.load(ctx, in.GuildID, in.EventID)
	if err != nil {
		return domain.Event{}, err
	}
	pol, err := s.policies.Policy(ctx, ev.GuildID)
	if err != nil {
		return domain.Event{}, err
	}
	if !s.canManage(ctx, ev, in.ActorID, pol) {
		return domain.Event{}, domain.ErrNotAuthorized
	}

	next := ev.Clone()
	if err := applyEdit(&next, in); err != nil {
		return domain.Event{}, err
	}
	if in.Date.Present() || in.Time.Present() {
		if in.Date.State == domain.FieldClear {
			return domain.Event{}, domain.ErrDateRequired
		}
		if in.Time.State == domain.FieldClear {
			return domain.Event{}, domain.ErrTimeRequired
		}
		tz, err := s.timezone(ctx, ev.GuildID, in.ActorID)
		if err != nil {
			return domain.Event{}, err
		}
		at, changed, err := s.resolver.ResolveEdit(in.Date.Value, in.Time.Value, ev.StartsAt, s.clock.Now(), tz)
		if err != nil {
			return domain.Event{}, err
		}
		if changed {
			next.StartsAt = at
		}
	}
	next.ReminderClaimedAt = nil

	if err := s.events.Update(ctx, &next); err != nil {
		return domain.Event{}, err
	}
	s.logger.Info("event edited", "event_id", next.ID, "guild_id", next.GuildID, "actor_id", in.ActorID)

	target := ""
	if stale := next.Announcement; stale != nil {
		target = stale.ChannelID
		s.deletePost(ctx, *stale, next.ID)
		next.Announcement = nil
	}
	if target == "" {
		target = s.announceChannel(ctx, pol, in.ChannelID)
	}
	if target != "" {
		if err := s.publish(ctx, &next, target); err != nil {
			s.logger.Warn("announcement not reposted", "event_id", next.ID, "guild_id", next.GuildID, "op", "edit", "err", err)
		}
	}
	s.reconcileAll(ctx, &next, pol)
	if err := s.events.Update(ctx, &next); err != nil {
		return next, err
	}
	return next, nil
}

func applyEdit(ev *domain.Event, in EditEventInput) error {
	if in.Title.Present() {
		v := strings.TrimSpace(in.Title.Value)
		if in.Title.State == domain.FieldClear || v == "" {
			return domain.ErrTitleRequired
		}
		ev.Title = v
	}
	if in.Description.Present() {
		v := strings.TrimSpace(in.Description.Value)
		if in.Description.State == domain.FieldClear || v == "" {
			return domain.ErrDescriptionRequired
		}
		ev.Description = v
	}
	if in.Duration.Present() {
		if in.Duration.State == domain.FieldClear {
			return domain.ErrInvalidDuration
		}
		d, err := parseDuration(in.Duration.Value)
		if err != nil {
			return err
		}
		ev.DurationHours = d
	}
	if in.Slots.Present() {
		if in.Slots.State == domain.FieldClear {
			return domain.ErrInvalidSlots
		}
		n, err := parseSlots(in.Slots.Value)
		if err != nil {
			return err
		}
		ev.Capacity = n
	}
	if in.RecurEveryDays.Present() {
		r, err := parseRecurrence(in.RecurEveryDays.Apply(""))
		if err != nil {
			return err
		}
		ev.Recurrence = r
	}
	ev.Campaign = strings.TrimSpace(in.Campaign.Apply(ev.Campaign))
	if in.GameMasterID.Present() {
		ev.GameMasterID = ParticipantID(in.GameMasterID.Apply(""))
	}
	return nil
}

// Show re-renders the announcement in the guild's announcement channel, or
// channelID when none is configured or reachable, replacing any earlier post.
func (s *EventService) Show(ctx context.Context, guildID, channelID, eventID string) (domain.PostRef, error) {
	ev, err := s.load(ctx, guildID, eventID)
	if err != nil {
		return domain.PostRef{}, err
	}
	pol, err := s.policies.Policy(ctx, ev.GuildID)
	if err != nil {
		return domain.PostRef{}, err
	}
	target := s.announceChannel(ctx, pol, channelID)
	if target == "" {
		return domain.PostRef{}, domain.ErrChannelUnavailable
	}
	if old := ev.Announcement; old != nil {
		s.deletePost(ctx, *old, ev.ID)
		ev.Announcement = nil
	}
	if err := s.publish(ctx, &ev, target); err != nil {
		return domain.PostRef{}, err
	}
	if err := s.events.Update(ctx, &ev); err != nil {
		return domain.PostRef{}, err
	}
	return *ev.Announcement, nil
}

type RemoveEventInput struct {
	GuildID      string
	EventID      string
	ActorID      string
	ExistingPost *domain.PostRef
}

// Remove tears down the event's channels and post and deletes it. Only the
// organizer or a privileged member may remove.
func (s *EventService) Remove(ctx context.Context, in RemoveEventInput) (string, error) {
	ev, err := s.load(ctx, in.GuildID, in.EventID)
	if err != nil {
		return "", err
	}
	pol, err := s.policies.Policy(ctx, ev.GuildID)
	if err != nil {
		return "", err
	}
	if ev.OrganizerID != in.ActorID && !s.privileged(ctx, ev.GuildID, in.ActorID, pol) {
		return "", domain.ErrNotAuthorized
	}

	for _, kind := range []domain.ChannelKind{domain.ChannelText, domain.ChannelVoice} {
		if ev.ChannelID(kind) == "" {
			continue
		}
		if _, err := s.reconciler.Reconcile(ctx, &ev, channels.Options{Kind: kind, Remove: true}); err != nil {
			s.logger.Warn("channel teardown failed", "event_id", ev.ID, "guild_id", ev.GuildID, "kind", string(kind), "err", err)
		}
	}
	if ev.Announcement != nil {
		s.deletePost(ctx, *ev.Announcement, ev.ID)
	}
	if in.ExistingPost != nil && (ev.Announcement == nil || *in.ExistingPost != *ev.Announcement) {
		s.deletePost(ctx, *in.ExistingPost, ev.ID)
	}
	if err := s.events.Delete(ctx, ev.ID); err != nil {
		return "", err
	}
	s.logger.Info("event removed", "event_id", ev.ID, "guild_id", ev.GuildID, "actor_id", in.ActorID)
	return fmt.Sprintf("Event %q has been removed.", ev.Title), nil
}

// ToggleDeploy flips the deployed state. The first deployer of an event
// without a game master becomes its game master.
func (s *EventService) ToggleDeploy(ctx context.Context, guildID, eventID, actorID string) (domain.Event, error) {
	ev, err := s.load(ctx, guildID, eventID)
	if err != nil {
		return domain.Event{}, err
	}
	pol, err := s.policies.Policy(ctx, ev.GuildID)
	if err != nil {
		return domain.Event{}, err
	}
	if !s.canManage(ctx, ev, actorID, pol) {
		return domain.Event{}, domain.ErrNotAuthorized
	}

	next := ev.Clone()
	if next.DeployedBy != "" {
		next.DeployedBy = ""
	} else {
		next.DeployedBy = actorID
		if next.GameMasterID == "" {
			next.GameMasterID = actorID
		}
	}
	if err := s.events.Update(ctx, &next); err != nil {
		return domain.Event{}, err
	}
	s.logger.Info("event deploy toggled", "event_id", next.ID, "guild_id", next.GuildID, "status", string(next.Status()))
	return next, s.converge(ctx, &next, pol)
}

// Join signs actorID up, attaching their best eligible character.
func (s *EventService) Join(ctx context.Context, guildID, eventID, actorID string) (domain.Event, error) {
	ev, err := s.load(ctx, guildID, eventID)
	if err != nil {
		return domain.Event{}, err
	}
	pol, err := s.policies.Policy(ctx, ev.GuildID)
	if err != nil {
		return domain.Event{}, err
	}

	var characterID string
	ref, err := s.chars.FindBestCharacterFor(ctx, ev.GuildID, actorID, ev.Campaign, pol.RequireCampaignCharacterForEvent)
	if err != nil {
		return domain.Event{}, err
	}
	switch {
	case ref != nil:
		characterID = ref.ID
	case pol.RequireCharacterForEvent:
		return domain.Event{}, domain.ErrCharacterRequired
	}

	next := ev.Clone()
	entry := roster.Entry{ParticipantID: actorID, CharacterID: characterID, JoinedAt: s.clock.Now()}
	if err := roster.Add(&next, entry, pol.StandbyQueuing); err != nil {
		return domain.Event{}, err
	}
	if err := s.events.Update(ctx, &next); err != nil {
		return domain.Event{}, err
	}
	return next, s.converge(ctx, &next, pol)
}

// Leave withdraws actorID, promoting standby entries when a slot opens.
func (s *EventService) Leave(ctx context.Context, guildID, eventID, actorID string) (domain.Event, error) {
	ev, err := s.load(ctx, guildID, eventID)
	if err != nil {
		return domain.Event{}, err
	}
	pol, err := s.policies.Policy(ctx, ev.GuildID)
	if err != nil {
		return domain.Event{}, err
	}
	next := ev.Clone()
	res := roster.Remove(&next, actorID, pol.StandbyQueuing)
	if !res.Removed {
		return ev, nil
	}
	if err := s.events.Update(ctx, &next); err != nil {
		return domain.Event{}, err
	}
	if res.Promoted != "" {
		s.logger.Info("standby promoted", "event_id", next.ID, "guild_id", next.GuildID, "participant_id", res.Promoted)
	}
	return next, s.converge(ctx, &next, pol)
}

func (s *EventService) Get(ctx context.Context, eventID string) (domain.Event, error) {
	return s.events.Get(ctx, eventID)
}

// Upcoming lists a guild's events that have not started yet together with
// their total count.
func (s *EventService) Upcoming(ctx context.Context, guildID string, limit int) ([]domain.Event, int, error) {
	now := s.clock.Now()
	list, err := s.events.ListUpcoming(ctx, guildID, now, limit)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.events.CountUpcoming(ctx, guildID, now)
	if err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

// Serves reports whether this worker owns guildID and may act on it.
func (s *EventService) Serves(guildID string) bool {
	return s.guard.Serves(guildID)
}

// IsPrivileged reports whether actorID holds the guild's approver role or
// administrator capability.
func (s *EventService) IsPrivileged(ctx context.Context, guildID, actorID string) bool {
	pol, err := s.policies.Policy(ctx, guildID)
	if err != nil {
		return false
	}
	return s.privileged(ctx, guildID, actorID, pol)
}

func (s *EventService) privileged(ctx context.Context, guildID, actorID string, pol domain.GuildPolicy) bool {
	if actorID == "" {
		return false
	}
	m, err := s.gw.Member(ctx, guildID, actorID)
	if err != nil {
		return false
	}
	if m.Permissions.Has(chat.PermAdministrator) {
		return true
	}
	return pol.ApproverRoleID != "" && m.HasRole(pol.ApproverRoleID)
}

func (s *EventService) canManage(ctx context.Context, ev domain.Event, actorID string, pol domain.GuildPolicy) bool {
	return ev.CanManage(actorID) || s.privileged(ctx, ev.GuildID, actorID, pol)
}

func (s *EventService) load(ctx context.Context, guildID, eventID string) (domain.Event, error) {
	ev, err := s.events.Get(ctx, eventID)
	if err != nil {
		return domain.Event{}, err
	}
	if guildID != "" && ev.GuildID != guildID {
		return domain.Event{}, domain.ErrEventNotFound
	}
	return ev, nil
}

func (s *EventService) timezone(ctx context.Context, guildID, userID string) (string, error) {
	p, err := s.profiles.Profile(ctx, guildID, userID)
	if errors.Is(err, domain.ErrProfileNotFound) {
		return "", domain.ErrTimezoneRequired
	}
	if err != nil {
		return "", err
	}
	if p.Timezone == "" {
		return "", domain.ErrTimezoneRequired
	}
	return p.Timezone, nil
}

func (s *EventService) announceChannel(ctx context.Context, pol domain.GuildPolicy, fallback string) string {
	if pol.AnnouncementChannelID == "" {
		return fallback
	}
	if _, err := s.gw.Channel(ctx, pol.AnnouncementChannelID); err != nil {
		s.logger.Warn("announcement channel unreachable, using fallback",
			"guild_id", pol.GuildID, "channel_id", pol.AnnouncementChannelID, "err", err)
		return fallback
	}
	return pol.AnnouncementChannelID
}

// publish posts a fresh announcement and seeds the control symbols.
func (s *EventService) publish(ctx context.Context, ev *domain.Event, channelID string) error {
	post, err := s.gw.SendMessage(ctx, channelID, s.render.Announcement(ctx, *ev))
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrChannelUnavailable, err)
	}
	ev.Announcement = &post
	for _, sym := range ControlSymbols {
		if err := s.gw.AddReaction(ctx, post, sym); err != nil {
			s.logger.Debug("seed reaction failed", "event_id", ev.ID, "symbol", sym, "err", err)
		}
	}
	return nil
}

// converge brings channels and the existing post in line with persisted
// state after a change that does not warrant a repost.
func (s *EventService) converge(ctx context.Context, ev *domain.Event, pol domain.GuildPolicy) error {
	if s.reconcileAll(ctx, ev, pol) {
		if err := s.events.Update(ctx, ev); err != nil {
			return err
		}
	}
	s.refreshPost(ctx, *ev)
	return nil
}

func (s *EventService) reconcileAll(ctx context.Context, ev *domain.Event, pol domain.GuildPolicy) (changed bool) {
	targets := []struct {
		kind     domain.ChannelKind
		category string
	}{
		{domain.ChannelText, pol.PlanningCategoryID},
		{domain.ChannelVoice, pol.VoiceCategoryID},
	}
	for _, t := range targets {
		current := ev.ChannelID(t.kind)
		if t.category == "" && current == "" {
			continue
		}
		id, err := s.reconciler.Reconcile(ctx, ev, channels.Options{
			Kind:       t.kind,
			CategoryID: t.category,
			Mode:       pol.VoicePermissionMode,
		})
		if err != nil {
			s.logger.Warn("channel reconcile failed", "event_id", ev.ID, "guild_id", ev.GuildID, "kind", string(t.kind), "err", err)
			continue
		}
		if id != current {
			ev.SetChannelID(t.kind, id)
			changed = true
		}
	}
	return changed
}

func (s *EventService) refreshPost(ctx context.Context, ev domain.Event) {
	if ev.Announcement == nil {
		return
	}
	err := s.gw.EditMessage(ctx, *ev.Announcement, s.render.Announcement(ctx, ev))
	switch {
	case err == nil:
	case errors.Is(err, chat.ErrUnknownMessage):
		s.logger.Info("announcement post is gone", "event_id", ev.ID, "guild_id", ev.GuildID)
	default:
		s.logger.Warn("announcement refresh failed", "event_id", ev.ID, "guild_id", ev.GuildID, "err", err)
	}
}

func (s *EventService) deletePost(ctx context.Context, post domain.PostRef, eventID string) {
	err := s.gw.DeleteMessage(ctx, post)
	if err != nil && !errors.Is(err, chat.ErrUnknownMessage) {
		s.logger.Warn("post delete failed", "event_id", eventID, "channel_id", post.ChannelID, "message_id", post.MessageID, "err", err)
	}
}

// ParticipantID accepts a raw id or a mention ("<@123>", "<@!123>").
func ParticipantID(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "<@") && strings.HasSuffix(s, ">") {
		s = strings.TrimPrefix(s[2:len(s)-1], "!")
	}
	return s
}

func parseDuration(raw string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || v <= 0 || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, domain.ErrInvalidDuration
	}
	return v, nil
}

func parseSlots(raw string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || v < 0 {
		return 0, domain.ErrInvalidSlots
	}
	return v, nil
}

func parseRecurrence(raw string) (*domain.Recurrence, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return nil, domain.ErrInvalidRecurrence
	}
	return &domain.Recurrence{EveryDays: v}, nil
}
