package app

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"github.com/jcolson/dndvault-bot-sub000/internal/chat"
	"github.com/jcolson/dndvault-bot-sub000/internal/domain"
	"github.com/jcolson/dndvault-bot-sub000/internal/metrics"
	"github.com/jcolson/dndvault-bot-sub000/internal/roster"
)

// ReactionHandler turns reactions on announcement posts into lifecycle and
// roster operations.
type ReactionHandler struct {
	events   EventRepository
	profiles ProfileRepository
	policies PolicyProvider
	gw       chat.Gateway
	svc      *EventService
	logger   *slog.Logger
}

func NewReactionHandler(d Deps, svc *EventService) *ReactionHandler {
	d = d.withDefaults()
	return &ReactionHandler{
		events:   d.Events,
		profiles: d.Profiles,
		policies: d.Policies,
		gw:       d.Gateway,
		svc:      svc,
		logger:   d.Logger,
	}
}

// Handle processes one reaction. Errors are reported to the reacting user,
// never returned. Once the post is known to belong to an event, the reaction
// cleanup runs whatever the outcome.
func (h *ReactionHandler) Handle(ctx context.Context, r chat.Reaction) {
	if r.UserID == "" || r.UserID == h.gw.SelfID() {
		return
	}
	ev, err := h.events.FindByAnnouncement(ctx, r.MessageID)
	if errors.Is(err, domain.ErrEventNotFound) {
		h.logger.Debug("reaction on untracked post", "channel_id", r.ChannelID, "message_id", r.MessageID, "symbol", r.Emoji)
		return
	}
	if err != nil {
		h.logger.Error("event lookup failed", "message_id", r.MessageID, "op", "reaction", "err", err)
		return
	}
	if r.GuildID != "" && r.GuildID != ev.GuildID {
		return
	}

	outcome := "ok"
	defer func() {
		h.cleanup(context.WithoutCancel(ctx), r)
		metrics.Reactions.WithLabelValues(symbolName(r.Emoji), outcome).Inc()
	}()

	log := h.logger.With("event_id", ev.ID, "guild_id", ev.GuildID, "user_id", r.UserID, "symbol", symbolName(r.Emoji))
	pol, err := h.policies.Policy(ctx, ev.GuildID)
	if err != nil {
		outcome = string(domain.KindOf(err))
		h.svc.notifier.Error(ctx, r.UserID, r.ChannelID, err, "op", "reaction", "event_id", ev.ID)
		return
	}
	if err := h.scrub(ctx, &ev, pol); err != nil {
		log.Warn("roster scrub failed", "err", err)
	}
	if err := h.dispatch(ctx, ev, r); err != nil {
		outcome = string(domain.KindOf(err))
		h.svc.notifier.Error(ctx, r.UserID, r.ChannelID, err, "op", "reaction", "event_id", ev.ID, "guild_id", ev.GuildID)
	}
}

// scrub drops attendees who have left the guild and persists the result on
// its own, before the triggering action runs.
func (h *ReactionHandler) scrub(ctx context.Context, ev *domain.Event, pol domain.GuildPolicy) error {
	next := ev.Clone()
	var dropped []string
	for _, a := range ev.Attendees {
		_, err := h.gw.Member(ctx, ev.GuildID, a.ParticipantID)
		if errors.Is(err, chat.ErrUnknownMember) {
			roster.Remove(&next, a.ParticipantID, pol.StandbyQueuing)
			dropped = append(dropped, a.ParticipantID)
			continue
		}
		if err != nil {
			return err
		}
	}
	if len(dropped) == 0 {
		return nil
	}
	if err := h.events.Update(ctx, &next); err != nil {
		return err
	}
	*ev = next
	h.logger.Info("departed members removed from roster", "event_id", ev.ID, "guild_id", ev.GuildID, "removed", dropped)
	return h.svc.converge(ctx, ev, pol)
}

func (h *ReactionHandler) dispatch(ctx context.Context, ev domain.Event, r chat.Reaction) error {
	switch r.Emoji {
	case SymbolConfirm:
		_, err := h.svc.Join(ctx, ev.GuildID, ev.ID, r.UserID)
		return err
	case SymbolDecline:
		_, err := h.svc.Leave(ctx, ev.GuildID, ev.ID, r.UserID)
		return err
	case SymbolDeploy:
		_, err := h.svc.ToggleDeploy(ctx, ev.GuildID, ev.ID, r.UserID)
		return err
	case SymbolClock:
		return h.svc.notifier.Notify(ctx, r.UserID, r.ChannelID, h.svc.render.TimezoneView(ev, h.timezoneOf(ctx, ev.GuildID, r.UserID)))
	case SymbolEdit:
		return h.svc.notifier.Notify(ctx, r.UserID, r.ChannelID, h.svc.render.EditTemplate(ev, h.timezoneOf(ctx, ev.GuildID, r.UserID)))
	case SymbolDelete:
		post := r.Post()
		msg, err := h.svc.Remove(ctx, RemoveEventInput{GuildID: ev.GuildID, EventID: ev.ID, ActorID: r.UserID, ExistingPost: &post})
		if err != nil {
			return err
		}
		return h.svc.notifier.Notify(ctx, r.UserID, r.ChannelID, chat.Message{Description: msg})
	default:
		h.logger.Debug("ignoring unknown symbol", "event_id", ev.ID, "symbol", r.Emoji)
		return nil
	}
}

func (h *ReactionHandler) timezoneOf(ctx context.Context, guildID, userID string) string {
	p, err := h.profiles.Profile(ctx, guildID, userID)
	if err != nil {
		return ""
	}
	return p.Timezone
}

// cleanup removes every reaction not made by the system identity from the
// control symbols and the triggering symbol.
func (h *ReactionHandler) cleanup(ctx context.Context, r chat.Reaction) {
	post := r.Post()
	self := h.gw.SelfID()
	symbols := ControlSymbols
	if !slices.Contains(symbols, r.Emoji) {
		symbols = append(slices.Clone(symbols), r.Emoji)
	}
	for _, sym := range symbols {
		users, err := h.gw.ReactionUsers(ctx, post, sym)
		if errors.Is(err, chat.ErrUnknownMessage) {
			return
		}
		if err != nil {
			h.logger.Debug("reaction list failed", "message_id", post.MessageID, "symbol", sym, "err", err)
			continue
		}
		for _, u := range users {
			if u == self {
				continue
			}
			if err := h.gw.RemoveReaction(ctx, post, sym, u); err != nil {
				h.logger.Debug("reaction remove failed", "message_id", post.MessageID, "symbol", sym, "user_id", u, "err", err)
			}
		}
	}
}

func symbolName(sym string) string {
	switch sym {
	case SymbolConfirm:
		return "confirm"
	case SymbolDecline:
		return "decline"
	case SymbolDeploy:
		return "deploy"
	case SymbolClock:
		return "clock"
	case SymbolEdit:
		return "edit"
	case SymbolDelete:
		return "delete"
	default:
		return "other"
	}
}
