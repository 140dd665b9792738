// Package channels keeps an event's planning (text) and voice channels in step
// with its roster.
package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jcolson/dndvault-bot-sub000/internal/chat"
	"github.com/jcolson/dndvault-bot-sub000/internal/domain"
	"github.com/jcolson/dndvault-bot-sub000/internal/metrics"
)

const (
	memberAllow    = chat.PermViewChannel | chat.PermSendMessages | chat.PermConnect | chat.PermSpeak
	requiredToMake = chat.PermManageChannels | chat.PermManageRoles
)

// Gateway is the subset of the chat platform the reconciler drives.
type Gateway interface {
	chat.Identity
	chat.Channels
	chat.Members
}

type Options struct {
	Kind       domain.ChannelKind
	CategoryID string
	Mode       domain.VoiceMode
	Remove     bool
}

type Reconciler struct {
	gw     Gateway
	logger *slog.Logger
}

func NewReconciler(gw Gateway, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{gw: gw, logger: logger}
}

// Reconcile converges the auxiliary channel of opts.Kind toward the event's
// desired name and membership and returns the channel reference to store.
// Running it again against unchanged state issues no writes.
func (r *Reconciler) Reconcile(ctx context.Context, ev *domain.Event, opts Options) (string, error) {
	current := ev.ChannelID(opts.Kind)
	log := r.logger.With("event_id", ev.ID, "guild_id", ev.GuildID, "kind", string(opts.Kind))

	if opts.Remove {
		return "", r.remove(ctx, current, log)
	}

	desired := DesiredMembers(ev, r.gw.SelfID())
	name := Name(ev.Title)

	if current != "" {
		ch, err := r.gw.Channel(ctx, current)
		switch {
		case err == nil:
			r.converge(ctx, ev.GuildID, ch, name, desired, log)
			return ch.ID, nil
		case errors.Is(err, chat.ErrUnknownChannel):
			log.Info("channel vanished, recreating", "channel_id", current)
		default:
			return current, fmt.Errorf("%w: %w", domain.ErrChannelUnavailable, err)
		}
	}
	return r.create(ctx, ev, opts, name, desired, log)
}

func (r *Reconciler) remove(ctx context.Context, channelID string, log *slog.Logger) error {
	if channelID == "" {
		return nil
	}
	err := r.gw.DeleteChannel(ctx, channelID)
	if err != nil && !errors.Is(err, chat.ErrUnknownChannel) {
		return fmt.Errorf("%w: %w", domain.ErrChannelUnavailable, err)
	}
	metrics.ReconcileWrites.WithLabelValues("delete").Inc()
	log.Info("channel removed", "channel_id", channelID)
	return nil
}

func (r *Reconciler) create(ctx context.Context, ev *domain.Event, opts Options, name string, desired []string, log *slog.Logger) (string, error) {
	perms, err := r.gw.SelfPermissions(ctx, ev.GuildID)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrChannelUnavailable, err)
	}
	if !perms.Has(requiredToMake) {
		return "", domain.ErrInsufficientPermissions
	}

	overwrites := []chat.Overwrite{defaultRoleOverwrite(r.gw.DefaultRoleID(ev.GuildID), opts)}
	self := r.gw.SelfID()
	for _, id := range desired {
		if id != self && !r.resolvable(ctx, ev.GuildID, id, log) {
			continue
		}
		overwrites = append(overwrites, memberOverwrite(id))
	}

	ch, err := r.gw.CreateChannel(ctx, chat.CreateChannelParams{
		GuildID:    ev.GuildID,
		ParentID:   opts.CategoryID,
		Name:       name,
		Kind:       opts.Kind,
		Overwrites: overwrites,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrChannelUnavailable, err)
	}
	metrics.ReconcileWrites.WithLabelValues("create").Inc()
	log.Info("channel created", "channel_id", ch.ID, "name", name, "members", len(overwrites)-1)
	return ch.ID, nil
}

func (r *Reconciler) converge(ctx context.Context, guildID string, ch chat.Channel, name string, desired []string, log *slog.Logger) {
	if ch.Name != name {
		if err := r.gw.RenameChannel(ctx, ch.ID, name); err != nil {
			log.Warn("channel rename failed", "channel_id", ch.ID, "err", err)
		} else {
			metrics.ReconcileWrites.WithLabelValues("rename").Inc()
		}
	}

	want := make(map[string]struct{}, len(desired))
	for _, id := range desired {
		want[id] = struct{}{}
	}
	have := make(map[string]struct{})
	for _, ow := range ch.Overwrites {
		if ow.Target != chat.TargetMember {
			continue
		}
		have[ow.SubjectID] = struct{}{}
		if _, ok := want[ow.SubjectID]; ok {
			continue
		}
		if err := r.gw.DeleteOverwrite(ctx, ch.ID, ow.SubjectID); err != nil {
			log.Warn("overwrite removal failed", "channel_id", ch.ID, "member_id", ow.SubjectID, "err", err)
			continue
		}
		metrics.ReconcileWrites.WithLabelValues("revoke").Inc()
	}

	self := r.gw.SelfID()
	for _, id := range desired {
		if _, ok := have[id]; ok {
			continue
		}
		if id != self && !r.resolvable(ctx, guildID, id, log) {
			continue
		}
		if err := r.gw.SetOverwrite(ctx, ch.ID, memberOverwrite(id)); err != nil {
			log.Warn("overwrite grant failed", "channel_id", ch.ID, "member_id", id, "err", err)
			continue
		}
		metrics.ReconcileWrites.WithLabelValues("grant").Inc()
	}
}

func (r *Reconciler) resolvable(ctx context.Context, guildID, userID string, log *slog.Logger) bool {
	if _, err := r.gw.Member(ctx, guildID, userID); err != nil {
		log.Warn("skipping unresolvable member", "member_id", userID, "err", err)
		return false
	}
	return true
}

// DesiredMembers is organizer, game master, active attendees and the system
// identity, deduplicated in that order.
func DesiredMembers(ev *domain.Event, selfID string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(ev.Attendees)+3)
	push := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	push(ev.OrganizerID)
	push(ev.GameMasterID)
	for _, id := range ev.ActiveParticipants() {
		push(id)
	}
	push(selfID)
	return out
}

func memberOverwrite(id string) chat.Overwrite {
	return chat.Overwrite{SubjectID: id, Target: chat.TargetMember, Allow: memberAllow}
}

func defaultRoleOverwrite(roleID string, opts Options) chat.Overwrite {
	ow := chat.Overwrite{SubjectID: roleID, Target: chat.TargetRole}
	if opts.Kind != domain.ChannelVoice {
		ow.Deny = chat.PermViewChannel
		return ow
	}
	switch opts.Mode {
	case domain.VoiceEveryoneSpeak:
		ow.Allow = chat.PermViewChannel | chat.PermConnect | chat.PermSpeak
	case domain.VoiceEveryoneListen:
		ow.Allow = chat.PermViewChannel | chat.PermConnect
		ow.Deny = chat.PermSpeak
	default:
		ow.Deny = chat.PermViewChannel | chat.PermConnect
	}
	return ow
}
