package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jcolson/dndvault-bot-sub000/internal/channels"
	"github.com/jcolson/dndvault-bot-sub000/internal/chat"
	"github.com/jcolson/dndvault-bot-sub000/internal/clock"
	"github.com/jcolson/dndvault-bot-sub000/internal/domain"
	"github.com/jcolson/dndvault-bot-sub000/internal/metrics"
	"github.com/jcolson/dndvault-bot-sub000/internal/temporal"
)

// SweepReport summarises one sweep run.
type SweepReport struct {
	Considered int `json:"considered"`
	Claimed    int `json:"claimed"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// SweepService runs the periodic reminder, recurrence and retention passes
// over the guilds this worker serves. Items are processed sequentially and a
// failing item never aborts its sweep.
type SweepService struct {
	events   EventRepository
	profiles ProfileRepository
	policies PolicyProvider
	gw       chat.Gateway
	guard    GuildGuard
	clock    clock.Clock
	svc      *EventService
	logger   *slog.Logger

	lookahead time.Duration
	grace     time.Duration
}

const (
	defaultReminderLookahead = time.Hour
	defaultRecurrenceGrace   = time.Hour
)

type SweepServiceOption func(*SweepService)

// WithReminderLookahead sets how far ahead reminders are sent.
func WithReminderLookahead(d time.Duration) SweepServiceOption {
	return func(s *SweepService) {
		if d > 0 {
			s.lookahead = d
		}
	}
}

// WithRecurrenceGrace sets how long after its start an event must be before
// its successor is generated.
func WithRecurrenceGrace(d time.Duration) SweepServiceOption {
	return func(s *SweepService) {
		if d >= 0 {
			s.grace = d
		}
	}
}

func NewSweepService(d Deps, svc *EventService, opts ...SweepServiceOption) *SweepService {
	d = d.withDefaults()
	s := &SweepService{
		events:    d.Events,
		profiles:  d.Profiles,
		policies:  d.Policies,
		gw:        d.Gateway,
		guard:     d.Guard,
		clock:     d.Clock,
		svc:       svc,
		logger:    d.Logger,
		lookahead: defaultReminderLookahead,
		grace:     defaultRecurrenceGrace,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reminders claims each unclaimed event starting within the lookahead and
// notifies its game master and active attendees once.
func (s *SweepService) Reminders(ctx context.Context) SweepReport {
	const sweep = "reminders"
	defer observe(sweep, time.Now())

	var rep SweepReport
	guilds := s.guard.ServedGuilds()
	if len(guilds) == 0 {
		return rep
	}
	now := s.clock.Now()
	due, err := s.events.ListReminderDue(ctx, guilds, now, now.Add(s.lookahead))
	if err != nil {
		s.logger.Error("reminder sweep query failed", "op", sweep, "err", err)
		rep.Failed++
		return rep
	}

	for _, ev := range due {
		rep.Considered++
		if !s.guard.Serves(ev.GuildID) {
			rep.skip(sweep)
			continue
		}
		claimedAt := now
		ev.ReminderClaimedAt = &claimedAt
		if err := s.events.Update(ctx, &ev); err != nil {
			if errors.Is(err, domain.ErrVersionConflict) {
				rep.skip(sweep)
				continue
			}
			rep.fail(sweep)
			s.logger.Error("reminder claim failed", "event_id", ev.ID, "guild_id", ev.GuildID, "op", sweep, "err", err)
			continue
		}
		rep.claim(sweep)

		fallback := ""
		if ev.Announcement != nil {
			fallback = ev.Announcement.ChannelID
		}
		msg := s.svc.render.Reminder(ev)
		for _, userID := range reminderRecipients(ev) {
			if err := s.svc.notifier.Notify(ctx, userID, fallback, msg); err != nil {
				s.logger.Warn("reminder not delivered", "event_id", ev.ID, "guild_id", ev.GuildID, "user_id", userID, "err", err)
			}
		}
	}
	return rep
}

func reminderRecipients(ev domain.Event) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, id := range append([]string{ev.GameMasterID}, ev.ActiveParticipants()...) {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Recurrences generates and publishes the successor of every recurring event
// whose start is safely in the past.
func (s *SweepService) Recurrences(ctx context.Context) SweepReport {
	const sweep = "recurrences"
	defer observe(sweep, time.Now())

	var rep SweepReport
	guilds := s.guard.ServedGuilds()
	if len(guilds) == 0 {
		return rep
	}
	now := s.clock.Now()
	due, err := s.events.ListRecurrenceDue(ctx, guilds, now.Add(-s.grace))
	if err != nil {
		s.logger.Error("recurrence sweep query failed", "op", sweep, "err", err)
		rep.Failed++
		return rep
	}

	for _, ev := range due {
		rep.Considered++
		log := s.logger.With("event_id", ev.ID, "guild_id", ev.GuildID, "op", sweep)
		if !s.guard.Serves(ev.GuildID) || ev.Recurrence == nil {
			rep.skip(sweep)
			continue
		}
		if ev.Announcement == nil || ev.Announcement.ChannelID == "" {
			log.Warn("recurring event has no announcement channel, skipping")
			rep.skip(sweep)
			continue
		}
		channelID := ev.Announcement.ChannelID

		start, err := nextStart(ev.StartsAt, ev.Recurrence.EveryDays, now, s.organizerZone(ctx, ev))
		if err != nil {
			log.Error("successor start failed", "err", err)
			rep.fail(sweep)
			continue
		}

		claimedAt := now
		ev.RecurrenceClaimedAt = &claimedAt
		if err := s.events.Update(ctx, &ev); err != nil {
			if errors.Is(err, domain.ErrVersionConflict) {
				rep.skip(sweep)
				continue
			}
			log.Error("recurrence claim failed", "err", err)
			rep.fail(sweep)
			continue
		}
		rep.claim(sweep)

		next := successor(ev, newUUID(), start, now)
		if err := s.events.Insert(ctx, next); err != nil {
			log.Error("successor insert failed", "err", err)
			rep.fail(sweep)
			s.releaseRecurrence(ctx, &ev, log)
			continue
		}
		if _, err := s.svc.Show(ctx, next.GuildID, channelID, next.ID); err != nil {
			log.Error("successor announcement failed", "successor_id", next.ID, "err", err)
			rep.fail(sweep)
			continue
		}
		log.Info("successor scheduled", "successor_id", next.ID, "starts_at", next.StartsAt, "title", next.Title)
	}
	return rep
}

func (s *SweepService) organizerZone(ctx context.Context, ev domain.Event) *time.Location {
	p, err := s.profiles.Profile(ctx, ev.GuildID, ev.OrganizerID)
	if err != nil {
		return time.UTC
	}
	loc, err := temporal.LoadZone(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Retention removes channels, and posts when the guild opts in, of events
// older than the guild's retention window. Each removal is persisted on its
// own.
func (s *SweepService) Retention(ctx context.Context) SweepReport {
	const sweep = "retention"
	defer observe(sweep, time.Now())

	var rep SweepReport
	now := s.clock.Now()
	for _, guildID := range s.guard.ServedGuilds() {
		pol, err := s.policies.Policy(ctx, guildID)
		if err != nil {
			s.logger.Error("retention policy lookup failed", "guild_id", guildID, "op", sweep, "err", err)
			rep.Failed++
			continue
		}
		if pol.RetentionDays <= 0 {
			continue
		}
		cutoff := now.AddDate(0, 0, -pol.RetentionDays)
		stale, err := s.events.ListRetentionCandidates(ctx, guildID, cutoff, pol.AutoDeletePosts)
		if err != nil {
			s.logger.Error("retention sweep query failed", "guild_id", guildID, "op", sweep, "err", err)
			rep.Failed++
			continue
		}
		for _, ev := range stale {
			rep.Considered++
			if s.retire(ctx, &ev, pol) {
				rep.claim(sweep)
			} else {
				rep.fail(sweep)
			}
		}
	}
	return rep
}

// retire reports whether every cleanup step for ev succeeded.
func (s *SweepService) retire(ctx context.Context, ev *domain.Event, pol domain.GuildPolicy) bool {
	log := s.logger.With("event_id", ev.ID, "guild_id", ev.GuildID, "op", "retention")
	ok := true
	for _, kind := range []domain.ChannelKind{domain.ChannelText, domain.ChannelVoice} {
		if ev.ChannelID(kind) == "" {
			continue
		}
		if _, err := s.svc.reconciler.Reconcile(ctx, ev, channels.Options{Kind: kind, Remove: true}); err != nil {
			log.Warn("channel removal failed", "kind", string(kind), "err", err)
			ok = false
			continue
		}
		next := ev.Clone()
		next.SetChannelID(kind, "")
		if err := s.events.Update(ctx, &next); err != nil {
			log.Warn("channel reference not cleared", "kind", string(kind), "err", err)
			return false
		}
		*ev = next
	}

	if pol.AutoDeletePosts && ev.Announcement != nil {
		err := s.gw.DeleteMessage(ctx, *ev.Announcement)
		if err != nil && !errors.Is(err, chat.ErrUnknownMessage) {
			log.Warn("post removal failed", "err", err)
			return false
		}
		next := ev.Clone()
		next.Announcement = nil
		if err := s.events.Update(ctx, &next); err != nil {
			log.Warn("post reference not cleared", "err", err)
			return false
		}
		*ev = next
	}
	return ok
}

// releaseRecurrence drops the claim on ev so a later sweep retries the
// successor. A failed release leaves the event claimed for good.
func (s *SweepService) releaseRecurrence(ctx context.Context, ev *domain.Event, log *slog.Logger) {
	ev.RecurrenceClaimedAt = nil
	if err := s.events.Update(ctx, ev); err != nil {
		log.Error("recurrence claim not released, successor will not be retried", "err", err)
		return
	}
	log.Info("recurrence claim released for retry")
}

func (r *SweepReport) claim(sweep string) {
	r.Claimed++
	metrics.SweepItems.WithLabelValues(sweep, "claimed").Inc()
}

func (r *SweepReport) skip(sweep string) {
	r.Skipped++
	metrics.SweepItems.WithLabelValues(sweep, "skipped").Inc()
}

func (r *SweepReport) fail(sweep string) {
	r.Failed++
	metrics.SweepItems.WithLabelValues(sweep, "failed").Inc()
}

func observe(sweep string, started time.Time) {
	metrics.SweepDuration.WithLabelValues(sweep).Observe(time.Since(started).Seconds())
}
