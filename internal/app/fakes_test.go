package app

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jcolson/dndvault-bot-sub000/internal/chat"
	"github.com/jcolson/dndvault-bot-sub000/internal/chat/chattest"
	"github.com/jcolson/dndvault-bot-sub000/internal/clock"
	"github.com/jcolson/dndvault-bot-sub000/internal/domain"
	"github.com/jcolson/dndvault-bot-sub000/internal/shard"
)

const (
	testGuild   = "100"
	testChannel = "chan-1"
	botID       = "bot"
)

var testNow = time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)

type fakeEventRepo struct {
	mu     sync.Mutex
	events map[string]domain.Event

	// listBarrier, when set, holds every reminder listing until all expected
	// callers have listed.
	listBarrier *sync.WaitGroup
	// insertErr, when set, fails every Insert.
	insertErr error
}

func newFakeEventRepo() *fakeEventRepo {
	return &fakeEventRepo{events: make(map[string]domain.Event)}
}

func (f *fakeEventRepo) Get(_ context.Context, id string) (domain.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.events[id]
	if !ok {
		return domain.Event{}, domain.ErrEventNotFound
	}
	return ev.Clone(), nil
}

func (f *fakeEventRepo) FindByAnnouncement(_ context.Context, messageID string) (domain.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ev := range f.events {
		if ev.Announcement != nil && ev.Announcement.MessageID == messageID {
			return ev.Clone(), nil
		}
	}
	return domain.Event{}, domain.ErrEventNotFound
}

func (f *fakeEventRepo) Insert(_ context.Context, ev domain.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.events[ev.ID] = ev.Clone()
	return nil
}

func (f *fakeEventRepo) failInserts(err error) {
	f.mu.Lock()
	f.insertErr = err
	f.mu.Unlock()
}

func (f *fakeEventRepo) Update(_ context.Context, ev *domain.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.events[ev.ID]
	if !ok {
		return domain.ErrEventNotFound
	}
	if stored.Version != ev.Version {
		return domain.ErrVersionConflict
	}
	ev.Version++
	f.events[ev.ID] = ev.Clone()
	return nil
}

func (f *fakeEventRepo) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.events[id]; !ok {
		return domain.ErrEventNotFound
	}
	delete(f.events, id)
	return nil
}

func (f *fakeEventRepo) ListReminderDue(_ context.Context, guildIDs []string, from, to time.Time) ([]domain.Event, error) {
	out := f.filter(func(ev domain.Event) bool {
		return inGuilds(ev.GuildID, guildIDs) && ev.ReminderClaimedAt == nil &&
			ev.StartsAt.After(from) && !ev.StartsAt.After(to)
	})
	if f.listBarrier != nil {
		f.listBarrier.Done()
		f.listBarrier.Wait()
	}
	return out, nil
}

func (f *fakeEventRepo) ListRecurrenceDue(_ context.Context, guildIDs []string, cutoff time.Time) ([]domain.Event, error) {
	return f.filter(func(ev domain.Event) bool {
		return inGuilds(ev.GuildID, guildIDs) && ev.Recurrence != nil &&
			ev.RecurrenceClaimedAt == nil && ev.StartsAt.Before(cutoff)
	}), nil
}

func (f *fakeEventRepo) ListRetentionCandidates(_ context.Context, guildID string, cutoff time.Time, withPosts bool) ([]domain.Event, error) {
	return f.filter(func(ev domain.Event) bool {
		held := ev.PlanningChannelID != "" || ev.VoiceChannelID != "" || (withPosts && ev.Announcement != nil)
		return ev.GuildID == guildID && ev.StartsAt.Before(cutoff) && held
	}), nil
}

func (f *fakeEventRepo) ListUpcoming(_ context.Context, guildID string, from time.Time, limit int) ([]domain.Event, error) {
	out := f.filter(func(ev domain.Event) bool {
		return ev.GuildID == guildID && ev.StartsAt.After(from)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeEventRepo) CountUpcoming(ctx context.Context, guildID string, from time.Time) (int, error) {
	list, _ := f.ListUpcoming(ctx, guildID, from, 0)
	return len(list), nil
}

func (f *fakeEventRepo) filter(keep func(domain.Event) bool) []domain.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Event
	for _, ev := range f.events {
		if keep(ev) {
			out = append(out, ev.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out
}

func (f *fakeEventRepo) all() []domain.Event {
	return f.filter(func(domain.Event) bool { return true })
}

func (f *fakeEventRepo) get(t *testing.T, id string) domain.Event {
	t.Helper()
	ev, err := f.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("expected event %s to exist, got %v", id, err)
	}
	return ev
}

func inGuilds(id string, guilds []string) bool {
	for _, g := range guilds {
		if g == id {
			return true
		}
	}
	return false
}

type fakeProfiles struct {
	profiles map[string]domain.UserProfile
}

func (f *fakeProfiles) Profile(_ context.Context, guildID, userID string) (domain.UserProfile, error) {
	p, ok := f.profiles[guildID+"/"+userID]
	if !ok {
		return domain.UserProfile{}, domain.ErrProfileNotFound
	}
	return p, nil
}

func (f *fakeProfiles) set(userID, tz string) {
	f.profiles[testGuild+"/"+userID] = domain.UserProfile{GuildID: testGuild, UserID: userID, Timezone: tz}
}

type fakeCharacters struct {
	byUser map[string]domain.CharacterRef
}

func (f *fakeCharacters) FindBestCharacterFor(_ context.Context, _, participantID, campaign string, requireMatch bool) (*domain.CharacterRef, error) {
	ref, ok := f.byUser[participantID]
	if !ok {
		return nil, nil
	}
	if requireMatch && ref.Campaign != campaign {
		return nil, nil
	}
	return &ref, nil
}

func (f *fakeCharacters) Character(_ context.Context, _, characterID string) (domain.CharacterRef, error) {
	for _, ref := range f.byUser {
		if ref.ID == characterID {
			return ref, nil
		}
	}
	return domain.CharacterRef{}, domain.ErrCharacterNotFound
}

func (f *fakeCharacters) ShortDisplayName(ref domain.CharacterRef) string {
	return ref.Name
}

type fakePolicies struct {
	mu          sync.Mutex
	policy      domain.GuildPolicy
	invalidated []string
}

func (f *fakePolicies) Policy(_ context.Context, guildID string) (domain.GuildPolicy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.policy
	p.GuildID = guildID
	return p, nil
}

func (f *fakePolicies) Invalidate(guildID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, guildID)
}

type harness struct {
	repo     *fakeEventRepo
	profiles *fakeProfiles
	chars    *fakeCharacters
	policies *fakePolicies
	gw       *chattest.Gateway
	clk      *clock.Manual

	svc       *EventService
	reactions *ReactionHandler
	sweeps    *SweepService
}

func newHarness(t *testing.T, pol domain.GuildPolicy) *harness {
	t.Helper()
	h := &harness{
		repo:     newFakeEventRepo(),
		profiles: &fakeProfiles{profiles: make(map[string]domain.UserProfile)},
		chars:    &fakeCharacters{byUser: make(map[string]domain.CharacterRef)},
		policies: &fakePolicies{policy: pol},
		gw:       chattest.New(botID),
		clk:      clock.NewManual(testNow),
	}
	h.gw.AddMembers(testGuild, "org", "gm", "a", "b", "c", "stranger")
	h.gw.AddMember(testGuild, chat.Member{UserID: "admin", Permissions: chat.PermAdministrator})
	h.gw.AddMember(testGuild, chat.Member{UserID: "approver", RoleIDs: []string{"role-approver"}})
	h.profiles.set("org", "UTC")

	deps := Deps{
		Events:     h.repo,
		Profiles:   h.profiles,
		Characters: h.chars,
		Policies:   h.policies,
		Gateway:    h.gw,
		Guard:      shard.New(0, 1, func() []string { return []string{testGuild} }),
		Clock:      h.clk,
	}
	h.svc = NewEventService(deps)
	h.reactions = NewReactionHandler(deps, h.svc)
	h.sweeps = NewSweepService(deps, h.svc, WithReminderLookahead(time.Hour), WithRecurrenceGrace(time.Hour))
	return h
}

func validFields() EventFields {
	return EventFields{
		Title:        "Session 3",
		Description:  "Into the crypt",
		GameMasterID: "gm",
		Date:         "01/10/2030",
		Time:         "19:00",
		Duration:     "3.5",
		Slots:        "3",
	}
}

func (h *harness) create(t *testing.T, mutate func(*EventFields)) domain.Event {
	t.Helper()
	f := validFields()
	if mutate != nil {
		mutate(&f)
	}
	ev, err := h.svc.Create(context.Background(), CreateEventInput{
		GuildID:   testGuild,
		ActorID:   "org",
		ChannelID: testChannel,
		Fields:    f,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return ev
}

func (h *harness) join(t *testing.T, eventID string, users ...string) domain.Event {
	t.Helper()
	var ev domain.Event
	for _, u := range users {
		var err error
		ev, err = h.svc.Join(context.Background(), testGuild, eventID, u)
		if err != nil {
			t.Fatalf("join %s: %v", u, err)
		}
	}
	return ev
}

func fieldValue(msg chat.Message, prefix string) (string, bool) {
	for _, f := range msg.Fields {
		if strings.HasPrefix(f.Name, prefix) {
			return f.Value, true
		}
	}
	return "", false
}
