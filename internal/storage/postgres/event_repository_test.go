package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jcolson/dndvault-bot-sub000/internal/domain"
	"github.com/jcolson/dndvault-bot-sub000/internal/testutil"
)

func TestEventRepository(t *testing.T) {
	pool := testutil.NewTestPool(t)
	repo := NewEventRepository(pool)
	testutil.ApplyMigrations(t, context.Background(), pool)

	base := time.Date(2030, 1, 10, 19, 0, 0, 0, time.UTC)

	t.Run("Insert and Get round trip", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)

		ev := testutil.NewEvent("g1", base)
		ev.Campaign = "Ashes"
		ev.Attendees = []domain.Attendee{
			{ParticipantID: "a", CharacterID: "c1", JoinedAt: base.Add(-time.Hour)},
			{ParticipantID: "b", JoinedAt: base.Add(-time.Minute), Standby: true},
		}
		ev.Announcement = &domain.PostRef{ChannelID: "chan", MessageID: "msg-1"}
		ev.Recurrence = &domain.Recurrence{EveryDays: 7}
		if err := repo.Insert(ctx, ev); err != nil {
			t.Fatalf("insert: %v", err)
		}

		got, err := repo.Get(ctx, ev.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Title != ev.Title || got.Campaign != "Ashes" || !got.StartsAt.Equal(base) {
			t.Fatalf("unexpected event: %+v", got)
		}
		if len(got.Attendees) != 2 || got.Attendees[0].CharacterID != "c1" || !got.Attendees[1].Standby {
			t.Fatalf("unexpected attendees: %+v", got.Attendees)
		}
		if got.Announcement == nil || got.Announcement.MessageID != "msg-1" {
			t.Fatalf("unexpected announcement: %+v", got.Announcement)
		}
		if got.Recurrence == nil || got.Recurrence.EveryDays != 7 || got.Version != 1 {
			t.Fatalf("unexpected recurrence/version: %+v", got)
		}

		byPost, err := repo.FindByAnnouncement(ctx, "msg-1")
		if err != nil || byPost.ID != ev.ID {
			t.Fatalf("expected lookup by post, got %+v, %v", byPost, err)
		}
		if _, err := repo.FindByAnnouncement(ctx, "msg-404"); !errors.Is(err, domain.ErrEventNotFound) {
			t.Fatalf("expected ErrEventNotFound, got %v", err)
		}
	})

	t.Run("Get maps missing and malformed ids", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)

		if _, err := repo.Get(ctx, "00000000-0000-0000-0000-000000000001"); !errors.Is(err, domain.ErrEventNotFound) {
			t.Fatalf("expected ErrEventNotFound, got %v", err)
		}
		if _, err := repo.Get(ctx, "not-a-uuid"); !errors.Is(err, domain.ErrInvalidID) {
			t.Fatalf("expected ErrInvalidID, got %v", err)
		}
	})

	t.Run("Update is a version compare-and-swap", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)

		ev := testutil.NewEvent("g1", base)
		if err := repo.Insert(ctx, ev); err != nil {
			t.Fatalf("insert: %v", err)
		}

		first := ev.Clone()
		second := ev.Clone()
		first.Title = "Renamed"
		if err := repo.Update(ctx, &first); err != nil {
			t.Fatalf("update: %v", err)
		}
		if first.Version != 2 {
			t.Fatalf("expected version 2, got %d", first.Version)
		}

		second.Title = "Stale"
		if err := repo.Update(ctx, &second); !errors.Is(err, domain.ErrVersionConflict) {
			t.Fatalf("expected ErrVersionConflict, got %v", err)
		}
		if second.Version != 1 {
			t.Fatalf("expected stale version untouched, got %d", second.Version)
		}

		got, _ := repo.Get(ctx, ev.ID)
		if got.Title != "Renamed" || got.Version != 2 {
			t.Fatalf("unexpected stored event: %+v", got)
		}

		missing := testutil.NewEvent("g1", base)
		if err := repo.Update(ctx, &missing); !errors.Is(err, domain.ErrEventNotFound) {
			t.Fatalf("expected ErrEventNotFound, got %v", err)
		}
	})

	t.Run("Update clears nullable references", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)

		ev := testutil.NewEvent("g1", base)
		ev.Announcement = &domain.PostRef{ChannelID: "chan", MessageID: "msg-2"}
		claimed := base.Add(-time.Hour)
		ev.ReminderClaimedAt = &claimed
		if err := repo.Insert(ctx, ev); err != nil {
			t.Fatalf("insert: %v", err)
		}

		ev.Announcement = nil
		ev.ReminderClaimedAt = nil
		if err := repo.Update(ctx, &ev); err != nil {
			t.Fatalf("update: %v", err)
		}
		got, _ := repo.Get(ctx, ev.ID)
		if got.Announcement != nil || got.ReminderClaimedAt != nil {
			t.Fatalf("expected references cleared, got %+v", got)
		}
	})

	t.Run("sweep listings", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)

		now := base.Add(-30 * time.Minute)
		due := testutil.NewEvent("g1", base)
		otherGuild := testutil.NewEvent("g2", base)
		claimed := testutil.NewEvent("g1", base)
		claimedAt := now
		claimed.ReminderClaimedAt = &claimedAt
		later := testutil.NewEvent("g1", base.Add(3*time.Hour))

		past := testutil.NewEvent("g1", base.Add(-48*time.Hour))
		past.Recurrence = &domain.Recurrence{EveryDays: 7}
		past.PlanningChannelID = "plan-1"
		postOnly := testutil.NewEvent("g1", base.Add(-72*time.Hour))
		postOnly.Announcement = &domain.PostRef{ChannelID: "chan", MessageID: "msg-3"}

		for _, ev := range []domain.Event{due, otherGuild, claimed, later, past, postOnly} {
			if err := repo.Insert(ctx, ev); err != nil {
				t.Fatalf("insert: %v", err)
			}
		}

		reminders, err := repo.ListReminderDue(ctx, []string{"g1"}, now, now.Add(time.Hour))
		if err != nil {
			t.Fatalf("list reminders: %v", err)
		}
		if len(reminders) != 1 || reminders[0].ID != due.ID {
			t.Fatalf("expected only the due event, got %+v", reminders)
		}

		recurring, err := repo.ListRecurrenceDue(ctx, []string{"g1", "g2"}, now.Add(-time.Hour))
		if err != nil {
			t.Fatalf("list recurrences: %v", err)
		}
		if len(recurring) != 1 || recurring[0].ID != past.ID {
			t.Fatalf("expected only the recurring event, got %+v", recurring)
		}

		cutoff := base.Add(-24 * time.Hour)
		stale, err := repo.ListRetentionCandidates(ctx, "g1", cutoff, false)
		if err != nil {
			t.Fatalf("list retention: %v", err)
		}
		if len(stale) != 1 || stale[0].ID != past.ID {
			t.Fatalf("expected channel holder only, got %+v", stale)
		}
		stale, _ = repo.ListRetentionCandidates(ctx, "g1", cutoff, true)
		if len(stale) != 2 || stale[0].ID != postOnly.ID {
			t.Fatalf("expected post holder included, got %+v", stale)
		}
	})

	t.Run("upcoming listing and count", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)

		for i := 0; i < 3; i++ {
			if err := repo.Insert(ctx, testutil.NewEvent("g1", base.Add(time.Duration(i)*time.Hour))); err != nil {
				t.Fatalf("insert: %v", err)
			}
		}
		if err := repo.Insert(ctx, testutil.NewEvent("g1", base.Add(-time.Hour))); err != nil {
			t.Fatalf("insert: %v", err)
		}

		list, err := repo.ListUpcoming(ctx, "g1", base.Add(-time.Minute), 2)
		if err != nil {
			t.Fatalf("list upcoming: %v", err)
		}
		if len(list) != 2 || !list[0].StartsAt.Equal(base) {
			t.Fatalf("unexpected upcoming: %+v", list)
		}
		all, _ := repo.ListUpcoming(ctx, "g1", base.Add(-time.Minute), 0)
		if len(all) != 3 {
			t.Fatalf("expected 3 upcoming with no limit, got %d", len(all))
		}
		n, err := repo.CountUpcoming(ctx, "g1", base.Add(-time.Minute))
		if err != nil || n != 3 {
			t.Fatalf("expected count 3, got %d, %v", n, err)
		}
	})

	t.Run("Delete removes and reports missing", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)

		ev := testutil.NewEvent("g1", base)
		if err := repo.Insert(ctx, ev); err != nil {
			t.Fatalf("insert: %v", err)
		}
		if err := repo.Delete(ctx, ev.ID); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if err := repo.Delete(ctx, ev.ID); !errors.Is(err, domain.ErrEventNotFound) {
			t.Fatalf("expected ErrEventNotFound, got %v", err)
		}
	})

	t.Run("WithTx rolls back on error", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)

		ev := testutil.NewEvent("g1", base)
		boom := errors.New("boom")
		err := repo.WithTx(ctx, func(txCtx context.Context) error {
			if err := repo.Insert(txCtx, ev); err != nil {
				t.Fatalf("insert: %v", err)
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
		if _, err := repo.Get(ctx, ev.ID); !errors.Is(err, domain.ErrEventNotFound) {
			t.Fatalf("expected rollback, got %v", err)
		}
	})
}
