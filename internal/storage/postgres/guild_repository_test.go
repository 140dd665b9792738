package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jcolson/dndvault-bot-sub000/internal/domain"
	"github.com/jcolson/dndvault-bot-sub000/internal/testutil"
)

func TestProfileRepository(t *testing.T) {
	pool := testutil.NewTestPool(t)
	repo := NewProfileRepository(pool)
	ctx := context.Background()
	testutil.ApplyMigrations(t, ctx, pool)
	testutil.TruncateAll(t, ctx, pool)

	if _, err := repo.Profile(ctx, "g1", "u1"); !errors.Is(err, domain.ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound, got %v", err)
	}

	if err := repo.Upsert(ctx, domain.UserProfile{GuildID: "g1", UserID: "u1", Timezone: "Europe/Berlin"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := repo.Upsert(ctx, domain.UserProfile{GuildID: "g1", UserID: "u1", Timezone: "Asia/Tokyo"}); err != nil {
		t.Fatalf("upsert again: %v", err)
	}
	p, err := repo.Profile(ctx, "g1", "u1")
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if p.Timezone != "Asia/Tokyo" {
		t.Fatalf("expected updated timezone, got %q", p.Timezone)
	}
}

func TestPolicyRepository(t *testing.T) {
	pool := testutil.NewTestPool(t)
	repo := NewPolicyRepository(pool)
	ctx := context.Background()
	testutil.ApplyMigrations(t, ctx, pool)
	testutil.TruncateAll(t, ctx, pool)

	if _, err := repo.Policy(ctx, "g1"); !errors.Is(err, domain.ErrPolicyNotFound) {
		t.Fatalf("expected ErrPolicyNotFound, got %v", err)
	}

	want := domain.GuildPolicy{
		GuildID:             "g1",
		ApproverRoleID:      "role-1",
		StandbyQueuing:      true,
		PlanningCategoryID:  "cat",
		VoicePermissionMode: domain.VoiceEveryoneListen,
		RetentionDays:       14,
		AutoDeletePosts:     true,
	}
	if err := repo.Upsert(ctx, want); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err := repo.Policy(ctx, "g1")
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}

	if err := repo.Upsert(ctx, domain.GuildPolicy{GuildID: "g1", VoicePermissionMode: "loud"}); !errors.Is(err, domain.ErrInvalidPolicy) {
		t.Fatalf("expected ErrInvalidPolicy, got %v", err)
	}
}

func TestCharacterRepository(t *testing.T) {
	pool := testutil.NewTestPool(t)
	repo := NewCharacterRepository(pool)
	profiles := NewProfileRepository(pool)
	ctx := context.Background()
	testutil.ApplyMigrations(t, ctx, pool)

	t.Run("prefers campaign match and ignores unapproved", func(t *testing.T) {
		testutil.TruncateAll(t, ctx, pool)
		testutil.InsertCharacter(t, ctx, pool, "g1", "u1", "Other", "Frost", true)
		want := testutil.InsertCharacter(t, ctx, pool, "g1", "u1", "Bram", "Ashes", true)
		testutil.InsertCharacter(t, ctx, pool, "g1", "u1", "Draft", "Ashes", false)

		ref, err := repo.FindBestCharacterFor(ctx, "g1", "u1", "ashes", false)
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if ref == nil || ref.ID != want {
			t.Fatalf("expected campaign match %s, got %+v", want, ref)
		}
	})

	t.Run("default character wins unless campaign required", func(t *testing.T) {
		testutil.TruncateAll(t, ctx, pool)
		def := testutil.InsertCharacter(t, ctx, pool, "g1", "u1", "Favourite", "Frost", true)
		match := testutil.InsertCharacter(t, ctx, pool, "g1", "u1", "Bram", "Ashes", true)
		if err := profiles.Upsert(ctx, domain.UserProfile{GuildID: "g1", UserID: "u1", DefaultCharacterID: def}); err != nil {
			t.Fatalf("upsert profile: %v", err)
		}

		ref, _ := repo.FindBestCharacterFor(ctx, "g1", "u1", "Ashes", false)
		if ref == nil || ref.ID != def {
			t.Fatalf("expected default %s, got %+v", def, ref)
		}
		ref, _ = repo.FindBestCharacterFor(ctx, "g1", "u1", "Ashes", true)
		if ref == nil || ref.ID != match {
			t.Fatalf("expected campaign match %s, got %+v", match, ref)
		}
	})

	t.Run("no eligible character", func(t *testing.T) {
		testutil.TruncateAll(t, ctx, pool)
		testutil.InsertCharacter(t, ctx, pool, "g1", "u1", "Other", "Frost", true)

		ref, err := repo.FindBestCharacterFor(ctx, "g1", "u1", "Ashes", true)
		if err != nil || ref != nil {
			t.Fatalf("expected nil, got %+v, %v", ref, err)
		}
		ref, _ = repo.FindBestCharacterFor(ctx, "g1", "u2", "", false)
		if ref != nil {
			t.Fatalf("expected nil for user without characters, got %+v", ref)
		}
	})

	t.Run("Character lookup", func(t *testing.T) {
		testutil.TruncateAll(t, ctx, pool)
		id := testutil.InsertCharacter(t, ctx, pool, "g1", "u1", "Bram", "Ashes", true)

		ref, err := repo.Character(ctx, "g1", id)
		if err != nil || ref.Name != "Bram" {
			t.Fatalf("expected Bram, got %+v, %v", ref, err)
		}
		if _, err := repo.Character(ctx, "g2", id); !errors.Is(err, domain.ErrCharacterNotFound) {
			t.Fatalf("expected ErrCharacterNotFound, got %v", err)
		}
		if _, err := repo.Character(ctx, "g1", "nope"); !errors.Is(err, domain.ErrInvalidID) {
			t.Fatalf("expected ErrInvalidID, got %v", err)
		}
	})
}

func TestShortDisplayName(t *testing.T) {
	repo := &CharacterRepository{}
	cases := []struct {
		name string
		want string
	}{
		{"Bram", "Bram"},
		{"  Bram   the  Bold ", "Bram the Bold"},
		{strings.Repeat("x", 30), strings.Repeat("x", 23) + "…"},
	}
	for _, tc := range cases {
		if got := repo.ShortDisplayName(domain.CharacterRef{Name: tc.name}); got != tc.want {
			t.Fatalf("ShortDisplayName(%q) = %q, want %q", tc.name, got, tc.want)
		}
	}
}
