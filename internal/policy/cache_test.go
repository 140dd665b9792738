package policy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jcolson/dndvault-bot-sub000/internal/clock"
	"github.com/jcolson/dndvault-bot-sub000/internal/domain"
)

type fakeSource struct {
	mu       sync.Mutex
	policies map[string]domain.GuildPolicy
	err      error
	calls    int
	forgot   []string
}

func (f *fakeSource) Policy(_ context.Context, guildID string) (domain.GuildPolicy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return domain.GuildPolicy{}, f.err
	}
	p, ok := f.policies[guildID]
	if !ok {
		return domain.GuildPolicy{}, domain.ErrPolicyNotFound
	}
	return p, nil
}

func (f *fakeSource) Forget(_ context.Context, guildID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgot = append(f.forgot, guildID)
	return nil
}

func TestCacheHitsUntilExpiry(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	src := &fakeSource{policies: map[string]domain.GuildPolicy{
		"g": {ApproverRoleID: "r1", VoicePermissionMode: domain.VoiceEveryoneSpeak},
	}}
	c := NewCache(src, WithClock(clk), WithTTL(time.Minute))

	p, err := c.Policy(ctx, "g")
	require.NoError(t, err)
	require.Equal(t, "g", p.GuildID)
	require.Equal(t, "r1", p.ApproverRoleID)

	_, err = c.Policy(ctx, "g")
	require.NoError(t, err)
	require.Equal(t, 1, src.calls)

	clk.Advance(2 * time.Minute)
	_, err = c.Policy(ctx, "g")
	require.NoError(t, err)
	require.Equal(t, 2, src.calls)
}

func TestCacheDefaultsAndInvalidation(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{policies: map[string]domain.GuildPolicy{}}
	retention := 7
	c := NewCache(src, WithDefaults(func() domain.GuildPolicy {
		return domain.GuildPolicy{RetentionDays: retention}
	}))

	p, err := c.Policy(ctx, "new")
	require.NoError(t, err)
	require.Equal(t, 7, p.RetentionDays)
	require.Equal(t, domain.VoiceAttendees, p.VoicePermissionMode)

	retention = 30
	c.Invalidate("new")
	require.Equal(t, []string{"new"}, src.forgot)

	p, err = c.Policy(ctx, "new")
	require.NoError(t, err)
	require.Equal(t, 30, p.RetentionDays)

	c.InvalidateAll()
	_, err = c.Policy(ctx, "new")
	require.NoError(t, err)
	require.Equal(t, 3, src.calls)
}

func TestCacheSurfacesSourceErrors(t *testing.T) {
	boom := errors.New("db down")
	c := NewCache(&fakeSource{err: boom})
	_, err := c.Policy(context.Background(), "g")
	require.ErrorIs(t, err, boom)
}
