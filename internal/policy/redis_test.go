package policy

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jcolson/dndvault-bot-sub000/internal/domain"
)

func newTestRedis(t *testing.T) *RedisSource {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := NewRedisClient(addr, os.Getenv("REDIS_PASSWORD"), 15)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("redis not reachable at %s: %v", addr, err)
	}
	t.Cleanup(func() { client.Close() })
	return NewRedisSource(client, nil, time.Minute, nil)
}

func TestRedisSourceReadThrough(t *testing.T) {
	s := newTestRedis(t)
	src := &fakeSource{policies: map[string]domain.GuildPolicy{
		"redis-g": {ApproverRoleID: "r9", RetentionDays: 3},
	}}
	s.next = src
	ctx := context.Background()
	require.NoError(t, s.Forget(ctx, "redis-g"))

	p, err := s.Policy(ctx, "redis-g")
	require.NoError(t, err)
	require.Equal(t, "r9", p.ApproverRoleID)

	p, err = s.Policy(ctx, "redis-g")
	require.NoError(t, err)
	require.Equal(t, 3, p.RetentionDays)
	require.Equal(t, 1, src.calls)

	require.NoError(t, s.Forget(ctx, "redis-g"))
	_, err = s.Policy(ctx, "redis-g")
	require.NoError(t, err)
	require.Equal(t, 2, src.calls)

	_, err = s.Policy(ctx, "redis-missing")
	require.ErrorIs(t, err, domain.ErrPolicyNotFound)
}
