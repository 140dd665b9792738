// Package shard decides which guilds this worker is responsible for.
package shard

import (
	"strconv"
)

// Guard answers whether a guild belongs to this worker's shard. Guild ids are
// platform snowflakes; the shard is (id >> 22) % Count.
type Guard struct {
	ID     int
	Count  int
	guilds func() []string
}

// New returns a guard for shard id of count. guilds enumerates the guilds
// the underlying connection currently sees and may be nil.
func New(id, count int, guilds func() []string) *Guard {
	if count < 1 {
		count = 1
	}
	return &Guard{ID: id, Count: count, guilds: guilds}
}

// Serves reports whether guildID is handled locally. A single-shard guard
// serves everything, including ids that are not snowflakes.
func (g *Guard) Serves(guildID string) bool {
	if g == nil || g.Count <= 1 {
		return true
	}
	id, err := strconv.ParseUint(guildID, 10, 64)
	if err != nil {
		return false
	}
	return int((id>>22)%uint64(g.Count)) == g.ID
}

// ServedGuilds filters the known guild set down to the ones served here.
func (g *Guard) ServedGuilds() []string {
	if g == nil || g.guilds == nil {
		return nil
	}
	all := g.guilds()
	out := make([]string, 0, len(all))
	for _, id := range all {
		if g.Serves(id) {
			out = append(out, id)
		}
	}
	return out
}
