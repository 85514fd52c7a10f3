package permissions

import (
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

const generationStripes = 256

// generations counts invalidations per user stripe, per resource stripe and per role
// stripe, plus a flush counter covering every decision. A writer reads the generation
// covering its key before evaluating and may only store the result while it is unchanged.
// Stripes are shared by colliding ids, which can only drop a write, never keep a stale one.
type generations struct {
	flush     atomic.Uint64
	users     [generationStripes]atomic.Uint64
	resources [generationStripes]atomic.Uint64
	roles     [generationStripes]atomic.Uint64
}

func stripe(id string) int {
	return int(xxhash.Sum64String(id) % generationStripes)
}

// decision sums the counters covering key. Every counter only grows, so the sum moves
// whenever one of them does.
func (g *generations) decision(key Key) uint64 {
	return g.flush.Load() + g.users[stripe(key.UserID)].Load() + g.resources[stripe(key.ResourceID)].Load()
}

func (g *generations) role(roleID string) uint64 {
	return g.roles[stripe(roleID)].Load()
}

func (g *generations) bumpUser(userID string) {
	g.users[stripe(userID)].Add(1)
}

// bumpResource keys on the id alone so that a type-less resource selector is covered.
func (g *generations) bumpResource(resourceID string) {
	g.resources[stripe(resourceID)].Add(1)
}

func (g *generations) bumpRole(roleID string) {
	g.roles[stripe(roleID)].Add(1)
}

func (g *generations) bumpAll() {
	g.flush.Add(1)
}
