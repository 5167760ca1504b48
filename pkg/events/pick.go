package events

import (
	"math/rand"

	"github.com/cpunion/adsim/pkg/rng"
	"github.com/cpunion/adsim/pkg/types"
)

// Pick draws one event from pool, weighted by frequency, skipping events
// still in cooldown for day. If every event is in cooldown the whole pool is
// eligible again. Returns false for an empty pool or when no eligible event
// carries positive weight. The returned event is an independent copy.
func Pick(pool []types.Event, lastSeen map[string]int, day int, r *rand.Rand) (types.Event, bool) {
	candidates := make([]types.Event, 0, len(pool))
	for _, ev := range pool {
		last, seen := lastSeen[ev.ID]
		if !seen || day-last >= ev.CooldownDays {
			candidates = append(candidates, ev)
		}
	}
	if len(candidates) == 0 {
		candidates = pool
	}
	if len(candidates) == 0 {
		return types.Event{}, false
	}

	weights := make([]float64, len(candidates))
	for i, ev := range candidates {
		weights[i] = ev.FrequencyWeight
	}
	idx := rng.WeightedIndex(r, weights)
	if idx < 0 {
		return types.Event{}, false
	}
	return candidates[idx].Copy(), true
}
