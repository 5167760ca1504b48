// Package targeting decides which agents are exposed to a content item.
//
// Agents are grouped by social group. Each group receives a share of the
// exposure budget proportional to its mean affinity score, and agents are
// sampled uniformly within the group.
package targeting

import (
	"math"
	"sort"

	"github.com/cpunion/adsim/pkg/rng"
	"github.com/cpunion/adsim/pkg/types"
)

// DefaultExposureCount is the number of agents targeted per item.
const DefaultExposureCount = 10

// Scorer estimates an agent's affinity for an item, in [0, 1).
type Scorer interface {
	Score(item *types.ContentItem, agentID string, day int) float64
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(item *types.ContentItem, agentID string, day int) float64

// Score implements Scorer.
func (f ScorerFunc) Score(item *types.ContentItem, agentID string, day int) float64 {
	return f(item, agentID, day)
}

// UniformScorer draws a reproducible uniform score per (item, agent, day).
type UniformScorer struct {
	ExperimentID string
}

// Score implements Scorer.
func (s UniformScorer) Score(item *types.ContentItem, agentID string, day int) float64 {
	return rng.New(s.ExperimentID, rng.Day(day), "TARGETING", item.ID, agentID).Float64()
}

// Candidate is an agent eligible for targeting together with its group.
// Candidates without a group are never selected.
type Candidate struct {
	ID    string
	Group string
}

// GroupStats summarizes one group before allocation.
type GroupStats struct {
	Group     string
	Available int
	Mean      float64
}

// GroupBreakdown reports the allocation outcome for one group.
type GroupBreakdown struct {
	Group         string   `json:"group"`
	Available     int      `json:"available"`
	Target        int      `json:"target"`
	SelectedCount int      `json:"selected_count"`
	SelectedIDs   []string `json:"selected_ids"`
}

// Selection is the result of targeting one item.
type Selection struct {
	AgentIDs  []string         `json:"agent_ids"`
	Breakdown []GroupBreakdown `json:"breakdown"`
}

// Allocate splits target exposures across groups in proportion to their
// mean score, rounding half to even. When every mean is zero the budget is
// split evenly. If rounding overshoots target, the groups that rounded up
// the most give back one exposure each until the sum fits. The result is
// not yet capped by group population.
func Allocate(groups []GroupStats, target int) []int {
	alloc := make([]int, len(groups))
	if len(groups) == 0 || target <= 0 {
		return alloc
	}

	total := 0.0
	for _, g := range groups {
		total += g.Mean
	}

	raw := make([]float64, len(groups))
	for i, g := range groups {
		if total > 0 {
			raw[i] = g.Mean * float64(target) / total
		} else {
			raw[i] = float64(target) / float64(len(groups))
		}
		alloc[i] = int(math.RoundToEven(raw[i]))
		if alloc[i] < 0 {
			alloc[i] = 0
		}
	}

	sum := 0
	for _, a := range alloc {
		sum += a
	}
	for sum > target {
		best := -1
		bestExcess := math.Inf(-1)
		for i := range alloc {
			if alloc[i] == 0 {
				continue
			}
			if excess := float64(alloc[i]) - raw[i]; excess > bestExcess {
				best, bestExcess = i, excess
			}
		}
		if best < 0 {
			break
		}
		alloc[best]--
		sum--
	}
	return alloc
}

// Selector picks agents for an item.
type Selector struct {
	Scorer        Scorer
	ExposureCount int
	ExperimentID  string
}

// NewSelector returns a selector with the uniform reference scorer.
func NewSelector(experimentID string, exposureCount int) *Selector {
	return &Selector{
		Scorer:        UniformScorer{ExperimentID: experimentID},
		ExposureCount: exposureCount,
		ExperimentID:  experimentID,
	}
}

// Select scores candidates, allocates the exposure budget across groups and
// samples agents within each group. Groups are processed in label order.
func (s *Selector) Select(item *types.ContentItem, day int, candidates []Candidate) Selection {
	sel := Selection{AgentIDs: []string{}, Breakdown: []GroupBreakdown{}}

	members := map[string][]string{}
	for _, c := range candidates {
		if c.Group == "" {
			continue
		}
		members[c.Group] = append(members[c.Group], c.ID)
	}
	if len(members) == 0 {
		return sel
	}

	labels := make([]string, 0, len(members))
	for g := range members {
		labels = append(labels, g)
	}
	sort.Strings(labels)

	scorer := s.Scorer
	if scorer == nil {
		scorer = UniformScorer{ExperimentID: s.ExperimentID}
	}

	stats := make([]GroupStats, len(labels))
	for i, g := range labels {
		ids := members[g]
		sort.Strings(ids)
		sum := 0.0
		for _, id := range ids {
			sum += scorer.Score(item, id, day)
		}
		stats[i] = GroupStats{Group: g, Available: len(ids), Mean: sum / float64(len(ids))}
	}

	alloc := Allocate(stats, s.ExposureCount)

	for i, g := range labels {
		ids := members[g]
		count := alloc[i]
		if count > len(ids) {
			count = len(ids)
		}
		r := rng.New(s.ExperimentID, rng.Day(day), "SAMPLE", item.ID, g)
		picked := make([]string, 0, count)
		for _, idx := range rng.Sample(r, len(ids), count) {
			picked = append(picked, ids[idx])
		}

		sel.AgentIDs = append(sel.AgentIDs, picked...)
		sel.Breakdown = append(sel.Breakdown, GroupBreakdown{
			Group:         g,
			Available:     len(ids),
			Target:        alloc[i],
			SelectedCount: len(picked),
			SelectedIDs:   picked,
		})
	}
	return sel
}
