package simulation

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"

	"github.com/cpunion/adsim/pkg/rng"
	"github.com/cpunion/adsim/pkg/types"
)

// Archetype shapes the demographics of a synthetic agent. The archetype
// name doubles as the agent's social group.
type Archetype struct {
	Name        string
	AgeRange    [2]int
	Professions []string
	Hobbies     []string
	Activity    [2]float64
	Risk        [2]float64
	Social      [2]float64
}

var defaultArchetypes = []Archetype{
	{
		Name:        "early_adopters",
		AgeRange:    [2]int{20, 35},
		Professions: []string{"software engineer", "designer", "student", "product manager"},
		Hobbies:     []string{"gaming", "gadgets", "esports", "photography"},
		Activity:    [2]float64{0.7, 0.95},
		Risk:        [2]float64{0.6, 0.9},
		Social:      [2]float64{0.6, 0.9},
	},
	{
		Name:        "bargain_hunters",
		AgeRange:    [2]int{25, 55},
		Professions: []string{"schoolteacher", "accountant", "nurse", "retail manager"},
		Hobbies:     []string{"cooking", "gardening", "couponing", "diy"},
		Activity:    [2]float64{0.4, 0.7},
		Risk:        [2]float64{0.1, 0.35},
		Social:      [2]float64{0.3, 0.6},
	},
	{
		Name:        "socializers",
		AgeRange:    [2]int{18, 30},
		Professions: []string{"barista", "student", "marketing assistant", "influencer"},
		Hobbies:     []string{"music", "fashion", "travel", "dancing"},
		Activity:    [2]float64{0.75, 0.98},
		Risk:        [2]float64{0.4, 0.7},
		Social:      [2]float64{0.8, 0.98},
	},
	{
		Name:        "skeptics",
		AgeRange:    [2]int{35, 70},
		Professions: []string{"lawyer", "engineer", "researcher", "retired"},
		Hobbies:     []string{"reading", "chess", "hiking", "history"},
		Activity:    [2]float64{0.2, 0.5},
		Risk:        [2]float64{0.05, 0.3},
		Social:      [2]float64{0.1, 0.4},
	},
}

var familyPool = []string{"single", "married", "married with children", "single parent", "living with parents"}

var genderPool = []string{"female", "male", "non-binary"}

// DefaultArchetypes returns the built-in archetypes.
func DefaultArchetypes() []Archetype {
	out := make([]Archetype, len(defaultArchetypes))
	copy(out, defaultArchetypes)
	return out
}

// Population is a synthetic set of agents with their starting groups.
type Population struct {
	Agents []types.Agent
	Groups map[string]string // Agent id to group
}

// GeneratePopulation creates count agents cycling through the default
// archetypes. The result is a pure function of count and seed.
func GeneratePopulation(count int, seed int64) Population {
	pop := Population{
		Agents: make([]types.Agent, 0, max(count, 0)),
		Groups: make(map[string]string),
	}
	if count <= 0 {
		return pop
	}

	r := rng.New("POPULATION", strconv.FormatInt(seed, 10))
	archetypes := defaultArchetypes
	width := len(strconv.Itoa(count))

	for i := 0; i < count; i++ {
		arch := archetypes[i%len(archetypes)]
		id := fmt.Sprintf("user_%0*d", width, i+1)
		a := types.Agent{
			ID:               id,
			Gender:           genderPool[r.Intn(len(genderPool))],
			Age:              arch.AgeRange[0] + r.Intn(arch.AgeRange[1]-arch.AgeRange[0]+1),
			Profession:       []string{arch.Professions[r.Intn(len(arch.Professions))]},
			Hobby:            pickDistinct(r, arch.Hobbies, 2),
			Family:           familyPool[r.Intn(len(familyPool))],
			ActivityLevel:    sampleRange(r, arch.Activity[0], arch.Activity[1]),
			RiskTolerance:    sampleRange(r, arch.Risk[0], arch.Risk[1]),
			SocialEngagement: sampleRange(r, arch.Social[0], arch.Social[1]),
		}
		pop.Agents = append(pop.Agents, a)
		pop.Groups[id] = arch.Name
	}

	// Friends are drawn after every id exists.
	for i := range pop.Agents {
		n := 1 + r.Intn(3)
		for _, idx := range rng.Sample(r, len(pop.Agents), min(n, len(pop.Agents))) {
			if idx != i {
				pop.Agents[i].Friends = append(pop.Agents[i].Friends, pop.Agents[idx].ID)
			}
		}
	}
	return pop
}

func pickDistinct(r *rand.Rand, pool []string, k int) []string {
	if k > len(pool) {
		k = len(pool)
	}
	out := make([]string, 0, k)
	for _, idx := range rng.Sample(r, len(pool), k) {
		out = append(out, pool[idx])
	}
	return out
}

func sampleRange(r *rand.Rand, min, max float64) float64 {
	if max < min {
		min, max = max, min
	}
	return min + r.Float64()*(max-min)
}

// NormalizeGroup canonicalizes a group label.
func NormalizeGroup(group string) string {
	return strings.ToLower(strings.TrimSpace(group))
}
