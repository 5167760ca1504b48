// Package agent holds the mutable per-agent simulation state.
package agent

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cpunion/adsim/pkg/types"
)

// AgentState represents the persistent state of an agent.
type AgentState struct {
	mu sync.RWMutex

	Profile      types.Agent          `json:"profile"`
	Group        string               `json:"group,omitempty"` // Social group for the current day
	Emotions     types.EmotionalState `json:"emotional_state"`
	ActiveEvents []types.Event        `json:"active_events"`
	LastEventDay map[string]int       `json:"last_event_days"`
	DailyEvents  []string             `json:"daily_events"`
	EventsDay    int                  `json:"events_day"` // Day DailyEvents was computed for
	LastActive   time.Time            `json:"last_active"`

	// Persistence path
	dataPath string
}

// NewAgentState creates a new agent state with a neutral emotional state.
func NewAgentState(profile types.Agent, dataPath string) *AgentState {
	return &AgentState{
		Profile:      profile,
		ActiveEvents: make([]types.Event, 0),
		LastEventDay: make(map[string]int),
		DailyEvents:  make([]string, 0),
		EventsDay:    -1,
		LastActive:   time.Now(),
		dataPath:     dataPath,
	}
}

// ID returns the agent id.
func (s *AgentState) ID() string {
	return s.Profile.ID
}

// GetGroup returns the agent's current social group, empty when unassigned.
func (s *AgentState) GetGroup() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Group
}

// SetGroup updates the agent's social group.
func (s *AgentState) SetGroup(group string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Group = group
}

// Emotional returns a snapshot of the emotional state.
func (s *AgentState) Emotional() types.EmotionalState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Emotions
}

// ApplyDelta adds deltas to the emotional state, clamping every axis to
// [0, 100]. Unknown axis names and NaN deltas are ignored. Returns the
// updated snapshot.
func (s *AgentState) ApplyDelta(deltas map[string]float64) types.EmotionalState {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, d := range deltas {
		axis := types.Axis(name)
		cur, ok := s.Emotions.Get(axis)
		if !ok || math.IsNaN(d) {
			continue
		}
		s.Emotions.Set(axis, clamp(cur+d, types.EmotionMin, types.EmotionMax))
	}
	s.LastActive = time.Now()
	return s.Emotions
}

// LastEventDays returns a copy of the last-seen day per event id.
func (s *AgentState) LastEventDays() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]int, len(s.LastEventDay))
	for k, v := range s.LastEventDay {
		out[k] = v
	}
	return out
}

// CarryForward drops active events that ended before day and returns the
// texts of those still running, in order.
func (s *AgentState) CarryForward(day int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.ActiveEvents[:0]
	texts := make([]string, 0, len(s.ActiveEvents))
	for _, ev := range s.ActiveEvents {
		if day <= ev.EndDay() {
			kept = append(kept, ev)
			texts = append(texts, ev.Text)
		}
	}
	s.ActiveEvents = kept
	return texts
}

// RecordEvent marks ev as seen on its start day. Multi-day events join the
// active set.
func (s *AgentState) RecordEvent(ev types.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.LastEventDay == nil {
		s.LastEventDay = make(map[string]int)
	}
	s.LastEventDay[ev.ID] = ev.StartDay
	if ev.DurationDays > 1 {
		s.ActiveEvents = append(s.ActiveEvents, ev)
	}
}

// GetActiveEvents returns a copy of the active event list.
func (s *AgentState) GetActiveEvents() []types.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.Event, len(s.ActiveEvents))
	for i, ev := range s.ActiveEvents {
		out[i] = ev.Copy()
	}
	return out
}

// SetDailyEvents stores the event texts computed for day.
func (s *AgentState) SetDailyEvents(day int, texts []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.EventsDay = day
	s.DailyEvents = append([]string(nil), texts...)
}

// DailyEventsFor returns the event texts for day, or nil if they were
// computed for another day.
func (s *AgentState) DailyEventsFor(day int) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.EventsDay != day {
		return nil
	}
	return append([]string(nil), s.DailyEvents...)
}

// HasEventsFor reports whether daily events were computed for day.
func (s *AgentState) HasEventsFor(day int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.EventsDay == day
}

// Save persists the agent state to disk. A state without a data path is
// kept in memory only.
func (s *AgentState) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.dataPath == "" {
		return nil
	}
	if err := os.MkdirAll(s.dataPath, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(s.dataPath, "state.json"), data, 0644)
}

// Load loads the agent state from disk.
func (s *AgentState) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(s.dataPath, "state.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil // No state to load
		}
		return err
	}

	if err := json.Unmarshal(data, s); err != nil {
		return err
	}
	if s.LastEventDay == nil {
		s.LastEventDay = make(map[string]int)
	}
	return nil
}

// LoadAgentState loads an agent state from a path.
func LoadAgentState(dataPath string) (*AgentState, error) {
	state := &AgentState{
		ActiveEvents: make([]types.Event, 0),
		LastEventDay: make(map[string]int),
		EventsDay:    -1,
		dataPath:     dataPath,
	}

	if err := state.Load(); err != nil {
		return nil, err
	}

	return state, nil
}

// StatePath returns the per-agent directory under root.
func StatePath(root, agentID string) string {
	if root == "" {
		return ""
	}
	return filepath.Join(root, agentID)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
