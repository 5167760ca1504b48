// Package types defines core types for the ad exposure simulation.
package types

import (
	"strings"
	"time"
)

// Scope defines which population an event applies to.
type Scope string

const (
	ScopeGlobal   Scope = "global"   // Everyone, drawn once per day
	ScopeGroup    Scope = "group"    // Members of one social group
	ScopePersonal Scope = "personal" // A single agent
)

// ParseScope normalizes a catalog scope label. Unknown labels map to global.
func ParseScope(s string) Scope {
	switch Scope(strings.ToLower(strings.TrimSpace(s))) {
	case ScopeGroup:
		return ScopeGroup
	case ScopePersonal:
		return ScopePersonal
	default:
		return ScopeGlobal
	}
}

// Event is a life event that enriches an agent's daily context.
type Event struct {
	ID                  string   `json:"event_id"`
	Text                string   `json:"text"`
	Scope               Scope    `json:"scope"`
	Tags                []string `json:"tags,omitempty"`
	Severity            float64  `json:"severity"`
	Polarity            string   `json:"polarity"`
	FrequencyWeight     float64  `json:"frequency_weight"`
	CooldownDays        int      `json:"cooldown_days"`
	DurationDays        int      `json:"duration_days"`
	ExpectedEffectsHint []string `json:"expected_effects_hint,omitempty"`
	StartDay            int      `json:"start_day"` // -1 until selected
}

// Event defaults applied to catalog entries that omit a field.
const (
	DefaultSeverity        = 0.3
	DefaultPolarity        = "neutral"
	DefaultFrequencyWeight = 0.5
	DefaultDurationDays    = 1
	UnsetStartDay          = -1
)

// Copy returns an independent copy of the event.
func (e Event) Copy() Event {
	c := e
	if e.Tags != nil {
		c.Tags = append([]string(nil), e.Tags...)
	}
	if e.ExpectedEffectsHint != nil {
		c.ExpectedEffectsHint = append([]string(nil), e.ExpectedEffectsHint...)
	}
	return c
}

// EndDay is the last day the event is active.
func (e Event) EndDay() int {
	return e.StartDay + e.DurationDays - 1
}

// ActiveOn reports whether the event covers day.
func (e Event) ActiveOn(day int) bool {
	return e.StartDay <= day && day <= e.EndDay()
}

// Axis names one dimension of an agent's emotional state.
type Axis string

const (
	AxisAcuteIrritation Axis = "acute_irritation"
	AxisAcuteInterest   Axis = "acute_interest"
	AxisAcuteArousal    Axis = "acute_arousal"
	AxisBiasIrritation  Axis = "bias_irritation"
	AxisBiasTrust       Axis = "bias_trust"
	AxisBiasFatigue     Axis = "bias_fatigue"
)

// Axes lists every emotional axis in canonical order.
var Axes = []Axis{
	AxisAcuteIrritation,
	AxisAcuteInterest,
	AxisAcuteArousal,
	AxisBiasIrritation,
	AxisBiasTrust,
	AxisBiasFatigue,
}

// Emotion bounds.
const (
	EmotionMin = 0.0
	EmotionMax = 100.0
)

// EmotionalState is the six-axis affect vector. The same shape carries
// signed deltas in interaction records.
type EmotionalState struct {
	AcuteIrritation float64 `json:"acute_irritation" yaml:"acute_irritation"`
	AcuteInterest   float64 `json:"acute_interest" yaml:"acute_interest"`
	AcuteArousal    float64 `json:"acute_arousal" yaml:"acute_arousal"`
	BiasIrritation  float64 `json:"bias_irritation" yaml:"bias_irritation"`
	BiasTrust       float64 `json:"bias_trust" yaml:"bias_trust"`
	BiasFatigue     float64 `json:"bias_fatigue" yaml:"bias_fatigue"`
}

// field returns a pointer to the axis value, or nil for unknown axes.
func (s *EmotionalState) field(axis Axis) *float64 {
	switch axis {
	case AxisAcuteIrritation:
		return &s.AcuteIrritation
	case AxisAcuteInterest:
		return &s.AcuteInterest
	case AxisAcuteArousal:
		return &s.AcuteArousal
	case AxisBiasIrritation:
		return &s.BiasIrritation
	case AxisBiasTrust:
		return &s.BiasTrust
	case AxisBiasFatigue:
		return &s.BiasFatigue
	}
	return nil
}

// Get returns the value of axis and whether the axis is known.
func (s EmotionalState) Get(axis Axis) (float64, bool) {
	p := s.field(axis)
	if p == nil {
		return 0, false
	}
	return *p, true
}

// Set assigns the axis value. Unknown axes are ignored.
func (s *EmotionalState) Set(axis Axis, v float64) bool {
	p := s.field(axis)
	if p == nil {
		return false
	}
	*p = v
	return true
}

// Map returns the state keyed by axis name.
func (s EmotionalState) Map() map[string]float64 {
	m := make(map[string]float64, len(Axes))
	for _, a := range Axes {
		v, _ := s.Get(a)
		m[string(a)] = v
	}
	return m
}

// ContentItem is an ad creative scheduled into the simulation.
type ContentItem struct {
	ID string `json:"ad_id"`

	// Descriptive attributes, opaque to the scheduler
	Group           string         `json:"group,omitempty"`
	EmotionLabel    string         `json:"emotion_label,omitempty"`
	MessageType     string         `json:"message_type,omitempty"`
	VisualStyle     string         `json:"visual_style,omitempty"`
	DominantElement string         `json:"dominant_element,omitempty"`
	DominantColors  []string       `json:"dominant_colors,omitempty"`
	ObjectList      []string       `json:"object_list,omitempty"`
	PeoplePresent   bool           `json:"people_present,omitempty"`
	ProductPresent  bool           `json:"product_present,omitempty"`
	TextPresent     bool           `json:"text_present,omitempty"`
	VisualImpact    float64        `json:"visual_impact,omitempty"`
	Description     string         `json:"description,omitempty"`
	Extra           map[string]any `json:"extra,omitempty"`

	// Runtime state
	EntryDay *int    `json:"day_of_entry,omitempty"` // nil means day 0
	IsActive bool    `json:"is_active"`
	Score    float64 `json:"interaction_rate"`
}

// EffectiveEntryDay returns the entry day, treating an unset value as 0.
func (c *ContentItem) EffectiveEntryDay() int {
	if c.EntryDay == nil {
		return 0
	}
	return *c.EntryDay
}

// Agent is a simulated user.
type Agent struct {
	ID         string   `json:"user_id"`
	Gender     string   `json:"gender,omitempty"`
	Age        int      `json:"age,omitempty"`
	Profession []string `json:"profession,omitempty"`
	Hobby      []string `json:"hobby,omitempty"`
	Family     string   `json:"family,omitempty"`
	Friends    []string `json:"friends,omitempty"`

	// Propensity features
	ActivityLevel    float64 `json:"activity_level"`
	RiskTolerance    float64 `json:"risk_tolerance"`
	SocialEngagement float64 `json:"social_engagement"`

	Persona string `json:"persona,omitempty"` // Narrative persona, optional
}

// Reaction is a validated response to one exposure.
type Reaction struct {
	Ignore              bool           `json:"ignore"`
	Click               bool           `json:"click"`
	Like                bool           `json:"like"`
	Dislike             bool           `json:"dislike"`
	Share               int            `json:"share"` // 0 or 1
	Deltas              EmotionalState `json:"deltas"`
	ReactionDescription string         `json:"reaction_description"`
}

// ScoreDelta is the change a reaction applies to a content item's score.
func (r Reaction) ScoreDelta() float64 {
	d := 0.0
	if r.Click {
		d++
	}
	if r.Share > 0 {
		d++
	}
	if r.Like {
		d += 2
	}
	if r.Dislike {
		d -= 2
	}
	if r.Ignore {
		d--
	}
	return d
}

// InteractionRecord is the persisted outcome of one exposure.
type InteractionRecord struct {
	ID        string         `json:"id"`
	Day       int            `json:"day"`
	AgentID   string         `json:"user_id"`
	ContentID string         `json:"ad_id"`
	Group     string         `json:"group,omitempty"`
	Reaction  Reaction       `json:"reaction"`
	State     EmotionalState `json:"emotional_state"`  // After the update
	Score     float64        `json:"interaction_rate"` // Content score after the update
	Prompt    string         `json:"prompt,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
