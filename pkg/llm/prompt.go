package llm

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"github.com/cpunion/adsim/pkg/types"
)

// NoEventsText is rendered when an agent has no events today.
const NoEventsText = "Nothing significant is happening today."

// DefaultPromptTemplate asks the model for a JSON reaction to one ad.
const DefaultPromptTemplate = `
IMPORTANT: Your main goal is reacting to ad, you do so by adopting the described personality and visualizing ad's description, and react to given ad accordingly.
You are a {age} year old {profession}.
    {persona_narrative}

    It is Day {current_day} of the simulation.
    Here is what is happening in your life today:
    {daily_events}

    You are currently on your daily phone break, casually scrolling through your feed. You encounter an ad.

    [Ad Context]
    {ad_description}

    [Instructions]
    React to this ad based on your persona, your current mood, and the events happening in your life today.

    1. Internal Monologue: a first-person thought process (40-80 words).
    2. Action: decide how you interact with it (ignore, click, like, dislike, share).
    3. Emotional Shift: quantify how this moment shifts your internal state.

    Return your response in this JSON format:
    {
        "reaction_description": "string",
        "ignore": boolean,
        "click": boolean,
        "like": boolean,
        "dislike": boolean,
        "share": 0 or 1,
        "acute_irritation_change": number,
        "acute_interest_change": number,
        "acute_arousal_change": number,
        "bias_irritation_change": number,
        "bias_trust_change": number,
        "bias_fatigue_change": number
    }

    Note on Actions:
    - You MUST choose at least one action (including 'ignore').
    - 'ignore' is incompatible with other actions.
    - 'click', 'like', 'dislike', 'share' can be combined.
`

// PromptContext carries everything a prompt template can reference.
type PromptContext struct {
	Age              int
	Profession       string
	PersonaNarrative string
	Day              int
	Events           []string
	DailyEvents      string // Bullet list or NoEventsText
	AdDescription    string
}

// BuildPromptContext assembles the prompt inputs for one exposure.
func BuildPromptContext(a types.Agent, emotions types.EmotionalState, item *types.ContentItem, day int, events []string) PromptContext {
	persona := a.Persona
	if persona == "" {
		features := struct {
			types.Agent
			EmotionalState types.EmotionalState `json:"emotional_state"`
		}{a, emotions}
		data, _ := json.Marshal(features)
		persona = "Features: " + string(data)
	}

	eventsText := NoEventsText
	if len(events) > 0 {
		lines := make([]string, len(events))
		for i, ev := range events {
			lines[i] = "- " + ev
		}
		eventsText = strings.Join(lines, "\n")
	}

	return PromptContext{
		Age:              a.Age,
		Profession:       strings.Join(a.Profession, ", "),
		PersonaNarrative: persona,
		Day:              day,
		Events:           events,
		DailyEvents:      eventsText,
		AdDescription:    describeItem(item),
	}
}

func describeItem(item *types.ContentItem) string {
	text := item.Description
	if text == "" {
		text = fmt.Sprintf("Visual Style: %s\nDominant Element: %s\nEmotion: %s\nMessage: %s",
			item.VisualStyle, item.DominantElement, item.EmotionLabel, item.MessageType)
	}
	details, err := json.Marshal(item)
	if err == nil {
		text += "\n\n Technical Details: " + string(details)
	}
	return text
}

// RenderPrompt fills tmpl from pc. Templates containing "{{" are executed as
// text/template against PromptContext; otherwise the {placeholder} names of
// DefaultPromptTemplate are substituted. An empty tmpl uses the default.
func RenderPrompt(tmpl string, pc PromptContext) (string, error) {
	if tmpl == "" {
		tmpl = DefaultPromptTemplate
	}

	if strings.Contains(tmpl, "{{") {
		t, err := template.New("prompt").Parse(tmpl)
		if err != nil {
			return "", fmt.Errorf("parsing prompt template: %w", err)
		}
		var b strings.Builder
		if err := t.Execute(&b, pc); err != nil {
			return "", fmt.Errorf("rendering prompt template: %w", err)
		}
		return b.String(), nil
	}

	r := strings.NewReplacer(
		"{age}", strconv.Itoa(pc.Age),
		"{profession}", pc.Profession,
		"{persona_narrative}", pc.PersonaNarrative,
		"{current_day}", strconv.Itoa(pc.Day),
		"{daily_events}", pc.DailyEvents,
		"{ad_description}", pc.AdDescription,
	)
	return r.Replace(tmpl), nil
}
