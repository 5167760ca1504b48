// Package events loads life-event catalogs and selects per-agent daily events.
package events

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/sirupsen/logrus"

	"github.com/cpunion/adsim/pkg/logging"
	"github.com/cpunion/adsim/pkg/types"
)

// Catalog file names inside the events directory.
const (
	GlobalPoolFile   = "global_event_pool.json"
	GroupPoolFile    = "group_event_pool.json"
	PersonalPoolFile = "personal_event_pool.json"
	CalendarFile     = "calendar.json"
)

const eventProperties = `
	"event_id": {"type": "string", "minLength": 1},
	"text": {"type": "string"},
	"scope": {"type": "string"},
	"tags": {"type": "array", "items": {"type": "string"}},
	"severity": {"type": "number"},
	"polarity": {"type": "string"},
	"frequency_weight": {"type": "number", "minimum": 0},
	"cooldown_days": {"type": "integer", "minimum": 0},
	"duration_days": {"type": "integer", "minimum": 1},
	"expected_effects_hint": {"type": "array", "items": {"type": "string"}},
	"start_day": {"type": "integer"}`

var (
	poolSchema = jsonschema.MustCompileString("event_pool.schema.json", `{
		"type": "array",
		"items": {
			"type": "object",
			"required": ["event_id"],
			"properties": {`+eventProperties+`}
		}
	}`)

	calendarSchema = jsonschema.MustCompileString("calendar.schema.json", `{
		"type": "array",
		"items": {
			"type": "object",
			"required": ["event_id", "day"],
			"properties": {
				"day": {"type": "integer"},`+eventProperties+`}
		}
	}`)
)

// Catalog holds the static event pools and the fixed calendar.
type Catalog struct {
	Global   []types.Event
	Group    []types.Event
	Personal []types.Event
	Calendar map[int][]types.Event

	// Digests maps catalog file name to the sha256 of its raw bytes.
	Digests map[string]string
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		Global:   []types.Event{},
		Group:    []types.Event{},
		Personal: []types.Event{},
		Calendar: map[int][]types.Event{},
		Digests:  map[string]string{},
	}
}

// Pool returns the pool for scope.
func (c *Catalog) Pool(scope types.Scope) []types.Event {
	switch scope {
	case types.ScopeGroup:
		return c.Group
	case types.ScopePersonal:
		return c.Personal
	default:
		return c.Global
	}
}

// CalendarFor returns the calendar entries for day in file order.
func (c *Catalog) CalendarFor(day int) []types.Event {
	return c.Calendar[day]
}

// CalendarDays returns the days that carry calendar entries, ascending.
func (c *Catalog) CalendarDays() []int {
	days := make([]int, 0, len(c.Calendar))
	for d := range c.Calendar {
		days = append(days, d)
	}
	sort.Ints(days)
	return days
}

// rawEvent distinguishes absent fields from zero values so that defaults
// apply only to omitted keys.
type rawEvent struct {
	ID                  string   `json:"event_id"`
	Text                string   `json:"text"`
	Scope               string   `json:"scope"`
	Tags                []string `json:"tags"`
	Severity            *float64 `json:"severity"`
	Polarity            *string  `json:"polarity"`
	FrequencyWeight     *float64 `json:"frequency_weight"`
	CooldownDays        *int     `json:"cooldown_days"`
	DurationDays        *int     `json:"duration_days"`
	ExpectedEffectsHint []string `json:"expected_effects_hint"`
	StartDay            *int     `json:"start_day"`
	Day                 int      `json:"day"`
}

func (r rawEvent) event(defaultScope types.Scope) types.Event {
	ev := types.Event{
		ID:                  r.ID,
		Text:                r.Text,
		Scope:               defaultScope,
		Tags:                r.Tags,
		Severity:            types.DefaultSeverity,
		Polarity:            types.DefaultPolarity,
		FrequencyWeight:     types.DefaultFrequencyWeight,
		DurationDays:        types.DefaultDurationDays,
		ExpectedEffectsHint: r.ExpectedEffectsHint,
		StartDay:            types.UnsetStartDay,
	}
	if r.Scope != "" {
		ev.Scope = types.ParseScope(r.Scope)
	}
	if r.Severity != nil {
		ev.Severity = *r.Severity
	}
	if r.Polarity != nil {
		ev.Polarity = *r.Polarity
	}
	if r.FrequencyWeight != nil {
		ev.FrequencyWeight = *r.FrequencyWeight
	}
	if r.CooldownDays != nil {
		ev.CooldownDays = *r.CooldownDays
	}
	if r.DurationDays != nil {
		ev.DurationDays = *r.DurationDays
	}
	if r.StartDay != nil {
		ev.StartDay = *r.StartDay
	}
	return ev
}

// LoadCatalog reads the four catalog files from dir. A missing or malformed
// file is logged and treated as empty; loading never fails.
func LoadCatalog(dir string, logger *logrus.Logger) *Catalog {
	logger = logging.OrDiscard(logger)
	c := NewCatalog()

	c.Global = loadPool(c, dir, GlobalPoolFile, types.ScopeGlobal, logger)
	c.Group = loadPool(c, dir, GroupPoolFile, types.ScopeGroup, logger)
	c.Personal = loadPool(c, dir, PersonalPoolFile, types.ScopePersonal, logger)
	c.Calendar = loadCalendar(c, dir, logger)

	logger.WithFields(logrus.Fields{
		"global":        len(c.Global),
		"group":         len(c.Group),
		"personal":      len(c.Personal),
		"calendar_days": len(c.Calendar),
	}).Info("event catalog loaded")
	return c
}

func loadPool(c *Catalog, dir, name string, scope types.Scope, logger *logrus.Logger) []types.Event {
	raws, err := readCatalogFile(c, filepath.Join(dir, name), poolSchema)
	if err != nil {
		logger.WithError(err).WithField("file", name).Warn("event pool unavailable, using empty pool")
		return []types.Event{}
	}
	pool := make([]types.Event, 0, len(raws))
	for _, r := range raws {
		pool = append(pool, r.event(scope))
	}
	return pool
}

func loadCalendar(c *Catalog, dir string, logger *logrus.Logger) map[int][]types.Event {
	cal := map[int][]types.Event{}
	raws, err := readCatalogFile(c, filepath.Join(dir, CalendarFile), calendarSchema)
	if err != nil {
		logger.WithError(err).WithField("file", CalendarFile).Warn("calendar unavailable, using empty calendar")
		return cal
	}
	for _, r := range raws {
		cal[r.Day] = append(cal[r.Day], r.event(types.ScopeGlobal))
	}
	return cal
}

func readCatalogFile(c *Catalog, path string, schema *jsonschema.Schema) ([]rawEvent, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	name := filepath.Base(path)
	c.Digests[name] = sha256Hex(raw)

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	var raws []rawEvent
	if err := json.Unmarshal(raw, &raws); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return raws, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
