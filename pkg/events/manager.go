package events

import (
	"github.com/sirupsen/logrus"

	"github.com/cpunion/adsim/pkg/agent"
	"github.com/cpunion/adsim/pkg/logging"
	"github.com/cpunion/adsim/pkg/rng"
	"github.com/cpunion/adsim/pkg/types"
)

// Daily draw probabilities.
const (
	GlobalEventChance    = 0.5
	GroupEventChance     = 0.3
	SecondPersonalChance = 0.35
)

// Manager selects the daily events of each agent.
type Manager struct {
	catalog      *Catalog
	experimentID string
	logger       *logrus.Logger
}

// NewManager creates a manager over catalog. A nil catalog behaves as empty.
func NewManager(catalog *Catalog, experimentID string, logger *logrus.Logger) *Manager {
	if catalog == nil {
		catalog = NewCatalog()
	}
	return &Manager{
		catalog:      catalog,
		experimentID: experimentID,
		logger:       logging.OrDiscard(logger),
	}
}

// Catalog returns the underlying catalog.
func (m *Manager) Catalog() *Catalog {
	return m.catalog
}

// DailyEvents returns the event texts for st on day and updates its active
// events and last-seen days. Carried-forward texts come first, then the
// texts of events started today.
//
// The group draw uses the agent's current group, so the caller assigns
// groups for day before calling.
func (m *Manager) DailyEvents(day int, st *agent.AgentState) []string {
	texts := st.CarryForward(day)
	lastSeen := st.LastEventDays()
	dayKey := rng.Day(day)

	var fresh []types.Event

	for _, ev := range m.catalog.CalendarFor(day) {
		c := ev.Copy()
		c.StartDay = day
		fresh = append(fresh, c)
	}

	globalRng := rng.New(m.experimentID, dayKey, "GLOBAL", "RANDOM")
	if globalRng.Float64() < GlobalEventChance {
		if ev, ok := Pick(m.catalog.Pool(types.ScopeGlobal), lastSeen, day, globalRng); ok {
			fresh = append(fresh, ev)
		}
	}

	if group := st.GetGroup(); group != "" {
		groupRng := rng.New(m.experimentID, dayKey, "GROUP", group)
		if groupRng.Float64() < GroupEventChance {
			if ev, ok := Pick(m.catalog.Pool(types.ScopeGroup), lastSeen, day, groupRng); ok {
				fresh = append(fresh, ev)
			}
		}
	}

	personalRng := rng.New(m.experimentID, dayKey, "PERSONAL", st.ID(), "1")
	if ev, ok := Pick(m.catalog.Pool(types.ScopePersonal), lastSeen, day, personalRng); ok {
		fresh = append(fresh, ev)
	}

	secondRng := rng.New(m.experimentID, dayKey, "PERSONAL", st.ID(), "2")
	if secondRng.Float64() < SecondPersonalChance {
		if ev, ok := Pick(m.catalog.Pool(types.ScopePersonal), lastSeen, day, secondRng); ok {
			fresh = append(fresh, ev)
		}
	}

	for _, ev := range fresh {
		ev.StartDay = day
		st.RecordEvent(ev)
		texts = append(texts, ev.Text)
	}

	st.SetDailyEvents(day, texts)

	m.logger.WithFields(logrus.Fields{
		"day":      day,
		"agent_id": st.ID(),
		"new":      len(fresh),
		"total":    len(texts),
	}).Debug("daily events selected")
	return texts
}
