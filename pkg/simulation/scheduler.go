// Package simulation implements the day-stepped content scheduling loop.
package simulation

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/cpunion/adsim/pkg/config"
	"github.com/cpunion/adsim/pkg/logging"
	"github.com/cpunion/adsim/pkg/rng"
	"github.com/cpunion/adsim/pkg/types"
)

// DefaultDeactivationThreshold is the score below which an item is retired.
const DefaultDeactivationThreshold = -5.0

// ItemStatus is the lifecycle stage of a content item.
type ItemStatus string

const (
	StatusPending     ItemStatus = "pending"     // Entry day not reached
	StatusActive      ItemStatus = "active"      // Eligible for the daily queue
	StatusDeactivated ItemStatus = "deactivated" // Terminal
)

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	ExperimentID string
	MaxPerDay    int
	Threshold    float64
	Logger       *logrus.Logger
}

// Scheduler decides which content items run on each day and tracks their
// scores. Items move pending -> active -> deactivated and never back.
type Scheduler struct {
	mu sync.RWMutex

	items map[string]*types.ContentItem
	order []string // Catalog order, used for activation

	experimentID string
	maxPerDay    int
	threshold    float64

	currentDay  int
	queue       []string
	active      []string // Activation order
	deactivated map[string]bool
	requeued    map[string]bool // Reset every day

	logger *logrus.Logger

	// Callbacks
	onTransition func(day int, itemID string, from, to ItemStatus)
}

// NewScheduler creates a scheduler over items. A negative MaxPerDay is a
// configuration error.
func NewScheduler(items []*types.ContentItem, cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.MaxPerDay < 0 {
		return nil, config.Invalid("max_ads_shown_per_day", "must not be negative, got %d", cfg.MaxPerDay)
	}
	s := &Scheduler{
		items:        make(map[string]*types.ContentItem, len(items)),
		order:        make([]string, 0, len(items)),
		experimentID: cfg.ExperimentID,
		maxPerDay:    cfg.MaxPerDay,
		threshold:    cfg.Threshold,
		deactivated:  make(map[string]bool),
		requeued:     make(map[string]bool),
		logger:       logging.OrDiscard(cfg.Logger),
	}
	for _, item := range items {
		if item == nil || item.ID == "" {
			continue
		}
		if _, dup := s.items[item.ID]; dup {
			s.logger.WithField("content_id", item.ID).Warn("duplicate content id ignored")
			continue
		}
		item.IsActive = false
		s.items[item.ID] = item
		s.order = append(s.order, item.ID)
	}
	return s, nil
}

// SetOnTransition sets a callback for every lifecycle change.
func (s *Scheduler) SetOnTransition(fn func(day int, itemID string, from, to ItemStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTransition = fn
}

// ScheduleForDay activates every item whose entry day has been reached and
// builds the day's queue. When more items are active than MaxPerDay allows,
// the queue is a seeded sample of them.
func (s *Scheduler) ScheduleForDay(day int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.currentDay = day
	s.requeued = make(map[string]bool)

	for _, id := range s.order {
		item := s.items[id]
		if item.IsActive || s.deactivated[id] {
			continue
		}
		if item.EffectiveEntryDay() <= day {
			item.IsActive = true
			s.active = append(s.active, id)
			s.notify(day, id, StatusPending, StatusActive)
		}
	}

	queue := make([]string, len(s.active))
	copy(queue, s.active)
	if len(queue) > s.maxPerDay {
		r := rng.New(s.experimentID, rng.Day(day), "SCHEDULE")
		picked := rng.Sample(r, len(queue), s.maxPerDay)
		sampled := make([]string, len(picked))
		for i, idx := range picked {
			sampled[i] = queue[idx]
		}
		queue = sampled
	}
	s.queue = queue

	s.logger.WithFields(logrus.Fields{
		"day":    day,
		"active": len(s.active),
		"queued": len(queue),
	}).Info("scheduled content for day")

	return s.queueCopy()
}

// Next pops the head of today's queue.
func (s *Scheduler) Next() (*types.ContentItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.queue) > 0 {
		id := s.queue[0]
		s.queue = s.queue[1:]
		if s.deactivated[id] {
			continue
		}
		if item, ok := s.items[id]; ok {
			return item, true
		}
	}
	return nil, false
}

// ApplyInteraction folds a reaction into the item's score and retires the
// item once the score drops below the threshold. It returns the updated
// score and whether this call deactivated the item.
func (s *Scheduler) ApplyInteraction(itemID string, r types.Reaction) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[itemID]
	if !ok {
		return 0, false
	}
	item.Score += r.ScoreDelta()
	if item.Score >= s.threshold || s.deactivated[itemID] {
		return item.Score, false
	}

	item.IsActive = false
	s.deactivated[itemID] = true
	s.active = without(s.active, itemID)
	s.queue = without(s.queue, itemID)
	s.notify(s.currentDay, itemID, StatusActive, StatusDeactivated)
	s.logger.WithFields(logrus.Fields{
		"day":        s.currentDay,
		"content_id": itemID,
		"score":      item.Score,
	}).Info("content deactivated")
	return item.Score, true
}

// Requeue appends an active item to the end of today's queue. An item is
// requeued at most once per day.
func (s *Scheduler) Requeue(itemID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[itemID]
	if !ok || !item.IsActive || s.requeued[itemID] {
		return false
	}
	s.requeued[itemID] = true
	s.queue = append(s.queue, itemID)
	return true
}

// Status returns the lifecycle stage of an item.
func (s *Scheduler) Status(itemID string) (ItemStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[itemID]
	if !ok {
		return "", false
	}
	switch {
	case s.deactivated[itemID]:
		return StatusDeactivated, true
	case item.IsActive:
		return StatusActive, true
	default:
		return StatusPending, true
	}
}

// Item returns the item with the given id.
func (s *Scheduler) Item(id string) (*types.ContentItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	return item, ok
}

// ItemCopy returns a copy of the item taken under the scheduler lock.
func (s *Scheduler) ItemCopy(id string) (types.ContentItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return types.ContentItem{}, false
	}
	return *item, true
}

// Items returns every item in catalog order.
func (s *Scheduler) Items() []*types.ContentItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.ContentItem, len(s.order))
	for i, id := range s.order {
		out[i] = s.items[id]
	}
	return out
}

// Queue returns a copy of today's remaining queue.
func (s *Scheduler) Queue() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queueCopy()
}

func (s *Scheduler) queueCopy() []string {
	out := make([]string, len(s.queue))
	copy(out, s.queue)
	return out
}

// Active returns the active item ids in activation order.
func (s *Scheduler) Active() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.active))
	copy(out, s.active)
	return out
}

// CurrentDay returns the last scheduled day.
func (s *Scheduler) CurrentDay() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentDay
}

// Snapshot captures the scheduler state.
func (s *Scheduler) Snapshot() *SimState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := &SimState{
		CurrentDay:  s.currentDay,
		Queued:      s.queueCopy(),
		Active:      append([]string(nil), s.active...),
		Deactivated: make([]string, 0, len(s.deactivated)),
		Scores:      make(map[string]float64, len(s.items)),
	}
	for _, id := range s.order {
		if s.deactivated[id] {
			st.Deactivated = append(st.Deactivated, id)
		}
		if score := s.items[id].Score; score != 0 {
			st.Scores[id] = score
		}
	}
	return st
}

// Restore replaces the scheduler state with st. Ids that are not in the
// catalog are dropped.
func (s *Scheduler) Restore(st *SimState) {
	if st == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.currentDay = st.CurrentDay
	s.requeued = make(map[string]bool)
	s.deactivated = make(map[string]bool)
	for _, id := range st.Deactivated {
		if item, ok := s.items[id]; ok {
			s.deactivated[id] = true
			item.IsActive = false
		}
	}
	s.active = s.active[:0]
	for _, id := range st.Active {
		if item, ok := s.items[id]; ok && !s.deactivated[id] {
			item.IsActive = true
			s.active = append(s.active, id)
		}
	}
	s.queue = s.queue[:0]
	for _, id := range st.Queued {
		if _, ok := s.items[id]; ok && !s.deactivated[id] {
			s.queue = append(s.queue, id)
		}
	}
	for id, score := range st.Scores {
		if item, ok := s.items[id]; ok {
			item.Score = score
		}
	}
}

func (s *Scheduler) notify(day int, id string, from, to ItemStatus) {
	if s.onTransition != nil {
		s.onTransition(day, id, from, to)
	}
}

func without(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
