package simulation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/cpunion/adsim/pkg/agent"
	"github.com/cpunion/adsim/pkg/events"
	"github.com/cpunion/adsim/pkg/interaction"
	"github.com/cpunion/adsim/pkg/llm"
	"github.com/cpunion/adsim/pkg/logging"
	"github.com/cpunion/adsim/pkg/metrics"
	"github.com/cpunion/adsim/pkg/targeting"
	"github.com/cpunion/adsim/pkg/types"
)

// GroupLookup resolves an agent's social group on a day.
type GroupLookup interface {
	LookupGroup(ctx context.Context, agentID string, day int) (string, bool, error)
}

// StaticGroups is a fixed agent id to group mapping.
type StaticGroups map[string]string

// LookupGroup implements GroupLookup.
func (g StaticGroups) LookupGroup(_ context.Context, agentID string, _ int) (string, bool, error) {
	group, ok := g[agentID]
	return group, ok && group != "", nil
}

// Recorder persists interaction records. Errors are logged, not retried.
type Recorder interface {
	RecordInteraction(ctx context.Context, rec types.InteractionRecord) error
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, rec types.InteractionRecord) error

// RecordInteraction implements Recorder.
func (f RecorderFunc) RecordInteraction(ctx context.Context, rec types.InteractionRecord) error {
	return f(ctx, rec)
}

// MultiRecorder writes every record to each recorder in turn and joins
// their errors.
type MultiRecorder []Recorder

// RecordInteraction implements Recorder.
func (m MultiRecorder) RecordInteraction(ctx context.Context, rec types.InteractionRecord) error {
	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.RecordInteraction(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// EngineConfig wires an Engine.
type EngineConfig struct {
	ExperimentID   string
	Concurrency    int  // Parallel exposures per item; 0 means 1
	RequeueOnShare bool // A share puts the item back at the end of today's queue
	PromptTemplate string

	Scheduler *Scheduler
	Events    *events.Manager
	Selector  *targeting.Selector
	Generator llm.ContentGenerator
	Groups    GroupLookup
	Recorder  Recorder
	Agents    []*agent.AgentState

	Logger  *logrus.Logger
	Trace   EventLogger
	Metrics *metrics.Collector
}

// ItemResult summarizes one processed content item.
type ItemResult struct {
	Day         int                       `json:"day"`
	ContentID   string                    `json:"ad_id"`
	Selection   targeting.Selection       `json:"selection"`
	Records     []types.InteractionRecord `json:"records"`
	Failures    int                       `json:"failures"`
	Score       float64                   `json:"score"`
	Deactivated bool                      `json:"deactivated"`
	Requeued    bool                      `json:"requeued"`
}

// StepResult is the outcome of one Step: either a new day was started or
// one queued item was processed.
type StepResult struct {
	Day      int         `json:"day"`
	NewDay   bool        `json:"new_day"`
	Queue    []string    `json:"queue,omitempty"`
	Item     *ItemResult `json:"item,omitempty"`
	Finished bool        `json:"finished"` // Queue is empty after this step
}

// DayResult summarizes a fully processed day.
type DayResult struct {
	Day          int           `json:"day"`
	Scheduled    []string      `json:"scheduled"`
	Items        []*ItemResult `json:"items"`
	Interactions int           `json:"interactions"`
	Failures     int           `json:"failures"`
}

// Engine runs the daily loop: schedule content, refresh groups and events,
// then expose each queued item to its targeted agents.
type Engine struct {
	cfg EngineConfig

	scheduler *Scheduler
	events    *events.Manager
	selector  *targeting.Selector
	generator llm.ContentGenerator
	groups    GroupLookup
	recorder  Recorder
	trace     EventLogger
	metrics   *metrics.Collector
	logger    *logrus.Logger

	agents map[string]*agent.AgentState
	ids    []string // Sorted agent ids

	mu      sync.Mutex
	started bool
}

// NewEngine validates cfg and creates an engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Scheduler == nil {
		return nil, errors.New("engine requires a scheduler")
	}
	if cfg.Generator == nil {
		return nil, errors.New("engine requires a content generator")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	logger := logging.OrDiscard(cfg.Logger)

	e := &Engine{
		cfg:       cfg,
		scheduler: cfg.Scheduler,
		events:    cfg.Events,
		selector:  cfg.Selector,
		generator: cfg.Generator,
		groups:    cfg.Groups,
		recorder:  cfg.Recorder,
		trace:     cfg.Trace,
		metrics:   cfg.Metrics,
		logger:    logger,
		agents:    make(map[string]*agent.AgentState, len(cfg.Agents)),
	}
	if e.events == nil {
		e.events = events.NewManager(nil, cfg.ExperimentID, logger)
	}
	if e.selector == nil {
		e.selector = targeting.NewSelector(cfg.ExperimentID, targeting.DefaultExposureCount)
	}
	if e.groups == nil {
		e.groups = StaticGroups{}
	}
	for _, st := range cfg.Agents {
		if st == nil {
			continue
		}
		if _, dup := e.agents[st.ID()]; dup {
			logger.WithField("agent_id", st.ID()).Warn("duplicate agent id ignored")
			continue
		}
		e.agents[st.ID()] = st
		e.ids = append(e.ids, st.ID())
	}
	sort.Strings(e.ids)
	return e, nil
}

// Scheduler returns the content scheduler.
func (e *Engine) Scheduler() *Scheduler {
	return e.scheduler
}

// Agent returns the state of one agent.
func (e *Engine) Agent(id string) (*agent.AgentState, bool) {
	st, ok := e.agents[id]
	return st, ok
}

// AgentIDs returns the agent ids in sorted order.
func (e *Engine) AgentIDs() []string {
	return append([]string(nil), e.ids...)
}

// StartDay schedules content for day, then refreshes every agent's group
// and daily events. It returns the day's queue.
func (e *Engine) StartDay(ctx context.Context, day int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	queue := e.scheduler.ScheduleForDay(day)
	e.prepareAgents(ctx, day, true)

	e.mu.Lock()
	e.started = true
	e.mu.Unlock()

	e.metrics.SetDay(day, len(e.scheduler.Active()), len(queue))
	return queue, nil
}

// prepareAgents assigns groups and computes events. With force unset,
// agents that already hold events for day are left alone.
func (e *Engine) prepareAgents(ctx context.Context, day int, force bool) {
	delivered := 0
	for _, id := range e.ids {
		st := e.agents[id]
		if !force && st.HasEventsFor(day) {
			continue
		}
		group, ok, err := e.groups.LookupGroup(ctx, id, day)
		if err != nil {
			e.logger.WithError(err).WithFields(logrus.Fields{
				"day":      day,
				"agent_id": id,
			}).Warn("group lookup failed")
		}
		if !ok {
			group = ""
		}
		st.SetGroup(group)
		delivered += len(e.events.DailyEvents(day, st))
	}
	e.metrics.AddEvents(delivered)
	e.logger.WithFields(logrus.Fields{
		"day":    day,
		"agents": len(e.ids),
		"events": delivered,
	}).Debug("prepared agents for day")
}

// ProcessNext pops the next queued item and exposes it. It returns nil when
// the queue is empty.
func (e *Engine) ProcessNext(ctx context.Context) (*ItemResult, error) {
	item, ok := e.scheduler.Next()
	if !ok {
		return nil, nil
	}
	return e.ProcessItem(ctx, item)
}

// ProcessItem targets item on the current day and runs its exposures in
// parallel. A failed exposure is logged and skipped; it never fails the
// batch.
func (e *Engine) ProcessItem(ctx context.Context, item *types.ContentItem) (*ItemResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	day := e.scheduler.CurrentDay()

	candidates := make([]targeting.Candidate, 0, len(e.ids))
	for _, id := range e.ids {
		candidates = append(candidates, targeting.Candidate{ID: id, Group: e.agents[id].GetGroup()})
	}
	selection := e.selector.Select(item, day, candidates)

	result := &ItemResult{
		Day:       day,
		ContentID: item.ID,
		Selection: selection,
	}

	// Prompts see the item as it was before this batch so that concurrent
	// score updates do not leak into them.
	view, ok := e.scheduler.ItemCopy(item.ID)
	if !ok {
		view = *item
	}

	outcomes := make([]exposureOutcome, len(selection.AgentIDs))
	var g errgroup.Group
	g.SetLimit(e.cfg.Concurrency)
	for i, id := range selection.AgentIDs {
		st := e.agents[id]
		g.Go(func() error {
			outcomes[i] = e.expose(ctx, day, &view, st)
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range outcomes {
		if o.record == nil {
			result.Failures++
			continue
		}
		result.Records = append(result.Records, *o.record)
		result.Deactivated = result.Deactivated || o.deactivated
		result.Requeued = result.Requeued || o.requeued
	}
	if current, ok := e.scheduler.Item(item.ID); ok {
		result.Score = current.Score
	}

	e.logger.WithFields(logrus.Fields{
		"day":          day,
		"content_id":   item.ID,
		"targeted":     len(selection.AgentIDs),
		"interactions": len(result.Records),
		"failures":     result.Failures,
		"score":        result.Score,
	}).Info("processed content item")

	e.metrics.SetDay(day, len(e.scheduler.Active()), len(e.scheduler.Queue()))
	return result, nil
}

type exposureOutcome struct {
	record      *types.InteractionRecord
	deactivated bool
	requeued    bool
}

// expose runs one (agent, item) exposure end to end.
func (e *Engine) expose(ctx context.Context, day int, item *types.ContentItem, st *agent.AgentState) exposureOutcome {
	start := time.Now()
	dayEvents := st.DailyEventsFor(day)
	ev := ExposureLog{
		Timestamp: start.UTC(),
		Day:       day,
		AgentID:   st.ID(),
		ContentID: item.ID,
		Group:     st.GetGroup(),
		Events:    dayEvents,
	}
	log := e.logger.WithFields(logrus.Fields{
		"day":        day,
		"agent_id":   st.ID(),
		"content_id": item.ID,
	})
	fail := func(outcome string, err error) exposureOutcome {
		ev.Outcome = outcome
		ev.Error = err.Error()
		ev.DurationMS = time.Since(start).Milliseconds()
		e.writeTrace(ev)
		e.metrics.ObserveExposure(outcome, time.Since(start))
		log.WithError(err).WithField("outcome", outcome).Warn("exposure skipped")
		return exposureOutcome{}
	}

	pc := llm.BuildPromptContext(st.Profile, st.Emotional(), item, day, dayEvents)
	prompt, err := llm.RenderPrompt(e.cfg.PromptTemplate, pc)
	if err != nil {
		return fail(OutcomePrompt, err)
	}
	ev.Prompt = prompt

	text, err := e.generator.Generate(ctx, prompt)
	if err != nil {
		return fail(OutcomeGenerate, err)
	}
	ev.Response = text

	raw, err := interaction.ParseResponse(text)
	if err != nil {
		return fail(OutcomeParse, err)
	}
	reaction := interaction.Validate(raw)

	state := st.ApplyDelta(interaction.DeltaMap(reaction))
	score, deactivated := e.scheduler.ApplyInteraction(item.ID, reaction)
	if deactivated {
		e.metrics.ContentDeactivated()
	}

	rec := types.InteractionRecord{
		ID:        uuid.NewString(),
		Day:       day,
		AgentID:   st.ID(),
		ContentID: item.ID,
		Group:     st.GetGroup(),
		Reaction:  reaction,
		State:     state,
		Score:     score,
		Prompt:    prompt,
		CreatedAt: time.Now().UTC(),
	}

	outcome := OutcomeRecorded
	if e.recorder != nil {
		if err := e.recorder.RecordInteraction(ctx, rec); err != nil {
			outcome = OutcomeRecordError
			ev.Error = err.Error()
			log.WithError(err).Error("failed to record interaction")
		}
	}

	requeued := false
	if reaction.Share > 0 && e.cfg.RequeueOnShare {
		requeued = e.scheduler.Requeue(item.ID)
	}

	ev.Reaction = &reaction
	ev.State = &state
	ev.Score = score
	ev.Deactivated = deactivated
	ev.Requeued = requeued
	ev.Outcome = outcome
	ev.DurationMS = time.Since(start).Milliseconds()
	e.writeTrace(ev)
	e.metrics.ObserveExposure(outcome, time.Since(start))
	e.metrics.ObserveReaction(reactionActions(reaction)...)

	return exposureOutcome{record: &rec, deactivated: deactivated, requeued: requeued}
}

func (e *Engine) writeTrace(ev ExposureLog) {
	if e.trace == nil {
		return
	}
	if err := e.trace.LogEvent(ev); err != nil {
		e.logger.WithError(err).Warn("failed to write exposure trace")
	}
}

func reactionActions(r types.Reaction) []string {
	var actions []string
	if r.Ignore {
		actions = append(actions, interaction.FieldIgnore)
	}
	if r.Click {
		actions = append(actions, interaction.FieldClick)
	}
	if r.Like {
		actions = append(actions, interaction.FieldLike)
	}
	if r.Dislike {
		actions = append(actions, interaction.FieldDislike)
	}
	if r.Share > 0 {
		actions = append(actions, interaction.FieldShare)
	}
	return actions
}

// Step advances the simulation by one unit of work. With an empty queue it
// starts the next day; otherwise it processes the next queued item.
func (e *Engine) Step(ctx context.Context) (*StepResult, error) {
	e.mu.Lock()
	started := e.started
	e.mu.Unlock()

	if !started || len(e.scheduler.Queue()) == 0 {
		day := e.scheduler.CurrentDay() + 1
		queue, err := e.StartDay(ctx, day)
		if err != nil {
			return nil, err
		}
		return &StepResult{Day: day, NewDay: true, Queue: queue, Finished: len(queue) == 0}, nil
	}

	res, err := e.ProcessNext(ctx)
	if err != nil {
		return nil, err
	}
	return &StepResult{
		Day:      e.scheduler.CurrentDay(),
		Item:     res,
		Finished: len(e.scheduler.Queue()) == 0,
	}, nil
}

// RunDay starts day and drains its queue.
func (e *Engine) RunDay(ctx context.Context, day int) (*DayResult, error) {
	queue, err := e.StartDay(ctx, day)
	if err != nil {
		return nil, err
	}
	out := &DayResult{Day: day, Scheduled: queue}
	return out, e.drain(ctx, out)
}

// FinishDay drains whatever is left in the current day's queue. It is a
// no-op when no day has been started.
func (e *Engine) FinishDay(ctx context.Context) (*DayResult, error) {
	e.mu.Lock()
	started := e.started
	e.mu.Unlock()

	out := &DayResult{Day: e.scheduler.CurrentDay()}
	if !started {
		return out, nil
	}
	out.Scheduled = e.scheduler.Queue()
	return out, e.drain(ctx, out)
}

func (e *Engine) drain(ctx context.Context, out *DayResult) error {
	for {
		res, err := e.ProcessNext(ctx)
		if err != nil {
			return fmt.Errorf("day %d: %w", out.Day, err)
		}
		if res == nil {
			return nil
		}
		out.Items = append(out.Items, res)
		out.Interactions += len(res.Records)
		out.Failures += res.Failures
	}
}

// RunDays runs n consecutive days after the current one.
func (e *Engine) RunDays(ctx context.Context, n int) ([]*DayResult, error) {
	results := make([]*DayResult, 0, max(n, 0))
	for i := 0; i < n; i++ {
		day := e.scheduler.CurrentDay() + 1
		res, err := e.RunDay(ctx, day)
		if res != nil {
			results = append(results, res)
		}
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// State returns a persistable snapshot.
func (e *Engine) State() *SimState {
	st := e.scheduler.Snapshot()
	e.mu.Lock()
	st.Started = e.started
	e.mu.Unlock()
	return st
}

// Restore loads a snapshot. When the snapshot is mid-day, agents without
// events for that day get them recomputed.
func (e *Engine) Restore(ctx context.Context, st *SimState) {
	if st == nil {
		return
	}
	e.scheduler.Restore(st)
	e.mu.Lock()
	e.started = st.Started
	e.mu.Unlock()
	if st.Started {
		e.prepareAgents(ctx, st.CurrentDay, false)
	}
	e.metrics.SetDay(st.CurrentDay, len(e.scheduler.Active()), len(e.scheduler.Queue()))
}

// SaveAgents persists every agent state that has a data path.
func (e *Engine) SaveAgents() error {
	var errs []error
	for _, id := range e.ids {
		if err := e.agents[id].Save(); err != nil {
			errs = append(errs, fmt.Errorf("save agent %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
