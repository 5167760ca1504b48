package simulation

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/cpunion/adsim/pkg/agent"
	"github.com/cpunion/adsim/pkg/events"
	"github.com/cpunion/adsim/pkg/llm"
	"github.com/cpunion/adsim/pkg/targeting"
	"github.com/cpunion/adsim/pkg/types"
)

type memoryRecorder struct {
	mu      sync.Mutex
	records []types.InteractionRecord
}

func (m *memoryRecorder) RecordInteraction(_ context.Context, rec types.InteractionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *memoryRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// createTestAgents builds two groups of three agents.
func createTestAgents() ([]*agent.AgentState, StaticGroups) {
	groups := StaticGroups{}
	var states []*agent.AgentState
	for i, id := range []string{"u1", "u2", "u3", "u4", "u5", "u6"} {
		profile := types.Agent{ID: id, Age: 30 + i, Profession: []string{"tester"}, Persona: "persona-" + id}
		states = append(states, agent.NewAgentState(profile, ""))
		if i < 3 {
			groups[id] = "g1"
		} else {
			groups[id] = "g2"
		}
	}
	return states, groups
}

func constantSelector(count int) *targeting.Selector {
	return &targeting.Selector{
		Scorer: targeting.ScorerFunc(func(*types.ContentItem, string, int) float64 {
			return 0.5
		}),
		ExposureCount: count,
		ExperimentID:  "exp",
	}
}

func fixedGenerator(text string) llm.ContentGenerator {
	return llm.GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		return text, nil
	})
}

func newTestEngine(t *testing.T, cfg EngineConfig, items []*types.ContentItem) *Engine {
	t.Helper()
	if cfg.Scheduler == nil {
		cfg.Scheduler = newTestScheduler(t, items, 5)
	}
	if cfg.Agents == nil {
		cfg.Agents, cfg.Groups = createTestAgents()
	}
	if cfg.Selector == nil {
		cfg.Selector = constantSelector(6)
	}
	if cfg.ExperimentID == "" {
		cfg.ExperimentID = "exp"
	}
	e, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

func TestNewEngine_RequiresPorts(t *testing.T) {
	if _, err := NewEngine(EngineConfig{Generator: fixedGenerator("{}")}); err == nil {
		t.Error("expected error without scheduler")
	}
	s := newTestScheduler(t, nil, 1)
	if _, err := NewEngine(EngineConfig{Scheduler: s}); err == nil {
		t.Error("expected error without generator")
	}
}

func TestEngine_RunDay(t *testing.T) {
	rec := &memoryRecorder{}
	items := createTestItems(0, 0)
	e := newTestEngine(t, EngineConfig{
		Generator:   fixedGenerator(`{"click": true, "acute_interest_change": 500, "bias_trust_change": -500}`),
		Recorder:    rec,
		Concurrency: 3,
	}, items)

	res, err := e.RunDay(context.Background(), 1)
	if err != nil {
		t.Fatalf("run day: %v", err)
	}
	if len(res.Items) != 2 || res.Interactions != 12 || res.Failures != 0 {
		t.Fatalf("unexpected day result: items=%d interactions=%d failures=%d", len(res.Items), res.Interactions, res.Failures)
	}
	if rec.count() != 12 {
		t.Errorf("expected 12 recorded interactions, got %d", rec.count())
	}
	for _, item := range items {
		if item.Score != 6 {
			t.Errorf("expected score 6 for %s, got %v", item.ID, item.Score)
		}
	}
	for _, id := range e.AgentIDs() {
		st, _ := e.Agent(id)
		emo := st.Emotional()
		if emo.AcuteInterest != types.EmotionMax || emo.BiasTrust != types.EmotionMin {
			t.Errorf("emotions out of bounds for %s: %+v", id, emo)
		}
	}

	first := res.Items[0]
	if len(first.Selection.Breakdown) != 2 {
		t.Fatalf("expected two groups in breakdown, got %+v", first.Selection.Breakdown)
	}
	for _, r := range first.Records {
		if r.ID == "" || r.Group == "" || r.Prompt == "" || r.Day != 1 {
			t.Errorf("incomplete record %+v", r)
		}
		if !r.Reaction.Click || r.Reaction.Ignore {
			t.Errorf("unexpected reaction %+v", r.Reaction)
		}
	}
}

func TestEngine_FailuresAreSkipped(t *testing.T) {
	rec := &memoryRecorder{}
	gen := llm.GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, "persona-u2"):
			return "", llm.ErrTransport
		case strings.Contains(prompt, "persona-u3"):
			return "I would rather not say", nil
		case strings.Contains(prompt, "persona-u4"):
			return "{}", nil
		}
		return `{"like": true}`, nil
	})

	tracePath := filepath.Join(t.TempDir(), "trace.jsonl.zst")
	trace, err := NewJSONLLogger(tracePath)
	if err != nil {
		t.Fatalf("trace logger: %v", err)
	}

	items := createTestItems(0)
	e := newTestEngine(t, EngineConfig{Generator: gen, Recorder: rec, Trace: trace, Concurrency: 4}, items)

	if _, err := e.StartDay(context.Background(), 1); err != nil {
		t.Fatalf("start day: %v", err)
	}
	res, err := e.ProcessNext(context.Background())
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(res.Records) != 3 || res.Failures != 3 {
		t.Errorf("expected 3 records and 3 failures, got %d and %d", len(res.Records), res.Failures)
	}
	if items[0].Score != 6 {
		t.Errorf("expected score 6 from three likes, got %v", items[0].Score)
	}
	if st, _ := e.Agent("u2"); st.Emotional() != (types.EmotionalState{}) {
		t.Errorf("failed exposure changed emotions: %+v", st.Emotional())
	}

	if err := trace.Close(); err != nil {
		t.Fatalf("close trace: %v", err)
	}
	logs, err := ReadExposureLog(tracePath)
	if err != nil {
		t.Fatalf("read trace: %v", err)
	}
	outcomes := map[string]int{}
	for _, l := range logs {
		outcomes[l.Outcome]++
	}
	want := map[string]int{OutcomeRecorded: 3, OutcomeGenerate: 1, OutcomeParse: 2}
	if !reflect.DeepEqual(outcomes, want) {
		t.Errorf("unexpected trace outcomes %v", outcomes)
	}
}

func TestEngine_StepMode(t *testing.T) {
	e := newTestEngine(t, EngineConfig{Generator: fixedGenerator(`{"click": true}`)}, createTestItems(0, 0))
	ctx := context.Background()

	step, err := e.Step(ctx)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if !step.NewDay || step.Day != 1 || len(step.Queue) != 2 {
		t.Fatalf("expected day 1 to start with 2 items, got %+v", step)
	}

	step, _ = e.Step(ctx)
	if step.NewDay || step.Item == nil || step.Finished {
		t.Fatalf("expected an item step, got %+v", step)
	}
	step, _ = e.Step(ctx)
	if step.Item == nil || !step.Finished {
		t.Fatalf("expected the last item of the day, got %+v", step)
	}
	step, _ = e.Step(ctx)
	if !step.NewDay || step.Day != 2 {
		t.Fatalf("expected day 2 to start, got %+v", step)
	}

	// Process one item of day 2, then let FinishDay drain the rest.
	if step, _ = e.Step(ctx); step.Item == nil {
		t.Fatalf("expected an item step, got %+v", step)
	}
	day, err := e.FinishDay(ctx)
	if err != nil {
		t.Fatalf("finish day: %v", err)
	}
	if day.Day != 2 || len(day.Items) != 1 || len(e.Scheduler().Queue()) != 0 {
		t.Fatalf("unexpected finish result %+v", day)
	}
}

func TestEngine_FinishDayBeforeStart(t *testing.T) {
	e := newTestEngine(t, EngineConfig{Generator: fixedGenerator(`{"click": true}`)}, createTestItems(0))
	day, err := e.FinishDay(context.Background())
	if err != nil || day.Day != 0 || len(day.Items) != 0 {
		t.Fatalf("expected no-op, got %+v, %v", day, err)
	}
}

func TestEngine_ShareRequeuesOncePerDay(t *testing.T) {
	e := newTestEngine(t, EngineConfig{
		Generator:      fixedGenerator(`{"share": 1}`),
		RequeueOnShare: true,
	}, createTestItems(0))
	ctx := context.Background()

	if _, err := e.StartDay(ctx, 1); err != nil {
		t.Fatalf("start day: %v", err)
	}
	res, _ := e.ProcessNext(ctx)
	if !res.Requeued {
		t.Fatal("expected a share to requeue the item")
	}
	if q := e.Scheduler().Queue(); !reflect.DeepEqual(q, []string{"ada"}) {
		t.Fatalf("unexpected queue %v", q)
	}
	res, _ = e.ProcessNext(ctx)
	if res.Requeued {
		t.Error("item requeued twice on one day")
	}
	if res, _ := e.ProcessNext(ctx); res != nil {
		t.Errorf("expected empty queue, got %+v", res)
	}
}

func TestEngine_DeterministicWithMock(t *testing.T) {
	catalog := events.NewCatalog()
	catalog.Personal = []types.Event{
		{ID: "p1", Text: "Caught a cold", FrequencyWeight: 1, DurationDays: 2, StartDay: -1},
		{ID: "p2", Text: "Got a raise", FrequencyWeight: 1, DurationDays: 1, StartDay: -1},
	}

	run := func() ([]*types.ContentItem, *Engine) {
		items := createTestItems(0, 1, 2)
		agents, groups := createTestAgents()
		e := newTestEngine(t, EngineConfig{
			Generator:   llm.NewMockGenerator(),
			Events:      events.NewManager(catalog, "exp", nil),
			Selector:    targeting.NewSelector("exp", 4),
			Agents:      agents,
			Groups:      groups,
			Concurrency: 4,
		}, items)
		if _, err := e.RunDays(context.Background(), 3); err != nil {
			t.Fatalf("run days: %v", err)
		}
		return items, e
	}

	itemsA, a := run()
	itemsB, b := run()
	for i := range itemsA {
		if itemsA[i].Score != itemsB[i].Score {
			t.Errorf("score differs for %s: %v vs %v", itemsA[i].ID, itemsA[i].Score, itemsB[i].Score)
		}
	}
	for _, id := range a.AgentIDs() {
		sa, _ := a.Agent(id)
		sb, _ := b.Agent(id)
		if sa.Emotional() != sb.Emotional() {
			t.Errorf("emotions differ for %s", id)
		}
		if !reflect.DeepEqual(sa.DailyEventsFor(3), sb.DailyEventsFor(3)) {
			t.Errorf("events differ for %s", id)
		}
	}
	if !reflect.DeepEqual(a.State(), b.State()) {
		t.Errorf("state differs: %+v vs %+v", a.State(), b.State())
	}
}

func TestEngine_StateRestore(t *testing.T) {
	items := createTestItems(0, 0)
	e := newTestEngine(t, EngineConfig{Generator: fixedGenerator(`{"click": true}`)}, items)
	ctx := context.Background()
	e.Step(ctx)
	e.Step(ctx)

	st := e.State()
	if !st.Started || st.CurrentDay != 1 || len(st.Queued) != 1 {
		t.Fatalf("unexpected state %+v", st)
	}

	restoredItems := createTestItems(0, 0)
	restored := newTestEngine(t, EngineConfig{Generator: fixedGenerator(`{"click": true}`)}, restoredItems)
	restored.Restore(ctx, st)

	step, err := restored.Step(ctx)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if step.NewDay || step.Item == nil || step.Item.ContentID != st.Queued[0] {
		t.Fatalf("expected to resume with %v, got %+v", st.Queued, step)
	}
	if st, _ := restored.Agent("u1"); !st.HasEventsFor(1) {
		t.Error("expected events recomputed for the restored day")
	}
}

func TestMultiRecorder(t *testing.T) {
	a, b := &memoryRecorder{}, &memoryRecorder{}
	failing := RecorderFunc(func(context.Context, types.InteractionRecord) error {
		return errors.New("disk full")
	})
	m := MultiRecorder{a, failing, nil, b}
	err := m.RecordInteraction(context.Background(), types.InteractionRecord{ID: "r1"})
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Errorf("expected joined error, got %v", err)
	}
	if a.count() != 1 || b.count() != 1 {
		t.Errorf("expected both recorders to receive the record")
	}
}

func TestGeneratePopulation(t *testing.T) {
	a := GeneratePopulation(12, 7)
	b := GeneratePopulation(12, 7)
	if !reflect.DeepEqual(a, b) {
		t.Error("population is not deterministic")
	}
	if len(a.Agents) != 12 || len(a.Groups) != 12 {
		t.Fatalf("unexpected population size %d/%d", len(a.Agents), len(a.Groups))
	}
	for _, ag := range a.Agents {
		if ag.Age < 18 || ag.Age > 70 || len(ag.Profession) != 1 {
			t.Errorf("unexpected agent %+v", ag)
		}
		for _, f := range ag.Friends {
			if f == ag.ID {
				t.Errorf("agent %s befriended itself", ag.ID)
			}
		}
		if a.Groups[ag.ID] == "" {
			t.Errorf("agent %s has no group", ag.ID)
		}
	}
	if got := GeneratePopulation(0, 1); len(got.Agents) != 0 {
		t.Error("expected empty population")
	}
}
