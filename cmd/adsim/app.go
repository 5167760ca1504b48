package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"google.golang.org/adk/model/gemini"
	"google.golang.org/genai"

	"github.com/cpunion/adsim/pkg/agent"
	"github.com/cpunion/adsim/pkg/config"
	"github.com/cpunion/adsim/pkg/dataset"
	"github.com/cpunion/adsim/pkg/events"
	"github.com/cpunion/adsim/pkg/feed"
	"github.com/cpunion/adsim/pkg/llm"
	"github.com/cpunion/adsim/pkg/logging"
	"github.com/cpunion/adsim/pkg/metrics"
	"github.com/cpunion/adsim/pkg/simulation"
	"github.com/cpunion/adsim/pkg/store"
	"github.com/cpunion/adsim/pkg/targeting"
	"github.com/cpunion/adsim/pkg/types"
)

// app holds everything a command needs. Commands that only read the
// database call loadConfig and store.Open instead.
type app struct {
	cfg     *config.Config
	logger  *logrus.Logger
	store   *store.Store
	feed    *feed.Writer
	trace   *simulation.JSONLLogger
	metrics *metrics.Collector
	engine  *simulation.Engine
	server  *http.Server
}

// loadConfig reads .env files, the config file and the flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, *logrus.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	bootstrap := logging.NewLogger("info", logging.FormatText)
	config.LoadEnv(bootstrap)

	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		cfg.Metrics = addr
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, logging.NewLogger(cfg.Log.Level, cfg.Log.Format), nil
}

// openApp wires the engine and its collaborators and restores saved state.
func openApp(ctx context.Context, cmd *cobra.Command) (a *app, err error) {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	a = &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()

	if a.store, err = store.Open(ctx, cfg.Path(cfg.Paths.Database)); err != nil {
		return nil, err
	}
	if a.feed, err = feed.OpenWriter(feed.WriterConfig{Dir: cfg.Path(cfg.Paths.Feed), Append: true}); err != nil {
		return nil, fmt.Errorf("open feed: %w", err)
	}
	if cfg.Paths.Trace != "" {
		if a.trace, err = simulation.NewJSONLLogger(cfg.Path(cfg.Paths.Trace)); err != nil {
			return nil, fmt.Errorf("open trace: %w", err)
		}
	}

	a.metrics = metrics.NewCollector("")
	if cfg.Metrics != "" {
		a.serveMetrics(cfg.Metrics)
	}

	gen, err := newGenerator(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	profiles, err := a.loadAgents(ctx)
	if err != nil {
		return nil, err
	}
	states := make([]*agent.AgentState, 0, len(profiles))
	for _, p := range profiles {
		st := agent.NewAgentState(p, agent.StatePath(cfg.Path(cfg.Paths.AgentStates), p.ID))
		if err := st.Load(); err != nil {
			logger.WithError(err).WithField("agent_id", p.ID).Warn("agent state unreadable, starting fresh")
			st = agent.NewAgentState(p, agent.StatePath(cfg.Path(cfg.Paths.AgentStates), p.ID))
		}
		st.Profile = p
		states = append(states, st)
	}

	items, err := loadContent(cfg, logger)
	if err != nil {
		return nil, err
	}
	ptrs := make([]*types.ContentItem, len(items))
	for i := range items {
		ptrs[i] = &items[i]
	}
	sched, err := simulation.NewScheduler(ptrs, simulation.SchedulerConfig{
		ExperimentID: cfg.ExperimentID,
		MaxPerDay:    cfg.MaxAdsShownPerDay,
		Threshold:    cfg.DeactivationThreshold,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	var trace simulation.EventLogger
	if a.trace != nil {
		trace = a.trace
	}
	a.engine, err = simulation.NewEngine(simulation.EngineConfig{
		ExperimentID:   cfg.ExperimentID,
		Concurrency:    cfg.Concurrency,
		RequeueOnShare: cfg.RequeueOnShare,
		PromptTemplate: cfg.PromptTemplate,
		Scheduler:      sched,
		Events:         events.NewManager(events.LoadCatalog(cfg.Path(cfg.Paths.Events), logger), cfg.ExperimentID, logger),
		Selector:       targeting.NewSelector(cfg.ExperimentID, cfg.AgentsExposedToAd),
		Generator:      gen,
		Groups:         a.store,
		Recorder:       simulation.MultiRecorder{a.store, a.feed},
		Agents:         states,
		Logger:         logger,
		Trace:          trace,
		Metrics:        a.metrics,
	})
	if err != nil {
		return nil, err
	}

	st, err := simulation.LoadSimState(cfg.Path(cfg.Paths.State))
	switch {
	case err == nil:
		a.engine.Restore(ctx, st)
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("load state: %w", err)
	}
	return a, nil
}

// loadAgents reads the agent file, or generates a synthetic population and
// seeds its groups on day 0 when the file does not exist.
func (a *app) loadAgents(ctx context.Context) ([]types.Agent, error) {
	path := a.cfg.Path(a.cfg.Paths.Agents)
	profiles, err := dataset.LoadAgents(path)
	if err == nil {
		return profiles, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load agents: %w", err)
	}

	pop := simulation.GeneratePopulation(a.cfg.AgentsCount, a.cfg.Seed)
	counts, err := a.store.GroupCounts(ctx, 0)
	if err != nil {
		return nil, err
	}
	if len(counts) == 0 {
		if err := a.store.AssignGroups(ctx, 0, pop.Groups); err != nil {
			return nil, fmt.Errorf("seed groups: %w", err)
		}
	}
	a.logger.WithFields(logrus.Fields{
		"agents": len(pop.Agents),
		"seed":   a.cfg.Seed,
	}).Info("agent file not found, using synthetic population")
	return pop.Agents, nil
}

// loadContent reads the content catalog and fills in missing entry days.
// The assignment is seeded, so every command sees the same schedule.
func loadContent(cfg *config.Config, logger *logrus.Logger) ([]types.ContentItem, error) {
	items, err := dataset.LoadContent(cfg.Path(cfg.Paths.Content))
	if err != nil {
		return nil, fmt.Errorf("load content: %w", err)
	}
	if n := dataset.AssignEntryDays(items, cfg.DaysAdsCanEnter, cfg.NewAdsPerDay, cfg.ExperimentID); n > 0 {
		logger.WithField("items", n).Debug("assigned entry days")
	}
	return items, nil
}

func newGenerator(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (llm.ContentGenerator, error) {
	var (
		gen llm.ContentGenerator
		err error
	)
	if cfg.LLM.Backend == llm.BackendADK {
		m, merr := gemini.NewModel(ctx, cfg.LLM.Model, &genai.ClientConfig{
			APIKey:  cfg.LLM.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if merr != nil {
			return nil, fmt.Errorf("create adk model %s: %w", cfg.LLM.Model, merr)
		}
		gen = llm.NewADKGenerator(m, nil)
	} else if gen, err = llm.New(ctx, cfg.LLM); err != nil {
		return nil, err
	}

	if cfg.Guard.Enabled && cfg.LLM.Backend != llm.BackendMock && cfg.LLM.Backend != "" {
		gcfg := llm.DefaultGuardConfig()
		gcfg.MaxRetries = cfg.Guard.MaxRetries
		if cfg.Guard.BaseDelay > 0 {
			gcfg.BaseDelay = cfg.Guard.BaseDelay
		}
		if cfg.Guard.OpenDelay > 0 {
			gcfg.OpenDelay = cfg.Guard.OpenDelay
		}
		gcfg.Logger = logger
		gen = llm.NewGuard(gen, gcfg)
	}
	logger.WithFields(logrus.Fields{
		"backend": cfg.LLM.Backend,
		"model":   gen.Model(),
	}).Info("content generator ready")
	return gen, nil
}

func (a *app) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	a.server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.WithError(err).Error("metrics server stopped")
		}
	}()
	a.logger.WithField("addr", addr).Info("serving metrics")
}

// save persists the simulation state and every agent state.
func (a *app) save() error {
	if err := simulation.SaveSimState(a.cfg.Path(a.cfg.Paths.State), a.engine.State()); err != nil {
		return err
	}
	return a.engine.SaveAgents()
}

// Close releases every open resource. It is safe on a partially opened app.
func (a *app) Close() error {
	var errs []error
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		errs = append(errs, a.server.Shutdown(ctx))
		cancel()
	}
	if a.trace != nil {
		errs = append(errs, a.trace.Close())
	}
	if a.feed != nil {
		errs = append(errs, a.feed.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}
