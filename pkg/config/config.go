// Package config loads simulation settings from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cpunion/adsim/pkg/llm"
)

// ErrConfiguration marks invalid settings. It is only returned at startup.
var ErrConfiguration = errors.New("configuration error")

// ConfigurationError names the offending setting.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

// Invalid builds a ConfigurationError.
func Invalid(field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Config is the full simulation configuration.
type Config struct {
	ExperimentID          string  `yaml:"experiment_id"`
	Seed                  int64   `yaml:"seed"`
	SimulationDays        int     `yaml:"simulation_days"`
	AgentsCount           int     `yaml:"agents_count"`
	MaxAdsShownPerDay     int     `yaml:"max_ads_shown_per_day"`
	AgentsExposedToAd     int     `yaml:"agents_exposed_to_ad"`
	DeactivationThreshold float64 `yaml:"deactivation_threshold"`
	DaysAdsCanEnter       int     `yaml:"days_ads_can_enter"`
	NewAdsPerDay          int     `yaml:"new_ads_per_day"`
	RequeueOnShare        bool    `yaml:"requeue_on_share"`
	Concurrency           int     `yaml:"concurrency"`
	PromptTemplate        string  `yaml:"prompt_template"`

	Paths   PathsConfig `yaml:"paths"`
	LLM     llm.Config  `yaml:"llm"`
	Guard   GuardConfig `yaml:"guard"`
	Log     LogConfig   `yaml:"log"`
	Metrics string      `yaml:"metrics_addr"`
}

// PathsConfig locates inputs and outputs. Relative paths resolve against
// DataDir.
type PathsConfig struct {
	DataDir     string `yaml:"data_dir"`
	Agents      string `yaml:"agents"`
	Content     string `yaml:"content"`
	Events      string `yaml:"events"`
	Database    string `yaml:"database"`
	State       string `yaml:"state"`
	Feed        string `yaml:"feed"`
	Trace       string `yaml:"trace"`
	AgentStates string `yaml:"agent_states"`
}

// GuardConfig tunes retries around remote generators.
type GuardConfig struct {
	Enabled    bool          `yaml:"enabled"`
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	OpenDelay  time.Duration `yaml:"open_delay"`
}

// LogConfig selects the operational log level and format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the reference configuration.
func Default() *Config {
	return &Config{
		ExperimentID:          "default_exp",
		Seed:                  42,
		SimulationDays:        100,
		AgentsCount:           50,
		MaxAdsShownPerDay:     5,
		AgentsExposedToAd:     10,
		DeactivationThreshold: -5,
		DaysAdsCanEnter:       0,
		NewAdsPerDay:          5,
		RequeueOnShare:        true,
		Concurrency:           4,
		Paths: PathsConfig{
			DataDir:     "data",
			Agents:      "agents.json",
			Content:     "content.json",
			Events:      "events",
			Database:    "interactions.db",
			State:       "simulation_state.yaml",
			Feed:        "feed",
			Trace:       "trace.jsonl.zst",
			AgentStates: "agents",
		},
		LLM: llm.DefaultConfig(),
		Guard: GuardConfig{
			Enabled:    true,
			MaxRetries: 2,
			BaseDelay:  500 * time.Millisecond,
			OpenDelay:  30 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads path on top of the defaults and applies environment overrides.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv overrides settings from ADSIM_* and provider variables.
func (c *Config) ApplyEnv() {
	c.ExperimentID = GetEnv("ADSIM_EXPERIMENT_ID", c.ExperimentID)
	c.Seed = int64(GetEnvInt("ADSIM_SEED", int(c.Seed)))
	c.SimulationDays = GetEnvInt("ADSIM_SIMULATION_DAYS", c.SimulationDays)
	c.AgentsCount = GetEnvInt("ADSIM_AGENTS_COUNT", c.AgentsCount)
	c.MaxAdsShownPerDay = GetEnvInt("ADSIM_MAX_ADS_SHOWN_PER_DAY", c.MaxAdsShownPerDay)
	c.AgentsExposedToAd = GetEnvInt("ADSIM_AGENTS_EXPOSED_TO_AD", c.AgentsExposedToAd)
	c.DeactivationThreshold = GetEnvFloat("ADSIM_DEACTIVATION_THRESHOLD", c.DeactivationThreshold)
	c.Concurrency = GetEnvInt("ADSIM_CONCURRENCY", c.Concurrency)
	c.RequeueOnShare = GetEnvBool("ADSIM_REQUEUE_ON_SHARE", c.RequeueOnShare)
	c.Paths.DataDir = GetEnv("ADSIM_DATA_DIR", c.Paths.DataDir)
	c.Log.Level = GetEnv("ADSIM_LOG_LEVEL", c.Log.Level)
	c.Metrics = GetEnv("ADSIM_METRICS_ADDR", c.Metrics)

	c.LLM.Backend = GetEnv("ADSIM_LLM_BACKEND", c.LLM.Backend)
	c.LLM.BaseURL = GetEnv("ADSIM_LLM_BASE_URL", c.LLM.BaseURL)
	switch c.LLM.Backend {
	case llm.BackendOpenAI:
		c.LLM.APIKey = GetEnv("OPENAI_API_KEY", c.LLM.APIKey)
		c.LLM.Model = GetEnv("OPENAI_MODEL", c.LLM.Model)
	case llm.BackendGoogle, llm.BackendADK:
		c.LLM.APIKey = GetEnv("GOOGLE_API_KEY", c.LLM.APIKey)
		c.LLM.Model = GetEnv("GOOGLE_MODEL", c.LLM.Model)
	}
	c.LLM.Model = GetEnv("ADSIM_LLM_MODEL", c.LLM.Model)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.ExperimentID == "":
		return Invalid("experiment_id", "must not be empty")
	case c.MaxAdsShownPerDay < 0:
		return Invalid("max_ads_shown_per_day", "must not be negative, got %d", c.MaxAdsShownPerDay)
	case c.AgentsExposedToAd < 0:
		return Invalid("agents_exposed_to_ad", "must not be negative, got %d", c.AgentsExposedToAd)
	case c.Concurrency < 0:
		return Invalid("concurrency", "must not be negative, got %d", c.Concurrency)
	case c.SimulationDays < 0:
		return Invalid("simulation_days", "must not be negative, got %d", c.SimulationDays)
	case c.DaysAdsCanEnter < 0:
		return Invalid("days_ads_can_enter", "must not be negative, got %d", c.DaysAdsCanEnter)
	case c.DaysAdsCanEnter > 0 && c.NewAdsPerDay <= 0:
		return Invalid("new_ads_per_day", "must be positive when days_ads_can_enter is set")
	case !llm.IsBackend(c.LLM.Backend):
		return Invalid("llm.backend", "unknown backend %q", c.LLM.Backend)
	}
	return nil
}

// Path resolves name against the data directory.
func (c *Config) Path(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.Paths.DataDir, name)
}

// Save writes the configuration as YAML. API keys are never written.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
