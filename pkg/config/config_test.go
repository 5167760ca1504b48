package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cpunion/adsim/pkg/llm"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.SimulationDays != 100 || cfg.AgentsCount != 50 || cfg.MaxAdsShownPerDay != 5 {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.AgentsExposedToAd != 10 || cfg.Seed != 42 || cfg.ExperimentID != "default_exp" {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.DeactivationThreshold != -5 || cfg.LLM.Backend != llm.BackendMock {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sim.yaml")
	content := []byte("experiment_id: exp_a\nmax_ads_shown_per_day: 3\nllm:\n  backend: openai\n  model: gpt-file\n")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("ADSIM_AGENTS_EXPOSED_TO_AD", "7")
	t.Setenv("OPENAI_API_KEY", "sk-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ExperimentID != "exp_a" || cfg.MaxAdsShownPerDay != 3 {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.SimulationDays != 100 {
		t.Errorf("expected default for missing key, got %d", cfg.SimulationDays)
	}
	if cfg.AgentsExposedToAd != 7 {
		t.Errorf("env override not applied, got %d", cfg.AgentsExposedToAd)
	}
	if cfg.LLM.APIKey != "sk-env" || cfg.LLM.Model != "gpt-file" {
		t.Errorf("unexpected llm config %+v", cfg.LLM)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		field  string
		mutate func(*Config)
	}{
		{"max_ads_shown_per_day", func(c *Config) { c.MaxAdsShownPerDay = -1 }},
		{"agents_exposed_to_ad", func(c *Config) { c.AgentsExposedToAd = -2 }},
		{"experiment_id", func(c *Config) { c.ExperimentID = "" }},
		{"concurrency", func(c *Config) { c.Concurrency = -1 }},
		{"new_ads_per_day", func(c *Config) { c.DaysAdsCanEnter = 10; c.NewAdsPerDay = 0 }},
		{"llm.backend", func(c *Config) { c.LLM.Backend = "telepathy" }},
	}
	for _, tc := range cases {
		cfg := Default()
		tc.mutate(cfg)
		err := cfg.Validate()
		if !errors.Is(err, ErrConfiguration) {
			t.Errorf("%s: expected configuration error, got %v", tc.field, err)
			continue
		}
		var ce *ConfigurationError
		if !errors.As(err, &ce) || ce.Field != tc.field {
			t.Errorf("expected field %s, got %v", tc.field, err)
		}
	}
}

func TestSave_OmitsAPIKey(t *testing.T) {
	cfg := Default()
	cfg.LLM.APIKey = "secret"
	path := filepath.Join(t.TempDir(), "out", "sim.yaml")
	if err := cfg.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if strings.Contains(string(data), "secret") {
		t.Fatal("api key written to disk")
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded.Paths.Trace != cfg.Paths.Trace {
		t.Errorf("unexpected reloaded paths %+v", loaded.Paths)
	}
}

func TestPath(t *testing.T) {
	cfg := Default()
	cfg.Paths.DataDir = "/var/adsim"
	if got := cfg.Path("state.yaml"); got != filepath.Join("/var/adsim", "state.yaml") {
		t.Errorf("unexpected path %s", got)
	}
	if got := cfg.Path("/abs/x"); got != "/abs/x" {
		t.Errorf("absolute path changed: %s", got)
	}
}
