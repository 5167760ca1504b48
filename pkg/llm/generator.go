// Package llm provides content generation backends.
//
// Every backend implements ContentGenerator: a prompt goes in, raw response
// text comes out. Failures are reported as ErrTransport or ErrEmptyResponse
// so callers can skip the exposure without inspecting backend details.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrTransport marks a failed call to a backend.
	ErrTransport = errors.New("llm transport error")
	// ErrEmptyResponse marks a call that succeeded but produced no usable text.
	ErrEmptyResponse = errors.New("llm empty response")
)

// ContentGenerator turns a prompt into response text.
type ContentGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Model() string
}

// GeneratorFunc adapts a function to ContentGenerator.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

// Generate implements ContentGenerator.
func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Model implements ContentGenerator.
func (f GeneratorFunc) Model() string {
	return "func"
}

// Backend names.
const (
	BackendMock   = "mock"
	BackendGoogle = "google"
	BackendADK    = "adk"
	BackendOpenAI = "openai"
	BackendLocal  = "local"
)

// Backends lists every supported backend name.
var Backends = []string{BackendMock, BackendGoogle, BackendADK, BackendOpenAI, BackendLocal}

// IsBackend reports whether name is a supported backend.
func IsBackend(name string) bool {
	for _, b := range Backends {
		if b == name {
			return true
		}
	}
	return false
}

// Config selects and configures a backend.
type Config struct {
	Backend  string        `yaml:"backend"`
	Model    string        `yaml:"model"`
	APIKey   string        `yaml:"-"`
	BaseURL  string        `yaml:"base_url"` // OpenAI-compatible or Ollama endpoint
	Timeout  time.Duration `yaml:"timeout"`
	JSONMode bool          `yaml:"json_mode"`
	Retries  int           `yaml:"retries"`
}

// DefaultConfig returns the offline configuration.
func DefaultConfig() Config {
	return Config{
		Backend:  BackendMock,
		Timeout:  60 * time.Second,
		JSONMode: true,
		Retries:  2,
	}
}

// New resolves cfg.Backend to a generator. The adk backend needs a model
// and is constructed with NewADKGenerator instead.
func New(ctx context.Context, cfg Config) (ContentGenerator, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", BackendMock:
		return NewMockGenerator(), nil
	case BackendGoogle:
		return NewGeminiGenerator(ctx, GeminiConfig{APIKey: cfg.APIKey, Model: cfg.Model, JSONMode: cfg.JSONMode})
	case BackendOpenAI:
		return NewOpenAIGenerator(OpenAIConfig{
			APIKey:   cfg.APIKey,
			Model:    cfg.Model,
			BaseURL:  cfg.BaseURL,
			Timeout:  cfg.Timeout,
			JSONMode: cfg.JSONMode,
		}), nil
	case BackendLocal:
		return NewOllamaGenerator(OllamaConfig{
			Model:    cfg.Model,
			BaseURL:  cfg.BaseURL,
			Timeout:  cfg.Timeout,
			JSONMode: cfg.JSONMode,
		}), nil
	case BackendADK:
		return nil, fmt.Errorf("adk backend requires a model, use NewADKGenerator")
	default:
		return nil, fmt.Errorf("unknown llm backend %q", cfg.Backend)
	}
}
