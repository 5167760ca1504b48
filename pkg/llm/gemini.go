package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"google.golang.org/genai"
)

// GeminiGenerator implements ContentGenerator using Google GenAI Gemini.
type GeminiGenerator struct {
	client *genai.Client
	model  string
	config *genai.GenerateContentConfig
}

// GeminiConfig holds configuration for the Gemini generator.
type GeminiConfig struct {
	APIKey   string // If empty, uses GOOGLE_API_KEY env var
	Model    string // e.g., "gemini-2.5-flash"
	JSONMode bool   // Ask for an application/json response
}

// DefaultGeminiModel is used when neither the config nor GOOGLE_MODEL names one.
const DefaultGeminiModel = "gemini-2.5-flash"

// NewGeminiGenerator creates a new Gemini generator.
func NewGeminiGenerator(ctx context.Context, cfg GeminiConfig) (*GeminiGenerator, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("GOOGLE_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("GOOGLE_API_KEY not set")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = os.Getenv("GOOGLE_MODEL")
	}
	if model == "" {
		model = DefaultGeminiModel
	}

	var genCfg *genai.GenerateContentConfig
	if cfg.JSONMode {
		genCfg = &genai.GenerateContentConfig{ResponseMIMEType: "application/json"}
	}

	return &GeminiGenerator{
		client: client,
		model:  model,
		config: genCfg,
	}, nil
}

// Generate produces a response from Gemini.
func (g *GeminiGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return g.GenerateWithConfig(ctx, prompt, g.config)
}

// GenerateWithConfig produces a response with custom generation config.
func (g *GeminiGenerator) GenerateWithConfig(ctx context.Context, prompt string, config *genai.GenerateContentConfig) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), config)
	if err != nil {
		return "", fmt.Errorf("%w: gemini generate failed: %v", ErrTransport, err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("%w: no candidates from gemini", ErrEmptyResponse)
	}

	result := joinParts(resp.Candidates[0].Content)
	if strings.TrimSpace(result) == "" {
		return "", fmt.Errorf("%w: gemini returned no text", ErrEmptyResponse)
	}
	return result, nil
}

// Model returns the model name.
func (g *GeminiGenerator) Model() string {
	return g.model
}

// joinParts concatenates the text parts of a content message.
func joinParts(content *genai.Content) string {
	if content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range content.Parts {
		if part != nil && part.Text != "" {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}
