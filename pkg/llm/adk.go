package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/adk/model"
	"google.golang.org/genai"
)

// TokenUsage accumulates token counts reported by a backend.
type TokenUsage struct {
	Prompt     int64 `json:"prompt_tokens"`
	Candidates int64 `json:"candidates_tokens"`
	Total      int64 `json:"total_tokens"`
	Calls      int64 `json:"calls"`
}

// ADKGenerator implements ContentGenerator on top of any ADK model.LLM.
type ADKGenerator struct {
	llm    model.LLM
	config *genai.GenerateContentConfig

	mu    sync.Mutex
	usage TokenUsage
}

// NewADKGenerator wraps m. config may be nil.
func NewADKGenerator(m model.LLM, config *genai.GenerateContentConfig) *ADKGenerator {
	return &ADKGenerator{llm: m, config: config}
}

// Generate sends prompt as a single user turn and concatenates the text of
// every response chunk.
func (g *ADKGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	req := &model.LLMRequest{
		Model: g.llm.Name(),
		Contents: []*genai.Content{
			{
				Role:  "user",
				Parts: []*genai.Part{{Text: prompt}},
			},
		},
		Config: g.config,
	}

	var b strings.Builder
	for resp, err := range g.llm.GenerateContent(ctx, req, false) {
		if err != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrTransport, g.llm.Name(), err)
		}
		if resp == nil {
			continue
		}
		g.recordUsage(resp.UsageMetadata)
		b.WriteString(joinParts(resp.Content))
	}

	text := b.String()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: %s returned no text", ErrEmptyResponse, g.llm.Name())
	}
	return text, nil
}

func (g *ADKGenerator) recordUsage(meta *genai.GenerateContentResponseUsageMetadata) {
	if meta == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.usage.Prompt += int64(meta.PromptTokenCount)
	g.usage.Candidates += int64(meta.CandidatesTokenCount)
	g.usage.Total += int64(meta.TotalTokenCount)
	g.usage.Calls++
}

// Usage returns the accumulated token usage.
func (g *ADKGenerator) Usage() TokenUsage {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.usage
}

// Model returns the wrapped model name.
func (g *ADKGenerator) Model() string {
	return g.llm.Name()
}
