package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	openAIDefaultBaseURL = "https://api.openai.com/v1"
	openAIDefaultModel   = "gpt-4o-mini"

	ollamaDefaultBaseURL = "http://localhost:11434"
	ollamaDefaultModel   = "llama3"

	defaultHTTPTimeout = 60 * time.Second
)

// OpenAIConfig configures an OpenAI-compatible chat completions backend.
type OpenAIConfig struct {
	APIKey   string // If empty, uses OPENAI_API_KEY env var
	Model    string
	BaseURL  string // e.g. https://api.openai.com/v1
	Timeout  time.Duration
	JSONMode bool
}

// OpenAIGenerator implements ContentGenerator using the chat completions API.
type OpenAIGenerator struct {
	apiKey   string
	model    string
	endpoint string
	jsonMode bool
	client   *http.Client
}

// NewOpenAIGenerator creates a new OpenAI-compatible generator.
func NewOpenAIGenerator(cfg OpenAIConfig) *OpenAIGenerator {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	model := cfg.Model
	if model == "" {
		model = openAIDefaultModel
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = openAIDefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultHTTPTimeout
	}

	return &OpenAIGenerator{
		apiKey:   apiKey,
		model:    model,
		endpoint: base + "/chat/completions",
		jsonMode: cfg.JSONMode,
		client:   &http.Client{Timeout: timeout},
	}
}

type openAIChatRequest struct {
	Model          string              `json:"model"`
	Messages       []openAIChatMessage `json:"messages"`
	ResponseFormat *openAIFormat       `json:"response_format,omitempty"`
}

type openAIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIFormat struct {
	Type string `json:"type"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Generate implements ContentGenerator.
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if g.apiKey == "" {
		return "", fmt.Errorf("%w: OPENAI_API_KEY not set", ErrTransport)
	}

	reqBody := openAIChatRequest{
		Model:    g.model,
		Messages: []openAIChatMessage{{Role: "user", Content: prompt}},
	}
	if g.jsonMode {
		reqBody.ResponseFormat = &openAIFormat{Type: "json_object"}
	}

	body, err := postJSON(ctx, g.client, g.endpoint, map[string]string{"Authorization": "Bearer " + g.apiKey}, reqBody)
	if err != nil {
		return "", err
	}

	var chatResp openAIChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", fmt.Errorf("%w: parsing API response: %v", ErrTransport, err)
	}
	if chatResp.Error != nil {
		return "", fmt.Errorf("%w: API error: %s", ErrTransport, chatResp.Error.Message)
	}
	if len(chatResp.Choices) == 0 || strings.TrimSpace(chatResp.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("%w: no choices in API response", ErrEmptyResponse)
	}
	return chatResp.Choices[0].Message.Content, nil
}

// Model returns the model name.
func (g *OpenAIGenerator) Model() string {
	return g.model
}

// OllamaConfig configures a local Ollama backend.
type OllamaConfig struct {
	Model    string
	BaseURL  string // e.g. http://localhost:11434
	Timeout  time.Duration
	JSONMode bool
}

// OllamaGenerator implements ContentGenerator using Ollama's generate API.
type OllamaGenerator struct {
	model    string
	endpoint string
	jsonMode bool
	client   *http.Client
}

// NewOllamaGenerator creates a new local generator.
func NewOllamaGenerator(cfg OllamaConfig) *OllamaGenerator {
	model := cfg.Model
	if model == "" {
		model = ollamaDefaultModel
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = ollamaDefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultHTTPTimeout
	}
	return &OllamaGenerator{
		model:    model,
		endpoint: base + "/api/generate",
		jsonMode: cfg.JSONMode,
		client:   &http.Client{Timeout: timeout},
	}
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	Format string `json:"format,omitempty"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

// Generate implements ContentGenerator.
func (g *OllamaGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	reqBody := ollamaRequest{Model: g.model, Prompt: prompt}
	if g.jsonMode {
		reqBody.Format = "json"
	}

	body, err := postJSON(ctx, g.client, g.endpoint, nil, reqBody)
	if err != nil {
		return "", err
	}

	var resp ollamaResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: parsing API response: %v", ErrTransport, err)
	}
	if resp.Error != "" {
		return "", fmt.Errorf("%w: API error: %s", ErrTransport, resp.Error)
	}
	if strings.TrimSpace(resp.Response) == "" {
		return "", fmt.Errorf("%w: empty ollama response", ErrEmptyResponse)
	}
	return resp.Response, nil
}

// Model returns the model name.
func (g *OllamaGenerator) Model() string {
	return g.model
}

// postJSON sends payload and returns the body of a 200 response. Every
// failure is wrapped in ErrTransport.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, payload any) ([]byte, error) {
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %v", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: sending request: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response body: %v", ErrTransport, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// StatusError is a non-200 HTTP response from a backend.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API returned status %d: %s", e.Code, e.Body)
}

// Unwrap lets errors.Is match ErrTransport.
func (e *StatusError) Unwrap() error {
	return ErrTransport
}

// Retryable reports whether the status is worth retrying.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}
