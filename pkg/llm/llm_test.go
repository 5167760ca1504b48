package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	ailibmodel "github.com/cpunion/ailib/adk/model"
	adkmodel "google.golang.org/adk/model"
	"google.golang.org/genai"

	"github.com/cpunion/adsim/pkg/types"
)

func TestNew_Backends(t *testing.T) {
	ctx := context.Background()

	g, err := New(ctx, Config{Backend: BackendMock})
	if err != nil {
		t.Fatalf("mock backend: %v", err)
	}
	if g.Model() != BackendMock {
		t.Errorf("unexpected mock model %q", g.Model())
	}

	if _, err := New(ctx, Config{Backend: "carrier-pigeon"}); err == nil {
		t.Error("expected error for unknown backend")
	}
	if _, err := New(ctx, Config{Backend: BackendADK}); err == nil {
		t.Error("expected error for adk without a model")
	}

	g, err = New(ctx, Config{Backend: BackendOpenAI, APIKey: "sk-test", Model: "gpt-test"})
	if err != nil {
		t.Fatalf("openai backend: %v", err)
	}
	if _, ok := g.(*OpenAIGenerator); !ok || g.Model() != "gpt-test" {
		t.Errorf("unexpected openai generator %T %q", g, g.Model())
	}
	if !IsBackend(BackendLocal) || IsBackend("nope") {
		t.Error("unexpected IsBackend result")
	}
}

func TestOpenAIGenerator(t *testing.T) {
	var gotFormat string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing bearer token")
		}
		var req openAIChatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.ResponseFormat != nil {
			gotFormat = req.ResponseFormat.Type
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"test\": \"ok\"}"}}]}`))
	}))
	defer srv.Close()

	g := NewOpenAIGenerator(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1", JSONMode: true})
	out, err := g.Generate(context.Background(), "Hello")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out != `{"test": "ok"}` {
		t.Errorf("unexpected output %q", out)
	}
	if gotFormat != "json_object" {
		t.Errorf("expected json_object response format, got %q", gotFormat)
	}
}

func TestOpenAIGenerator_Failures(t *testing.T) {
	status := http.StatusInternalServerError
	body := `oops`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	g := NewOpenAIGenerator(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL})
	_, err := g.Generate(context.Background(), "Hello")
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || !se.Retryable() {
		t.Errorf("expected retryable status error, got %v", err)
	}

	status = http.StatusOK
	body = `{"choices":[]}`
	if _, err := g.Generate(context.Background(), "Hello"); !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("expected empty response error, got %v", err)
	}

	noKey := NewOpenAIGenerator(OpenAIConfig{BaseURL: srv.URL})
	noKey.apiKey = ""
	if _, err := noKey.Generate(context.Background(), "Hello"); !errors.Is(err, ErrTransport) {
		t.Errorf("expected transport error without key, got %v", err)
	}
}

func TestOllamaGenerator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req ollamaRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Stream || req.Format != "json" || req.Model != "llama3" {
			t.Errorf("unexpected request %+v", req)
		}
		_, _ = w.Write([]byte(`{"response":"{\"click\": true}"}`))
	}))
	defer srv.Close()

	g := NewOllamaGenerator(OllamaConfig{BaseURL: srv.URL, JSONMode: true})
	out, err := g.Generate(context.Background(), "Hi")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out != `{"click": true}` {
		t.Errorf("unexpected output %q", out)
	}
}

func TestADKGenerator_UsesModelAndTracksUsage(t *testing.T) {
	mock := ailibmodel.NewMockLLM(&adkmodel.LLMResponse{
		Content: &genai.Content{
			Role: "model",
			Parts: []*genai.Part{
				{Text: `{"like": true}`},
			},
		},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     11,
			CandidatesTokenCount: 22,
			TotalTokenCount:      33,
		},
	})

	g := NewADKGenerator(mock, nil)
	out, err := g.Generate(context.Background(), "react")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out != `{"like": true}` {
		t.Errorf("unexpected output %q", out)
	}
	usage := g.Usage()
	if usage.Prompt != 11 || usage.Candidates != 22 || usage.Total != 33 || usage.Calls != 1 {
		t.Errorf("unexpected usage %+v", usage)
	}
	if g.Model() == "" {
		t.Error("expected model name")
	}
}

func TestMockGenerator_Deterministic(t *testing.T) {
	g := NewMockGenerator()
	ctx := context.Background()

	a, err := g.Generate(ctx, "prompt one")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	b, _ := g.Generate(ctx, "prompt one")
	if a != b {
		t.Errorf("mock output differs for identical prompt")
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(a), &decoded); err != nil {
		t.Fatalf("mock output is not JSON: %v", err)
	}
	for _, axis := range types.Axes {
		v, ok := decoded[string(axis)+"_change"].(float64)
		if !ok || v < -10 || v > 10 {
			t.Errorf("unexpected delta for %s: %v", axis, decoded[string(axis)+"_change"])
		}
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := g.Generate(cancelled, "x"); !errors.Is(err, ErrTransport) {
		t.Errorf("expected transport error on cancelled context, got %v", err)
	}
}

func TestGuard_RetriesTransportErrors(t *testing.T) {
	var calls atomic.Int32
	flaky := GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		if calls.Add(1) < 3 {
			return "", ErrTransport
		}
		return "ok", nil
	})

	g := NewGuard(flaky, GuardConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond})
	out, err := g.Generate(context.Background(), "p")
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if out != "ok" || calls.Load() != 3 {
		t.Errorf("unexpected result %q after %d calls", out, calls.Load())
	}
}

func TestGuard_DoesNotRetryEmptyResponses(t *testing.T) {
	var calls atomic.Int32
	empty := GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		calls.Add(1)
		return "", ErrEmptyResponse
	})

	g := NewGuard(empty, GuardConfig{MaxRetries: 3, BaseDelay: time.Millisecond})
	if _, err := g.Generate(context.Background(), "p"); !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected empty response error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected a single call, got %d", calls.Load())
	}
	if g.Model() != "func" {
		t.Errorf("unexpected model %q", g.Model())
	}
}

func TestRenderPrompt_Default(t *testing.T) {
	a := types.Agent{ID: "u1", Age: 34, Profession: []string{"nurse"}}
	item := &types.ContentItem{ID: "ad1", VisualStyle: "minimal", EmotionLabel: "joy"}

	pc := BuildPromptContext(a, types.EmotionalState{}, item, 3, nil)
	out, err := RenderPrompt("", pc)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	for _, want := range []string{"34 year old nurse", "Day 3", NoEventsText, "Visual Style: minimal", "Features: ", `"reaction_description"`} {
		if !strings.Contains(out, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if strings.Contains(out, "{daily_events}") {
		t.Error("placeholder left unreplaced")
	}
}

func TestRenderPrompt_EventsAndTemplate(t *testing.T) {
	a := types.Agent{ID: "u1", Persona: "A retired sailor."}
	item := &types.ContentItem{ID: "ad1", Description: "A boat on a lake."}
	pc := BuildPromptContext(a, types.EmotionalState{}, item, 7, []string{"Storm", "Birthday"})

	if pc.DailyEvents != "- Storm\n- Birthday" {
		t.Errorf("unexpected events text %q", pc.DailyEvents)
	}

	out, err := RenderPrompt("{{.PersonaNarrative}} day={{.Day}} n={{len .Events}}", pc)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out != "A retired sailor. day=7 n=2" {
		t.Errorf("unexpected output %q", out)
	}

	if _, err := RenderPrompt("{{.Missing", pc); err == nil {
		t.Error("expected parse error")
	}
}
