package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kdf-labs/empathicbot/pkg/config"
)

func TestCreateGenerator_OpenRouter_DefaultSelection(t *testing.T) {
	var seenAuth string
	var seenPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenAuth = r.Header.Get("Authorization")
		seenPath = r.URL.Path
		var req map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if got := req["model"]; got != "openai/gpt-5.2" {
			t.Fatalf("expected default model, got %v", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	cfg := config.DefaultConfig()
	cfg.Providers.OpenRouter.APIKey = "or-key"
	cfg.Providers.OpenRouter.APIBase = server.URL
	cfg.Providers.Generation = ""

	gen, err := CreateGenerator(cfg)
	if err != nil {
		t.Fatalf("create generator: %v", err)
	}
	resp, err := gen.Generate(context.Background(), GenerateRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if resp != "ok" {
		t.Fatalf("expected response ok, got %q", resp)
	}
	if seenAuth != "Bearer or-key" {
		t.Fatalf("expected openrouter auth bearer, got %q", seenAuth)
	}
	if seenPath != "/chat/completions" {
		t.Fatalf("expected /chat/completions path, got %q", seenPath)
	}
}

func TestOpenRouterProvider_SystemPromptBecomesSystemMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []Message `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Messages) != 2 {
			t.Fatalf("expected 2 messages, got %d", len(req.Messages))
		}
		if req.Messages[0].Role != "system" || req.Messages[0].Content != "be kind" {
			t.Fatalf("expected system message first, got %+v", req.Messages[0])
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"sure"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	p, err := NewOpenRouterProvider("key", server.URL, "m", "e", "", 0)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	if _, err := p.Generate(context.Background(), GenerateRequest{
		System:   "be kind",
		Messages: []Message{{Role: "user", Content: "hi"}},
	}); err != nil {
		t.Fatalf("generate: %v", err)
	}
}

func TestOpenRouterProvider_Embed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Fatalf("expected /embeddings path, got %q", r.URL.Path)
		}
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "embed-model" {
			t.Fatalf("expected embedding model, got %q", req.Model)
		}
		// Return vectors out of order to exercise index remapping.
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"index":1,"embedding":[0.5,0.5]},{"index":0,"embedding":[1,0]}]}`))
	}))
	defer server.Close()

	p, err := NewOpenRouterProvider("key", server.URL, "m", "embed-model", "", 0)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	vectors, err := p.Embed(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(vectors))
	}
	if vectors[0][0] != 1 || vectors[1][0] != 0.5 {
		t.Fatalf("vectors not remapped by index: %v", vectors)
	}
}

func TestOpenRouterProvider_EmbedErrorSurfacesStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer server.Close()

	p, err := NewOpenRouterProvider("key", server.URL, "m", "e", "", 0)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	_, err = p.Embed(context.Background(), []string{"text"})
	if err == nil {
		t.Fatal("expected error from 429 response")
	}
	if !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("expected API error message, got %v", err)
	}
}

type scriptedGenerator struct {
	defaultModel string
	responses    map[string]string
	errs         map[string]error
	calls        []string
}

func (g *scriptedGenerator) GetDefaultModel() string { return g.defaultModel }

func (g *scriptedGenerator) Generate(_ context.Context, req GenerateRequest) (string, error) {
	g.calls = append(g.calls, req.Model)
	if err, ok := g.errs[req.Model]; ok {
		return "", err
	}
	return g.responses[req.Model], nil
}

func TestFallbackGenerator_TriesModelsInOrder(t *testing.T) {
	inner := &scriptedGenerator{
		defaultModel: "primary",
		responses:    map[string]string{"backup-2": "recovered"},
		errs: map[string]error{
			"primary":  fmt.Errorf("upstream 500"),
			"backup-1": fmt.Errorf("upstream 502"),
		},
	}
	gen := NewFallbackGenerator(inner, []string{"backup-1", "backup-2"})

	result, err := gen.Generate(context.Background(), GenerateRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if result != "recovered" {
		t.Fatalf("expected recovered, got %q", result)
	}
	want := []string{"primary", "backup-1", "backup-2"}
	if len(inner.calls) != len(want) {
		t.Fatalf("expected calls %v, got %v", want, inner.calls)
	}
	for i := range want {
		if inner.calls[i] != want[i] {
			t.Fatalf("expected calls %v, got %v", want, inner.calls)
		}
	}
}

func TestFallbackGenerator_EmptyCompletionIsFailure(t *testing.T) {
	inner := &scriptedGenerator{
		defaultModel: "primary",
		responses:    map[string]string{"primary": "   ", "backup": "real reply"},
	}
	gen := NewFallbackGenerator(inner, []string{"backup"})

	result, err := gen.Generate(context.Background(), GenerateRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if result != "real reply" {
		t.Fatalf("expected fallback reply, got %q", result)
	}
}

func TestFallbackGenerator_ExplicitModelSkipsChain(t *testing.T) {
	inner := &scriptedGenerator{
		defaultModel: "primary",
		responses:    map[string]string{"chosen": "done"},
	}
	gen := NewFallbackGenerator(inner, []string{"backup"})

	result, err := gen.Generate(context.Background(), GenerateRequest{
		Model:    "chosen",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if result != "done" {
		t.Fatalf("expected done, got %q", result)
	}
	if len(inner.calls) != 1 || inner.calls[0] != "chosen" {
		t.Fatalf("expected single call with chosen model, got %v", inner.calls)
	}
}

func TestFallbackGenerator_AllModelsFail(t *testing.T) {
	inner := &scriptedGenerator{
		defaultModel: "primary",
		errs: map[string]error{
			"primary": fmt.Errorf("down"),
			"backup":  fmt.Errorf("also down"),
		},
	}
	gen := NewFallbackGenerator(inner, []string{"backup"})

	_, err := gen.Generate(context.Background(), GenerateRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err == nil {
		t.Fatal("expected error when every model fails")
	}
	if !strings.Contains(err.Error(), "all models failed") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCreateEmbedder_FallsBackToLocalWithoutKey(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Providers.OpenRouter.APIKey = ""

	emb, err := CreateEmbedder(cfg)
	if err != nil {
		t.Fatalf("create embedder: %v", err)
	}
	if emb.ModelID() != ChargramEmbeddingModel {
		t.Fatalf("expected local chargram embedder, got %q", emb.ModelID())
	}
}

func TestCreateGenerator_UnsupportedProvider(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Providers.Generation = "mystery"

	if _, err := CreateGenerator(cfg); err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}
