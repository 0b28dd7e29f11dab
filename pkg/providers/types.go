package providers

import "context"

// Message is a single turn of dialogue sent to a model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerateRequest carries one model call. System travels separately from
// Messages because the Anthropic API takes it as a dedicated channel.
type GenerateRequest struct {
	System      string
	Messages    []Message
	Model       string
	MaxTokens   int
	Temperature float64
}

// UsageInfo reports token accounting when the backend returns it.
type UsageInfo struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Generator produces a model completion for a request.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
	GetDefaultModel() string
}

// Embedder converts texts into dense vectors. Implementations return an
// error rather than zero vectors when the backend fails, so callers can
// distinguish "no match" from "embedding unavailable".
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	ModelID() string
}
