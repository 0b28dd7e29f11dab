package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultHTTPTimeout = 60 * time.Second

// OpenRouterProvider talks to an OpenAI-compatible API: chat completions
// for generation and /embeddings for vectors.
type OpenRouterProvider struct {
	apiBase        string
	defaultModel   string
	embeddingModel string
	auth           AuthStrategy
	httpClient     *http.Client
}

func NewOpenRouterProvider(apiKey, apiBase, model, embeddingModel, proxy string, timeout time.Duration) (*OpenRouterProvider, error) {
	apiBase = strings.TrimRight(strings.TrimSpace(apiBase), "/")
	if apiBase == "" {
		return nil, fmt.Errorf("openrouter API base not configured")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("openrouter API key not configured")
	}
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}

	client := &http.Client{Timeout: timeout}
	proxy = strings.TrimSpace(proxy)
	if proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("parse openrouter proxy: %w", err)
		}
		client.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	}

	return &OpenRouterProvider{
		apiBase:        apiBase,
		defaultModel:   strings.TrimSpace(model),
		embeddingModel: strings.TrimSpace(embeddingModel),
		auth:           NewBearerTokenAuth(NewStaticTokenSource(apiKey, "openrouter")),
		httpClient:     client,
	}, nil
}

func (p *OpenRouterProvider) GetDefaultModel() string {
	if p == nil {
		return ""
	}
	return p.defaultModel
}

func (p *OpenRouterProvider) ModelID() string {
	if p == nil {
		return ""
	}
	return p.embeddingModel
}

func (p *OpenRouterProvider) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	if p == nil {
		return "", fmt.Errorf("provider not initialized")
	}

	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = p.defaultModel
	}

	messages := make([]Message, 0, len(req.Messages)+1)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, Message{Role: "system", Content: req.System})
	}
	messages = append(messages, req.Messages...)

	requestBody := map[string]interface{}{
		"model":    model,
		"messages": messages,
	}
	if req.MaxTokens > 0 {
		requestBody["max_tokens"] = req.MaxTokens
	}
	if req.Temperature > 0 {
		requestBody["temperature"] = req.Temperature
	}

	body, err := p.post(ctx, "/chat/completions", requestBody)
	if err != nil {
		return "", err
	}

	result, err := parseChatCompletionsResponse(body)
	if err != nil {
		return "", fmt.Errorf("parse openrouter response: %w", err)
	}
	return result, nil
}

func (p *OpenRouterProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if p == nil {
		return nil, fmt.Errorf("provider not initialized")
	}
	if len(texts) == 0 {
		return nil, nil
	}

	requestBody := map[string]interface{}{
		"model": p.embeddingModel,
		"input": texts,
	}

	body, err := p.post(ctx, "/embeddings", requestBody)
	if err != nil {
		return nil, err
	}

	var apiResponse struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &apiResponse); err != nil {
		return nil, fmt.Errorf("parse openrouter embeddings response: %w", err)
	}
	if len(apiResponse.Data) != len(texts) {
		return nil, fmt.Errorf("openrouter embeddings returned %d vectors for %d inputs", len(apiResponse.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, item := range apiResponse.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, fmt.Errorf("openrouter embeddings returned out-of-range index %d", item.Index)
		}
		vectors[item.Index] = item.Embedding
	}
	return vectors, nil
}

func (p *OpenRouterProvider) post(ctx context.Context, path string, payload map[string]interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal openrouter request: %w", err)
	}

	endpoint := p.apiBase + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create openrouter request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if err := p.auth.Apply(ctx, req); err != nil {
		return nil, fmt.Errorf("apply openrouter auth: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send openrouter request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read openrouter response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("openrouter API request failed: status=%d error=%s", resp.StatusCode, extractAPIError(body))
	}
	return body, nil
}

func parseChatCompletionsResponse(body []byte) (string, error) {
	var apiResponse struct {
		Choices []struct {
			Message struct {
				Content interface{} `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage *UsageInfo `json:"usage"`
	}

	if err := json.Unmarshal(body, &apiResponse); err != nil {
		return "", err
	}

	if len(apiResponse.Choices) == 0 {
		return "", nil
	}
	return flattenMessageContent(apiResponse.Choices[0].Message.Content), nil
}

func flattenMessageContent(raw interface{}) string {
	switch v := raw.(type) {
	case string:
		return v
	case []interface{}:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			m, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			if text, ok := m["text"].(string); ok {
				parts = append(parts, text)
				continue
			}
			if content, ok := m["content"].(string); ok {
				parts = append(parts, content)
			}
		}
		return strings.Join(parts, "")
	default:
		return ""
	}
}

func extractAPIError(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return "empty response body"
	}

	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if msg := strings.TrimSpace(payload.Error.Message); msg != "" {
			return msg
		}
		if msg := strings.TrimSpace(payload.Message); msg != "" {
			return msg
		}
	}

	if len(trimmed) > 2000 {
		return trimmed[:2000] + "..."
	}
	return trimmed
}
