package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/kdf-labs/empathicbot/pkg/logger"
)

// FallbackGenerator retries a request across an ordered model list.
// An empty completion counts as a failure, since the orchestrator has no
// use for a blank reply.
type FallbackGenerator struct {
	inner  Generator
	models []string
}

func NewFallbackGenerator(inner Generator, fallbackModels []string) *FallbackGenerator {
	models := make([]string, 0, len(fallbackModels)+1)
	if primary := strings.TrimSpace(inner.GetDefaultModel()); primary != "" {
		models = append(models, primary)
	}
	for _, m := range fallbackModels {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		duplicate := false
		for _, seen := range models {
			if seen == m {
				duplicate = true
				break
			}
		}
		if !duplicate {
			models = append(models, m)
		}
	}
	return &FallbackGenerator{inner: inner, models: models}
}

func (g *FallbackGenerator) GetDefaultModel() string {
	if len(g.models) == 0 {
		return g.inner.GetDefaultModel()
	}
	return g.models[0]
}

func (g *FallbackGenerator) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	if strings.TrimSpace(req.Model) != "" {
		return g.inner.Generate(ctx, req)
	}
	if len(g.models) == 0 {
		return g.inner.Generate(ctx, req)
	}

	var lastErr error
	for _, model := range g.models {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		attempt := req
		attempt.Model = model
		result, err := g.inner.Generate(ctx, attempt)
		if err != nil {
			logger.WarnCF("providers", "model attempt failed, trying next", map[string]interface{}{
				"model": model,
				"error": err.Error(),
			})
			lastErr = err
			continue
		}
		if strings.TrimSpace(result) == "" {
			logger.WarnCF("providers", "model returned empty completion, trying next", map[string]interface{}{
				"model": model,
			})
			lastErr = fmt.Errorf("model %s returned empty completion", model)
			continue
		}
		return result, nil
	}
	return "", fmt.Errorf("all models failed: %w", lastErr)
}
