// Package analyzer decides, after each exchange, whether anything worth
// remembering happened and whether the user issued a standing
// instruction. It runs after the reply is already on its way, so every
// failure path degrades to "nothing significant" instead of an error the
// caller must handle.
package analyzer

import (
	"context"
	"strings"

	"github.com/kdf-labs/empathicbot/pkg/logger"
	"github.com/kdf-labs/empathicbot/pkg/providers"
)

// Result is the analyzer's verdict on one exchange.
type Result struct {
	Significant bool
	Summary     string
	Instruction string
}

// DefaultResult is returned whenever analysis fails or produces nothing
// usable.
func DefaultResult() Result {
	return Result{
		Significant: false,
		Summary:     "No summary generated.",
		Instruction: "",
	}
}

const analysisSystemPrompt = `You review one exchange from a supportive mental-health conversation and decide what is worth remembering long term.

Respond with exactly three lines, nothing else:
SIGNIFICANT: yes or no
SUMMARY: one short third-person sentence capturing the durable fact, or a brief note if nothing stands out
INSTRUCTION: the user's standing instruction about how the assistant should behave in future sessions, or NONE

Mark SIGNIFICANT yes only for durable facts: life events, health changes, names, relationships, goals, recurring struggles. Small talk and transient moods are not significant.`

// Analyzer asks a model to judge one exchange.
type Analyzer struct {
	gen   providers.Generator
	model string
}

func New(gen providers.Generator, model string) *Analyzer {
	return &Analyzer{gen: gen, model: model}
}

// Analyze judges the exchange. It never returns an error: a failed or
// malformed analysis yields DefaultResult so the turn always completes.
func (a *Analyzer) Analyze(ctx context.Context, userMessage, assistantReply string) Result {
	if a == nil || a.gen == nil {
		return DefaultResult()
	}
	userMessage = strings.TrimSpace(userMessage)
	if userMessage == "" {
		return DefaultResult()
	}

	var sb strings.Builder
	sb.WriteString("User said:\n")
	sb.WriteString(userMessage)
	if strings.TrimSpace(assistantReply) != "" {
		sb.WriteString("\n\nAssistant replied:\n")
		sb.WriteString(assistantReply)
	}

	raw, err := a.gen.Generate(ctx, providers.GenerateRequest{
		System:   analysisSystemPrompt,
		Model:    a.model,
		Messages: []providers.Message{{Role: "user", Content: sb.String()}},
	})
	if err != nil {
		logger.WarnCF("analyzer", "analysis call failed, using defaults", map[string]interface{}{
			"error": err.Error(),
		})
		return DefaultResult()
	}
	return ParseMarkers(raw)
}

// ParseMarkers extracts the SIGNIFICANT / SUMMARY / INSTRUCTION lines
// from raw model output. Missing or malformed markers fall back to the
// safe defaults; extra prose around the markers is ignored.
func ParseMarkers(raw string) Result {
	result := DefaultResult()

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case hasMarker(line, "SIGNIFICANT:"):
			value := strings.ToLower(markerValue(line, "SIGNIFICANT:"))
			result.Significant = value == "yes" || value == "true"
		case hasMarker(line, "SUMMARY:"):
			if value := markerValue(line, "SUMMARY:"); value != "" {
				result.Summary = value
			}
		case hasMarker(line, "INSTRUCTION:"):
			value := markerValue(line, "INSTRUCTION:")
			if value != "" && !strings.EqualFold(value, "none") {
				result.Instruction = value
			}
		}
	}
	return result
}

func hasMarker(line, marker string) bool {
	return len(line) >= len(marker) && strings.EqualFold(line[:len(marker)], marker)
}

func markerValue(line, marker string) string {
	return strings.TrimSpace(line[len(marker):])
}
