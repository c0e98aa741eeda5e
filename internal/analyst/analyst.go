// Package analyst produces structured intelligence verdicts for articles via
// a chat-style LLM. Two providers are supported: an OpenAI-compatible
// endpoint (default) and Google Gemini. Parsing and fallback behavior is
// shared; only the transport differs.
package analyst

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"intelbrief/internal/config"
	"intelbrief/internal/core"
)

// DefaultSystemPrompt is used when the prompt template file is absent or
// unreadable.
const DefaultSystemPrompt = "You are a Senior Industry Analyst."

// fallbackOpinion is the fixed opinion string of the low-confidence verdict.
const fallbackOpinion = "分析引擎响应异常"

// Analyst turns an article's title and summary into an analysis verdict.
type Analyst interface {
	Analyze(ctx context.Context, title, summary string) (core.AnalysisResult, error)
}

// New selects a provider from configuration.
func New(cfg config.AI) (Analyst, error) {
	prompt := LoadSystemPrompt(cfg.PromptPath)
	switch cfg.Provider {
	case "", "openai":
		return newOpenAI(cfg.OpenAI, prompt)
	case "gemini":
		return newGemini(cfg.Gemini, prompt)
	default:
		return nil, fmt.Errorf("unknown analyst provider %q (valid: openai, gemini)", cfg.Provider)
	}
}

// LoadSystemPrompt reads the prompt template file, falling back to the
// literal default when the file is missing or unreadable.
func LoadSystemPrompt(path string) string {
	if path == "" {
		return DefaultSystemPrompt
	}
	data, err := os.ReadFile(path)
	if err != nil || len(strings.TrimSpace(string(data))) == 0 {
		return DefaultSystemPrompt
	}
	return string(data)
}

// userMessage formats the per-article input sent to the model.
func userMessage(title, summary string) string {
	return fmt.Sprintf("TITLE: %s\nSUMMARY: %s", title, summary)
}

// verdict mirrors the model's JSON output. actionable_insight is the legacy
// name for opinion and is renamed on read.
type verdict struct {
	Polarity          string        `json:"polarity"`
	Fact              string        `json:"fact"`
	Impacts           []core.Impact `json:"impacts"`
	Opinion           string        `json:"opinion"`
	ActionableInsight string        `json:"actionable_insight"`
	Tags              []string      `json:"tags"`
}

// parseVerdict strips surrounding code fences and decodes the model output.
func parseVerdict(raw string) (core.AnalysisResult, error) {
	cleaned := stripCodeFence(raw)

	var v verdict
	if err := json.Unmarshal([]byte(cleaned), &v); err != nil {
		return core.AnalysisResult{}, fmt.Errorf("analysis response is not valid JSON: %w", err)
	}

	opinion := v.Opinion
	if opinion == "" {
		opinion = v.ActionableInsight
	}

	result := core.AnalysisResult{
		Polarity: normalizePolarity(v.Polarity),
		Impacts:  v.Impacts,
		Opinion:  opinion,
		Tags:     v.Tags,
		Fact:     v.Fact,
	}
	if result.Impacts == nil {
		result.Impacts = []core.Impact{}
	}
	if result.Tags == nil {
		result.Tags = []string{}
	}
	return result, nil
}

// Fallback is the documented low-confidence verdict returned to callers when
// the analyst fails. It is never persisted.
func Fallback(title, summary string) core.AnalysisResult {
	return core.AnalysisResult{
		Polarity: core.PolarityNeutral,
		Impacts:  []core.Impact{},
		Opinion:  fallbackOpinion,
		Tags:     []string{},
		Fact:     truncateRunes(summary, 40),
	}
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	// Drop the opening fence line (which may carry a language tag) and the
	// trailing fence.
	if idx := strings.Index(s, "\n"); idx >= 0 {
		s = s[idx+1:]
	}
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

func normalizePolarity(s string) core.Polarity {
	switch core.Polarity(strings.ToLower(strings.TrimSpace(s))) {
	case core.PolarityPositive:
		return core.PolarityPositive
	case core.PolarityNegative:
		return core.PolarityNegative
	default:
		return core.PolarityNeutral
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func parseTimeout(s string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return fallback
}
