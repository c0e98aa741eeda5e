package analyst

import (
	"context"
	"fmt"

	"intelbrief/internal/config"
	"intelbrief/internal/core"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// geminiAnalyst drives the verdict through the Gemini SDK instead of an
// OpenAI-compatible gateway.
type geminiAnalyst struct {
	client       *genai.Client
	modelName    string
	temperature  float32
	systemPrompt string
}

func newGemini(cfg config.GeminiConfig, systemPrompt string) (*geminiAnalyst, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini analyst requires an API key (set GEMINI_API_KEY)")
	}
	client, err := genai.NewClient(context.Background(), option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &geminiAnalyst{
		client:       client,
		modelName:    cfg.Model,
		temperature:  cfg.Temperature,
		systemPrompt: systemPrompt,
	}, nil
}

func (g *geminiAnalyst) Analyze(ctx context.Context, title, summary string) (core.AnalysisResult, error) {
	model := g.client.GenerativeModel(g.modelName)
	model.SetTemperature(g.temperature)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(g.systemPrompt)},
	}

	resp, err := model.GenerateContent(ctx, genai.Text(userMessage(title, summary)))
	if err != nil {
		return core.AnalysisResult{}, fmt.Errorf("gemini analysis: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return core.AnalysisResult{}, fmt.Errorf("empty gemini response")
	}

	var text string
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text += string(t)
		}
	}
	if text == "" {
		return core.AnalysisResult{}, fmt.Errorf("gemini response carries no text")
	}

	return parseVerdict(text)
}
