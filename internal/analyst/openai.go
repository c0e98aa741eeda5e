package analyst

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"intelbrief/internal/config"
	"intelbrief/internal/core"
)

// openaiAnalyst speaks the chat-completions dialect against a configurable
// base URL, which covers OpenAI itself and the compatible gateways the
// analysis models are usually served through.
type openaiAnalyst struct {
	apiKey       string
	baseURL      string
	model        string
	temperature  float32
	systemPrompt string
	client       *http.Client
}

func newOpenAI(cfg config.OpenAIConfig, systemPrompt string) (*openaiAnalyst, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai analyst requires an API key (set OPENAI_API_KEY)")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("openai analyst requires a base URL (set OPENAI_BASE_URL)")
	}
	return &openaiAnalyst{
		apiKey:       cfg.APIKey,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		model:        cfg.Model,
		temperature:  cfg.Temperature,
		systemPrompt: systemPrompt,
		client:       &http.Client{Timeout: parseTimeout(cfg.Timeout, 60 * time.Second)},
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float32       `json:"temperature"`
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (o *openaiAnalyst) Analyze(ctx context.Context, title, summary string) (core.AnalysisResult, error) {
	req := chatRequest{
		Model: o.model,
		Messages: []chatMessage{
			{Role: "system", Content: o.systemPrompt},
			{Role: "user", Content: userMessage(title, summary)},
		},
		Temperature: o.temperature,
	}
	// Not every compatible gateway accepts response_format; only request
	// JSON mode from model families known to support it.
	if strings.Contains(o.model, "gpt-4o") || strings.Contains(o.model, "qwen") {
		req.ResponseFormat = &struct {
			Type string `json:"type"`
		}{Type: "json_object"}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return core.AnalysisResult{}, fmt.Errorf("encoding chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return core.AnalysisResult{}, fmt.Errorf("building chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return core.AnalysisResult{}, fmt.Errorf("analysis endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return core.AnalysisResult{}, fmt.Errorf("analysis endpoint returned %d: %s", resp.StatusCode, excerpt)
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return core.AnalysisResult{}, fmt.Errorf("decoding chat response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return core.AnalysisResult{}, fmt.Errorf("empty analysis response")
	}

	return parseVerdict(cr.Choices[0].Message.Content)
}
