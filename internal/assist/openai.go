package assist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
}

// OpenAIProvider talks to the OpenAI chat completions API. A missing
// API key is a normal runtime outcome reported per request, so
// construction never fails.
type OpenAIProvider struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	client      *http.Client
}

func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIProvider{
		baseURL:     baseURL,
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       model,
		temperature: cfg.Temperature,
		// the waterfall enforces the per-attempt deadline through ctx
		client: &http.Client{},
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Request(ctx context.Context, query string, schema Schema) Response {
	if p.apiKey == "" {
		return errorResponse("OpenAI API key not configured")
	}

	payload := map[string]any{
		"model": p.model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": buildUserPrompt(query, schema)},
		},
		"temperature": p.temperature,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return errorResponse(fmt.Sprintf("marshal chat payload: %v", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return errorResponse(fmt.Sprintf("build chat request: %v", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return errorResponse(fmt.Sprintf("transport error: %v", err))
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errorResponse(fmt.Sprintf("read chat response body: %v", err))
	}
	if resp.StatusCode >= 400 {
		return errorResponse(httpFailureMessage(resp.StatusCode, raw))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return errorResponse(fmt.Sprintf("malformed reply: %v", err))
	}
	if len(parsed.Choices) == 0 {
		return errorResponse("malformed reply: empty choices")
	}

	result := parseAssistantReply(parsed.Choices[0].Message.Content)
	result.Provider = p.Name()
	return result
}
