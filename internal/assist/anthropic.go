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

type AnthropicConfig struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
}

type AnthropicProvider struct {
	baseURL   string
	apiKey    string
	model     string
	maxTokens int
	client    *http.Client
}

func NewAnthropicProvider(cfg AnthropicConfig) *AnthropicProvider {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &AnthropicProvider{
		baseURL:   baseURL,
		apiKey:    strings.TrimSpace(cfg.APIKey),
		model:     model,
		maxTokens: maxTokens,
		client:    &http.Client{},
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Request(ctx context.Context, query string, schema Schema) Response {
	if p.apiKey == "" {
		return errorResponse("Anthropic API key not configured")
	}

	payload := anthropicRequest{
		Model:     p.model,
		MaxTokens: p.maxTokens,
		System:    systemPrompt,
		Messages: []anthropicMessage{
			{
				Role: "user",
				Content: []anthropicContent{
					{Type: "text", Text: buildUserPrompt(query, schema)},
				},
			},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return errorResponse(fmt.Sprintf("marshal messages payload: %v", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return errorResponse(fmt.Sprintf("build messages request: %v", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return errorResponse(fmt.Sprintf("transport error: %v", err))
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errorResponse(fmt.Sprintf("read messages response body: %v", err))
	}
	if resp.StatusCode >= 400 {
		return errorResponse(httpFailureMessage(resp.StatusCode, raw))
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return errorResponse(fmt.Sprintf("malformed reply: %v", err))
	}
	text := parsed.firstText()
	if strings.TrimSpace(text) == "" {
		return errorResponse("malformed reply: empty content")
	}

	result := parseAssistantReply(text)
	result.Provider = p.Name()
	return result
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

func (a anthropicResponse) firstText() string {
	if len(a.Content) == 0 {
		return ""
	}
	return a.Content[0].Text
}
