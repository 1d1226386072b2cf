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

type OllamaConfig struct {
	BaseURL string
	Model   string
}

// OllamaProvider targets a local Ollama daemon through its
// OpenAI-compatible chat endpoint. No credential is involved, so the
// usual failure mode is a connection refusal when the daemon is down.
type OllamaProvider struct {
	baseURL string
	model   string
	client  *http.Client
}

func NewOllamaProvider(cfg OllamaConfig) *OllamaProvider {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "llama3.1"
	}
	return &OllamaProvider{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{},
	}
}

func (p *OllamaProvider) Name() string { return "ollama" }

func (p *OllamaProvider) Request(ctx context.Context, query string, schema Schema) Response {
	payload := map[string]any{
		"model": p.model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": buildUserPrompt(query, schema)},
		},
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
