package assist

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// ResponseType says what kind of answer a provider produced.
type ResponseType string

const (
	TypeFormula        ResponseType = "formula"
	TypeTransformation ResponseType = "transformation"
	TypeError          ResponseType = "error"
)

// Response is the single result shape for the whole assist pipeline.
// Providers report every outcome through it, expected failures such as
// a missing API key included; they do not return a separate error.
// Provider is filled in on success only.
type Response struct {
	Success     bool         `json:"success"`
	Type        ResponseType `json:"type"`
	Code        string       `json:"code,omitempty"`
	Explanation string       `json:"explanation,omitempty"`
	Error       string       `json:"error,omitempty"`
	Provider    string       `json:"provider,omitempty"`
}

// Provider is one completion backend. Request performs exactly one
// outbound call; the payload may carry the schema and the query but
// never raw spreadsheet rows.
type Provider interface {
	Name() string
	Request(ctx context.Context, query string, schema Schema) Response
}

const systemPrompt = "You are a spreadsheet formula assistant. " +
	"Given a dataset schema (column names and inferred types only) and a user request, " +
	"reply with a single JSON object: " +
	`{"type":"formula"|"transformation","code":"<formula or script>","explanation":"<one short paragraph>"}. ` +
	"Use type formula for a single Excel-style formula and type transformation for a short data-transformation script. " +
	"Do not wrap the JSON in markdown and do not ask follow-up questions."

func buildUserPrompt(query string, schema Schema) string {
	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		schemaJSON = []byte("{}")
	}
	return fmt.Sprintf("Dataset schema:\n%s\n\nRequest:\n%s", schemaJSON, strings.TrimSpace(query))
}

func errorResponse(message string) Response {
	return Response{Success: false, Type: TypeError, Error: message}
}

func httpFailureMessage(status int, body []byte) string {
	excerpt := strings.TrimSpace(string(body))
	if len(excerpt) > 200 {
		excerpt = excerpt[:200]
	}
	switch {
	case status == 429:
		return fmt.Sprintf("rate limited: status=%d body=%s", status, excerpt)
	case status >= 500:
		return fmt.Sprintf("provider unavailable: status=%d body=%s", status, excerpt)
	}
	return fmt.Sprintf("completion failed: status=%d body=%s", status, excerpt)
}

var fenceLanguageTags = map[string]bool{
	"json": true, "excel": true, "formula": true, "text": true,
	"javascript": true, "js": true, "python": true, "sql": true, "csv": true,
}

// parseAssistantReply normalizes a raw model reply. It tries, in
// order: a strict JSON object {type, code, explanation} (possibly
// wrapped in a markdown fence), a fenced code block whose content
// becomes the code and whose surrounding text becomes the explanation,
// and finally the raw text as explanation with the type defaulted to
// formula. Unknown type values also default to formula.
func parseAssistantReply(raw string) Response {
	trimmed := strings.TrimSpace(raw)

	candidates := []string{trimmed}
	block, rest, hasBlock := extractFencedBlock(trimmed)
	if hasBlock {
		candidates = append(candidates, block)
	}
	for _, candidate := range candidates {
		if !strings.HasPrefix(candidate, "{") {
			continue
		}
		var parsed struct {
			Type        string `json:"type"`
			Code        string `json:"code"`
			Explanation string `json:"explanation"`
		}
		if err := json.Unmarshal([]byte(candidate), &parsed); err != nil {
			continue
		}
		return Response{
			Success:     true,
			Type:        normalizeResponseType(parsed.Type),
			Code:        strings.TrimSpace(parsed.Code),
			Explanation: strings.TrimSpace(parsed.Explanation),
		}
	}

	if hasBlock {
		return Response{Success: true, Type: TypeFormula, Code: block, Explanation: rest}
	}
	return Response{Success: true, Type: TypeFormula, Explanation: trimmed}
}

func normalizeResponseType(value string) ResponseType {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(TypeTransformation):
		return TypeTransformation
	default:
		return TypeFormula
	}
}

// extractFencedBlock returns the content of the first ```-fenced block
// and the text around it. A leading language marker line (json, excel
// and the like) is dropped from the block.
func extractFencedBlock(text string) (block, rest string, ok bool) {
	start := strings.Index(text, "```")
	if start < 0 {
		return "", "", false
	}
	suffix := text[start+3:]
	end := strings.Index(suffix, "```")
	if end < 0 {
		return "", "", false
	}

	block = suffix[:end]
	lines := strings.Split(block, "\n")
	if len(lines) > 1 && fenceLanguageTags[strings.TrimSpace(lines[0])] {
		lines = lines[1:]
	}
	block = strings.TrimSpace(strings.Join(lines, "\n"))
	rest = strings.TrimSpace(strings.TrimSpace(text[:start]) + " " + strings.TrimSpace(suffix[end+3:]))
	return block, rest, true
}
