package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sheetflow/sheetflow/internal/assist"
	"github.com/sheetflow/sheetflow/internal/observability"
)

type assistRequest struct {
	Query    string   `json:"query"`
	Headers  []string `json:"headers"`
	Rows     [][]any  `json:"rows"`
	FirstRow []any    `json:"firstRow"`
}

// handleAssistFormula is the formula assistant entrypoint. Unlike the rest of
// the surface it answers in the assistant's own response shape for every
// outcome, and provider-level failures still return HTTP 200: only input
// validation (400) and a panic (500) change the status code.
func handleAssistFormula(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	defer func() {
		if recovered := recover(); recovered != nil {
			if deps.Logger != nil {
				deps.Logger.ErrorContext(r.Context(), "assist handler panic",
					slog.String("trace_id", observability.TraceIDFromContext(r.Context())),
					slog.Any("panic", recovered),
				)
			}
			writeAssistError(w, http.StatusInternalServerError, "Internal server error")
		}
	}()

	if deps.Assist == nil {
		writeAssistError(w, http.StatusNotImplemented, "Formula assistant is not configured")
		return
	}

	var req assistRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeAssistError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Query) == "" || len(req.Headers) == 0 {
		writeAssistError(w, http.StatusBadRequest, "Missing required parameters: query and headers are required")
		return
	}

	firstRow := req.FirstRow
	if firstRow == nil && len(req.Rows) > 0 {
		firstRow = req.Rows[0]
	}

	schema := assist.ExtractSchema(req.Headers, firstRow)
	writeJSON(w, http.StatusOK, deps.Assist.Run(r.Context(), req.Query, schema))
}

func writeAssistError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, assist.Response{
		Success: false,
		Type:    assist.TypeError,
		Error:   message,
	})
}
