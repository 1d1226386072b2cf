package sheetflowctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Options struct {
	BaseURL    string
	Token      string
	UserID     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("sheetflowctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "SheetFlow API base URL")
	token := fs.String("token", defaults.Token, "Session token for authenticated requests")
	userID := fs.String("user-id", defaults.UserID, "User ID header (used when auth is disabled)")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 10*time.Second), "HTTP timeout (e.g. 10s)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	command := strings.TrimSpace(fs.Arg(0))
	method := ""
	path := ""
	var body io.Reader
	contentType := ""
	switch command {
	case "health":
		method, path = http.MethodGet, "/v1/health"
	case "ready":
		method, path = http.MethodGet, "/v1/ready"
	case "me":
		method, path = http.MethodGet, "/v1/auth/me"
	case "folders":
		method, path = http.MethodGet, "/v1/folders"
		if parent := argOr(fs, 1, ""); parent != "" {
			path += "?parent=" + url.QueryEscape(parent)
		}
	case "files":
		folderID := argOr(fs, 1, "root")
		method, path = http.MethodGet, "/v1/folders/"+url.PathEscape(folderID)+"/files"
	case "upload":
		if fs.NArg() < 3 {
			_, _ = fmt.Fprintln(stderr, "usage: sheetflowctl upload <folderID> <path>")
			return 2
		}
		folderID := fs.Arg(1)
		localPath := fs.Arg(2)
		raw, err := os.ReadFile(localPath)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "read %s: %v\n", localPath, err)
			return 1
		}
		method = http.MethodPost
		path = "/v1/folders/" + url.PathEscape(folderID) + "/files?name=" + url.QueryEscape(filepath.Base(localPath))
		body = bytes.NewReader(raw)
		contentType = "application/octet-stream"
	case "preview":
		fileID, ok := requireArg(fs, 1, "preview <fileID>", stderr)
		if !ok {
			return 2
		}
		method, path = http.MethodGet, "/v1/files/"+url.PathEscape(fileID)+"/preview"
	case "schema":
		fileID, ok := requireArg(fs, 1, "schema <fileID>", stderr)
		if !ok {
			return 2
		}
		method, path = http.MethodGet, "/v1/files/"+url.PathEscape(fileID)+"/schema"
	case "url":
		fileID, ok := requireArg(fs, 1, "url <fileID>", stderr)
		if !ok {
			return 2
		}
		method, path = http.MethodGet, "/v1/files/"+url.PathEscape(fileID)+"/url"
	case "assist":
		sub := flag.NewFlagSet("assist", flag.ContinueOnError)
		sub.SetOutput(stderr)
		query := sub.String("query", "", "natural language request")
		headers := sub.String("headers", "", "comma separated column headers")
		firstRow := sub.String("first-row", "", "comma separated first data row")
		if err := sub.Parse(fs.Args()[1:]); err != nil {
			return 2
		}
		if strings.TrimSpace(*query) == "" || strings.TrimSpace(*headers) == "" {
			_, _ = fmt.Fprintln(stderr, "usage: sheetflowctl assist -query <text> -headers <a,b,c> [-first-row <1,2,3>]")
			return 2
		}
		payload := map[string]any{
			"query":   strings.TrimSpace(*query),
			"headers": splitList(*headers),
		}
		if cells := splitList(*firstRow); len(cells) > 0 {
			row := make([]any, 0, len(cells))
			for _, cell := range cells {
				row = append(row, cell)
			}
			payload["firstRow"] = row
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "encode assist request: %v\n", err)
			return 1
		}
		method = http.MethodPost
		path = "/v1/assist/formula"
		body = bytes.NewReader(raw)
		contentType = "application/json"
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return 2
	}

	endpoint := strings.TrimRight(*baseURL, "/") + path
	code, responseBody, err := doRequest(ctx, client, method, endpoint, *token, *userID, contentType, body)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

func doRequest(ctx context.Context, client *http.Client, method, url, token, userID, contentType string, body io.Reader) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}
	if strings.TrimSpace(userID) != "" {
		req.Header.Set("X-User-ID", strings.TrimSpace(userID))
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, responseBody, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: sheetflowctl [flags] <command>")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health                     GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                      GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  me                         GET /v1/auth/me")
	_, _ = fmt.Fprintln(w, "  folders [parentID]         GET /v1/folders, optionally filtered by parent")
	_, _ = fmt.Fprintln(w, "  files [folderID]           GET /v1/folders/{folderID}/files (default root)")
	_, _ = fmt.Fprintln(w, "  upload <folderID> <path>   POST the file at <path> into the folder")
	_, _ = fmt.Fprintln(w, "  preview <fileID>           GET /v1/files/{fileID}/preview")
	_, _ = fmt.Fprintln(w, "  schema <fileID>            GET /v1/files/{fileID}/schema")
	_, _ = fmt.Fprintln(w, "  url <fileID>               GET /v1/files/{fileID}/url")
	_, _ = fmt.Fprintln(w, "  assist -query ... -headers a,b [-first-row 1,2]")
	_, _ = fmt.Fprintln(w, "                             POST /v1/assist/formula")
}

func argOr(fs *flag.FlagSet, index int, fallback string) string {
	if fs.NArg() > index && strings.TrimSpace(fs.Arg(index)) != "" {
		return strings.TrimSpace(fs.Arg(index))
	}
	return fallback
}

func requireArg(fs *flag.FlagSet, index int, usage string, stderr io.Writer) (string, bool) {
	if fs.NArg() <= index || strings.TrimSpace(fs.Arg(index)) == "" {
		_, _ = fmt.Fprintf(stderr, "usage: sheetflowctl %s\n", usage)
		return "", false
	}
	return strings.TrimSpace(fs.Arg(index)), true
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
