package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sheetflow/sheetflow/internal/cli/sheetflowctl"
)

func main() {
	os.Exit(sheetflowctl.Run(context.Background(), os.Args[1:], optionsFromEnv()))
}

func optionsFromEnv() sheetflowctl.Options {
	opts := sheetflowctl.Options{
		BaseURL: "http://localhost:8080",
		Token:   strings.TrimSpace(os.Getenv("SHEETFLOW_API_TOKEN")),
		UserID:  strings.TrimSpace(os.Getenv("SHEETFLOW_USER_ID")),
		Timeout: 10 * time.Second,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}
	if base := strings.TrimSpace(os.Getenv("SHEETFLOW_API_URL")); base != "" {
		opts.BaseURL = base
	}
	if raw := strings.TrimSpace(os.Getenv("SHEETFLOW_CLI_TIMEOUT")); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "invalid SHEETFLOW_CLI_TIMEOUT %q; using %s\n", raw, opts.Timeout)
		} else {
			opts.Timeout = parsed
		}
	}
	return opts
}
