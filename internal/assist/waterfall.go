package assist

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/sheetflow/sheetflow/internal/observability"
)

const securityViolationMessage = "Security violation: schema must include headers and at most one sample row"

const defaultAttemptTimeout = 15 * time.Second

type attempt struct {
	provider string
	err      string
	duration time.Duration
}

// Waterfall tries an ordered list of providers one at a time and stops
// at the first success. The order is configuration and part of the
// observable contract: it decides which provider name a successful
// response carries. A Waterfall holds no per-request state and is safe
// for concurrent use.
type Waterfall struct {
	providers      []Provider
	attemptTimeout time.Duration
	logger         *slog.Logger
}

func NewWaterfall(providers []Provider, attemptTimeout time.Duration, logger *slog.Logger) *Waterfall {
	if attemptTimeout <= 0 {
		attemptTimeout = defaultAttemptTimeout
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Waterfall{providers: providers, attemptTimeout: attemptTimeout, logger: logger}
}

// Run validates the schema and then walks the provider list in order
// until one succeeds. Validation failures reject the request before any
// provider is contacted. The run is detached from the caller's
// cancellation: a disconnected HTTP client does not abort the remaining
// attempts, the waterfall runs to success or exhaustion.
func (w *Waterfall) Run(ctx context.Context, query string, schema Schema) Response {
	start := time.Now()
	if err := validateSchema(schema); err != nil {
		w.logger.Warn("assist request rejected", slog.String("reason", err.Error()))
		observability.ObserveAssistRun("rejected", time.Since(start))
		return errorResponse(securityViolationMessage)
	}
	if len(w.providers) == 0 {
		observability.ObserveAssistRun("exhausted", time.Since(start))
		return errorResponse("no providers configured")
	}

	runCtx := context.WithoutCancel(ctx)
	attempts := make([]attempt, 0, len(w.providers))
	for i, provider := range w.providers {
		attemptStart := time.Now()
		result := w.tryProvider(runCtx, provider, query, schema)
		elapsed := time.Since(attemptStart)

		if result.Success {
			result.Provider = provider.Name()
			observability.ObserveAssistAttempt(provider.Name(), "success", elapsed)
			observability.ObserveAssistRun("success", time.Since(start))
			w.logger.Info("assist provider succeeded",
				slog.String("provider", provider.Name()),
				slog.Int("attempt", i+1),
				slog.Duration("elapsed", elapsed),
			)
			return result
		}

		observability.ObserveAssistAttempt(provider.Name(), "failure", elapsed)
		attempts = append(attempts, attempt{provider: provider.Name(), err: result.Error, duration: elapsed})
		w.logger.Warn("assist provider failed",
			slog.String("provider", provider.Name()),
			slog.String("error", result.Error),
			slog.Int("attempt", i+1),
			slog.Int("remaining", len(w.providers)-i-1),
		)
	}

	observability.ObserveAssistRun("exhausted", time.Since(start))
	return errorResponse(joinAttempts(attempts))
}

// tryProvider races one provider call against the attempt timeout. The
// result channel is buffered so a hung provider goroutine can finish
// and be garbage collected after its result has been abandoned.
func (w *Waterfall) tryProvider(ctx context.Context, provider Provider, query string, schema Schema) Response {
	attemptCtx, cancel := context.WithTimeout(ctx, w.attemptTimeout)
	defer cancel()

	results := make(chan Response, 1)
	go func() {
		results <- provider.Request(attemptCtx, query, schema)
	}()

	select {
	case result := <-results:
		return result
	case <-attemptCtx.Done():
		return errorResponse(fmt.Sprintf("timeout after %s", w.attemptTimeout))
	}
}

// validateSchema is the privacy gate: no headers means nothing safe to
// describe, and more than one sample row means bulk data is about to
// leave the service.
func validateSchema(schema Schema) error {
	if len(schema.Headers) == 0 {
		return fmt.Errorf("schema has no headers")
	}
	if len(schema.SampleData) > 1 {
		return fmt.Errorf("schema carries %d sample rows, limit is 1", len(schema.SampleData))
	}
	return nil
}

func joinAttempts(attempts []attempt) string {
	parts := make([]string, 0, len(attempts))
	for _, a := range attempts {
		parts = append(parts, fmt.Sprintf("%s: %s", a.provider, a.err))
	}
	return strings.Join(parts, "; ")
}
