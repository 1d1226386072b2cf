package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sheetflow/sheetflow/internal/observability"
)

type identityKey struct{}

// TokenValidator is the middleware's view of Sessions.
type TokenValidator interface {
	Validate(token string) (Identity, error)
}

// Middleware guards a handler behind session authentication. Requests
// without a valid bearer token receive a 401 in the API error envelope;
// valid ones continue with the session identity on the context.
func Middleware(logger *slog.Logger, sessions TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ExtractToken(r)
			if token == "" {
				denyRequest(w, r, "missing session token")
				return
			}

			identity, err := sessions.Validate(token)
			if err != nil {
				if logger != nil {
					observability.WithTrace(r.Context(), logger).WarnContext(r.Context(), "authentication failed",
						slog.String("path", r.URL.Path),
						slog.String("error", err.Error()),
					)
				}
				denyRequest(w, r, "invalid session token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(Identity)
	return identity, ok
}

// ExtractToken pulls the bearer token from the Authorization header,
// accepting any case for the scheme. The sign-out handler reuses it to
// revoke the presented token.
func ExtractToken(r *http.Request) string {
	scheme, token, found := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func denyRequest(w http.ResponseWriter, r *http.Request, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(struct {
		ErrorCode string `json:"error_code"`
		Message   string `json:"message"`
		Retryable bool   `json:"retryable"`
		TraceID   string `json:"trace_id"`
	}{
		ErrorCode: "UNAUTHORIZED",
		Message:   message,
		TraceID:   observability.TraceIDFromContext(r.Context()),
	})
}
