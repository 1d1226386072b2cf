package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sheetflow/sheetflow/internal/assist"
	"github.com/sheetflow/sheetflow/internal/catalog"
	"github.com/sheetflow/sheetflow/internal/config"
	"github.com/sheetflow/sheetflow/internal/dataset"
	"github.com/sheetflow/sheetflow/internal/observability"
	"github.com/sheetflow/sheetflow/internal/storage"
)

// Probe reports whether one backing dependency is usable right now.
type Probe func(ctx context.Context) error

// SessionIssuer is the handler's view of auth.Sessions. Issue and Revoke are
// split from token validation, which lives in the middleware.
type SessionIssuer interface {
	Issue(userID, email string) (string, time.Time, error)
	Revoke(token string) error
}

// AssistRunner is the handler's view of the provider waterfall.
type AssistRunner interface {
	Run(ctx context.Context, query string, schema assist.Schema) assist.Response
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         Probe
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Catalog           catalog.Repository
	Store             storage.ObjectStore
	Dataset           *dataset.Service
	Sessions          SessionIssuer
	Assist            AssistRunner
	UI                http.Handler
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": cfg.Service.Name})
	})
	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	mux.Handle("GET /v1/metrics", promhttp.Handler())

	mux.HandleFunc("POST /v1/auth/signup", func(w http.ResponseWriter, r *http.Request) {
		handleSignup(cfg, deps, w, r)
	})
	mux.HandleFunc("POST /v1/auth/signin", func(w http.ResponseWriter, r *http.Request) {
		handleSignin(deps, w, r)
	})

	// Everything past sign-in shares one guarded sub-mux. Each pattern is
	// registered twice: on the sub-mux for dispatch and on the outer mux so
	// the guard only fires for routes that actually exist.
	protectedRoutes := map[string]http.HandlerFunc{
		"POST /v1/auth/signout": func(w http.ResponseWriter, r *http.Request) { handleSignout(deps, w, r) },
		"GET /v1/auth/me":       func(w http.ResponseWriter, r *http.Request) { handleMe(deps, w, r) },

		"POST /v1/folders":                  func(w http.ResponseWriter, r *http.Request) { handleCreateFolder(deps, w, r) },
		"GET /v1/folders":                   func(w http.ResponseWriter, r *http.Request) { handleListFolders(deps, w, r) },
		"PATCH /v1/folders/{folderID}":      func(w http.ResponseWriter, r *http.Request) { handleRenameFolder(deps, w, r) },
		"DELETE /v1/folders/{folderID}":     func(w http.ResponseWriter, r *http.Request) { handleDeleteFolder(deps, w, r) },
		"GET /v1/folders/{folderID}/files":  func(w http.ResponseWriter, r *http.Request) { handleListFiles(deps, w, r) },
		"POST /v1/folders/{folderID}/files": func(w http.ResponseWriter, r *http.Request) { handleUploadFile(cfg, deps, w, r) },

		"GET /v1/files/{fileID}":         func(w http.ResponseWriter, r *http.Request) { handleGetFile(deps, w, r) },
		"PATCH /v1/files/{fileID}":       func(w http.ResponseWriter, r *http.Request) { handleRenameFile(deps, w, r) },
		"DELETE /v1/files/{fileID}":      func(w http.ResponseWriter, r *http.Request) { handleDeleteFile(deps, w, r) },
		"GET /v1/files/{fileID}/content": func(w http.ResponseWriter, r *http.Request) { handleFileContent(deps, w, r) },
		"GET /v1/files/{fileID}/url":     func(w http.ResponseWriter, r *http.Request) { handleFileURL(cfg, deps, w, r) },
		"GET /v1/files/{fileID}/preview": func(w http.ResponseWriter, r *http.Request) { handleFilePreview(deps, w, r) },
		"GET /v1/files/{fileID}/schema":  func(w http.ResponseWriter, r *http.Request) { handleFileSchema(deps, w, r) },
		"GET /v1/files/{fileID}/export":  func(w http.ResponseWriter, r *http.Request) { handleFileExport(deps, w, r) },

		"POST /v1/assist/formula": func(w http.ResponseWriter, r *http.Request) { handleAssistFormula(deps, w, r) },
	}

	sessionMux := http.NewServeMux()
	for pattern, handler := range protectedRoutes {
		sessionMux.Handle(pattern, handler)
	}
	guarded := guardSessions(cfg, deps, sessionMux)
	for pattern := range protectedRoutes {
		mux.Handle(pattern, guarded)
	}

	if deps.UI != nil {
		mux.Handle("GET /{path...}", deps.UI)
	}

	// Innermost to outermost. Trace wraps everything so log and metric
	// middlewares see the request's trace id.
	var handler http.Handler = mux
	if deps.Logger != nil {
		handler = observability.LoggingMiddleware(deps.Logger)(handler)
	}
	handler = observability.MetricsMiddleware(handler)
	handler = observability.TraceMiddleware(handler)
	return handler
}

// guardSessions wraps the protected sub-mux in the auth middleware when a
// JWT secret is configured. A configured secret with no middleware wired is
// a deployment bug, surfaced per request instead of panicking at startup.
func guardSessions(cfg config.Config, deps Dependencies, protected http.Handler) http.Handler {
	if cfg.Auth.JWTSecret == "" {
		return protected
	}
	if deps.AuthMiddleware == nil {
		if deps.Logger != nil {
			deps.Logger.Error("auth secret configured but auth middleware missing")
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "session auth is enabled but no middleware was installed", false, nil)
		})
	}
	return deps.AuthMiddleware(protected)
}

// CatalogProbe reports ready once the catalog answers its health query.
func CatalogProbe(repo catalog.Repository) Probe {
	return func(ctx context.Context) error {
		if repo == nil {
			return errors.New("catalog is not configured")
		}
		return repo.HealthCheck(ctx)
	}
}

// ObjectStoreProbe only validates configuration. Reaching out to the store
// on every readiness poll would hammer it for no benefit; upload and
// download paths surface real connectivity problems soon enough.
func ObjectStoreProbe(cfg config.Config) Probe {
	return func(_ context.Context) error {
		if cfg.ObjectStore.Endpoint == "" {
			return errors.New("object store endpoint is empty")
		}
		if cfg.ObjectStore.Bucket == "" {
			return errors.New("object store bucket is empty")
		}
		return nil
	}
}

// AllProbes folds probes into one that fails on the first unhealthy
// dependency. Nil entries are allowed so callers can wire probes
// conditionally.
func AllProbes(probes ...Probe) Probe {
	return func(ctx context.Context) error {
		for _, probe := range probes {
			if probe == nil {
				continue
			}
			if err := probe(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

type errorEnvelope struct {
	ErrorCode string         `json:"error_code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Context   map[string]any `json:"context"`
	TraceID   string         `json:"trace_id"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, errorEnvelope{
		ErrorCode: code,
		Message:   message,
		Retryable: retryable,
		Context:   extra,
		TraceID:   observability.TraceIDFromContext(ctx),
	})
}
