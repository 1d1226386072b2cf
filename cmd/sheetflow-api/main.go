package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sheetflow/sheetflow/internal/api"
	"github.com/sheetflow/sheetflow/internal/api/uistatic"
	"github.com/sheetflow/sheetflow/internal/assist"
	"github.com/sheetflow/sheetflow/internal/auth"
	catalogpostgres "github.com/sheetflow/sheetflow/internal/catalog/postgres"
	"github.com/sheetflow/sheetflow/internal/config"
	"github.com/sheetflow/sheetflow/internal/dataset"
	"github.com/sheetflow/sheetflow/internal/observability"
	s3store "github.com/sheetflow/sheetflow/internal/storage/s3"
)

const shutdownGrace = 10 * time.Second

func main() {
	cfg, err := config.LoadFromEnv("sheetflow-api")
	if err != nil {
		slog.Error("configuration error", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("api server exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	db, err := catalogpostgres.Open(ctx, catalogpostgres.PoolConfig{
		DSN:             cfg.Catalog.DSN,
		MaxOpenConns:    cfg.Catalog.MaxOpenConns,
		MaxIdleConns:    cfg.Catalog.MaxIdleConns,
		ConnMaxIdleTime: cfg.Catalog.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Catalog.ConnMaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	defer func() { _ = db.Close() }()
	repo := catalogpostgres.NewRepository(db)

	objectStore, err := s3store.New(ctx, s3store.Config{
		Endpoint:         cfg.ObjectStore.Endpoint,
		Region:           cfg.ObjectStore.Region,
		Bucket:           cfg.ObjectStore.Bucket,
		AccessKeyID:      cfg.ObjectStore.AccessKeyID,
		SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
		UseSSL:           cfg.ObjectStore.UseSSL,
		Prefix:           cfg.ObjectStore.Prefix,
		AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
	})
	if err != nil {
		return fmt.Errorf("object store: %w", err)
	}

	formulaAssist, err := buildAssist(cfg, logger)
	if err != nil {
		return fmt.Errorf("assist providers: %w", err)
	}

	deps := api.Dependencies{
		Logger:  logger,
		Catalog: repo,
		Store:   objectStore,
		Dataset: dataset.NewService(objectStore, dataset.Config{
			PreviewRows:    cfg.Files.PreviewRows,
			PreviewMaxRows: cfg.Files.PreviewMaxRows,
			ExportMaxRows:  cfg.Files.ExportMaxRows,
		}),
		Assist: formulaAssist,
		UI:     uistatic.Handler(),
		Readiness: api.AllProbes(
			api.CatalogProbe(repo),
			api.ObjectStoreProbe(cfg),
		),
		DependencyTimeout: time.Second,
	}
	if cfg.Auth.JWTSecret != "" {
		sessions, err := auth.NewSessions(cfg.Auth.JWTSecret, cfg.Auth.SessionTTL)
		if err != nil {
			return fmt.Errorf("sessions: %w", err)
		}
		deps.Sessions = sessions
		deps.AuthMiddleware = auth.Middleware(logger, sessions)
	}

	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      api.NewHandler(cfg, deps),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.HTTP.Address))
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("listen on %s: %w", cfg.HTTP.Address, err)
	case <-ctx.Done():
	}

	logger.Info("signal received, draining connections")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		_ = server.Close()
		return fmt.Errorf("drain connections: %w", err)
	}
	if err := <-serveErr; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// buildAssist assembles the formula assistant from the configured provider
// order. Providers without credentials stay in the waterfall and report
// themselves unconfigured when asked.
func buildAssist(cfg config.Config, logger *slog.Logger) (*assist.Waterfall, error) {
	specs := assist.DefaultProviderOrder(cfg.Assist.Ollama.Enabled)
	if cfg.Assist.ProvidersFile != "" {
		loaded, err := assist.LoadProviderOrder(cfg.Assist.ProvidersFile)
		if err != nil {
			return nil, err
		}
		specs = loaded
	}
	providers, err := assist.BuildProviders(specs, assist.FactoryConfig{
		OpenAI: assist.OpenAIConfig{
			BaseURL:     cfg.Assist.OpenAI.BaseURL,
			APIKey:      cfg.Assist.OpenAI.APIKey,
			Model:       cfg.Assist.OpenAI.Model,
			Temperature: cfg.Assist.OpenAI.Temperature,
		},
		Anthropic: assist.AnthropicConfig{
			BaseURL:   cfg.Assist.Anthropic.BaseURL,
			APIKey:    cfg.Assist.Anthropic.APIKey,
			Model:     cfg.Assist.Anthropic.Model,
			MaxTokens: cfg.Assist.Anthropic.MaxTokens,
		},
		Ollama: assist.OllamaConfig{
			BaseURL: cfg.Assist.Ollama.BaseURL,
			Model:   cfg.Assist.Ollama.Model,
		},
	})
	if err != nil {
		return nil, err
	}
	return assist.NewWaterfall(providers, cfg.Assist.Timeout, logger), nil
}
