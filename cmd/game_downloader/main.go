package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/italolelis/game_downloader/internal/catalog"
	"github.com/italolelis/game_downloader/internal/catalog/igdb"
	"github.com/italolelis/game_downloader/internal/catalog/rawg"
	"github.com/italolelis/game_downloader/internal/cleanup"
	"github.com/italolelis/game_downloader/internal/config"
	"github.com/italolelis/game_downloader/internal/discovery"
	"github.com/italolelis/game_downloader/internal/downloader"
	"github.com/italolelis/game_downloader/internal/engine"
	"github.com/italolelis/game_downloader/internal/engine/anacrolix"
	"github.com/italolelis/game_downloader/internal/engine/rain"
	"github.com/italolelis/game_downloader/internal/http/rest"
	"github.com/italolelis/game_downloader/internal/logctx"
	"github.com/italolelis/game_downloader/internal/notifier"
	"github.com/italolelis/game_downloader/internal/storage/sqlite"
	"github.com/italolelis/game_downloader/internal/telemetry"
	"github.com/italolelis/game_downloader/internal/transfer"
)

var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})
	logger := slog.New(logctx.NewTraceHandler(handler))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("game downloader starting...", "log_level", cfg.LogLevel, "engine", cfg.Engine, "version", version)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	defer func() {
		if err := tel.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	ledger := sqlite.NewInstrumentedLedgerRepository(database, tel)

	// =========================================================================
	// Start Transfer Orchestrator
	eng, err := buildEngine(cfg)
	if err != nil {
		return fmt.Errorf("failed to build torrent engine: %w", err)
	}

	orchestrator := transfer.NewOrchestrator(
		engine.NewInstrumentedEngine(eng, tel),
		transfer.WithTelemetry(tel),
		transfer.WithMaxParallel(cfg.MaxParallel),
	)

	defer func() {
		if err := orchestrator.Close(); err != nil {
			logger.Error("failed to close torrent sessions", "err", err)
		}
	}()

	setupNotificationForOrchestrator(ctx, orchestrator, cfg)

	// =========================================================================
	// Start Downloader
	scrapeClient := newHTTPClient(cfg.Scraper.Timeout)

	scraper, err := discovery.NewScraper(scrapeClient, discovery.ScraperConfig{
		BaseURL:        cfg.Scraper.BaseURL,
		SearchPath:     cfg.Scraper.SearchPath,
		TopPath:        cfg.Scraper.TopPath,
		RowSelector:    cfg.Scraper.RowSelector,
		NameSelector:   cfg.Scraper.NameSelector,
		SourceSelector: cfg.Scraper.SourceSelector,
		UserAgent:      cfg.Scraper.UserAgent,
	}, discovery.NewTrustedSources(cfg.TrustedSources...), discovery.WithTelemetry(tel))
	if err != nil {
		return fmt.Errorf("failed to build scraper: %w", err)
	}

	resolver := discovery.NewResolver(scrapeClient, cfg.Scraper.IdentifierPrefix, cfg.Scraper.UserAgent, discovery.WithTelemetry(tel))

	svc := downloader.NewDownloader(cfg.DownloadDir, scraper, resolver, orchestrator, ledger)

	if cfg.PruneMissing {
		removed, err := cleanup.PruneMissing(ctx, ledger)
		if err != nil {
			logger.Error("failed to prune download records", "err", err)
		} else if removed > 0 {
			logger.Info("pruned download records", "removed", removed)
		}
	}

	started, err := svc.Resume(ctx)
	if err != nil {
		logger.Error("failed to resume downloads", "err", err)
	} else {
		logger.Info("resumed downloads", "started", started)
	}

	svc.WatchProgress(ctx, cfg.ProgressLogInterval)

	// =========================================================================
	// Start API Service
	cat, err := buildCatalog(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to build catalog client: %w", err)
	}

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, svc, cat, tel, cfg)

	go func() {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	logger.Info("waiting for requests...",
		"download_dir", cfg.DownloadDir,
		"trusted_sources", cfg.TrustedSources,
		"catalog", cfg.Catalog.Provider,
	)

	// =========================================================================
	// Start Main Loop
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return ctx.Err()
	}
}

func setupNotificationForOrchestrator(ctx context.Context, o *transfer.Orchestrator, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	var notif notifier.Notifier
	if cfg.DiscordWebhookURL != "" {
		notif = notifier.NewDiscordNotifier(cfg.DiscordWebhookURL, newHTTPClient(0))
	}

	notify := func(content string, snap transfer.Snapshot) {
		if notif == nil {
			return
		}

		if err := notif.Notify(context.WithoutCancel(ctx), content); err != nil {
			logger.Error("failed to send notification", "content_id", snap.ContentID, "err", err)
		}
	}

	go func() {
		for snap := range o.OnTransferFailed {
			logger.Error("transfer download failed", "content_id", snap.ContentID, "name", snap.Name, "err", snap.Error)

			notify("❌ "+notifier.TransferFailed(snap), snap)
		}
	}()

	go func() {
		for snap := range o.OnTransferFinished {
			logger.Info("transfer download finished", "content_id", snap.ContentID, "name", snap.Name)

			notify("✅ "+notifier.TransferFinished(snap), snap)
		}
	}()
}

// This is an abstract factory for the torrent engine.
func buildEngine(cfg *config.Config) (engine.Engine, error) {
	switch cfg.Engine {
	case anacrolix.Name:
		return anacrolix.New(), nil
	case rain.Name:
		return rain.New(), nil
	}

	return nil, fmt.Errorf("invalid engine: %s", cfg.Engine)
}

// buildCatalog returns nil when no provider is configured.
func buildCatalog(ctx context.Context, cfg *config.Config) (catalog.Client, error) {
	client := newHTTPClient(cfg.Catalog.Timeout)

	switch cfg.Catalog.Provider {
	case "":
		return nil, nil
	case "rawg":
		if cfg.Catalog.APIKey == "" {
			return nil, errors.New("CATALOG_API_KEY is required for the rawg catalog")
		}

		return rawg.NewClient(client, cfg.Catalog.APIKey, cfg.Catalog.BaseURL), nil
	case "igdb":
		if cfg.Catalog.ClientID == "" || cfg.Catalog.ClientSecret == "" {
			return nil, errors.New("CATALOG_CLIENT_ID and CATALOG_CLIENT_SECRET are required for the igdb catalog")
		}

		return igdb.NewClient(ctx, client, igdb.Config{
			BaseURL:      cfg.Catalog.BaseURL,
			TokenURL:     cfg.Catalog.TokenURL,
			ClientID:     cfg.Catalog.ClientID,
			ClientSecret: cfg.Catalog.ClientSecret,
		}), nil
	}

	return nil, fmt.Errorf("invalid catalog provider: %s", cfg.Catalog.Provider)
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(
	ctx context.Context,
	svc *downloader.Downloader,
	cat catalog.Client,
	tel *telemetry.Telemetry,
	cfg *config.Config,
) *http.Server {
	apiHandler := rest.NewAPIHandler(cfg.API.Username, cfg.API.Password, svc, cat)

	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Handle("/metrics", tel.Handler())
	r.Mount("/api", apiHandler.Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
