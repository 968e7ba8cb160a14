package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/maltedev/amazon-product-scraper/internal/api"
	"github.com/maltedev/amazon-product-scraper/internal/config"
	"github.com/maltedev/amazon-product-scraper/internal/database"
	"github.com/maltedev/amazon-product-scraper/internal/fetcher"
	"github.com/maltedev/amazon-product-scraper/internal/lister"
	"github.com/maltedev/amazon-product-scraper/internal/parser"
	"github.com/maltedev/amazon-product-scraper/internal/ratelimit"
	"github.com/maltedev/amazon-product-scraper/internal/scraper"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup logging
	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database is optional; without a DSN the history endpoint is
	// disabled but scraping works normally.
	var history api.History
	if cfg.Database.DSN != "" {
		db, err := database.New(ctx, cfg.Database.DSN)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := db.Migrate(ctx); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		history = db
		logger.Info("scrape history enabled")
	}

	// Initialize services
	fetchCfg := fetcher.DefaultConfig()
	fetchCfg.Timeout = cfg.Fetcher.Timeout
	fetchCfg.MaxAttempts = cfg.Fetcher.MaxAttempts
	fetchCfg.MaxRateLimitRetries = cfg.Fetcher.MaxRateLimitRetries
	fetchCfg.BaseDelay = cfg.Fetcher.BaseDelay
	fetchCfg.Multiplier = cfg.Fetcher.Multiplier
	fetchCfg.MaxDelay = cfg.Fetcher.MaxDelay
	fetchCfg.RespectRetryAfter = cfg.Fetcher.RespectRetryAfter
	fetchCfg.MinBodyBytes = cfg.Fetcher.MinBodyBytes
	fetchCfg.MaxBodyBytes = cfg.Fetcher.MaxBodyBytes
	fetchCfg.MaxRedirects = cfg.Fetcher.MaxRedirects
	if len(cfg.Fetcher.UserAgents) > 0 {
		fetchCfg.UserAgents = cfg.Fetcher.UserAgents
	}

	fetchService := fetcher.New(fetchCfg, logger)
	amazonParser := parser.NewAmazonParser()
	limiter := ratelimit.NewSimpleRateLimiter(cfg.Lister.ItemDelayMin, cfg.Lister.ItemDelayMax)
	listerService := lister.New(fetchService, amazonParser, limiter,
		lister.Config{MaxItems: cfg.Lister.MaxItems}, logger)
	scraperService := scraper.NewService(fetchService, amazonParser, listerService, logger)

	// Initialize API handlers
	handlers := api.NewHandlers(scraperService, history, logger)

	// Setup Chi router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.Server.RequestTimeout))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://localhost:*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", handlers.Health)
	r.Post("/scrape", handlers.Scrape)
	r.Get("/history", handlers.HistoryList)

	// Start server
	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	logger.Info("server starting", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
