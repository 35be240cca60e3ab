// Coach Labs - checkpoint-gated social skills coaching server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ashureev/coach-labs/internal/agent"
	"github.com/ashureev/coach-labs/internal/api"
	"github.com/ashureev/coach-labs/internal/catalog"
	"github.com/ashureev/coach-labs/internal/coach"
	"github.com/ashureev/coach-labs/internal/config"
	"github.com/ashureev/coach-labs/internal/identity"
	"github.com/ashureev/coach-labs/internal/metrics"
	"github.com/ashureev/coach-labs/internal/middleware"
	"github.com/ashureev/coach-labs/internal/session"
	"github.com/ashureev/coach-labs/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "provider", cfg.LLM.Provider)

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		slog.Error("Failed to load phase catalog", "error", err, "path", cfg.CatalogPath)
		os.Exit(1)
	}
	slog.Info("Phase catalog loaded", "phases", cat.Len())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	m := metrics.New()

	cache, err := session.NewCache(cfg.Session.CacheSize, repo, session.WithLogger(logger))
	if err != nil {
		slog.Error("Failed to initialize session cache", "error", err)
		os.Exit(1)
	}

	generator, err := agent.NewService(agentConfig(cfg.LLM), logger)
	if err != nil {
		slog.Error("Failed to initialize generator", "error", err, "provider", cfg.LLM.Provider)
		os.Exit(1)
	}
	defer generator.Close()

	conversationLogger, err := agent.NewConversationLogger(agent.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := conversationLogger.Close(); closeErr != nil {
			slog.Warn("Failed to close conversation logger", "error", closeErr)
		}
	}()

	locker := session.NewLocker()
	orch, err := coach.New(coach.Deps{
		Catalog:    cat,
		Sessions:   cache,
		Locker:     locker,
		Text:       generator,
		Structured: generator,
		Records:    repo,
		Plans:      repo,
		Sink:       repo,
		Metrics:    m,
		Logger:     logger,
	}, coach.Options{
		FactWindow:        cfg.Coach.FactWindow,
		ContextWindow:     cfg.Coach.ContextWindow,
		HistoryWindow:     cfg.Coach.HistoryWindow,
		ExtractionWindow:  cfg.Coach.ExtractionWindow,
		GenerationTimeout: cfg.Coach.GenerationTimeout,
		ExtractionTimeout: cfg.Coach.ExtractionTimeout,
		AutoAdvance:       cfg.Coach.AutoAdvance,
	})
	if err != nil {
		slog.Error("Failed to initialize orchestrator", "error", err)
		os.Exit(1)
	}

	// Initialize handlers.
	limiter := api.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	defer limiter.Stop()

	coachHandler := api.NewCoachHandler(orch, api.CoachHandlerConfig{
		Limiter:            limiter,
		ConversationLogger: conversationLogger,
		Metrics:            m,
		Logger:             logger,
		OriginPatterns:     originPatterns(cfg),
	})
	healthHandler := api.NewHealthHandler(repo, cache, 5*time.Second)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(allowedOrigins(cfg), nil))

	// Public routes.
	healthHandler.RegisterHealth(r)
	r.Handle("/metrics", promhttp.Handler())

	// All coach routes use identity middleware (no auth needed).
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(cfg.IsDevelopment()))
		coachHandler.RegisterRoutes(r)
	})

	// Create server.
	// Note: WebSocket connections require long timeouts (no WriteTimeout)
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start session sweeper.
	sweeperDone := session.StartSweeper(ctx, cache, repo, session.SweeperConfig{
		Interval:  cfg.Session.SweepInterval,
		IdleTTL:   cfg.Session.IdleTTL,
		Retention: cfg.Session.Retention,
		Locker:    locker,
	}, m)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	coachHandler.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	<-sweeperDone

	slog.Info("Server stopped successfully")
}

func agentConfig(c config.LLMConfig) agent.Config {
	cfg := agent.DefaultConfig()
	cfg.Provider = agent.Provider(c.Provider)
	cfg.APIKey = c.APIKey
	cfg.BaseURL = c.BaseURL
	cfg.GrpcAddr = c.GrpcAddr
	cfg.ReplyModel = c.ReplyModel
	cfg.ReplyTemperature = c.ReplyTemperature
	cfg.ReplyMaxTokens = int64(c.ReplyMaxTokens)
	cfg.ExtractionModel = c.ExtractionModel
	cfg.ExtractionTemperature = c.ExtractionTemperature
	cfg.ExtractionMaxTokens = int64(c.ExtractionMaxTokens)
	cfg.RequestsPerSecond = c.RequestsPerSecond
	cfg.Burst = c.Burst
	cfg.MaxAttempts = uint(c.MaxAttempts)
	return cfg
}

func allowedOrigins(cfg *config.Config) []string {
	if cfg.IsDevelopment() {
		return []string{"*"}
	}
	return []string{cfg.FrontendURL}
}

// originPatterns converts the frontend URL into a WebSocket origin host pattern.
func originPatterns(cfg *config.Config) []string {
	if cfg.IsDevelopment() {
		return []string{"*"}
	}
	u, err := url.Parse(cfg.FrontendURL)
	if err != nil || u.Host == "" {
		slog.Warn("FRONTEND_URL is not a URL; WebSocket accepts same-origin only", "frontend_url", cfg.FrontendURL)
		return nil
	}
	return []string{u.Host}
}
