// AgentHub API Server
// Multi-agent chat and team collaboration backend

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/Winger29/FSDP-Assignment2/internal/agents"
	"github.com/Winger29/FSDP-Assignment2/internal/ai"
	"github.com/Winger29/FSDP-Assignment2/internal/auth"
	"github.com/Winger29/FSDP-Assignment2/internal/cache"
	"github.com/Winger29/FSDP-Assignment2/internal/chat"
	"github.com/Winger29/FSDP-Assignment2/internal/collab"
	"github.com/Winger29/FSDP-Assignment2/internal/config"
	"github.com/Winger29/FSDP-Assignment2/internal/dashboard"
	"github.com/Winger29/FSDP-Assignment2/internal/db"
	"github.com/Winger29/FSDP-Assignment2/internal/groups"
	"github.com/Winger29/FSDP-Assignment2/internal/handlers"
	"github.com/Winger29/FSDP-Assignment2/internal/jobs"
	"github.com/Winger29/FSDP-Assignment2/internal/logging"
	"github.com/Winger29/FSDP-Assignment2/internal/metrics"
	"github.com/Winger29/FSDP-Assignment2/internal/realtime"
	"github.com/Winger29/FSDP-Assignment2/internal/sharing"
	"github.com/Winger29/FSDP-Assignment2/internal/storage"
	"github.com/Winger29/FSDP-Assignment2/internal/teams"
	"github.com/Winger29/FSDP-Assignment2/internal/tracing"
	"github.com/Winger29/FSDP-Assignment2/internal/uploads"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.L().Fatal("CRITICAL: Failed to load configuration", zap.Error(err))
	}
	logging.Init()
	defer logging.Sync()
	log := logging.L()

	log.Info("Starting AgentHub", zap.String("environment", cfg.Environment), zap.String("port", cfg.Port))

	// SECURITY: Validate all required secrets before starting
	if err := config.ValidateSecrets(cfg); err != nil {
		log.Fatal("CRITICAL: Secret validation failed", zap.Error(err))
	}

	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()

	tracer, err := tracing.Init(rootCtx, cfg.Tracing, cfg.Environment)
	if err != nil {
		log.Fatal("CRITICAL: Failed to initialize tracing", zap.Error(err))
	}

	database, err := db.NewDatabase(cfg.Database)
	if err != nil {
		log.Fatal("CRITICAL: Failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	// Redis is optional: without it the cache stays in memory and the
	// realtime broker must be local or nats
	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		rdb, err = db.NewRedisClient(rootCtx, cfg.Redis.URL, db.DefaultRedisOptions())
		if err != nil {
			log.Fatal("CRITICAL: Failed to connect to Redis", zap.Error(err))
		}
		defer rdb.Close()
	}
	var redisAdapter cache.RedisClient
	if rdb != nil {
		redisAdapter = cache.NewGoRedisAdapter(rdb)
	}
	appCache := cache.NewRedisCache(redisAdapter, cache.DefaultCacheConfig())
	defer appCache.Close()

	broker, err := realtime.NewBroker(cfg.Realtime, rdb)
	if err != nil {
		log.Fatal("CRITICAL: Failed to create realtime broker", zap.Error(err))
	}
	defer broker.Close()

	store, err := storage.New(rootCtx, cfg.Storage)
	if err != nil {
		log.Fatal("CRITICAL: Failed to initialize upload storage", zap.Error(err))
	}

	m := metrics.Get()
	aiRouter := newAIRouter(cfg, m)
	if !aiRouter.HasClients() {
		log.Warn("No LLM provider configured; chat and task execution will fail until OPENAI_API_KEY or ANTHROPIC_API_KEY is set")
	}

	hub := realtime.NewHub(broker, cfg.HTTP.AllowedOrigins, m)
	go hub.Run(rootCtx)

	authService := auth.NewAuthService(database.DB, cfg.Auth.JWTSecret, auth.Options{
		TokenExpiry:   cfg.Auth.TokenExpiry,
		RefreshExpiry: cfg.Auth.RefreshExpiry,
	})
	oauthService := newOAuthService(cfg, authService)

	groupService := groups.NewService(database.DB, hub)
	sharingService := sharing.NewService(database.DB, appCache, groupService)
	agentService := agents.NewService(database.DB, appCache, sharingService, aiRouter.DefaultModel())
	uploadService := uploads.NewService(database.DB, store, cfg.Storage.MaxUploadBytes)
	teamService := teams.NewService(database.DB, sharingService, agentService)
	executor := collab.NewExecutor(database.DB, aiRouter, teamService, agentService, broker, m).
		WithInstance(cfg.InstanceID)
	taskService := collab.NewTaskService(database.DB, sharingService, teamService, executor, broker)

	scheduler := jobs.NewScheduler(jobs.Config{
		Tasks:     taskService,
		Shares:    sharingService,
		Collector: metrics.NewBusinessMetricsCollector(database.DB),
	})
	if err := scheduler.Start(rootCtx); err != nil {
		log.Fatal("CRITICAL: Failed to start background jobs", zap.Error(err))
	}

	go monitorProviders(rootCtx, aiRouter)

	h := &handlers.Handler{
		DB:        database,
		AIRouter:  aiRouter,
		Auth:      authService,
		OAuth:     oauthService,
		Agents:    agentService,
		Chat:      chat.NewService(database.DB, agentService, uploadService, aiRouter, m),
		Teams:     teamService,
		Tasks:     taskService,
		Groups:    groupService,
		Sharing:   sharingService,
		Uploads:   uploadService,
		Dashboard: dashboard.NewService(database.DB, appCache),
		Hub:       hub,
		Metrics:   m,
	}
	router := handlers.NewRouter(h, handlers.RouterConfig{
		AllowedOrigins:     cfg.HTTP.AllowedOrigins,
		RateLimitPerMinute: cfg.HTTP.RateLimitPerMinute,
		EnableMetrics:      cfg.HTTP.EnableMetrics,
		Production:         cfg.IsProduction(),
	})

	// No WriteTimeout: chat and task streams stay open for minutes
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()
	log.Info("Server ready", zap.String("addr", httpServer.Addr))

	// Graceful shutdown: listen for SIGTERM/SIGINT (K8s, Docker stop)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Fatal("CRITICAL: Failed to start server", zap.Error(err))
	case sig := <-quit:
		log.Info("Received signal, starting graceful shutdown", zap.String("signal", sig.String()))
	}

	// Give in-flight requests up to 15 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	// 1. Stop accepting new HTTP connections and drain existing ones
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	// 2. Stop background jobs and the websocket hub
	scheduler.Stop(shutdownCtx)
	stop()

	// 3. Flush spans
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		log.Warn("Tracer shutdown error", zap.Error(err))
	}

	log.Info("Graceful shutdown complete")
}

func newAIRouter(cfg *config.Config, m *metrics.Metrics) *ai.AIRouter {
	var clients []ai.AIClient
	if cfg.AI.OpenAIKey != "" {
		clients = append(clients, ai.NewOpenAIClient(cfg.AI.OpenAIKey, cfg.AI.OpenAIBaseURL, cfg.AI.Timeout))
	}
	if cfg.AI.AnthropicKey != "" {
		clients = append(clients, ai.NewClaudeClient(cfg.AI.AnthropicKey, "", cfg.AI.Timeout))
	}
	return ai.NewAIRouter(cfg.AI.DefaultModel, m, clients...)
}

func newOAuthService(cfg *config.Config, authService *auth.AuthService) *auth.OAuthService {
	svc := auth.NewOAuthService(authService)
	base := cfg.OAuth.RedirectBaseURL + "/api/auth/oauth/"
	if cfg.OAuth.GoogleClientID != "" {
		svc.RegisterProvider("google", auth.NewGoogleOAuth(cfg.OAuth.GoogleClientID, cfg.OAuth.GoogleClientSecret, base+"google/callback"))
	}
	if cfg.OAuth.GitHubClientID != "" {
		svc.RegisterProvider("github", auth.NewGitHubOAuth(cfg.OAuth.GitHubClientID, cfg.OAuth.GitHubClientSecret, base+"github/callback"))
	}
	return svc
}

// monitorProviders refreshes LLM provider health for /health/ready and the
// provider health gauge
func monitorProviders(ctx context.Context, router *ai.AIRouter) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		checkCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		router.CheckHealth(checkCtx)
		cancel()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
