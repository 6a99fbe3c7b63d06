package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"storefront-agent/config"
	"storefront-agent/handlers"
	"storefront-agent/middleware"
	"storefront-agent/services"
	"storefront-agent/webhooks"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize structured logger
	logHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	})
	slog.SetDefault(slog.New(logHandler))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, index, cleanup, err := initStorage(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	embedder := newEmbedder(cfg)
	completer := newCompleter(cfg)

	var deliverer services.Deliverer = services.NewMessengerDeliverer(store)
	if cfg.Store == "memory" {
		deliverer = services.LogDeliverer{}
	}

	wsManager := services.NewWebSocketManager()
	conversations := services.NewConversationService(store, store, store, deliverer, wsManager)
	catalog := services.NewCatalogService(store, index)
	retriever := services.NewRetriever(embedder, index, store, services.RetrievalSettings{
		RecommendMinScore: cfg.RecommendMinScore,
		RecommendTopK:     cfg.RecommendTopK,
		ExactMinScore:     cfg.ExactMinScore,
		ExactTopK:         cfg.ExactTopK,
	})
	orchestrator := services.NewOrchestrator(services.OrchestratorDeps{
		Store:             store,
		Conversations:     conversations,
		Retriever:         retriever,
		Completer:         completer,
		Hours:             services.WeeklyHours{},
		Deliverer:         deliverer,
		Notifier:          wsManager,
		CompletionTimeout: cfg.CompletionTimeout,
	})

	if cfg.SeedFile != "" {
		seed, err := loadSeedFile(cfg.SeedFile)
		if err == nil {
			err = applySeed(ctx, store, catalog, seed)
		}
		if err != nil {
			slog.Error("Failed to apply seed file", "path", cfg.SeedFile, "error", err)
			os.Exit(1)
		}
	}

	// Background jobs
	indexer := services.NewIndexer(store, index, embedder, services.IndexerOptions{
		BatchSize:   cfg.IndexerBatchSize,
		Concurrency: cfg.IndexerConcurrency,
		Timeout:     cfg.EmbeddingTimeout,
	})
	sweeper := services.NewSweeper(store, conversations, cfg.HumanIdleTimeout, cfg.SweeperBatch)

	scheduler := cron.New(cron.WithLogger(services.NewCronLogger()))
	if _, err := indexer.Start(ctx, scheduler, cfg.IndexerSchedule); err != nil {
		slog.Error("Invalid indexer schedule", "schedule", cfg.IndexerSchedule, "error", err)
		os.Exit(1)
	}
	if _, err := sweeper.Start(ctx, scheduler, cfg.SweeperSchedule); err != nil {
		slog.Error("Invalid sweeper schedule", "schedule", cfg.SweeperSchedule, "error", err)
		os.Exit(1)
	}
	scheduler.Start()
	defer func() { <-scheduler.Stop().Done() }()

	// first indexing pass without waiting for the schedule
	go func() {
		if _, err := indexer.RunOnce(ctx); err != nil {
			slog.Error("Initial indexing pass failed", "error", err)
		}
	}()

	// Create Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			slog.Error("Request error", "error", err, "status", code)
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, " + middleware.APIKeyHeader,
		MaxAge:       86400,
	}))
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${method} ${path}\n",
	}))

	webhooks.RegisterRoutes(app, cfg, webhooks.NewProcessor(store, orchestrator, cfg.DefaultTenantID))

	handlers.RegisterRoutes(app, &handlers.Handler{
		Store:         store,
		Conversations: conversations,
		Catalog:       catalog,
		Retriever:     retriever,
		Orchestrator:  orchestrator,
		WebSockets:    wsManager,
	}, middleware.RequireAPIKey(store))

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "storefront-agent",
			"store":   cfg.Store,
		})
	})

	go func() {
		<-ctx.Done()
		slog.Info("Shutting down server")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			slog.Error("Server shutdown failed", "error", err)
		}
	}()

	slog.Info("Server starting", "port", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		slog.Error("Server failed to start", "error", err)
		os.Exit(1)
	}
}

// initStorage selects the Mongo-backed or the in-process store and index.
func initStorage(ctx context.Context, cfg *config.Config) (services.Store, services.SemanticIndex, func(), error) {
	if cfg.Store == "memory" {
		slog.Warn("Using in-memory store; data is lost on restart")
		return services.NewMemoryStore(), services.NewMemoryVectorIndex(), func() {}, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := services.InitMongoDB(connectCtx, cfg.MongoURI)
	if err != nil {
		return nil, nil, nil, err
	}
	cleanup := func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		client.Disconnect(disconnectCtx)
	}

	db := client.Database(cfg.DatabaseName)
	store := services.NewMongoStore(db)
	if err := store.CreateIndexes(connectCtx); err != nil {
		// the app still works without indexes, only slower
		slog.Error("Failed to create indexes", "error", err)
	}

	index := services.NewMongoVectorIndex(db)
	if err := index.InitVectorDB(connectCtx); err != nil {
		slog.Error("Failed to initialize vector DB", "error", err)
	}
	return store, index, cleanup, nil
}

func newEmbedder(cfg *config.Config) services.Embedder {
	switch strings.ToLower(cfg.EmbeddingProvider) {
	case "voyage":
		model := cfg.EmbeddingModel
		if strings.HasPrefix(model, "text-embedding") {
			model = "" // OpenAI default left in place; use the Voyage default
		}
		return services.NewVoyageEmbedder(cfg.VoyageAPIKey, model, cfg.VoyageRPM)
	case "hash":
		return services.HashEmbedder{}
	default:
		return services.NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.EmbeddingModel)
	}
}

func newCompleter(cfg *config.Config) services.Completer {
	switch strings.ToLower(cfg.CompletionProvider) {
	case "claude":
		model := cfg.CompletionModel
		if strings.HasPrefix(model, "gpt") {
			model = ""
		}
		return services.NewClaudeCompleter(cfg.AnthropicAPIKey, model, cfg.CompletionTimeout)
	case "echo":
		return services.EchoCompleter{}
	default:
		return services.NewOpenAICompleter(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.CompletionModel)
	}
}
