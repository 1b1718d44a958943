package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"voltiq/internal/config"
	"voltiq/internal/gateway"
	"voltiq/internal/handler"
	"voltiq/internal/middleware"
	"voltiq/internal/provider"
	"voltiq/internal/store"
)

func main() {
	// Load .env file (silently ignore if it doesn't exist - for production)
	_ = godotenv.Load()

	cfg := config.Load()

	// Setup structured logging
	logLevel := slog.LevelInfo
	if cfg.Environment == "dev" {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("server starting",
		"environment", cfg.Environment,
		"port", cfg.Port,
		"table_prefix", cfg.TablePrefix,
		"model", cfg.Model,
	)

	// Create pgx connection pool
	ctx := context.Background()
	pool, err := store.CreateConnectionPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to create connection pool: %v", err)
	}
	defer pool.Close()

	logger.Info("database connected")

	tables := store.NewTableNames(cfg.TablePrefix)
	conversationStore := store.NewPostgresStore(pool, tables, logger)

	// Model client and generation profile
	profile, err := config.LoadModelProfile(cfg.Model)
	if err != nil {
		log.Fatalf("Failed to load model profile: %v", err)
	}

	modelClient, err := gateway.NewAnthropicClient(cfg.AnthropicAPIKey, cfg.Model, *profile)
	if err != nil {
		log.Fatalf("Failed to create model client: %v", err)
	}

	// Each generation attempt gets its own tool provider process.
	providers := func(ctx context.Context) (gateway.ToolProvider, error) {
		proc := provider.New(cfg.ToolServerCommand, cfg.ToolServerArgs, cfg.ToolStartTimeout, logger)
		if err := proc.Start(ctx); err != nil {
			return nil, err
		}
		return proc, nil
	}

	policy := gateway.DefaultPolicy(cfg.RetryBaseDelay)
	policy.MaxAttempts = cfg.MaxAttempts

	orchestrator := gateway.NewOrchestrator(modelClient, conversationStore, providers, policy, *profile, logger)

	chatHandler := handler.NewChatHandler(conversationStore, orchestrator, logger)

	logger.Info("services initialized")

	// Create HTTP router (Go 1.22+ enhanced patterns)
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Chat routes
	mux.HandleFunc("POST /api/chat/new", chatHandler.CreateChat)
	mux.HandleFunc("GET /api/chats", chatHandler.ListChats)
	mux.HandleFunc("GET /api/chat/{id}", chatHandler.GetChat)
	mux.HandleFunc("PATCH /api/chat/{id}", chatHandler.UpdateChat)
	mux.HandleFunc("DELETE /api/chat/{id}", chatHandler.DeleteChat)
	mux.HandleFunc("POST /api/chat/{id}/message", chatHandler.SendMessage)

	// Build middleware chain
	var h http.Handler = mux
	h = middleware.Recovery(logger)(h)

	// CORS - must be outermost to handle OPTIONS pre-flight requests
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   strings.Split(cfg.CORSOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept"},
		AllowCredentials: true,
	})
	h = corsHandler.Handler(h)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // Disabled to allow long-lived token streams
		IdleTimeout:  60 * time.Second,
	}

	logger.Info("listening", "port", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Failed to start server: %v", err)
	}
}
