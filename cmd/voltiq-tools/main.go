// voltiq-tools is the tool provider process: an MCP server speaking over
// stdio, started by the gateway once per generation attempt. It loads the
// usage dataset at startup and serves the read-only query tools.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"

	"voltiq/internal/config"
	"voltiq/internal/store"
	"voltiq/internal/toolserver"
	"voltiq/internal/usage"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()

	// stdout carries the MCP transport, all logging goes to stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx := context.Background()
	pool, err := store.CreateConnectionPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to create connection pool: %v", err)
	}
	defer pool.Close()

	tables := store.NewTableNames(cfg.TablePrefix)
	dataset, err := usage.LoadDataset(ctx, pool, tables.UsageRecords, logger)
	if err != nil {
		log.Fatalf("Failed to load usage dataset: %v", err)
	}

	logger.Info("usage dataset loaded", "days", dataset.Len())

	srv := toolserver.New(dataset, logger)
	if err := server.ServeStdio(srv); err != nil {
		log.Fatalf("Tool server error: %v", err)
	}
}
