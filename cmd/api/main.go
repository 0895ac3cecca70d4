package main

import (
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kurihiro0119/github-compliance-audit/internal/aggregator"
	"github.com/kurihiro0119/github-compliance-audit/internal/api"
	"github.com/kurihiro0119/github-compliance-audit/internal/config"
	"github.com/kurihiro0119/github-compliance-audit/internal/logging"
	"github.com/kurihiro0119/github-compliance-audit/internal/storage"
	"github.com/kurihiro0119/github-compliance-audit/internal/storage/postgres"
	"github.com/kurihiro0119/github-compliance-audit/internal/storage/sqlite"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(2)
	}

	logger, err := logging.New(logging.Level(cfg.LogLevel), logging.Format(cfg.LogFormat))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	// Initialize storage
	var store storage.Storage
	switch cfg.StorageType {
	case "postgres":
		store, err = postgres.NewPostgresStorage(cfg.PostgresURL)
	default:
		store, err = sqlite.NewSQLiteStorage(cfg.SQLitePath)
	}
	if err != nil {
		logger.Fatal("failed to initialize storage", zap.String("storage", cfg.StorageType), zap.Error(err))
	}
	defer store.Close()

	agg := aggregator.NewAggregator(store)
	handler := api.NewHandler(agg)

	gin.SetMode(gin.ReleaseMode)
	router := api.SetupRoutes(handler, logger)

	addr := fmt.Sprintf("%s:%s", cfg.APIHost, cfg.APIPort)
	logger.Info("starting API server", zap.String("addr", addr), zap.String("storage", cfg.StorageType))

	if err := router.Run(addr); err != nil {
		logger.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
}
