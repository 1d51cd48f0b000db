package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"marketplace-sync-service/internal/api"
	"marketplace-sync-service/internal/config"
	"marketplace-sync-service/internal/database"
	"marketplace-sync-service/internal/logger"
	"marketplace-sync-service/internal/marketplace"
	"marketplace-sync-service/internal/store"
	"marketplace-sync-service/internal/sync"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// Load Config
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Init Logger
	if err := logger.InitLogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Log.Info("Starting Marketplace Sync Service")

	// Init Storage
	db, err := database.NewDatabase(cfg.Storage)
	if err != nil {
		logger.Log.Fatal("Failed to connect to storage", zap.Error(err))
	}
	syncStore := store.NewMySQLStore(db)
	defer syncStore.Close()

	// Init Marketplace Client
	client, err := marketplace.NewClient(cfg.Marketplace)
	if err != nil {
		logger.Log.Fatal("Failed to init marketplace client", zap.Error(err))
	}

	// Init Sync Manager
	syncManager := sync.NewManager(cfg.Sync, syncStore, client)

	// Init Scheduler
	scheduler := sync.NewScheduler(cfg.Scheduler, syncManager, syncStore, cfg.Sync.GetStaleAfter())
	scheduler.Start()
	defer scheduler.Stop()

	// Init API
	handler := api.NewHandler(syncManager, cfg.Server.AuthToken)
	router := handler.Routes()

	// Start Server
	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.GetReadTimeout(),
		WriteTimeout: cfg.Server.GetWriteTimeout(),
	}

	go func() {
		logger.Log.Info("Server listening", zap.String("addr", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down...")
	scheduler.Stop()
	syncManager.StopAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("Server shutdown failed", zap.Error(err))
	}
}
