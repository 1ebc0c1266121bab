package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"sheet-sync-service/internal/api"
	"sheet-sync-service/internal/cache"
	"sheet-sync-service/internal/config"
	"sheet-sync-service/internal/gateway"
	"sheet-sync-service/internal/logger"
	"sheet-sync-service/internal/notify"
	"sheet-sync-service/internal/remote"
	"sheet-sync-service/internal/store"
	"sheet-sync-service/internal/sync"
)

func main() {
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.InitLogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Log.Info("Starting sheet sync service")

	stateStore, err := store.NewSQLiteStore(cfg.StateStorage)
	if err != nil {
		logger.Log.Fatal("Failed to init state store", zap.Error(err))
	}
	defer stateStore.Close()

	// Rule engine with the built-in rule set.
	engine := notify.NewEngine()
	for _, rule := range notify.DefaultRules(cfg.Notifications.AdminUsers) {
		engine.AddRule(rule)
	}

	manager := sync.NewManager(cfg, stateStore, engine)
	if err := manager.Start(); err != nil {
		logger.Log.Fatal("Failed to start sync manager", zap.Error(err))
	}
	defer manager.Close()

	// Data path: remote client -> retry executor -> gateway, publishing
	// committed writes into the manager.
	cacheStore := cache.NewStore(cfg.Cache.MaxEntries, cfg.Cache.TTL, cfg.Cache.FallbackMaxAge)
	remoteClient := remote.NewClient(cfg.Remote)
	executor := gateway.NewExecutor(cacheStore, gateway.RetryConfigFrom(cfg.Retry))
	gw := gateway.NewGateway(remoteClient, cacheStore, executor, manager, cfg.Cache)

	// Periodic jobs: stale-connection reaping and deadline alerts.
	resolver := &notify.StaticResolver{Admins: cfg.Notifications.AdminUsers, Lister: gw}
	sweeper := notify.NewDeadlineSweeper(gw, resolver, cfg.Notifications.DeadlineHorizon, manager.Notify)
	scheduler := sync.NewScheduler(cfg.Scheduler, manager.Registry(), sweeper.Run)
	scheduler.Start()
	defer scheduler.Stop()

	handler := api.NewHandler(gw, manager, *cfg)
	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Log.Info("Server listening", zap.String("addr", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("Server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("Server shutdown failed", zap.Error(err))
	}

	manager.Stop()
}
