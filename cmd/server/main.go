// Package main provides the API server entry point for the wallet inspector.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/wallet-inspector/internal/api"
	"github.com/wallet-inspector/internal/config"
	"github.com/wallet-inspector/internal/logging"
	"github.com/wallet-inspector/internal/service"
	"github.com/wallet-inspector/internal/storage"
)

func main() {
	fmt.Println("Wallet Inspector API Server")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logging
	logLevel := logging.ParseLogLevel(cfg.Logging.Level)
	logFormat := logging.ParseLogFormat(cfg.Logging.Format)
	logging.InitGlobalLogger(logLevel, logFormat)

	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	connectCtx, cancelConnect := context.WithTimeout(context.Background(), 2*time.Minute)
	inspector, err := service.NewInspectorFromConfig(connectCtx, cfg, registry, logger)
	cancelConnect()
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to RPC endpoint")
	}
	defer inspector.Close()

	// Redis is optional; without it every request runs a fresh inspection
	var summaryCache *storage.SummaryCache
	if cfg.Redis.Host != "" {
		redis, err := storage.NewRedisCache(&cfg.Redis)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, summary cache disabled")
		} else {
			defer redis.Close()
			summaryCache = storage.NewSummaryCache(redis, cfg.Cache.TTL)
			logger.WithField("ttl", summaryCache.TTL().String()).Info("Summary cache enabled")
		}
	}

	serverConfig := &api.ServerConfig{
		Host:                  cfg.Server.Host,
		Port:                  cfg.Server.Port,
		ReadTimeout:           15 * time.Second,
		WriteTimeout:          5 * time.Minute, // inspections over a long lookback are slow
		IdleTimeout:           60 * time.Second,
		ShutdownTimeout:       10 * time.Second,
		ClientRPS:             cfg.Server.ClientRPS,
		DefaultLookbackBlocks: cfg.Inspector.LookbackBlocks,
		DefaultMaxEvents:      cfg.Inspector.MaxEvents,
	}

	server := api.NewServer(serverConfig, inspector, summaryCache, registry, logger)

	// Start server in a goroutine
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server exited")
}
