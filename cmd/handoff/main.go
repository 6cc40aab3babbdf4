package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"handoff-engine/pkg/config"
	"handoff-engine/pkg/metrics"
	redisClient "handoff-engine/pkg/redis"
	"handoff-engine/pkg/service"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Setup logger
	logger := logrus.New()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithField("instance_id", cfg.InstanceID).Info("Starting live-agent handoff engine")

	// Initialize metrics
	m := metrics.NewMetrics()

	// Connect to Redis when the shared backend is configured
	var rdb *redisClient.Client
	if cfg.StoreBackend == config.BackendRedis {
		redisConfig := redisClient.DefaultConnectionConfig()
		redisConfig.URL = cfg.RedisURL

		var err error
		rdb, err = redisClient.NewClient(redisConfig, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer rdb.Close()
	}

	// Build the service
	var svc *service.Service
	var err error
	if rdb != nil {
		svc, err = service.New(cfg, logger, m, rdb.GetRedisClient())
	} else {
		svc, err = service.New(cfg, logger, m, nil)
	}
	if err != nil {
		logger.WithError(err).Fatal("Failed to build service")
	}

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start service
	if err := svc.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start service")
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	logger.Info("Received shutdown signal")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := svc.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("Error during service shutdown")
	}

	logger.Info("Handoff engine shutdown complete")
}
