// Package startup prepares the application server
package startup

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AtRiskMedia/presence-go/internal/application/container"
	"github.com/AtRiskMedia/presence-go/internal/infrastructure/config"
	"github.com/AtRiskMedia/presence-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/presence-go/internal/infrastructure/redisclient"
	"github.com/AtRiskMedia/presence-go/internal/presentation/http/server"
)

// Initialize performs the complete server startup sequence: connect
// to Redis, wire the dependency injection container, start the EMA
// engine's background loop, and serve HTTP until a shutdown signal
// arrives.
func Initialize() error {
	setupLogging()

	start := time.Now().UTC()

	ctx, cancelBackgroundTasks := context.WithCancel(context.Background())
	defer cancelBackgroundTasks()

	log.Println("\033[32m" + `
 ▄▄▄▄▄▄  ▄▄▄▄▄  ▄▄▄▄▄  ▄▄▄▄▄▄ ▄▄▄▄▄  ▄▄▄▄▄  ▄▄▄▄▄▄  ▄▄▄▄▄
 ██  ██ ██▄▄██ ██▄▄██ ██     ██▄▄██ ██  ██ ██      ██▄▄
 ██▄▄▄▄ ██  ██ ██▄▄▄  ██▄▄▄▄ ██  ██ ██▄▄██ ██▄▄▄▄  ██▄▄▄
` + "\033[0m")

	log.Println("Connecting to Redis...")
	rdb, err := redisclient.New()
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	loggerConfig := logging.DefaultLoggerConfig()
	logger, err := logging.NewChanneledLogger(loggerConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Startup().Info("Channeled logger initialized")

	log.Println("Initializing dependency injection container...")
	containerStart := time.Now()
	appContainer := container.NewContainer(logger, rdb)
	logger.LogStartupPhase("container", time.Since(containerStart), true, nil)

	logger.Startup().Info("Starting EMA engine...", "interval", config.EMAUpdateInterval)
	go appContainer.EMAEngine.Run(ctx)

	logger.Startup().Info("Starting HTTP server...")
	startServerTime := time.Now()

	port := config.Port
	httpServer := server.New(port, appContainer)

	logger.LogStartupPhase("http_server", time.Since(startServerTime), true, map[string]any{"port": port})

	gracefulShutdown := make(chan os.Signal, 1)
	signal.Notify(gracefulShutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.System().Info("Starting HTTP server", "address", ":"+port)
		if err := httpServer.Start(); err != nil {
			logger.System().Error("HTTP server failed", "error", err.Error())
		}
	}()

	totalStartupTime := time.Since(start)
	logger.Startup().Info("Application startup complete", "totalDuration", totalStartupTime, "port", port)

	<-gracefulShutdown
	logger.Shutdown().Info("Shutdown signal received, starting graceful shutdown...")

	shutdownStart := time.Now()
	cancelBackgroundTasks()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()

	logger.Shutdown().Info("Stopping HTTP server...")
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Shutdown().Error("Error during server shutdown", "error", err.Error())
	} else {
		logger.Shutdown().Info("HTTP server stopped successfully")
	}

	logger.Shutdown().Info("Closing redis connection...")
	if err := redisclient.Close(rdb); err != nil {
		logger.Shutdown().Error("Error closing redis connection", "error", err.Error())
	} else {
		logger.Shutdown().Info("Redis connection closed successfully")
	}

	elapsed := time.Since(start)
	logger.Shutdown().Info("Application shutdown complete", "totalUptime", elapsed, "shutdownDuration", time.Since(shutdownStart))

	return nil
}

// setupLogging configures application logging
func setupLogging() {
	if os.Getenv("GIN_MODE") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}
