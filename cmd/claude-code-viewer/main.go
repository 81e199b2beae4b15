// Package main is the entry point for the claude-code-viewer backend.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/trydex/claude-code-viewer/internal/common/config"
	"github.com/trydex/claude-code-viewer/internal/common/logger"
	"github.com/trydex/claude-code-viewer/internal/db"
	"github.com/trydex/claude-code-viewer/internal/engine"
	"github.com/trydex/claude-code-viewer/internal/events/bus"
	"github.com/trydex/claude-code-viewer/internal/gateway/websocket"
	"github.com/trydex/claude-code-viewer/internal/notifications"
	"github.com/trydex/claude-code-viewer/internal/notifications/providers"
	"github.com/trydex/claude-code-viewer/internal/permission"
	"github.com/trydex/claude-code-viewer/internal/scheduler"
	schedulerapi "github.com/trydex/claude-code-viewer/internal/scheduler/api"
	sessionapi "github.com/trydex/claude-code-viewer/internal/session/api"
	"github.com/trydex/claude-code-viewer/internal/session/lifecycle"
	"github.com/trydex/claude-code-viewer/internal/session/registry"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting claude-code-viewer backend...")

	// 3. Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Open the SQLite database
	database, err := db.OpenSQLite(cfg.Database.Path)
	if err != nil {
		log.Fatal("Failed to open database", zap.Error(err))
	}
	defer database.Close()
	log.Info("Opened database", zap.String("path", cfg.Database.Path))

	// 5. Create the event bus (NATS when configured, in-memory otherwise)
	eventBus, err := bus.NewFromConfig(cfg.NATS, log)
	if err != nil {
		log.Fatal("Failed to create event bus", zap.Error(err))
	}
	defer eventBus.Close()

	// 6. Core session components
	reg := registry.NewRegistry()
	gateway := permission.NewGateway(eventBus, log)
	cliEngine := engine.NewCLIEngine(engine.Config{
		Executable: cfg.Agent.Executable,
		MinVersion: cfg.Agent.MinVersion,
	}, log)

	svc := lifecycle.NewService(lifecycle.Config{
		DefaultPermissionMode: cfg.Agent.PermissionMode,
		PermissionTimeout:     cfg.Agent.PermissionTimeoutDuration(),
		TerminalRetention:     cfg.Agent.TerminalRetentionDuration(),
	}, cliEngine, reg, gateway, eventBus, log)
	svc.Run()

	// 7. Scheduler over the SQLite job store
	jobStore, err := scheduler.NewSQLiteStore(database)
	if err != nil {
		log.Fatal("Failed to initialize scheduler store", zap.Error(err))
	}
	sched := scheduler.New(scheduler.Config{
		CheckInterval: cfg.Scheduler.CheckIntervalDuration(),
	}, jobStore, svc, eventBus, nil, log)
	sched.Run()

	// 8. Notification bridge
	provs := []providers.Provider{providers.NewLog(log)}
	if cfg.Telegram.Enabled {
		provs = append(provs, providers.NewTelegram(providers.TelegramConfig{
			BotToken: cfg.Telegram.BotToken,
			ChatID:   cfg.Telegram.ChatID,
		}))
	}
	bridge := notifications.NewBridge(eventBus, provs, log)
	if err := bridge.Start(); err != nil {
		log.Fatal("Failed to start notification bridge", zap.Error(err))
	}

	// 9. WebSocket hub and event broadcaster
	wsHub := websocket.NewHub(log)
	go wsHub.Run(ctx)
	broadcaster := websocket.NewBroadcaster(wsHub, eventBus, log)
	if err := broadcaster.Start(); err != nil {
		log.Fatal("Failed to start event broadcaster", zap.Error(err))
	}

	// 10. HTTP server with Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(sessionapi.RequestLogger(log))
	router.Use(sessionapi.Recovery(log))
	router.Use(sessionapi.CORS())

	v1 := router.Group("/api/v1")
	sessionapi.SetupRoutes(v1, svc, gateway, log)
	schedulerapi.SetupRoutes(v1, sched, log)

	router.GET("/ws", func(c *gin.Context) {
		websocket.ServeWS(wsHub, c.Writer, c.Request, log)
	})
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("HTTP server listening",
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	// 11. Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down claude-code-viewer backend...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	broadcaster.Stop()
	bridge.Stop()
	sched.Stop()
	svc.Stop()

	log.Info("claude-code-viewer backend stopped")
}
