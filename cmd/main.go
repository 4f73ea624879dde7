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

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"tablecrm-orders-go/internal/bot"
	"tablecrm-orders-go/internal/config"
	"tablecrm-orders-go/internal/server"
	"tablecrm-orders-go/internal/session"
	"tablecrm-orders-go/internal/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load environment variables from .env file if it exists
	if err := godotenv.Load(); err != nil {
		// .env file is optional, so we don't exit on error
		fmt.Printf("Warning: .env file not found or could not be loaded: %v\n", err)
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("Starting TableCRM orders service...")

	// Validate configuration
	if errors := cfg.Validate(); len(errors) > 0 {
		for _, err := range errors {
			logger.Error(err)
		}
		logger.Fatalf("Configuration validation failed")
	}

	logger.Info("Configuration validated successfully")

	debug := logger.IsLevelEnabled(logrus.DebugLevel)

	store, err := storage.Open(cfg.DBDriver, cfg.DatabaseDSN, debug)
	if err != nil {
		logger.Fatalf("Failed to open token storage: %v", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var sessions *session.Manager
	metrics := server.NewMetrics("tablecrm-orders", func() int { return sessions.Count() })
	sessions = session.NewManager(cfg, store, logger, session.WithObserver(metrics))

	if n, err := sessions.RestoreAll(ctx); err != nil {
		logger.Warnf("Failed to restore stored sessions: %v", err)
	} else {
		logger.Infof("Restored %d stored sessions", n)
	}

	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}
	srv, err := server.NewServer(server.Options{
		APIURL:        cfg.TableCRMAPIURL,
		ProxyTarget:   cfg.TableCRMProxyTarget,
		SecureCookies: cfg.SecureCookies,
	}, sessions, metrics, logger)
	if err != nil {
		logger.Fatalf("Failed to create HTTP server: %v", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("HTTP server listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Telegram front-end is optional
	if cfg.BotEnabled() {
		telegramBot, err := bot.NewTelegramOrderBot(cfg, sessions, logger)
		if err != nil {
			logger.Fatalf("Failed to create Telegram bot: %v", err)
		}
		go func() {
			if err := telegramBot.Run(ctx); err != nil {
				logger.Errorf("Bot error: %v", err)
			}
		}()
	} else {
		logger.Info("TELEGRAM_BOT_TOKEN not set, Telegram bot disabled")
	}

	logger.Info("TableCRM orders service started successfully")
	logger.Info("Press Ctrl+C to stop")

	// Wait for shutdown signal
	<-ctx.Done()
	logger.Info("Shutting down TableCRM orders service...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("HTTP server shutdown error: %v", err)
	}
	logger.Info("Service stopped")
}

// setupLogger configures and returns a logger instance
func setupLogger(level, format string) *logrus.Logger {
	logger := logrus.New()

	switch level {
	case "debug":
		logger.SetLevel(logrus.DebugLevel)
	case "info":
		logger.SetLevel(logrus.InfoLevel)
	case "warn":
		logger.SetLevel(logrus.WarnLevel)
	case "error":
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
			ForceColors:     true,
		})
	}

	logger.SetOutput(os.Stdout)

	return logger
}
