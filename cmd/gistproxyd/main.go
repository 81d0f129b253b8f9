package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"go.pilab.hu/gistvault/config"
	"go.pilab.hu/gistvault/internal/server"
	"go.pilab.hu/gistvault/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr).With().Timestamp().Logger()
		bootLogger.Fatal().Err(err).Msg("failed to load configuration")
	}

	logLevel, parseErr := zerolog.ParseLevel(cfg.LogLevel)
	if parseErr != nil {
		logLevel = zerolog.InfoLevel
	}
	appLogger := log.NewZerologAdapter(logLevel, cfg.LogPretty)
	if parseErr != nil {
		appLogger.Warn(context.Background(), "invalid LOG_LEVEL configured, defaulting to info", map[string]any{
			"configured": cfg.LogLevel,
		})
	}

	ctx := context.Background()
	appLogger.Info(ctx, "starting gistvault token proxy", map[string]any{
		"http_port":     cfg.HTTPPort,
		"auth_base_url": cfg.AuthBaseURL,
		"log_level":     logLevel.String(),
	})

	if cfg.GithubClientID == "" || cfg.GithubClientSecret == "" {
		appLogger.Error(ctx, "GITHUB_CLIENT_ID and GITHUB_CLIENT_SECRET must be set", nil)
		os.Exit(1)
	}

	proxy := server.NewTokenProxy(cfg, appLogger)
	httpServer := server.NewHTTPServer(cfg, appLogger, proxy)

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error(ctx, "http server stopped unexpectedly", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info(ctx, "shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, "graceful shutdown failed", err)
	}
}
