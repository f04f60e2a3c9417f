package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"urlshortener/internal/bot"
	"urlshortener/internal/config"
	"urlshortener/internal/database"
	"urlshortener/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)
	slog.Info("Starting URL shortener service...", "port", cfg.Port, "storage", cfg.Storage)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := database.Open(ctx, cfg)
	if err != nil {
		slog.Error("Could not connect to storage", "storage", cfg.Storage, "error", err)
		return
	}
	defer store.Close()

	codes, err := service.NewCodeGenerator(cfg.CodeLength)
	if err != nil {
		slog.Error("Could not create code generator", "error", err)
		return
	}
	shortener := service.NewShortener(store, codes,
		service.WithMaxAttempts(cfg.MaxAttempts),
		service.WithExpiryEnforcement(cfg.EnforceExpiry),
	)

	var clicks service.ClickRecorder
	if cfg.AnalyticsEnabled() {
		analytics, err := database.ConnectClickHouse(ctx, cfg.ClickHouseAddr, cfg.ClickHouseUser,
			cfg.ClickHousePassword, cfg.ClickHouseDB, cfg.GeoIPPath)
		if err != nil {
			slog.Error("Could not connect to ClickHouse", "error", err)
			return
		}
		defer analytics.Close()
		analytics.Start(ctx)
		clicks = analytics
	}

	botErr := make(chan error, 1)
	if cfg.BotEnabled() {
		users, _ := store.(bot.UserRegistry)
		tgBot, err := bot.NewTelegramBot(cfg.TelegramToken, cfg.BaseURL, shortener, users)
		if err != nil {
			slog.Error("Could not initialize bot", "error", err)
			return
		}
		go func() { botErr <- tgBot.Start(ctx) }()
	}

	if cfg.PurgeInterval > 0 {
		go shortener.RunExpirySweeper(ctx, cfg.PurgeInterval)
	}

	server := service.NewServer(cfg.Port, cfg.BaseURL, shortener, clicks, store.Ping)
	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start(ctx) }()

	slog.Info("Service is up and running!")

	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
		if err := <-serverErr; err != nil {
			slog.Error("Server shutdown failed", "error", err)
		}
	case err := <-serverErr:
		if err != nil {
			slog.Error("Server stopped with error", "error", err)
		}
	case err := <-botErr:
		if err != nil {
			slog.Error("Bot stopped with error", "error", err)
		}
	}
	stop()

	slog.Info("Shutting down gracefully...")
}
