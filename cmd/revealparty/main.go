package main

import (
	"context"
	"encoding/hex"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/dukerupert/revealparty/internal/auth"
	"github.com/dukerupert/revealparty/internal/database"
	"github.com/dukerupert/revealparty/internal/logging"
	"github.com/dukerupert/revealparty/internal/media"
	"github.com/dukerupert/revealparty/internal/relay"
	"github.com/dukerupert/revealparty/internal/secret"
	"github.com/dukerupert/revealparty/internal/server"
	"github.com/dukerupert/revealparty/internal/store"
)

func main() {
	// A missing .env is normal in production.
	_ = godotenv.Load()

	cfg, err := loadConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)
	if cfg.devSecret {
		logger.Warn("REVEAL_JWT_SECRET not set, using development secret")
	}

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if v, err := database.SchemaVersion(db); err == nil {
		logger.Info("database ready", "path", cfg.DBPath, "schema", v)
	}

	salt, err := store.NewSettingsStore(db).GetOrInit(store.KeySecretSalt, func() (string, error) {
		b, err := secret.GenerateSalt()
		return hex.EncodeToString(b), err
	})
	if err != nil {
		slog.Error("failed to load sealing salt", "error", err)
		os.Exit(1)
	}
	saltBytes, err := hex.DecodeString(salt)
	if err != nil {
		slog.Error("stored sealing salt is not hex", "error", err)
		os.Exit(1)
	}
	sealer, err := secret.NewSealer(cfg.SecretKey, saltBytes)
	if err != nil {
		slog.Error("failed to create sealer", "error", err)
		os.Exit(1)
	}

	var rl relay.Relay = relay.NewLocal()
	if cfg.NATSURL != "" {
		n, err := relay.ConnectNATS(cfg.NATSURL, logger.With("component", "relay"))
		if err != nil {
			slog.Error("failed to connect relay", "error", err)
			os.Exit(1)
		}
		rl = n
		logger.Info("using nats relay", "url", cfg.NATSURL)
	}
	defer rl.Close()

	var s3Store *media.S3Store
	if cfg.S3.Enabled() {
		s3Store = media.NewS3Store(cfg.S3)
		logger.Info("storing custom audio in s3", "bucket", cfg.S3.Bucket)
	}

	srv := server.New(db, server.Config{
		Tokens:      auth.NewTokens(cfg.JWTSecret),
		Sealer:      sealer,
		Relay:       rl,
		S3:          s3Store,
		CORSOrigins: cfg.CORSOrigins,
	}, logger)

	if err := srv.Hub().Start(); err != nil {
		slog.Error("failed to start hub", "error", err)
		os.Exit(1)
	}

	// No WriteTimeout: websocket connections are long-lived.
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				srv.RateLimiter().Cleanup()
				srv.Hub().CleanupLimiter()
			case <-cleanupCtx.Done():
				return
			}
		}
	}()

	go func() {
		slog.Info("revealparty starting", "addr", ":"+cfg.Port, "base_url", cfg.BaseURL)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	cleanupCancel()
	srv.Hub().Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
