package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/dukerupert/revealparty/internal/media"
)

const devJWTSecret = "revealparty-dev-secret"

type config struct {
	Port        string
	DBPath      string
	BaseURL     string
	LogLevel    string
	LogFormat   string
	JWTSecret   string
	SecretKey   string
	CORSOrigins []string
	NATSURL     string
	S3          media.S3Config
	devSecret   bool
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func loadConfig() (config, error) {
	cfg := config{
		Port:        getenv("REVEAL_PORT", "5000"),
		DBPath:      getenv("REVEAL_DB_PATH", "revealparty.db"),
		LogLevel:    os.Getenv("REVEAL_LOG_LEVEL"),
		LogFormat:   os.Getenv("REVEAL_LOG_FORMAT"),
		JWTSecret:   os.Getenv("REVEAL_JWT_SECRET"),
		CORSOrigins: splitList(getenv("REVEAL_CORS_ORIGINS", "*")),
		NATSURL:     os.Getenv("REVEAL_NATS_URL"),
		S3: media.S3Config{
			Endpoint:  os.Getenv("REVEAL_S3_ENDPOINT"),
			Region:    os.Getenv("REVEAL_S3_REGION"),
			Bucket:    os.Getenv("REVEAL_S3_BUCKET"),
			AccessKey: os.Getenv("REVEAL_S3_ACCESS_KEY"),
			SecretKey: os.Getenv("REVEAL_S3_SECRET_KEY"),
		},
	}
	cfg.BaseURL = getenv("REVEAL_BASE_URL", fmt.Sprintf("http://localhost:%s", cfg.Port))

	if cfg.JWTSecret == "" {
		if getenv("REVEAL_ENV", "development") != "development" {
			return config{}, fmt.Errorf("REVEAL_JWT_SECRET is required outside development")
		}
		cfg.JWTSecret = devJWTSecret
		cfg.devSecret = true
	}
	cfg.SecretKey = getenv("REVEAL_SECRET_KEY", cfg.JWTSecret)
	return cfg, nil
}
