// Copyright (C) 2025 AI Widget Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command widgetd starts the chat widget backend HTTP server.
//
// It reads configuration from environment variables (a .env file is
// loaded first if present) and starts the server.
//
// # Environment Variables
//
//   - PORT: HTTP server port (default: 8787)
//   - DB_PATH: SQLite database path (default: ./data/widget.db)
//   - JWT_SECRET: session token signing secret (required)
//   - ADMIN_LOGIN / ADMIN_PASSWORD: built-in operator credentials
//   - TELEGRAM_BOT_TOKEN: enables Telegram notifications (optional)
//   - ASSISTANT_TRANSPORT: "stream" or "poll" (default: stream)
//   - CHAT_IDLE_HOURS: hours before an idle chat closes (default: 24)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (optional)
//   - SECURE_COOKIES: "true" to mark session cookies Secure
//   - LOG_LEVEL: debug, info, warn, error (default: info)
//   - LOG_DIR: enables JSON file logging when set
//
// # Usage
//
//	# Build
//	go build -o widgetd ./cmd/widgetd
//
//	# Run
//	./widgetd
package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/aiwidget/server/pkg/logging"
	"github.com/aiwidget/server/services/widgetd"
)

func main() {
	// Missing .env is fine; env vars win either way.
	_ = godotenv.Load()

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(os.Getenv("LOG_LEVEL")),
		LogDir:  os.Getenv("LOG_DIR"),
		Service: "widgetd",
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	cfg := widgetd.Config{
		Port:               getEnvInt("PORT", 8787),
		DBPath:             getEnvString("DB_PATH", "./data/widget.db"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		AdminLogin:         os.Getenv("ADMIN_LOGIN"),
		AdminPassword:      os.Getenv("ADMIN_PASSWORD"),
		TelegramToken:      os.Getenv("TELEGRAM_BOT_TOKEN"),
		AssistantTransport: os.Getenv("ASSISTANT_TRANSPORT"),
		ChatIdleAfter:      time.Duration(getEnvInt("CHAT_IDLE_HOURS", 24)) * time.Hour,
		OTelEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		SecureCookies:      os.Getenv("SECURE_COOKIES") == "true",
	}

	slog.Info("Starting widgetd",
		"port", cfg.Port,
		"db_path", cfg.DBPath,
		"transport", cfg.AssistantTransport,
	)

	svc, err := widgetd.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create service: %v", err)
	}

	// Run the server (blocks until shutdown)
	if err := svc.Run(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
