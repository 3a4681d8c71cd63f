// Copyright (C) 2025 AI Widget Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command linkbot runs the Telegram side of project linking.
//
// Operators message the bot to get a short one-time code, then paste
// that code into the admin panel to bind their Telegram chat to a
// project. The bot long-polls getUpdates and answers three things:
//
//   - /start or /code: issue a fresh code
//   - /help: explain the flow
//   - anything else: point at /code
//
// # Environment Variables
//
//   - TELEGRAM_BOT_TOKEN: bot token (required)
//   - DB_PATH: SQLite database path, shared with widgetd
//     (default: ./data/widget.db)
//   - LOG_LEVEL: debug, info, warn, error (default: info)
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/aiwidget/server/pkg/logging"
	"github.com/aiwidget/server/services/widgetd/notify"
	"github.com/aiwidget/server/services/widgetd/store"
)

const pollTimeout = 30 * time.Second

func main() {
	_ = godotenv.Load()

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(os.Getenv("LOG_LEVEL")),
		Service: "linkbot",
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		log.Fatal("TELEGRAM_BOT_TOKEN is required")
	}

	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "./data/widget.db"
	}
	st, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bot := notify.NewTelegramClient(token)
	slog.Info("Link bot started", "db_path", dbPath)

	if err := poll(ctx, bot, st); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Bot error: %v", err)
	}
	slog.Info("Link bot stopped")
}

// poll consumes updates until ctx is cancelled. Transient API errors
// are logged and retried after a short pause.
func poll(ctx context.Context, bot *notify.TelegramClient, st *store.SQLiteStore) error {
	var offset int64
	for {
		updates, err := bot.GetUpdates(ctx, offset, pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("getUpdates failed, retrying", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
			}
			continue
		}

		for _, update := range updates {
			if update.UpdateID >= offset {
				offset = update.UpdateID + 1
			}
			if update.Message == nil {
				continue
			}
			handleMessage(ctx, bot, st, update.Message)
		}
	}
}

func handleMessage(ctx context.Context, bot *notify.TelegramClient, st *store.SQLiteStore, msg *notify.IncomingMessage) {
	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	text := strings.TrimSpace(msg.Text)

	var reply string
	switch command(text) {
	case "/start", "/code":
		var username *string
		if msg.Chat.Username != "" {
			username = &msg.Chat.Username
		}
		secret, err := st.IssueLinkSecret(ctx, chatID, username)
		if err != nil {
			slog.Error("Failed to issue link code", "error", err, "chat_id", chatID)
			reply = "Something went wrong, please try again in a minute."
			break
		}
		reply = fmt.Sprintf(
			"Your link code: %s\n\nPaste it into the admin panel under the project's Telegram settings. The code works once.",
			secret)
	case "/help":
		reply = "I connect a project to this Telegram chat.\n\n" +
			"Send /code to get a one-time link code, then paste it into the admin panel. " +
			"Once linked, new conversations and visitor contacts from that project land here."
	default:
		reply = "Send /code to get a link code, or /help for details."
	}

	if err := bot.SendMessage(ctx, chatID, reply); err != nil {
		slog.Warn("Failed to send reply", "error", err, "chat_id", chatID)
	}
}

// command extracts the leading bot command, dropping the @botname
// suffix Telegram appends in group chats.
func command(text string) string {
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	cmd, _, _ := strings.Cut(text, " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	return strings.ToLower(cmd)
}
