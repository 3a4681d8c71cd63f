// Copyright (C) 2025 AI Widget Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store provides the durable record of projects, chats, messages,
// users and telegram link secrets.
//
// The store is the only shared resource between concurrent requests; all
// mutations to a chat's mode and status are last-write-wins. The message
// log is append-only and is the source of truth for conversation history.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/aiwidget/server/services/widgetd/datatypes"
)

// ErrNotFound is returned when the requested row does not exist. Callers
// translate it to a 404 without leaking which lookup failed.
var ErrNotFound = errors.New("store: not found")

// ErrConflict is returned when a uniqueness constraint is violated, e.g.
// creating a user with an email that is already registered.
var ErrConflict = errors.New("store: conflict")

// CreateProjectParams carries the initial attributes of a new project.
type CreateProjectParams struct {
	Name           string
	AssistantID    string
	OpenAIAPIKey   string
	Instructions   string
	AllowedOrigins []string
	OwnerID        *string
}

// CreateChatParams carries the initial attributes of a new chat. ThreadID
// must already be provisioned with the assistant provider; it is immutable
// for the life of the chat.
type CreateChatParams struct {
	ProjectID string
	ThreadID  string
	VisitorID *string
}

// ChatFilter narrows ListChats. Nil fields match everything.
type ChatFilter struct {
	ProjectID string
	Status    *datatypes.ChatStatus
	Mode      *datatypes.ChatMode
}

// LinkToken is a consumed telegram link secret.
type LinkToken struct {
	Secret         string
	TelegramChatID string
	Username       *string
	CreatedAt      time.Time
}

// Store is the persistence contract for the widget backend.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; handlers call the store
// from many goroutines.
//
// # Invariants
//
//   - Messages are append-only; ListMessages returns them in insertion
//     order (non-decreasing creation time).
//   - Deleting a project cascades to its chats and their messages;
//     deleting a chat cascades to its messages.
type Store interface {
	// Projects.
	CreateProject(ctx context.Context, params CreateProjectParams) (*datatypes.Project, error)
	ListProjects(ctx context.Context, ownerID *string) ([]datatypes.Project, error)
	GetProject(ctx context.Context, id string) (*datatypes.Project, error)
	UpdateProject(ctx context.Context, id string, patch datatypes.ProjectPatch) (*datatypes.Project, error)
	DeleteProject(ctx context.Context, id string) error
	LinkProjectTelegram(ctx context.Context, id, telegramChatID string) (*datatypes.Project, error)
	UnlinkProjectTelegram(ctx context.Context, id string) (*datatypes.Project, error)
	ProjectStats(ctx context.Context, id string) (*datatypes.ProjectStats, error)

	// Chats.
	CreateChat(ctx context.Context, params CreateChatParams) (*datatypes.Chat, error)
	GetChat(ctx context.Context, id string) (*datatypes.Chat, error)
	ListChats(ctx context.Context, filter ChatFilter) ([]datatypes.Chat, error)
	SetChatMode(ctx context.Context, id string, mode datatypes.ChatMode) (*datatypes.Chat, error)
	TouchChat(ctx context.Context, id string) error
	DeleteChat(ctx context.Context, id string) error
	CloseInactiveChats(ctx context.Context, lastSeenBefore time.Time) (int64, error)

	// Messages.
	AddMessage(ctx context.Context, chatID string, role datatypes.Role, content string) (*datatypes.Message, error)
	ListMessages(ctx context.Context, chatID string) ([]datatypes.Message, error)
	CountMessages(ctx context.Context, chatID string) (int64, error)

	// Users.
	CreateUser(ctx context.Context, email, passwordHash, role string) (*datatypes.User, error)
	ListUsers(ctx context.Context) ([]datatypes.User, error)
	GetUserByEmail(ctx context.Context, email string) (*datatypes.User, error)
	UpdateUserPassword(ctx context.Context, id, passwordHash string) error
	DeleteUser(ctx context.Context, id string) error

	// Telegram link secrets. Secrets are single-use: ConsumeLinkSecret
	// returns ErrNotFound for unknown or already-consumed secrets.
	IssueLinkSecret(ctx context.Context, telegramChatID string, username *string) (string, error)
	ConsumeLinkSecret(ctx context.Context, secret string) (*LinkToken, error)

	Close() error
}
