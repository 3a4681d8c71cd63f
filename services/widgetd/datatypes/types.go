// Copyright (C) 2025 AI Widget Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes defines the shared data model for the widget backend:
// projects, chats, messages, users, and the stream event envelope.
package datatypes

import "time"

// ChatMode says who answers the next visitor message in a chat.
type ChatMode string

const (
	// ModeAssistant routes visitor messages to the external assistant.
	ModeAssistant ChatMode = "assistant"

	// ModeHuman parks visitor messages for a human operator.
	ModeHuman ChatMode = "human"
)

// Valid reports whether m is a known chat mode.
func (m ChatMode) Valid() bool {
	return m == ModeAssistant || m == ModeHuman
}

// ChatStatus is the lifecycle state of a chat.
type ChatStatus string

const (
	StatusOpen   ChatStatus = "open"
	StatusClosed ChatStatus = "closed"
)

// Role identifies the author of a message.
//
// RoleHuman is an operator override: the text is persisted locally and
// mirrored into the external conversation thread as an assistant-role entry
// so future assistant runs see the intervention as prior context.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleHuman     Role = "human"
)

// Valid reports whether r is a known message role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant || r == RoleHuman
}

// Project is one tenant of the widget backend.
//
// A project without OpenAIAPIKey cannot start chats. A project without
// AssistantID cannot run the assistant; its chats are effectively
// human-only until an assistant is configured.
type Project struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	AssistantID    string   `json:"assistant_id"`
	OpenAIAPIKey   string   `json:"openai_api_key"`
	Instructions   string   `json:"instructions"`
	AllowedOrigins []string `json:"allowed_origins"`
	OwnerID        *string  `json:"owner_id"`

	// TelegramChatID binds new-chat notifications to a telegram chat.
	// Nil until an operator links the project via a one-time secret.
	TelegramChatID      *string    `json:"telegram_chat_id"`
	TelegramConnectedAt *time.Time `json:"telegram_connected_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProjectPatch is a partial project update. Nil fields are left unchanged.
// AllowedOrigins replaces the whole list when non-nil.
type ProjectPatch struct {
	Name           *string
	AssistantID    *string
	OpenAIAPIKey   *string
	Instructions   *string
	AllowedOrigins []string
	OwnerID        *string
}

// Chat is one visitor conversation.
//
// ThreadID is the opaque external conversation-thread reference. It is
// created once, when the chat is created, and never changes: every message
// in a chat flows through the same external thread.
type Chat struct {
	ID        string     `json:"id"`
	ProjectID string     `json:"project_id"`
	ThreadID  string     `json:"thread_id"`
	Mode      ChatMode   `json:"mode"`
	Status    ChatStatus `json:"status"`
	VisitorID *string    `json:"visitor_id"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	LastSeen  time.Time  `json:"last_seen_at"`

	// DisplayName is a deterministic human-friendly label derived from the
	// chat ID. Populated on admin listings, never persisted.
	DisplayName string `json:"display_name,omitempty"`
}

// Message is one turn in a chat. Messages are append-only: they are never
// mutated or reordered after insertion, and retrieval preserves insertion
// order.
type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// User is an operator account. Admins are configured out-of-band via
// environment; stored users always carry the "user" role unless promoted.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// ProjectStats aggregates per-project usage for the admin dashboard.
type ProjectStats struct {
	ProjectID         string     `json:"project_id"`
	ChatCount         int64      `json:"chat_count"`
	OpenChatCount     int64      `json:"open_chat_count"`
	MessageCount      int64      `json:"message_count"`
	UserMessages      int64      `json:"user_messages"`
	AssistantMessages int64      `json:"assistant_messages"`
	HumanMessages     int64      `json:"human_messages"`
	LastActivityAt    *time.Time `json:"last_activity_at"`
}
