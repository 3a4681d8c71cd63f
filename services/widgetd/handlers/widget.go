// Copyright (C) 2025 AI Widget Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the HTTP handlers of the widget service:
// the public widget API (chat start, history, SSE stream) and the
// operator/admin API (auth, projects, chats, users, stats).
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aiwidget/server/services/assistant"
	"github.com/aiwidget/server/services/widgetd/notify"
	"github.com/aiwidget/server/services/widgetd/store"
)

// WidgetDeps are the collaborators of the public widget handlers.
type WidgetDeps struct {
	Store    store.Store
	Bridge   assistant.Client
	Notifier *notify.Notifier
}

type startChatRequest struct {
	VisitorID *string `json:"visitorId"`
}

// StartChatHandler creates a chat for a visitor.
//
// # Description
//
// Resolves the project, requires it to carry a provider credential, then
// provisions the external conversation thread and the chat row. The thread
// is created before the chat so a chat never exists without its immutable
// thread reference.
//
// Returns 404 if the project is missing and 400 if it has no credential;
// in both cases no chat row is created.
func StartChatHandler(deps WidgetDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		projectID := c.Param("projectId")

		var req startChatRequest
		// Body is optional; a bare POST starts an anonymous chat.
		_ = c.ShouldBindJSON(&req)

		project, err := deps.Store.GetProject(ctx, projectID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "project_not_found"})
				return
			}
			slog.Error("Loading project failed", "project_id", projectID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			return
		}
		if project.OpenAIAPIKey == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "openai_api_key_missing"})
			return
		}

		threadID, err := deps.Bridge.CreateThread(ctx, project.OpenAIAPIKey)
		if err != nil {
			slog.Error("Creating assistant thread failed", "project_id", projectID, "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "thread_create_failed"})
			return
		}

		chat, err := deps.Store.CreateChat(ctx, store.CreateChatParams{
			ProjectID: projectID,
			ThreadID:  threadID,
			VisitorID: req.VisitorID,
		})
		if err != nil {
			slog.Error("Creating chat failed", "project_id", projectID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"chatId": chat.ID, "mode": chat.Mode})
	}
}

// ChatMessagesHandler returns a chat's message history in insertion order.
func ChatMessagesHandler(deps WidgetDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		projectID := c.Param("projectId")
		chatID := c.Param("chatId")

		chat, err := deps.Store.GetChat(ctx, chatID)
		if err != nil || chat.ProjectID != projectID {
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				slog.Error("Loading chat failed", "chat_id", chatID, "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
				return
			}
			c.JSON(http.StatusNotFound, gin.H{"error": "chat_not_found"})
			return
		}

		items, err := deps.Store.ListMessages(ctx, chatID)
		if err != nil {
			slog.Error("Listing messages failed", "chat_id", chatID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": items})
	}
}
