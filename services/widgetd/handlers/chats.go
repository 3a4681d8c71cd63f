// Copyright (C) 2025 AI Widget Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/aiwidget/server/services/widgetd/chatnames"
	"github.com/aiwidget/server/services/widgetd/datatypes"
	"github.com/aiwidget/server/services/widgetd/middleware"
	"github.com/aiwidget/server/services/widgetd/store"
)

// resolveChat loads a chat and enforces the same tenant scope as
// resolveProject, via the chat's owning project.
func resolveChat(c *gin.Context, deps AdminDeps, chatID string) *datatypes.Chat {
	chat, err := deps.Store.GetChat(c.Request.Context(), chatID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Error("Loading chat failed", "chat_id", chatID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			return nil
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "chat_not_found"})
		return nil
	}

	if id := middleware.GetIdentity(c); id != nil && id.Role != middleware.RoleAdmin {
		project, err := deps.Store.GetProject(c.Request.Context(), chat.ProjectID)
		if err != nil || project.OwnerID == nil || *project.OwnerID != id.UserID {
			c.JSON(http.StatusNotFound, gin.H{"error": "chat_not_found"})
			return nil
		}
	}
	return chat
}

// ListChatsHandler lists a project's chats, optionally filtered by status
// and mode, with display names attached.
func ListChatsHandler(deps AdminDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		project := resolveProject(c, deps, c.Param("projectId"))
		if project == nil {
			return
		}

		filter := store.ChatFilter{ProjectID: project.ID}
		if s := c.Query("status"); s != "" {
			status := datatypes.ChatStatus(s)
			filter.Status = &status
		}
		if m := c.Query("mode"); m != "" {
			mode := datatypes.ChatMode(m)
			filter.Mode = &mode
		}

		items, err := deps.Store.ListChats(c.Request.Context(), filter)
		if err != nil {
			slog.Error("Listing chats failed", "project_id", project.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			return
		}
		for i := range items {
			items[i].DisplayName = chatnames.DisplayName(items[i].ID)
		}
		c.JSON(http.StatusOK, gin.H{"items": items})
	}
}

// AdminChatMessagesHandler returns a chat's message history for operators.
func AdminChatMessagesHandler(deps AdminDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		chat := resolveChat(c, deps, c.Param("chatId"))
		if chat == nil {
			return
		}
		items, err := deps.Store.ListMessages(c.Request.Context(), chat.ID)
		if err != nil {
			slog.Error("Listing messages failed", "chat_id", chat.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": items})
	}
}

// setModeHandler flips a chat's mode. Both transitions are idempotent:
// taking over a human-mode chat or releasing an assistant-mode chat
// leaves the mode unchanged.
func setModeHandler(deps AdminDeps, mode datatypes.ChatMode) gin.HandlerFunc {
	return func(c *gin.Context) {
		chat := resolveChat(c, deps, c.Param("chatId"))
		if chat == nil {
			return
		}
		updated, err := deps.Store.SetChatMode(c.Request.Context(), chat.ID, mode)
		if err != nil {
			slog.Error("Setting chat mode failed", "chat_id", chat.ID, "mode", mode, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"chat": updated})
	}
}

// TakeoverChatHandler routes the chat's future messages to a human
// operator.
func TakeoverChatHandler(deps AdminDeps) gin.HandlerFunc {
	return setModeHandler(deps, datatypes.ModeHuman)
}

// ReleaseChatHandler hands the chat back to the assistant.
func ReleaseChatHandler(deps AdminDeps) gin.HandlerFunc {
	return setModeHandler(deps, datatypes.ModeAssistant)
}

type operatorMessageRequest struct {
	Text string `json:"text"`
}

// OperatorMessageHandler posts an operator reply into a chat.
//
// # Description
//
// The text persists locally with role "human" so the widget's polling
// picks it up, and is mirrored into the external conversation thread so
// later assistant runs see the operator's intervention as context. The
// mirror is best-effort: a provider failure is logged, the local message
// stands.
func OperatorMessageHandler(deps AdminDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req operatorMessageRequest
		_ = c.ShouldBindJSON(&req)
		text := strings.TrimSpace(req.Text)
		if text == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "empty"})
			return
		}

		chat := resolveChat(c, deps, c.Param("chatId"))
		if chat == nil {
			return
		}

		if _, err := deps.Store.AddMessage(c.Request.Context(), chat.ID, datatypes.RoleHuman, text); err != nil {
			slog.Error("Persisting operator message failed", "chat_id", chat.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			return
		}

		project, err := deps.Store.GetProject(c.Request.Context(), chat.ProjectID)
		if err == nil && project.OpenAIAPIKey != "" {
			if err := deps.Bridge.InjectOperatorTurn(c.Request.Context(), project.OpenAIAPIKey, chat.ThreadID, text); err != nil {
				slog.Warn("Mirroring operator message to thread failed", "chat_id", chat.ID, "error", err)
			}
		}

		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

// DeleteChatHandler removes a chat and its messages.
func DeleteChatHandler(deps AdminDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		chat := resolveChat(c, deps, c.Param("chatId"))
		if chat == nil {
			return
		}
		if err := deps.Store.DeleteChat(c.Request.Context(), chat.ID); err != nil {
			slog.Error("Deleting chat failed", "chat_id", chat.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}
