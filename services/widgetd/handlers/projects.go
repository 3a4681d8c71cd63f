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

	"github.com/aiwidget/server/services/assistant"
	"github.com/aiwidget/server/services/widgetd/datatypes"
	"github.com/aiwidget/server/services/widgetd/middleware"
	"github.com/aiwidget/server/services/widgetd/store"
)

// AdminDeps are the collaborators of the operator/admin handlers. The same
// handlers serve admin routes (full access) and user routes (scoped to
// projects the caller owns); ownership is enforced from the session role.
type AdminDeps struct {
	Store  store.Store
	Bridge assistant.Client
}

// resolveProject loads a project and enforces tenant scope: admins see
// every project, users only their own. A foreign project reads as 404 so
// its existence is not leaked across tenants.
func resolveProject(c *gin.Context, deps AdminDeps, projectID string) *datatypes.Project {
	project, err := deps.Store.GetProject(c.Request.Context(), projectID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Error("Loading project failed", "project_id", projectID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			return nil
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "project_not_found"})
		return nil
	}

	id := middleware.GetIdentity(c)
	if id != nil && id.Role != middleware.RoleAdmin {
		if project.OwnerID == nil || *project.OwnerID != id.UserID {
			c.JSON(http.StatusNotFound, gin.H{"error": "project_not_found"})
			return nil
		}
	}
	return project
}

// ListProjectsHandler lists projects: all of them for admins, the
// caller's own for users.
func ListProjectsHandler(deps AdminDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var ownerID *string
		if id := middleware.GetIdentity(c); id != nil && id.Role != middleware.RoleAdmin {
			ownerID = &id.UserID
		}
		items, err := deps.Store.ListProjects(c.Request.Context(), ownerID)
		if err != nil {
			slog.Error("Listing projects failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": items})
	}
}

type createProjectRequest struct {
	Name           string   `json:"name"`
	AssistantID    string   `json:"assistant_id"`
	OpenAIAPIKey   string   `json:"openai_api_key"`
	Instructions   string   `json:"instructions"`
	AllowedOrigins []string `json:"allowed_origins"`
	OwnerID        *string  `json:"owner_id"`
}

// CreateProjectHandler creates a project. Users always own what they
// create; admins may assign any owner.
func CreateProjectHandler(deps AdminDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createProjectRequest
		_ = c.ShouldBindJSON(&req)
		if req.Name == "" {
			req.Name = "New Project"
		}

		ownerID := req.OwnerID
		if id := middleware.GetIdentity(c); id != nil && id.Role != middleware.RoleAdmin {
			ownerID = &id.UserID
		}

		project, err := deps.Store.CreateProject(c.Request.Context(), store.CreateProjectParams{
			Name:           req.Name,
			AssistantID:    req.AssistantID,
			OpenAIAPIKey:   req.OpenAIAPIKey,
			Instructions:   req.Instructions,
			AllowedOrigins: req.AllowedOrigins,
			OwnerID:        ownerID,
		})
		if err != nil {
			slog.Error("Creating project failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"project": project})
	}
}

// GetProjectHandler returns one project.
func GetProjectHandler(deps AdminDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		project := resolveProject(c, deps, c.Param("projectId"))
		if project == nil {
			return
		}
		c.JSON(http.StatusOK, gin.H{"project": project})
	}
}

type projectPatchRequest struct {
	Name           *string  `json:"name"`
	AssistantID    *string  `json:"assistant_id"`
	OpenAIAPIKey   *string  `json:"openai_api_key"`
	Instructions   *string  `json:"instructions"`
	AllowedOrigins []string `json:"allowed_origins"`
	OwnerID        *string  `json:"owner_id"`
}

// PatchProjectHandler applies a partial update. Absent fields are left
// unchanged; allowed_origins replaces the whole list when present. Only
// admins may reassign ownership.
func PatchProjectHandler(deps AdminDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		project := resolveProject(c, deps, c.Param("projectId"))
		if project == nil {
			return
		}

		var req projectPatchRequest
		_ = c.ShouldBindJSON(&req)

		patch := datatypes.ProjectPatch{
			Name:           req.Name,
			AssistantID:    req.AssistantID,
			OpenAIAPIKey:   req.OpenAIAPIKey,
			Instructions:   req.Instructions,
			AllowedOrigins: req.AllowedOrigins,
		}
		if id := middleware.GetIdentity(c); id != nil && id.Role == middleware.RoleAdmin {
			patch.OwnerID = req.OwnerID
		}

		updated, err := deps.Store.UpdateProject(c.Request.Context(), project.ID, patch)
		if err != nil {
			slog.Error("Updating project failed", "project_id", project.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"project": updated})
	}
}

// DeleteProjectHandler removes a project and cascades to its chats and
// messages.
func DeleteProjectHandler(deps AdminDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		project := resolveProject(c, deps, c.Param("projectId"))
		if project == nil {
			return
		}
		if err := deps.Store.DeleteProject(c.Request.Context(), project.ID); err != nil {
			slog.Error("Deleting project failed", "project_id", project.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

// =============================================================================
// Assistant Instructions Passthrough
// =============================================================================

// assistantReady rejects projects that cannot talk to the provider yet.
func assistantReady(c *gin.Context, project *datatypes.Project) bool {
	if project.AssistantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "assistant_id_missing"})
		return false
	}
	if project.OpenAIAPIKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "openai_api_key_missing"})
		return false
	}
	return true
}

// AssistantInstructionsHandler fetches the assistant's persistent
// instructions from the provider.
func AssistantInstructionsHandler(deps AdminDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		project := resolveProject(c, deps, c.Param("projectId"))
		if project == nil || !assistantReady(c, project) {
			return
		}

		instructions, err := deps.Bridge.AssistantInstructions(c.Request.Context(), project.OpenAIAPIKey, project.AssistantID)
		if err != nil {
			slog.Warn("Fetching assistant instructions failed", "project_id", project.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed_to_fetch_assistant", "message": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"instructions": instructions})
	}
}

type updateInstructionsRequest struct {
	Instructions string `json:"instructions"`
}

// UpdateAssistantInstructionsHandler replaces the assistant's persistent
// instructions at the provider.
func UpdateAssistantInstructionsHandler(deps AdminDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		project := resolveProject(c, deps, c.Param("projectId"))
		if project == nil || !assistantReady(c, project) {
			return
		}

		var req updateInstructionsRequest
		_ = c.ShouldBindJSON(&req)

		err := deps.Bridge.UpdateAssistantInstructions(c.Request.Context(), project.OpenAIAPIKey, project.AssistantID, req.Instructions)
		if err != nil {
			slog.Warn("Updating assistant instructions failed", "project_id", project.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed_to_update_assistant", "message": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

// =============================================================================
// Telegram Linkage
// =============================================================================

type linkTelegramRequest struct {
	Code string `json:"code"`
}

// LinkTelegramHandler binds a project to a Telegram chat by consuming a
// one-time secret the link bot issued to that chat.
func LinkTelegramHandler(deps AdminDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		project := resolveProject(c, deps, c.Param("projectId"))
		if project == nil {
			return
		}

		var req linkTelegramRequest
		_ = c.ShouldBindJSON(&req)
		code := strings.TrimSpace(req.Code)
		if code == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "code_required"})
			return
		}

		token, err := deps.Store.ConsumeLinkSecret(c.Request.Context(), code)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_code"})
				return
			}
			slog.Error("Consuming link secret failed", "project_id", project.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			return
		}

		updated, err := deps.Store.LinkProjectTelegram(c.Request.Context(), project.ID, token.TelegramChatID)
		if err != nil {
			slog.Error("Linking telegram failed", "project_id", project.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"project": updated})
	}
}

// UnlinkTelegramHandler removes a project's Telegram binding. Unlinking an
// unlinked project is a no-op.
func UnlinkTelegramHandler(deps AdminDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		project := resolveProject(c, deps, c.Param("projectId"))
		if project == nil {
			return
		}
		updated, err := deps.Store.UnlinkProjectTelegram(c.Request.Context(), project.ID)
		if err != nil {
			slog.Error("Unlinking telegram failed", "project_id", project.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"project": updated})
	}
}

// ProjectStatsHandler returns aggregate usage for one project.
func ProjectStatsHandler(deps AdminDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		project := resolveProject(c, deps, c.Param("projectId"))
		if project == nil {
			return
		}
		stats, err := deps.Store.ProjectStats(c.Request.Context(), project.ID)
		if err != nil {
			slog.Error("Loading project stats failed", "project_id", project.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"stats": stats})
	}
}
