// Copyright (C) 2025 AI Widget Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aiwidget/server/services/widgetd/handlers"
	"github.com/aiwidget/server/services/widgetd/middleware"
)

// Deps carries everything route registration needs.
type Deps struct {
	Widget    handlers.WidgetDeps
	Admin     handlers.AdminDeps
	Auth      handlers.AuthDeps
	Authority *middleware.TokenAuthority
}

// SetupRoutes registers the public widget API, the operator/admin API,
// and the service endpoints on the router.
func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/health", handlers.HealthHandler())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Public widget API, origin-gated per project. Preflight OPTIONS is
	// registered per route; the gate short-circuits it once the origin
	// checks out.
	widget := router.Group("/api/widget/:projectId", middleware.OriginGate(deps.Admin.Store))
	{
		widget.POST("/chat/start", handlers.StartChatHandler(deps.Widget))
		widget.OPTIONS("/chat/start", preflight)
		widget.GET("/chat/:chatId/messages", handlers.ChatMessagesHandler(deps.Widget))
		widget.OPTIONS("/chat/:chatId/messages", preflight)
		widget.GET("/chat/:chatId/stream", handlers.StreamHandler(deps.Widget))
		widget.OPTIONS("/chat/:chatId/stream", preflight)
	}

	// Operator/admin API, cookie-session gated.
	admin := router.Group("/api/admin")
	{
		admin.POST("/login", handlers.LoginHandler(deps.Auth))
		admin.POST("/logout", handlers.LogoutHandler(deps.Auth))
		admin.GET("/session", middleware.RequireAuth(deps.Authority), handlers.SessionHandler(deps.Auth))

		authed := admin.Group("", middleware.RequireAdmin(deps.Authority))
		{
			authed.GET("/projects", handlers.ListProjectsHandler(deps.Admin))
			authed.POST("/projects", handlers.CreateProjectHandler(deps.Admin))
			authed.GET("/projects/:projectId", handlers.GetProjectHandler(deps.Admin))
			authed.PATCH("/projects/:projectId", handlers.PatchProjectHandler(deps.Admin))
			authed.DELETE("/projects/:projectId", handlers.DeleteProjectHandler(deps.Admin))
			authed.GET("/projects/:projectId/chats", handlers.ListChatsHandler(deps.Admin))
			authed.GET("/projects/:projectId/stats", handlers.ProjectStatsHandler(deps.Admin))
			authed.GET("/projects/:projectId/assistant-instructions", handlers.AssistantInstructionsHandler(deps.Admin))
			authed.PUT("/projects/:projectId/assistant-instructions", handlers.UpdateAssistantInstructionsHandler(deps.Admin))
			authed.POST("/projects/:projectId/telegram/link", handlers.LinkTelegramHandler(deps.Admin))
			authed.POST("/projects/:projectId/telegram/unlink", handlers.UnlinkTelegramHandler(deps.Admin))

			authed.GET("/chats/:chatId/messages", handlers.AdminChatMessagesHandler(deps.Admin))
			authed.POST("/chats/:chatId/takeover", handlers.TakeoverChatHandler(deps.Admin))
			authed.POST("/chats/:chatId/release", handlers.ReleaseChatHandler(deps.Admin))
			authed.POST("/chats/:chatId/message", handlers.OperatorMessageHandler(deps.Admin))
			authed.DELETE("/chats/:chatId", handlers.DeleteChatHandler(deps.Admin))

			authed.GET("/users", handlers.ListUsersHandler(deps.Admin))
			authed.POST("/users", handlers.CreateUserHandler(deps.Admin))
			authed.PATCH("/users/:userId/password", handlers.UpdateUserPasswordHandler(deps.Admin))
			authed.DELETE("/users/:userId", handlers.DeleteUserHandler(deps.Admin))
		}
	}

	// User API: same handlers, scoped by ownership through the session
	// identity.
	user := router.Group("/api/user", middleware.RequireUser(deps.Authority))
	{
		user.GET("/projects", handlers.ListProjectsHandler(deps.Admin))
		user.POST("/projects", handlers.CreateProjectHandler(deps.Admin))
		user.GET("/projects/:projectId", handlers.GetProjectHandler(deps.Admin))
		user.PATCH("/projects/:projectId", handlers.PatchProjectHandler(deps.Admin))
		user.DELETE("/projects/:projectId", handlers.DeleteProjectHandler(deps.Admin))
		user.GET("/projects/:projectId/chats", handlers.ListChatsHandler(deps.Admin))
		user.GET("/projects/:projectId/stats", handlers.ProjectStatsHandler(deps.Admin))
		user.POST("/projects/:projectId/telegram/link", handlers.LinkTelegramHandler(deps.Admin))
		user.POST("/projects/:projectId/telegram/unlink", handlers.UnlinkTelegramHandler(deps.Admin))

		user.GET("/chats/:chatId/messages", handlers.AdminChatMessagesHandler(deps.Admin))
		user.POST("/chats/:chatId/takeover", handlers.TakeoverChatHandler(deps.Admin))
		user.POST("/chats/:chatId/release", handlers.ReleaseChatHandler(deps.Admin))
		user.POST("/chats/:chatId/message", handlers.OperatorMessageHandler(deps.Admin))
		user.DELETE("/chats/:chatId", handlers.DeleteChatHandler(deps.Admin))
	}
}

// preflight terminates OPTIONS requests that passed the origin gate. The
// gate normally short-circuits them; this handler only runs for
// non-browser preflights without an Origin header.
func preflight(c *gin.Context) {
	c.Status(204)
}
