// Copyright (C) 2025 AI Widget Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/aiwidget/server/services/assistant"
	"github.com/aiwidget/server/services/widgetd/datatypes"
	"github.com/aiwidget/server/services/widgetd/middleware"
	"github.com/aiwidget/server/services/widgetd/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newHandlerStore backs handler tests with a real in-memory store; the
// handlers only see the Store interface.
func newHandlerStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedProject(t *testing.T, s store.Store, params store.CreateProjectParams) *datatypes.Project {
	t.Helper()
	if params.Name == "" {
		params.Name = "Test Project"
	}
	p, err := s.CreateProject(context.Background(), params)
	require.NoError(t, err)
	return p
}

func seedChat(t *testing.T, s store.Store, projectID string) *datatypes.Chat {
	t.Helper()
	c, err := s.CreateChat(context.Background(), store.CreateChatParams{
		ProjectID: projectID,
		ThreadID:  "thread_1",
	})
	require.NoError(t, err)
	return c
}

// =============================================================================
// Fake Assistant Bridge
// =============================================================================

// fakeBridge records calls and plays back configured behavior.
type fakeBridge struct {
	mu sync.Mutex

	createThreadErr error
	threadSeq       int

	runFn func(ctx context.Context, params assistant.TurnParams, sink assistant.TurnSink) (string, error)
	runs  []assistant.TurnParams

	injected        []string
	injectErr       error
	instructions    string
	instructionsErr error
	updatedWith     []string
	updateErr       error
}

var _ assistant.Client = (*fakeBridge)(nil)

func (f *fakeBridge) CreateThread(ctx context.Context, apiKey string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createThreadErr != nil {
		return "", f.createThreadErr
	}
	f.threadSeq++
	return fmt.Sprintf("thread_%d", f.threadSeq), nil
}

func (f *fakeBridge) RunTurn(ctx context.Context, params assistant.TurnParams, sink assistant.TurnSink) (string, error) {
	f.mu.Lock()
	f.runs = append(f.runs, params)
	fn := f.runFn
	f.mu.Unlock()
	if fn == nil {
		return "", nil
	}
	return fn(ctx, params, sink)
}

func (f *fakeBridge) InjectOperatorTurn(ctx context.Context, apiKey, threadID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.injectErr != nil {
		return f.injectErr
	}
	f.injected = append(f.injected, threadID+": "+text)
	return nil
}

func (f *fakeBridge) AssistantInstructions(ctx context.Context, apiKey, assistantID string) (string, error) {
	return f.instructions, f.instructionsErr
}

func (f *fakeBridge) UpdateAssistantInstructions(ctx context.Context, apiKey, assistantID, instructions string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updatedWith = append(f.updatedWith, instructions)
	return nil
}

func (f *fakeBridge) recordedRuns() []assistant.TurnParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]assistant.TurnParams(nil), f.runs...)
}

// =============================================================================
// Routers
// =============================================================================

// widgetRouter mounts the public widget handlers without the origin gate;
// the gate has its own tests in the middleware package.
func widgetRouter(deps WidgetDeps) *gin.Engine {
	r := gin.New()
	g := r.Group("/api/widget/:projectId")
	g.POST("/chat/start", StartChatHandler(deps))
	g.GET("/chat/:chatId/messages", ChatMessagesHandler(deps))
	g.GET("/chat/:chatId/stream", StreamHandler(deps))
	return r
}

// withIdentity fabricates an authenticated session for handler tests.
func withIdentity(id *middleware.Identity) gin.HandlerFunc {
	return func(c *gin.Context) {
		if id != nil {
			middleware.SetIdentity(c, id)
		}
		c.Next()
	}
}

func adminIdentity() *middleware.Identity {
	return &middleware.Identity{Login: "admin", Role: middleware.RoleAdmin}
}

func userIdentity(userID string) *middleware.Identity {
	return &middleware.Identity{Login: "op@example.com", Role: middleware.RoleUser, UserID: userID}
}

// adminRouter mounts the operator handlers with a fixed caller identity.
func adminRouter(deps AdminDeps, id *middleware.Identity) *gin.Engine {
	r := gin.New()
	g := r.Group("/api/admin", withIdentity(id))
	g.GET("/projects", ListProjectsHandler(deps))
	g.POST("/projects", CreateProjectHandler(deps))
	g.GET("/projects/:projectId", GetProjectHandler(deps))
	g.PATCH("/projects/:projectId", PatchProjectHandler(deps))
	g.DELETE("/projects/:projectId", DeleteProjectHandler(deps))
	g.GET("/projects/:projectId/chats", ListChatsHandler(deps))
	g.GET("/projects/:projectId/stats", ProjectStatsHandler(deps))
	g.GET("/projects/:projectId/assistant-instructions", AssistantInstructionsHandler(deps))
	g.PUT("/projects/:projectId/assistant-instructions", UpdateAssistantInstructionsHandler(deps))
	g.POST("/projects/:projectId/telegram/link", LinkTelegramHandler(deps))
	g.POST("/projects/:projectId/telegram/unlink", UnlinkTelegramHandler(deps))
	g.GET("/chats/:chatId/messages", AdminChatMessagesHandler(deps))
	g.POST("/chats/:chatId/takeover", TakeoverChatHandler(deps))
	g.POST("/chats/:chatId/release", ReleaseChatHandler(deps))
	g.POST("/chats/:chatId/message", OperatorMessageHandler(deps))
	g.DELETE("/chats/:chatId", DeleteChatHandler(deps))
	g.GET("/users", ListUsersHandler(deps))
	g.POST("/users", CreateUserHandler(deps))
	g.PATCH("/users/:userId/password", UpdateUserPasswordHandler(deps))
	g.DELETE("/users/:userId", DeleteUserHandler(deps))
	return r
}

// =============================================================================
// SSE Parsing
// =============================================================================

type sseEvent struct {
	Type string
	Data map[string]any
}

// parseSSE decodes a recorded event-stream body into typed events.
func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	for _, block := range strings.Split(body, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" || strings.HasPrefix(block, ":") {
			continue
		}
		var ev sseEvent
		for _, line := range strings.Split(block, "\n") {
			if name, ok := strings.CutPrefix(line, "event: "); ok {
				ev.Type = name
			}
			if raw, ok := strings.CutPrefix(line, "data: "); ok {
				require.NoError(t, json.Unmarshal([]byte(raw), &ev.Data))
			}
		}
		require.NotEmpty(t, ev.Type, "event block without type: %q", block)
		events = append(events, ev)
	}
	return events
}

func eventTypes(events []sseEvent) []string {
	types := make([]string, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

// tokenText concatenates the text of all token events.
func tokenText(events []sseEvent) string {
	var b strings.Builder
	for _, ev := range events {
		if ev.Type == datatypes.EventToken {
			if t, ok := ev.Data["t"].(string); ok {
				b.WriteString(t)
			}
		}
	}
	return b.String()
}
