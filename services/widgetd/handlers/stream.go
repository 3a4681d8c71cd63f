// Copyright (C) 2025 AI Widget Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aiwidget/server/services/assistant"
	"github.com/aiwidget/server/services/widgetd/contact"
	"github.com/aiwidget/server/services/widgetd/datatypes"
	"github.com/aiwidget/server/services/widgetd/observability"
	"github.com/aiwidget/server/services/widgetd/store"
)

// citationDirective is appended to every run's instructions so the
// assistant does not narrate its retrieval sources; the sanitizer strips
// whatever markers slip through anyway.
const citationDirective = "Never mention, cite, or describe your source files or documents in replies. " +
	"Answer naturally, without reference annotations."

// keepAliveInterval is how often the relay pings an otherwise silent
// stream while a run is in flight. Variable so tests can shorten it.
var keepAliveInterval = 15 * time.Second

// =============================================================================
// Per-chat Single Flight
// =============================================================================

// chatGuard admits at most one live stream per chat. Two simultaneous
// visitor messages would otherwise race two assistant runs against the
// same external thread with interleaved output.
type chatGuard struct {
	mu   sync.Mutex
	busy map[string]bool
}

func newChatGuard() *chatGuard {
	return &chatGuard{busy: make(map[string]bool)}
}

// acquire reports whether the caller now owns the chat's stream slot.
func (g *chatGuard) acquire(chatID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.busy[chatID] {
		return false
	}
	g.busy[chatID] = true
	return true
}

func (g *chatGuard) release(chatID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.busy, chatID)
}

// =============================================================================
// Relay Sink
// =============================================================================

// relaySink bridges assistant run output onto the SSE channel, cleaning
// text deltas through the sanitizer before forwarding.
type relaySink struct {
	writer    SSEWriter
	sanitizer *assistant.Sanitizer
}

func (s *relaySink) OnTextDelta(text string) {
	clean := s.sanitizer.Feed(text)
	if clean == "" {
		return
	}
	if err := s.writer.WriteToken(clean); err != nil {
		slog.Debug("Writing token event failed", "error", err)
		return
	}
	observability.TokensTotal.Inc()
}

func (s *relaySink) OnToolEvent(ev assistant.ToolEvent) {
	if err := s.writer.WriteTool(ev.Event); err != nil {
		slog.Debug("Writing tool event failed", "error", err)
	}
}

// =============================================================================
// Stream Handler
// =============================================================================

// StreamHandler relays one visitor message into a Server-Sent Events
// stream.
//
// # Description
//
// The relay walks a fixed sequence of states: validate the request before
// any event is emitted, persist the inbound message, branch on chat mode,
// and either park the message for a human operator or run the assistant
// and forward its sanitized output. Whatever path is taken the stream ends
// with exactly one done event; failures after the channel opens become an
// error event rather than an HTTP status, since the response is already
// committed to event-stream semantics.
func StreamHandler(deps WidgetDeps) gin.HandlerFunc {
	guard := newChatGuard()

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		projectID := c.Param("projectId")
		chatID := c.Param("chatId")

		// Validating: both checks happen before the event channel opens,
		// so they are plain HTTP errors.
		message := strings.TrimSpace(c.Query("message"))
		if message == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "empty_message"})
			return
		}
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

		SetSSEHeaders(c.Writer)
		writer, err := NewSSEWriter(c.Writer)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming_unsupported"})
			return
		}

		if !guard.acquire(chatID) {
			observability.StreamsTotal.WithLabelValues(observability.OutcomeRejected).Inc()
			writer.WriteError("assistant_busy")
			writer.WriteDone(chatID)
			return
		}
		defer guard.release(chatID)

		observability.ActiveStreams.Inc()
		defer observability.ActiveStreams.Dec()
		start := time.Now()
		defer func() {
			observability.StreamDuration.Observe(time.Since(start).Seconds())
		}()

		runRelay(ctx, deps, writer, chat, message)
	}
}

// runRelay drives the Persisting, ModeCheck and AssistantRun states. The
// SSE channel is already open; every exit path emits done exactly once.
func runRelay(ctx context.Context, deps WidgetDeps, writer SSEWriter, chat *datatypes.Chat, message string) {
	chatID := chat.ID

	finishErr := func(msg string) {
		observability.StreamsTotal.WithLabelValues(observability.OutcomeError).Inc()
		writer.WriteError(msg)
		writer.WriteDone(chatID)
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Stream relay panicked", "chat_id", chatID, "panic", r)
			finishErr("internal_error")
		}
	}()

	// Persisting.
	if err := deps.Store.TouchChat(ctx, chatID); err != nil {
		slog.Warn("Touching chat failed", "chat_id", chatID, "error", err)
	}
	if _, err := deps.Store.AddMessage(ctx, chatID, datatypes.RoleUser, message); err != nil {
		slog.Error("Persisting user message failed", "chat_id", chatID, "error", err)
		finishErr("internal_error")
		return
	}

	// Side effects are best-effort and never abort the relay.
	project, projectErr := deps.Store.GetProject(ctx, chat.ProjectID)
	if project != nil && deps.Notifier != nil {
		if count, err := deps.Store.CountMessages(ctx, chatID); err == nil && count == 1 {
			deps.Notifier.NewChat(ctx, project, chatID)
		}
		if contacts := contact.Extract(message); len(contacts) > 0 {
			deps.Notifier.Contacts(ctx, project, chatID, contacts)
		}
	}

	// ModeCheck.
	if chat.Mode == datatypes.ModeHuman {
		observability.StreamsTotal.WithLabelValues(observability.OutcomeWaitingForHuman).Inc()
		writer.WriteWaitingForHuman(chatID)
		writer.WriteDone(chatID)
		return
	}

	if projectErr != nil || project == nil {
		finishErr("project_not_found")
		return
	}
	if project.AssistantID == "" {
		finishErr("assistant_id is empty for this project")
		return
	}
	if project.OpenAIAPIKey == "" {
		finishErr("openai_api_key is empty for this project")
		return
	}

	// AssistantRun.
	writer.WriteMeta(chatID, string(datatypes.ModeAssistant))

	// The polling transport can go a long while without putting a byte on
	// the wire; comment pings keep intermediaries from cutting the stream.
	keepAliveDone := make(chan struct{})
	go runKeepAlive(ctx, writer, keepAliveInterval, keepAliveDone)

	sink := &relaySink{writer: writer, sanitizer: &assistant.Sanitizer{}}
	finalText, err := deps.Bridge.RunTurn(ctx, assistant.TurnParams{
		APIKey:                 project.OpenAIAPIKey,
		ThreadID:               chat.ThreadID,
		AssistantID:            project.AssistantID,
		AdditionalInstructions: composeInstructions(project.Instructions),
		UserText:               message,
	}, sink)
	close(keepAliveDone)
	if err != nil {
		slog.Error("Assistant run failed", "chat_id", chatID, "error", err)
		finishErr(err.Error())
		return
	}

	// Flush whatever the final authoritative text adds beyond the
	// streamed deltas, then persist the clean reply.
	if residual := sink.sanitizer.Finalize(finalText); residual != "" {
		if werr := writer.WriteToken(residual); werr == nil {
			observability.TokensTotal.Inc()
		}
	}
	if clean := sink.sanitizer.Sent(); strings.TrimSpace(clean) != "" {
		if _, err := deps.Store.AddMessage(ctx, chatID, datatypes.RoleAssistant, clean); err != nil {
			slog.Error("Persisting assistant message failed", "chat_id", chatID, "error", err)
		}
	}

	observability.StreamsTotal.WithLabelValues(observability.OutcomeCompleted).Inc()
	writer.WriteDone(chatID)
}

// runKeepAlive writes comment pings every interval until done closes, the
// request context ends, or a write fails.
func runKeepAlive(ctx context.Context, writer SSEWriter, interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writer.WriteKeepAlive(); err != nil {
				slog.Debug("Writing keep-alive failed", "error", err)
				return
			}
		}
	}
}

// composeInstructions appends the citation-suppression directive to the
// project's run instructions.
func composeInstructions(projectInstructions string) string {
	if projectInstructions == "" {
		return citationDirective
	}
	return projectInstructions + "\n\n" + citationDirective
}
