// Copyright (C) 2025 AI Widget Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aiwidget/server/services/widgetd/datatypes"
)

// =============================================================================
// Interface Definition
// =============================================================================

// SSEWriter defines the contract for writing Server-Sent Events to HTTP
// responses.
//
// # Description
//
// SSEWriter abstracts SSE event serialization and writing, enabling
// testability and separation from HTTP response mechanics. Implementations
// handle the SSE wire format (event: type\ndata: json\n\n) internally and
// flush after every event.
//
// Each event is automatically assigned an Id (UUID v4) and CreatedAt
// (Unix milliseconds).
//
// # Thread Safety
//
// Implementations must be safe for concurrent use: the relay emits token
// events from the bridge goroutine while keep-alives may come from a timer.
//
// # Assumptions
//
//   - Caller has set SSE headers via SetSSEHeaders before the first write
//   - The underlying ResponseWriter implements http.Flusher
type SSEWriter interface {
	// WriteEvent writes a single SSE event, assigning Id and CreatedAt.
	WriteEvent(event datatypes.StreamEvent) error

	// WriteMeta announces the chat and its current mode at stream open.
	WriteMeta(chatID, mode string) error

	// WriteToken streams one cleaned text increment.
	WriteToken(text string) error

	// WriteTool reports an informational assistant run-step event.
	WriteTool(event string) error

	// WriteWaitingForHuman tells the widget an operator will answer.
	WriteWaitingForHuman(chatID string) error

	// WriteError reports a stream failure. The message is client-facing;
	// internal details stay in the server log.
	WriteError(message string) error

	// WriteDone terminates the stream. Always the last event.
	WriteDone(chatID string) error

	// WriteKeepAlive sends an SSE comment line to hold the connection
	// open through proxies during long provider calls.
	WriteKeepAlive() error
}

// =============================================================================
// Implementation
// =============================================================================

// sseWriter wraps an http.ResponseWriter to emit SSE-formatted events.
type sseWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

// NewSSEWriter creates an SSEWriter over w. The caller must have set SSE
// headers already.
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &sseWriter{writer: w, flusher: flusher}, nil
}

func (w *sseWriter) WriteEvent(event datatypes.StreamEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	event.ID = uuid.New().String()
	event.CreatedAt = time.Now().UnixMilli()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w.writer, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	w.flusher.Flush()
	return nil
}

func (w *sseWriter) WriteMeta(chatID, mode string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:   datatypes.EventMeta,
		ChatID: chatID,
		Mode:   mode,
	})
}

func (w *sseWriter) WriteToken(text string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type: datatypes.EventToken,
		T:    text,
	})
}

func (w *sseWriter) WriteTool(event string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:      datatypes.EventTool,
		ToolEvent: event,
	})
}

func (w *sseWriter) WriteWaitingForHuman(chatID string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:   datatypes.EventWaitingForHuman,
		ChatID: chatID,
	})
}

func (w *sseWriter) WriteError(message string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:    datatypes.EventError,
		Message: message,
	})
}

func (w *sseWriter) WriteDone(chatID string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:   datatypes.EventDone,
		ChatID: chatID,
	})
}

func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprint(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keep-alive: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// SetSSEHeaders configures the response for Server-Sent Events streaming.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ SSEWriter = (*sseWriter)(nil)
