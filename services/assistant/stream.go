// Copyright (C) 2025 AI Widget Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package assistant

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// The SDK used for unary calls has no assistants run-streaming support, so
// the stream transport speaks the provider's SSE protocol directly over the
// same base URL and HTTP client.

type runStreamRequest struct {
	AssistantID            string `json:"assistant_id"`
	AdditionalInstructions string `json:"additional_instructions,omitempty"`
	Stream                 bool   `json:"stream"`
}

// messageDeltaEvent is the payload of thread.message.delta events.
type messageDeltaEvent struct {
	Delta struct {
		Content []struct {
			Type string `json:"type"`
			Text *struct {
				Value string `json:"value"`
			} `json:"text"`
		} `json:"content"`
	} `json:"delta"`
}

// messageCompletedEvent is the payload of thread.message.completed events;
// it carries the provider's authoritative final text.
type messageCompletedEvent struct {
	Content []struct {
		Type string `json:"type"`
		Text *struct {
			Value string `json:"value"`
		} `json:"text"`
	} `json:"content"`
}

// runFailedEvent is the payload of thread.run.{failed,cancelled,expired}.
type runFailedEvent struct {
	Status    string `json:"status"`
	LastError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_error"`
}

// streamRun executes a run over the provider's SSE feed, forwarding text
// deltas and run-step events as they arrive.
func (c *OpenAIClient) streamRun(ctx context.Context, params TurnParams, sink TurnSink) (string, error) {
	body, err := json.Marshal(runStreamRequest{
		AssistantID:            params.AssistantID,
		AdditionalInstructions: params.AdditionalInstructions,
		Stream:                 true,
	})
	if err != nil {
		return "", fmt.Errorf("encode run request: %w", err)
	}

	url := c.baseURL() + "/threads/" + params.ThreadID + "/runs"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build run request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+params.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("OpenAI-Beta", "assistants=v2")

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("start run stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", classifyStatusCode("start run stream", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var (
		accumulated strings.Builder
		finalText   string
		runErr      error
		event       string
	)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event:") {
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}

		switch {
		case event == "thread.message.delta":
			var delta messageDeltaEvent
			if err := json.Unmarshal([]byte(data), &delta); err != nil {
				slog.Warn("Skipping malformed message delta", "error", err)
				continue
			}
			for _, part := range delta.Delta.Content {
				if part.Text == nil || part.Text.Value == "" {
					continue
				}
				accumulated.WriteString(part.Text.Value)
				sink.OnTextDelta(part.Text.Value)
			}

		case event == "thread.message.completed":
			var msg messageCompletedEvent
			if err := json.Unmarshal([]byte(data), &msg); err != nil {
				slog.Warn("Skipping malformed message completion", "error", err)
				continue
			}
			var parts []string
			for _, part := range msg.Content {
				if part.Text != nil {
					parts = append(parts, part.Text.Value)
				}
			}
			finalText = strings.Join(parts, "")

		case strings.HasPrefix(event, "thread.run.step"):
			sink.OnToolEvent(ToolEvent{Event: event})

		case event == "thread.run.failed", event == "thread.run.cancelled", event == "thread.run.expired":
			var failed runFailedEvent
			reason := strings.TrimPrefix(event, "thread.run.")
			if err := json.Unmarshal([]byte(data), &failed); err == nil && failed.LastError != nil {
				runErr = fmt.Errorf("run %s: %s", reason, failed.LastError.Message)
			} else {
				runErr = fmt.Errorf("run ended with status %s", reason)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		if runErr == nil {
			runErr = fmt.Errorf("read run stream: %w", err)
		}
	}

	if runErr != nil {
		return "", runErr
	}
	if finalText == "" {
		finalText = accumulated.String()
	}
	return finalText, nil
}
