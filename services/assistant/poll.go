// Copyright (C) 2025 AI Widget Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// pollRun executes a run by polling its status until it reaches a terminal
// state. On completion the latest assistant-authored message body is the
// authoritative text; it is forwarded to the sink as a single delta so poll
// and stream transports look the same to the relay.
func (c *OpenAIClient) pollRun(ctx context.Context, client *openai.Client, params TurnParams, sink TurnSink) (string, error) {
	run, err := client.CreateRun(ctx, params.ThreadID, openai.RunRequest{
		AssistantID:            params.AssistantID,
		AdditionalInstructions: params.AdditionalInstructions,
	})
	if err != nil {
		return "", classifyProviderError("create run", err)
	}

	deadline := time.Now().Add(c.cfg.RunDeadline)
	for {
		r, err := client.RetrieveRun(ctx, params.ThreadID, run.ID)
		if err != nil {
			return "", classifyProviderError("retrieve run", err)
		}

		if r.Status == openai.RunStatusCompleted {
			break
		}
		switch r.Status {
		case openai.RunStatusFailed, openai.RunStatusCancelled, openai.RunStatusExpired:
			return "", fmt.Errorf("run ended with status %s", r.Status)
		}

		if time.Now().After(deadline) {
			slog.Warn("Assistant run exceeded poll deadline",
				"run_id", run.ID, "deadline", c.cfg.RunDeadline)
			return "", fmt.Errorf("run %s: %w", run.ID, ErrRunTimeout)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.cfg.PollInterval):
		}
	}

	text, err := c.latestAssistantText(ctx, client, params.ThreadID)
	if err != nil {
		return "", err
	}
	if text != "" {
		sink.OnTextDelta(text)
	}
	return text, nil
}

// latestAssistantText fetches the newest assistant-authored message body in
// the thread.
func (c *OpenAIClient) latestAssistantText(ctx context.Context, client *openai.Client, threadID string) (string, error) {
	limit := 20
	order := "desc"
	msgs, err := client.ListMessage(ctx, threadID, &limit, &order, nil, nil, nil)
	if err != nil {
		return "", classifyProviderError("list messages", err)
	}

	for _, m := range msgs.Messages {
		if m.Role != "assistant" {
			continue
		}
		for _, part := range m.Content {
			if part.Text != nil {
				return part.Text.Value, nil
			}
		}
		return "", nil
	}
	return "", nil
}
