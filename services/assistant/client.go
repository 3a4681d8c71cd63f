// Copyright (C) 2025 AI Widget Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package assistant wraps the external LLM conversation API: per-chat
// threads, assistant runs with incremental output, operator injection, and
// assistant instruction management.
//
// # Terminal outcome
//
// A run delivers deltas and tool events through a TurnSink while it is in
// flight, but its terminal outcome is the return value of RunTurn: the
// authoritative full text on success, a non-nil error on failure. Exactly
// one terminal outcome per invocation is therefore guaranteed by the type
// system rather than by callback discipline.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// Run transport strategies. The strategy is chosen by configuration, never
// by probing the SDK at runtime.
const (
	// TransportStream reads the provider's SSE run feed and forwards text
	// deltas as they arrive.
	TransportStream = "stream"

	// TransportPoll creates a run and polls its status on a fixed interval
	// until it reaches a terminal state, then fetches the final message.
	TransportPoll = "poll"
)

// Provider failure classes. Wrapped into returned errors so callers can
// branch with errors.Is without parsing provider payloads.
var (
	// ErrRunTimeout: the poll loop hit its hard deadline before the run
	// reached a terminal state.
	ErrRunTimeout = errors.New("assistant run timed out")

	// ErrNotFound: the assistant or thread no longer exists upstream.
	// Never retried.
	ErrNotFound = errors.New("assistant resource not found")

	// ErrUnauthorized: the project's provider credential was rejected.
	ErrUnauthorized = errors.New("provider rejected credentials")

	// ErrRateLimited: the provider throttled the request. Transient, but
	// never retried automatically mid-run.
	ErrRateLimited = errors.New("provider rate limit exceeded")
)

// ToolEvent is an informational run-step notification. Only the provider
// event name is forwarded; payloads are not needed by any client.
type ToolEvent struct {
	Event string `json:"event"`
}

// TurnSink receives in-flight output of one run. Implementations are called
// from the goroutine executing RunTurn, in provider-delivered order.
type TurnSink interface {
	// OnTextDelta is called zero or more times with incremental text,
	// in order.
	OnTextDelta(text string)

	// OnToolEvent is called zero or more times. Informational only.
	OnToolEvent(ev ToolEvent)
}

// TurnParams identifies one assistant turn.
type TurnParams struct {
	APIKey                 string
	ThreadID               string
	AssistantID            string
	AdditionalInstructions string
	UserText               string
}

// Client is the bridge to the external assistant provider. All methods take
// the per-project API key; the bridge itself holds no credentials.
type Client interface {
	// CreateThread provisions a new external conversation context and
	// returns its opaque reference.
	CreateThread(ctx context.Context, apiKey string) (string, error)

	// RunTurn appends params.UserText to the thread, runs the assistant,
	// streams output into sink, and returns the authoritative full text.
	RunTurn(ctx context.Context, params TurnParams, sink TurnSink) (string, error)

	// InjectOperatorTurn appends operator-authored text into the thread as
	// an assistant-role entry tagged [OPERATOR], without starting a run.
	// Future runs on the thread see the operator's message as context.
	InjectOperatorTurn(ctx context.Context, apiKey, threadID, text string) error

	// AssistantInstructions reads the assistant's persistent system
	// instructions.
	AssistantInstructions(ctx context.Context, apiKey, assistantID string) (string, error)

	// UpdateAssistantInstructions replaces the assistant's persistent
	// system instructions.
	UpdateAssistantInstructions(ctx context.Context, apiKey, assistantID, instructions string) error
}

// classifyProviderError wraps a provider failure with the matching failure
// class so callers can distinguish not-found from transient errors.
func classifyProviderError(op string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%s: %w: %v", op, ErrNotFound, err)
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%s: %w: %v", op, ErrUnauthorized, err)
		case http.StatusTooManyRequests:
			return fmt.Errorf("%s: %w: %v", op, ErrRateLimited, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// classifyStatusCode is the raw-HTTP twin of classifyProviderError, used by
// the streaming transport which talks to the provider without the SDK.
func classifyStatusCode(op string, status int, body string) error {
	switch status {
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w: %s", op, ErrNotFound, body)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%s: %w: %s", op, ErrUnauthorized, body)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%s: %w: %s", op, ErrRateLimited, body)
	}
	return fmt.Errorf("%s: provider returned status %d: %s", op, status, body)
}
