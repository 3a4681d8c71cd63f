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
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// operatorPrefix marks operator-authored entries inside the external
// thread so the assistant can tell them apart from its own turns.
const operatorPrefix = "[OPERATOR] "

// Config controls the OpenAI bridge.
type Config struct {
	// Transport selects the run strategy: TransportStream or
	// TransportPoll. Default: TransportStream.
	Transport string

	// BaseURL overrides the provider API base (tests point it at a stub).
	// Default: the SDK default, https://api.openai.com/v1.
	BaseURL string

	// HTTPClient is the client used for all provider calls.
	// Default: a client with a 30s timeout for unary calls; the streaming
	// transport uses no client timeout and relies on ctx instead.
	HTTPClient *http.Client

	// PollInterval is the run-status poll period. Default: 800ms.
	PollInterval time.Duration

	// RunDeadline is the hard limit on one run in poll mode. A run still
	// not terminal after this long fails with ErrRunTimeout.
	// Default: 120s.
	RunDeadline time.Duration
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.Transport == "" {
		cfg.Transport = TransportStream
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 800 * time.Millisecond
	}
	if cfg.RunDeadline == 0 {
		cfg.RunDeadline = 120 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return cfg
}

// OpenAIClient implements Client against the OpenAI Assistants API.
//
// The SDK client is rebuilt per call because every project carries its own
// API key; construction is cheap (no connections are held).
type OpenAIClient struct {
	cfg Config
}

var _ Client = (*OpenAIClient)(nil)

func NewOpenAIClient(cfg Config) *OpenAIClient {
	cfg = applyConfigDefaults(cfg)
	if cfg.Transport != TransportStream && cfg.Transport != TransportPoll {
		slog.Warn("Unknown assistant transport, falling back to poll", "transport", cfg.Transport)
		cfg.Transport = TransportPoll
	}
	return &OpenAIClient{cfg: cfg}
}

func (c *OpenAIClient) api(apiKey string) *openai.Client {
	conf := openai.DefaultConfig(apiKey)
	if c.cfg.BaseURL != "" {
		conf.BaseURL = c.cfg.BaseURL
	}
	conf.HTTPClient = c.cfg.HTTPClient
	return openai.NewClientWithConfig(conf)
}

func (c *OpenAIClient) baseURL() string {
	if c.cfg.BaseURL != "" {
		return strings.TrimRight(c.cfg.BaseURL, "/")
	}
	return "https://api.openai.com/v1"
}

// CreateThread provisions a new provider conversation thread.
func (c *OpenAIClient) CreateThread(ctx context.Context, apiKey string) (string, error) {
	if apiKey == "" {
		return "", fmt.Errorf("create thread: %w: empty api key", ErrUnauthorized)
	}
	thread, err := c.api(apiKey).CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return "", classifyProviderError("create thread", err)
	}
	slog.Debug("Created assistant thread", "thread_id", thread.ID)
	return thread.ID, nil
}

// InjectOperatorTurn appends an [OPERATOR]-tagged assistant-role message to
// the thread without starting a run.
func (c *OpenAIClient) InjectOperatorTurn(ctx context.Context, apiKey, threadID, text string) error {
	_, err := c.api(apiKey).CreateMessage(ctx, threadID, openai.MessageRequest{
		Role:    "assistant",
		Content: operatorPrefix + text,
	})
	if err != nil {
		return classifyProviderError("inject operator turn", err)
	}
	return nil
}

// AssistantInstructions reads the assistant's persistent instructions.
func (c *OpenAIClient) AssistantInstructions(ctx context.Context, apiKey, assistantID string) (string, error) {
	a, err := c.api(apiKey).RetrieveAssistant(ctx, assistantID)
	if err != nil {
		return "", classifyProviderError("retrieve assistant", err)
	}
	if a.Instructions == nil {
		return "", nil
	}
	return *a.Instructions, nil
}

// UpdateAssistantInstructions replaces the assistant's persistent
// instructions. The assistant is fetched first because a modify request
// must carry the model it already uses.
func (c *OpenAIClient) UpdateAssistantInstructions(ctx context.Context, apiKey, assistantID, instructions string) error {
	client := c.api(apiKey)
	a, err := client.RetrieveAssistant(ctx, assistantID)
	if err != nil {
		return classifyProviderError("retrieve assistant", err)
	}
	_, err = client.ModifyAssistant(ctx, assistantID, openai.AssistantRequest{
		Model:        a.Model,
		Instructions: &instructions,
	})
	if err != nil {
		return classifyProviderError("modify assistant", err)
	}
	return nil
}

// RunTurn appends the user message and executes one run with the configured
// transport strategy.
func (c *OpenAIClient) RunTurn(ctx context.Context, params TurnParams, sink TurnSink) (string, error) {
	if params.APIKey == "" {
		return "", fmt.Errorf("run turn: %w: empty api key", ErrUnauthorized)
	}
	client := c.api(params.APIKey)

	_, err := client.CreateMessage(ctx, params.ThreadID, openai.MessageRequest{
		Role:    "user",
		Content: params.UserText,
	})
	if err != nil {
		return "", classifyProviderError("append user message", err)
	}

	if c.cfg.Transport == TransportStream {
		return c.streamRun(ctx, params, sink)
	}
	return c.pollRun(ctx, client, params, sink)
}
