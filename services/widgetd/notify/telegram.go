// Copyright (C) 2025 AI Widget Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package notify delivers operator notifications over Telegram. Delivery
// is a best-effort side channel: failures are logged and never propagated
// to the request that triggered them.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const defaultAPIBase = "https://api.telegram.org"

// TelegramClient is a minimal Bot API client covering the two methods this
// service needs: sendMessage for notifications and getUpdates for the link
// bot's long poll.
type TelegramClient struct {
	token   string
	apiBase string
	http    *http.Client
}

// Update is one entry from getUpdates.
type Update struct {
	UpdateID int64            `json:"update_id"`
	Message  *IncomingMessage `json:"message"`
}

// IncomingMessage is the message payload of an update.
type IncomingMessage struct {
	Text string `json:"text"`
	Chat struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
	} `json:"chat"`
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

// NewTelegramClient builds a client for the given bot token. An empty token
// yields a client whose Configured method reports false; SendMessage then
// silently does nothing so callers need no token checks of their own.
func NewTelegramClient(token string) *TelegramClient {
	return &TelegramClient{
		token:   token,
		apiBase: defaultAPIBase,
		http:    &http.Client{Timeout: 40 * time.Second},
	}
}

// WithAPIBase points the client at an alternate Bot API host. Tests use it
// to target a stub server.
func (c *TelegramClient) WithAPIBase(base string) *TelegramClient {
	c.apiBase = base
	return c
}

func (c *TelegramClient) Configured() bool {
	return c.token != ""
}

// SendMessage posts text to a Telegram chat. A missing token, chat id or
// text is a silent no-op.
func (c *TelegramClient) SendMessage(ctx context.Context, chatID, text string) error {
	if c.token == "" || chatID == "" || text == "" {
		return nil
	}
	body, err := json.Marshal(map[string]string{"chat_id": chatID, "text": text})
	if err != nil {
		return fmt.Errorf("encode sendMessage: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", c.apiBase, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build sendMessage request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sendMessage: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("telegram sendMessage status %d: %s", resp.StatusCode, payload)
	}
	return nil
}

// GetUpdates long-polls the Bot API for new updates past offset. The HTTP
// client timeout leaves headroom over the poll timeout, so a quiet period
// returns an empty batch rather than an error.
func (c *TelegramClient) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	q := url.Values{}
	q.Set("offset", strconv.FormatInt(offset, 10))
	q.Set("timeout", strconv.Itoa(int(timeout.Seconds())))

	endpoint := fmt.Sprintf("%s/bot%s/getUpdates?%s", c.apiBase, c.token, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build getUpdates request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("getUpdates: %w", err)
	}
	defer resp.Body.Close()

	var parsed apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode getUpdates response: %w", err)
	}
	if !parsed.OK {
		return nil, fmt.Errorf("telegram getUpdates: %s", parsed.Description)
	}

	var updates []Update
	if err := json.Unmarshal(parsed.Result, &updates); err != nil {
		return nil, fmt.Errorf("decode updates: %w", err)
	}
	return updates, nil
}
