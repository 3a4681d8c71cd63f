// Copyright (C) 2025 AI Widget Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// Stream event types emitted on the widget SSE channel.
//
// Every stream ends with exactly one EventDone, regardless of path. Token
// events carry sanitized incremental text in T. Tool events are purely
// informational.
const (
	EventMeta            = "meta"
	EventToken           = "token"
	EventTool            = "tool"
	EventWaitingForHuman = "waiting_for_human"
	EventError           = "error"
	EventDone            = "done"
)

// StreamEvent is the payload written for one SSE event.
//
// # Description
//
// One envelope covers all event types; unused fields are omitted from the
// JSON. ID and CreatedAt are populated by the SSE writer so clients can
// order and deduplicate events after a reconnect.
//
// # Fields
//
//   - Type: event name; also used as the SSE "event:" line, not serialized.
//   - ChatID: present on meta, waiting_for_human and done events.
//   - Mode: present on meta events ("assistant").
//   - T: sanitized text increment, present on token events.
//   - Message: human-readable failure text, present on error events.
//   - ToolEvent: provider run-step event name, present on tool events.
type StreamEvent struct {
	Type      string `json:"-"`
	ID        string `json:"id,omitempty"`
	CreatedAt int64  `json:"created_at,omitempty"`

	ChatID    string `json:"chatId,omitempty"`
	Mode      string `json:"mode,omitempty"`
	T         string `json:"t,omitempty"`
	Message   string `json:"message,omitempty"`
	ToolEvent string `json:"event,omitempty"`
}
