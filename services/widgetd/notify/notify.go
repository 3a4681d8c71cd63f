// Copyright (C) 2025 AI Widget Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aiwidget/server/services/widgetd/contact"
	"github.com/aiwidget/server/services/widgetd/datatypes"
	"github.com/aiwidget/server/services/widgetd/observability"
)

// Sender is the delivery transport the notifier writes to.
type Sender interface {
	Configured() bool
	SendMessage(ctx context.Context, chatID, text string) error
}

// Notifier formats and sends operator notifications for a project's linked
// Telegram chat. Every method is fire-and-forget: errors are logged, never
// returned.
type Notifier struct {
	sender Sender
}

func NewNotifier(sender Sender) *Notifier {
	return &Notifier{sender: sender}
}

// NewChat announces a freshly opened widget conversation.
func (n *Notifier) NewChat(ctx context.Context, project *datatypes.Project, chatID string) {
	if !n.deliverable(project) {
		return
	}
	title := "your site"
	if project.Name != "" {
		title = fmt.Sprintf("%q", project.Name)
	}
	msg := fmt.Sprintf("New conversation opened on %s.\nChat ID: %s.\nCheck the admin panel to follow along.", title, chatID)
	n.send(ctx, project, chatID, msg)
}

// Contacts reports contact identifiers a visitor left in a message.
func (n *Notifier) Contacts(ctx context.Context, project *datatypes.Project, chatID string, contacts []contact.Contact) {
	if !n.deliverable(project) || len(contacts) == 0 {
		return
	}
	lines := make([]string, 0, len(contacts))
	for _, c := range contacts {
		lines = append(lines, fmt.Sprintf("- %s: %s", c.Type, c.Value))
	}
	msg := fmt.Sprintf("A visitor left contact details in chat %s:\n%s", chatID, strings.Join(lines, "\n"))
	n.send(ctx, project, chatID, msg)
}

func (n *Notifier) deliverable(project *datatypes.Project) bool {
	return n != nil && n.sender != nil && n.sender.Configured() &&
		project != nil && project.TelegramChatID != nil && *project.TelegramChatID != ""
}

func (n *Notifier) send(ctx context.Context, project *datatypes.Project, chatID, msg string) {
	if err := n.sender.SendMessage(ctx, *project.TelegramChatID, msg); err != nil {
		observability.NotificationsTotal.WithLabelValues("failed").Inc()
		slog.Warn("Telegram notification failed",
			"project_id", project.ID, "chat_id", chatID, "error", err)
		return
	}
	observability.NotificationsTotal.WithLabelValues("sent").Inc()
}
