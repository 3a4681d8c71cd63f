// Copyright (C) 2025 AI Widget Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiwidget/server/services/widgetd/datatypes"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedProject(t *testing.T, s *SQLiteStore, params CreateProjectParams) *datatypes.Project {
	t.Helper()
	if params.Name == "" {
		params.Name = "Test Project"
	}
	p, err := s.CreateProject(context.Background(), params)
	require.NoError(t, err)
	return p
}

func seedChat(t *testing.T, s *SQLiteStore, projectID string) *datatypes.Chat {
	t.Helper()
	c, err := s.CreateChat(context.Background(), CreateChatParams{
		ProjectID: projectID,
		ThreadID:  "thread_" + projectID,
	})
	require.NoError(t, err)
	return c
}

// =============================================================================
// Projects
// =============================================================================

func TestProjectCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, err := s.CreateProject(ctx, CreateProjectParams{
		Name:           "Support Widget",
		AssistantID:    "asst_1",
		OpenAIAPIKey:   "sk-test",
		Instructions:   "Be helpful.",
		AllowedOrigins: []string{"https://example.com"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "Support Widget", p.Name)
	assert.Equal(t, []string{"https://example.com"}, p.AllowedOrigins)
	assert.Nil(t, p.OwnerID)
	assert.Nil(t, p.TelegramChatID)

	got, err := s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, "sk-test", got.OpenAIAPIKey)

	newName := "Renamed"
	updated, err := s.UpdateProject(ctx, p.ID, datatypes.ProjectPatch{
		Name:           &newName,
		AllowedOrigins: []string{"https://a.com", "https://b.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)
	assert.Equal(t, []string{"https://a.com", "https://b.com"}, updated.AllowedOrigins)
	// Untouched fields survive a partial patch.
	assert.Equal(t, "asst_1", updated.AssistantID)

	require.NoError(t, s.DeleteProject(ctx, p.ID))
	_, err = s.GetProject(ctx, p.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetProjectNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetProject(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListProjectsOwnerFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	owner := "user-1"
	seedProject(t, s, CreateProjectParams{Name: "Mine", OwnerID: &owner})
	seedProject(t, s, CreateProjectParams{Name: "Unowned"})

	all, err := s.ListProjects(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mine, err := s.ListProjects(ctx, &owner)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "Mine", mine[0].Name)
}

func TestDeleteProjectCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := seedProject(t, s, CreateProjectParams{})
	c := seedChat(t, s, p.ID)
	_, err := s.AddMessage(ctx, c.ID, datatypes.RoleUser, "hello")
	require.NoError(t, err)

	require.NoError(t, s.DeleteProject(ctx, p.ID))

	_, err = s.GetChat(ctx, c.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	n, err := s.CountMessages(ctx, c.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestProjectTelegramLinkUnlink(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := seedProject(t, s, CreateProjectParams{})

	linked, err := s.LinkProjectTelegram(ctx, p.ID, "12345")
	require.NoError(t, err)
	require.NotNil(t, linked.TelegramChatID)
	assert.Equal(t, "12345", *linked.TelegramChatID)
	assert.NotNil(t, linked.TelegramConnectedAt)

	unlinked, err := s.UnlinkProjectTelegram(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, unlinked.TelegramChatID)
	assert.Nil(t, unlinked.TelegramConnectedAt)
}

func TestProjectStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := seedProject(t, s, CreateProjectParams{})
	c1 := seedChat(t, s, p.ID)
	c2 := seedChat(t, s, p.ID)

	_, err := s.AddMessage(ctx, c1.ID, datatypes.RoleUser, "hi")
	require.NoError(t, err)
	_, err = s.AddMessage(ctx, c1.ID, datatypes.RoleAssistant, "hello")
	require.NoError(t, err)
	_, err = s.AddMessage(ctx, c2.ID, datatypes.RoleHuman, "operator here")
	require.NoError(t, err)

	stats, err := s.ProjectStats(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.ChatCount)
	assert.Equal(t, int64(2), stats.OpenChatCount)
	assert.Equal(t, int64(3), stats.MessageCount)
	assert.Equal(t, int64(1), stats.UserMessages)
	assert.Equal(t, int64(1), stats.AssistantMessages)
	assert.Equal(t, int64(1), stats.HumanMessages)
	require.NotNil(t, stats.LastActivityAt)
	assert.WithinDuration(t, c2.LastSeen, *stats.LastActivityAt, time.Second)
}

func TestProjectStatsWithoutChats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := seedProject(t, s, CreateProjectParams{})

	stats, err := s.ProjectStats(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.ChatCount)
	assert.Nil(t, stats.LastActivityAt)
}

// =============================================================================
// Chats
// =============================================================================

func TestChatLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := seedProject(t, s, CreateProjectParams{})
	visitor := "v-1"
	c, err := s.CreateChat(ctx, CreateChatParams{
		ProjectID: p.ID,
		ThreadID:  "thread_abc",
		VisitorID: &visitor,
	})
	require.NoError(t, err)
	assert.Equal(t, datatypes.ModeAssistant, c.Mode)
	assert.Equal(t, datatypes.StatusOpen, c.Status)
	assert.Equal(t, "thread_abc", c.ThreadID)
	require.NotNil(t, c.VisitorID)
	assert.Equal(t, "v-1", *c.VisitorID)

	taken, err := s.SetChatMode(ctx, c.ID, datatypes.ModeHuman)
	require.NoError(t, err)
	assert.Equal(t, datatypes.ModeHuman, taken.Mode)

	require.NoError(t, s.TouchChat(ctx, c.ID))
	touched, err := s.GetChat(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, touched.LastSeen.Before(c.LastSeen))

	require.NoError(t, s.DeleteChat(ctx, c.ID))
	assert.ErrorIs(t, s.DeleteChat(ctx, c.ID), ErrNotFound)
}

func TestSetChatModeNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.SetChatMode(context.Background(), "missing", datatypes.ModeHuman)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListChatsFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := seedProject(t, s, CreateProjectParams{})
	seedChat(t, s, p.ID)
	c2 := seedChat(t, s, p.ID)

	_, err := s.SetChatMode(ctx, c2.ID, datatypes.ModeHuman)
	require.NoError(t, err)

	all, err := s.ListChats(ctx, ChatFilter{ProjectID: p.ID})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	human := datatypes.ModeHuman
	humanOnly, err := s.ListChats(ctx, ChatFilter{ProjectID: p.ID, Mode: &human})
	require.NoError(t, err)
	require.Len(t, humanOnly, 1)
	assert.Equal(t, c2.ID, humanOnly[0].ID)

	closed := datatypes.StatusClosed
	none, err := s.ListChats(ctx, ChatFilter{ProjectID: p.ID, Status: &closed})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCloseInactiveChats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := seedProject(t, s, CreateProjectParams{})
	c := seedChat(t, s, p.ID)

	// Cutoff in the past: nothing is stale yet.
	n, err := s.CloseInactiveChats(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	// Cutoff in the future sweeps everything still open.
	n, err = s.CloseInactiveChats(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.GetChat(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusClosed, got.Status)

	// Already-closed chats are not swept again.
	n, err = s.CloseInactiveChats(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
}

// =============================================================================
// Messages
// =============================================================================

func TestMessagesInsertionOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := seedProject(t, s, CreateProjectParams{})
	c := seedChat(t, s, p.ID)

	for i := 0; i < 5; i++ {
		_, err := s.AddMessage(ctx, c.ID, datatypes.RoleUser, fmt.Sprintf("msg %d", i))
		require.NoError(t, err)
	}

	items, err := s.ListMessages(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, items, 5)
	for i, m := range items {
		assert.Equal(t, fmt.Sprintf("msg %d", i), m.Content)
	}

	n, err := s.CountMessages(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}

func TestAddMessageRejectsUnknownRole(t *testing.T) {
	s := newTestStore(t)
	p := seedProject(t, s, CreateProjectParams{})
	c := seedChat(t, s, p.ID)

	_, err := s.AddMessage(context.Background(), c.ID, datatypes.Role("robot"), "beep")
	assert.Error(t, err)
}

func TestDeleteChatCascadesMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := seedProject(t, s, CreateProjectParams{})
	c := seedChat(t, s, p.ID)
	_, err := s.AddMessage(ctx, c.ID, datatypes.RoleUser, "hello")
	require.NoError(t, err)

	require.NoError(t, s.DeleteChat(ctx, c.ID))
	n, err := s.CountMessages(ctx, c.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// =============================================================================
// Users
// =============================================================================

func TestUserCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u, err := s.CreateUser(ctx, "Op@Example.com", "hash1", "user")
	require.NoError(t, err)
	assert.Equal(t, "op@example.com", u.Email)

	// Email lookup is case-insensitive via lowercasing on both sides.
	got, err := s.GetUserByEmail(ctx, "OP@EXAMPLE.COM")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	require.NoError(t, s.UpdateUserPassword(ctx, u.ID, "hash2"))
	got, err = s.GetUserByEmail(ctx, "op@example.com")
	require.NoError(t, err)
	assert.Equal(t, "hash2", got.PasswordHash)

	require.NoError(t, s.DeleteUser(ctx, u.ID))
	_, err = s.GetUserByEmail(ctx, "op@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateUser(ctx, "op@example.com", "h", "user")
	require.NoError(t, err)
	_, err = s.CreateUser(ctx, "OP@example.com", "h", "user")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestDeleteUserOrphansProjects(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u, err := s.CreateUser(ctx, "op@example.com", "h", "user")
	require.NoError(t, err)
	p := seedProject(t, s, CreateProjectParams{OwnerID: &u.ID})

	require.NoError(t, s.DeleteUser(ctx, u.ID))

	got, err := s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, got.OwnerID)
}

func TestDeleteUserNotFound(t *testing.T) {
	s := newTestStore(t)
	assert.ErrorIs(t, s.DeleteUser(context.Background(), "missing"), ErrNotFound)
}

// =============================================================================
// Telegram link secrets
// =============================================================================

func TestLinkSecretSingleUse(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	username := "operator"
	secret, err := s.IssueLinkSecret(ctx, "12345", &username)
	require.NoError(t, err)
	assert.Len(t, secret, 10)

	tok, err := s.ConsumeLinkSecret(ctx, secret)
	require.NoError(t, err)
	assert.Equal(t, "12345", tok.TelegramChatID)
	require.NotNil(t, tok.Username)
	assert.Equal(t, "operator", *tok.Username)

	_, err = s.ConsumeLinkSecret(ctx, secret)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConsumeLinkSecretUnknown(t *testing.T) {
	s := newTestStore(t)
	_, err := s.ConsumeLinkSecret(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.ConsumeLinkSecret(context.Background(), "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIssueLinkSecretRequiresChatID(t *testing.T) {
	s := newTestStore(t)
	_, err := s.IssueLinkSecret(context.Background(), "", nil)
	assert.Error(t, err)
}
