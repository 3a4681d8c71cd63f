// Copyright (C) 2025 AI Widget Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/aiwidget/server/services/widgetd/datatypes"
)

// SQLiteStore implements Store on database/sql with the sqlite3 driver.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (and if needed creates) the database at
// dataSourceName and ensures the schema exists. Use ":memory:" in tests.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps :memory: databases coherent and sidesteps
	// SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err = db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err = s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS projects (
        id TEXT PRIMARY KEY,
        name TEXT NOT NULL,
        assistant_id TEXT NOT NULL DEFAULT '',
        openai_api_key TEXT NOT NULL DEFAULT '',
        instructions TEXT NOT NULL DEFAULT '',
        allowed_origins TEXT NOT NULL DEFAULT '[]',
        owner_id TEXT,
        telegram_chat_id TEXT,
        telegram_connected_at DATETIME,
        created_at DATETIME NOT NULL,
        updated_at DATETIME NOT NULL
    );

    CREATE TABLE IF NOT EXISTS chats (
        id TEXT PRIMARY KEY,
        project_id TEXT NOT NULL REFERENCES projects (id) ON DELETE CASCADE,
        thread_id TEXT NOT NULL,
        mode TEXT NOT NULL DEFAULT 'assistant' CHECK (mode IN ('assistant', 'human')),
        status TEXT NOT NULL DEFAULT 'open' CHECK (status IN ('open', 'closed')),
        visitor_id TEXT,
        created_at DATETIME NOT NULL,
        updated_at DATETIME NOT NULL,
        last_seen_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_chats_project ON chats (project_id, updated_at);

    CREATE TABLE IF NOT EXISTS messages (
        id TEXT PRIMARY KEY,
        chat_id TEXT NOT NULL REFERENCES chats (id) ON DELETE CASCADE,
        role TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'human')),
        content TEXT NOT NULL,
        created_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages (chat_id, created_at);

    CREATE TABLE IF NOT EXISTS users (
        id TEXT PRIMARY KEY,
        email TEXT NOT NULL UNIQUE,
        password_hash TEXT NOT NULL,
        role TEXT NOT NULL DEFAULT 'user',
        created_at DATETIME NOT NULL
    );

    CREATE TABLE IF NOT EXISTS telegram_link_tokens (
        secret TEXT PRIMARY KEY,
        chat_id TEXT NOT NULL,
        username TEXT,
        created_at DATETIME NOT NULL,
        used_at DATETIME
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// Projects
// =============================================================================

const projectColumns = `id, name, assistant_id, openai_api_key, instructions,
    allowed_origins, owner_id, telegram_chat_id, telegram_connected_at,
    created_at, updated_at`

func scanProject(row interface{ Scan(...any) error }) (*datatypes.Project, error) {
	var (
		p           datatypes.Project
		origins     string
		ownerID     sql.NullString
		tgChatID    sql.NullString
		tgConnected sql.NullTime
	)
	err := row.Scan(&p.ID, &p.Name, &p.AssistantID, &p.OpenAIAPIKey, &p.Instructions,
		&origins, &ownerID, &tgChatID, &tgConnected, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(origins), &p.AllowedOrigins); err != nil {
		return nil, fmt.Errorf("decode allowed_origins: %w", err)
	}
	if p.AllowedOrigins == nil {
		p.AllowedOrigins = []string{}
	}
	if ownerID.Valid {
		p.OwnerID = &ownerID.String
	}
	if tgChatID.Valid {
		p.TelegramChatID = &tgChatID.String
	}
	if tgConnected.Valid {
		t := tgConnected.Time
		p.TelegramConnectedAt = &t
	}
	return &p, nil
}

func encodeOrigins(origins []string) (string, error) {
	if origins == nil {
		origins = []string{}
	}
	raw, err := json.Marshal(origins)
	if err != nil {
		return "", fmt.Errorf("encode allowed_origins: %w", err)
	}
	return string(raw), nil
}

func (s *SQLiteStore) CreateProject(ctx context.Context, params CreateProjectParams) (*datatypes.Project, error) {
	name := params.Name
	if name == "" {
		name = "New Project"
	}
	origins, err := encodeOrigins(params.AllowedOrigins)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO projects (id, name, assistant_id, openai_api_key, instructions,
             allowed_origins, owner_id, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, name, params.AssistantID, params.OpenAIAPIKey, params.Instructions,
		origins, params.OwnerID, now, now)
	if err != nil {
		return nil, fmt.Errorf("insert project: %w", err)
	}
	return s.GetProject(ctx, id)
}

func (s *SQLiteStore) ListProjects(ctx context.Context, ownerID *string) ([]datatypes.Project, error) {
	query := "SELECT " + projectColumns + " FROM projects"
	args := []any{}
	if ownerID != nil {
		query += " WHERE owner_id = ?"
		args = append(args, *ownerID)
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query projects: %w", err)
	}
	defer rows.Close()

	items := []datatypes.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		items = append(items, *p)
	}
	return items, rows.Err()
}

func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*datatypes.Project, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+projectColumns+" FROM projects WHERE id = ?", id)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) UpdateProject(ctx context.Context, id string, patch datatypes.ProjectPatch) (*datatypes.Project, error) {
	current, err := s.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		current.Name = *patch.Name
	}
	if patch.AssistantID != nil {
		current.AssistantID = *patch.AssistantID
	}
	if patch.OpenAIAPIKey != nil {
		current.OpenAIAPIKey = *patch.OpenAIAPIKey
	}
	if patch.Instructions != nil {
		current.Instructions = *patch.Instructions
	}
	if patch.AllowedOrigins != nil {
		current.AllowedOrigins = patch.AllowedOrigins
	}
	if patch.OwnerID != nil {
		current.OwnerID = patch.OwnerID
	}

	origins, err := encodeOrigins(current.AllowedOrigins)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE projects SET name = ?, assistant_id = ?, openai_api_key = ?,
             instructions = ?, allowed_origins = ?, owner_id = ?, updated_at = ?
         WHERE id = ?`,
		current.Name, current.AssistantID, current.OpenAIAPIKey,
		current.Instructions, origins, current.OwnerID, time.Now().UTC(), id)
	if err != nil {
		return nil, fmt.Errorf("update project: %w", err)
	}
	return s.GetProject(ctx, id)
}

func (s *SQLiteStore) DeleteProject(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM projects WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) LinkProjectTelegram(ctx context.Context, id, telegramChatID string) (*datatypes.Project, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET telegram_chat_id = ?, telegram_connected_at = ?, updated_at = ?
         WHERE id = ?`,
		telegramChatID, time.Now().UTC(), time.Now().UTC(), id)
	if err != nil {
		return nil, fmt.Errorf("link telegram: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.GetProject(ctx, id)
}

func (s *SQLiteStore) UnlinkProjectTelegram(ctx context.Context, id string) (*datatypes.Project, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET telegram_chat_id = NULL, telegram_connected_at = NULL, updated_at = ?
         WHERE id = ?`,
		time.Now().UTC(), id)
	if err != nil {
		return nil, fmt.Errorf("unlink telegram: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.GetProject(ctx, id)
}

func (s *SQLiteStore) ProjectStats(ctx context.Context, id string) (*datatypes.ProjectStats, error) {
	if _, err := s.GetProject(ctx, id); err != nil {
		return nil, err
	}

	stats := &datatypes.ProjectStats{ProjectID: id}
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN status = 'open' THEN 1 ELSE 0 END), 0)
         FROM chats WHERE project_id = ?`, id).
		Scan(&stats.ChatCount, &stats.OpenChatCount)
	if err != nil {
		return nil, fmt.Errorf("count chats: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
                COALESCE(SUM(CASE WHEN m.role = 'user' THEN 1 ELSE 0 END), 0),
                COALESCE(SUM(CASE WHEN m.role = 'assistant' THEN 1 ELSE 0 END), 0),
                COALESCE(SUM(CASE WHEN m.role = 'human' THEN 1 ELSE 0 END), 0)
         FROM messages m JOIN chats c ON c.id = m.chat_id
         WHERE c.project_id = ?`, id).
		Scan(&stats.MessageCount, &stats.UserMessages, &stats.AssistantMessages, &stats.HumanMessages)
	if err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}

	// An aggregate like MAX(last_seen_at) loses the column's declared type,
	// so the driver would hand back a string instead of a time.Time. Select
	// the newest row directly to keep the DATETIME decltype.
	var last time.Time
	err = s.db.QueryRowContext(ctx,
		`SELECT last_seen_at FROM chats WHERE project_id = ?
         ORDER BY last_seen_at DESC LIMIT 1`, id).Scan(&last)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("last activity: %w", err)
	default:
		stats.LastActivityAt = &last
	}
	return stats, nil
}

// =============================================================================
// Chats
// =============================================================================

const chatColumns = `id, project_id, thread_id, mode, status, visitor_id,
    created_at, updated_at, last_seen_at`

func scanChat(row interface{ Scan(...any) error }) (*datatypes.Chat, error) {
	var (
		c         datatypes.Chat
		visitorID sql.NullString
	)
	err := row.Scan(&c.ID, &c.ProjectID, &c.ThreadID, &c.Mode, &c.Status,
		&visitorID, &c.CreatedAt, &c.UpdatedAt, &c.LastSeen)
	if err != nil {
		return nil, err
	}
	if visitorID.Valid {
		c.VisitorID = &visitorID.String
	}
	return &c, nil
}

func (s *SQLiteStore) CreateChat(ctx context.Context, params CreateChatParams) (*datatypes.Chat, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chats (id, project_id, thread_id, mode, status, visitor_id,
             created_at, updated_at, last_seen_at)
         VALUES (?, ?, ?, 'assistant', 'open', ?, ?, ?, ?)`,
		id, params.ProjectID, params.ThreadID, params.VisitorID, now, now, now)
	if err != nil {
		return nil, fmt.Errorf("insert chat: %w", err)
	}
	return s.GetChat(ctx, id)
}

func (s *SQLiteStore) GetChat(ctx context.Context, id string) (*datatypes.Chat, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+chatColumns+" FROM chats WHERE id = ?", id)
	c, err := scanChat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get chat: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) ListChats(ctx context.Context, filter ChatFilter) ([]datatypes.Chat, error) {
	where := []string{"project_id = ?"}
	args := []any{filter.ProjectID}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Mode != nil {
		where = append(where, "mode = ?")
		args = append(args, string(*filter.Mode))
	}
	query := "SELECT " + chatColumns + " FROM chats WHERE " + strings.Join(where, " AND ") +
		" ORDER BY updated_at DESC LIMIT 200"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query chats: %w", err)
	}
	defer rows.Close()

	items := []datatypes.Chat{}
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		items = append(items, *c)
	}
	return items, rows.Err()
}

func (s *SQLiteStore) SetChatMode(ctx context.Context, id string, mode datatypes.ChatMode) (*datatypes.Chat, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("invalid chat mode %q", mode)
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE chats SET mode = ?, updated_at = ? WHERE id = ?",
		string(mode), time.Now().UTC(), id)
	if err != nil {
		return nil, fmt.Errorf("set chat mode: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.GetChat(ctx, id)
}

func (s *SQLiteStore) TouchChat(ctx context.Context, id string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		"UPDATE chats SET updated_at = ?, last_seen_at = ? WHERE id = ?", now, now, id)
	if err != nil {
		return fmt.Errorf("touch chat: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteChat(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM chats WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) CloseInactiveChats(ctx context.Context, lastSeenBefore time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE chats SET status = 'closed', updated_at = ? WHERE status = 'open' AND last_seen_at < ?",
		time.Now().UTC(), lastSeenBefore.UTC())
	if err != nil {
		return 0, fmt.Errorf("close inactive chats: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}

// =============================================================================
// Messages
// =============================================================================

func (s *SQLiteStore) AddMessage(ctx context.Context, chatID string, role datatypes.Role, content string) (*datatypes.Message, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("invalid message role %q", role)
	}
	msg := &datatypes.Message{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO messages (id, chat_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)",
		msg.ID, msg.ChatID, string(msg.Role), msg.Content, msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, chatID string) ([]datatypes.Message, error) {
	// rowid breaks creation-time ties so retrieval is insertion-stable.
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, role, content, created_at FROM messages
         WHERE chat_id = ? ORDER BY created_at ASC, rowid ASC`, chatID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	items := []datatypes.Message{}
	for rows.Next() {
		var m datatypes.Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

func (s *SQLiteStore) CountMessages(ctx context.Context, chatID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM messages WHERE chat_id = ?", chatID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

// =============================================================================
// Users
// =============================================================================

func (s *SQLiteStore) CreateUser(ctx context.Context, email, passwordHash, role string) (*datatypes.User, error) {
	u := &datatypes.User{
		ID:           uuid.NewString(),
		Email:        strings.ToLower(email),
		PasswordHash: passwordHash,
		Role:         role,
		CreatedAt:    time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users (id, email, password_hash, role, created_at) VALUES (?, ?, ?, ?, ?)",
		u.ID, u.Email, u.PasswordHash, u.Role, u.CreatedAt)
	if isUniqueViolation(err) {
		return nil, ErrConflict
	}
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

func (s *SQLiteStore) ListUsers(ctx context.Context) ([]datatypes.User, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, email, password_hash, role, created_at FROM users ORDER BY created_at ASC")
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	items := []datatypes.User{}
	for rows.Next() {
		var u datatypes.User
		if err := rows.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, u)
	}
	return items, rows.Err()
}

func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*datatypes.User, error) {
	var u datatypes.User
	err := s.db.QueryRowContext(ctx,
		"SELECT id, email, password_hash, role, created_at FROM users WHERE email = ?",
		strings.ToLower(email)).
		Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

func (s *SQLiteStore) UpdateUserPassword(ctx context.Context, id, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET password_hash = ? WHERE id = ?", passwordHash, id)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteUser(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	// Projects the user owned stay behind, unowned.
	if _, err := tx.ExecContext(ctx, "UPDATE projects SET owner_id = NULL WHERE owner_id = ?", id); err != nil {
		return fmt.Errorf("clear project owners: %w", err)
	}
	return tx.Commit()
}

// =============================================================================
// Telegram link secrets
// =============================================================================

func (s *SQLiteStore) IssueLinkSecret(ctx context.Context, telegramChatID string, username *string) (string, error) {
	if telegramChatID == "" {
		return "", fmt.Errorf("telegram chat id required")
	}
	for attempt := 0; attempt < 5; attempt++ {
		raw := make([]byte, 5)
		if _, err := rand.Read(raw); err != nil {
			return "", fmt.Errorf("generate secret: %w", err)
		}
		secret := hex.EncodeToString(raw)

		_, err := s.db.ExecContext(ctx,
			"INSERT INTO telegram_link_tokens (secret, chat_id, username, created_at) VALUES (?, ?, ?, ?)",
			secret, telegramChatID, username, time.Now().UTC())
		if isUniqueViolation(err) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("insert link secret: %w", err)
		}
		return secret, nil
	}
	return "", fmt.Errorf("failed to generate a unique link secret")
}

func (s *SQLiteStore) ConsumeLinkSecret(ctx context.Context, secret string) (*LinkToken, error) {
	if secret == "" {
		return nil, ErrNotFound
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE telegram_link_tokens SET used_at = ? WHERE secret = ? AND used_at IS NULL",
		time.Now().UTC(), secret)
	if err != nil {
		return nil, fmt.Errorf("consume link secret: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}

	var (
		tok      LinkToken
		username sql.NullString
	)
	err = s.db.QueryRowContext(ctx,
		"SELECT secret, chat_id, username, created_at FROM telegram_link_tokens WHERE secret = ?",
		secret).Scan(&tok.Secret, &tok.TelegramChatID, &username, &tok.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("read link secret: %w", err)
	}
	if username.Valid {
		tok.Username = &username.String
	}
	return &tok, nil
}

func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code == sqlite3.ErrConstraint
	}
	return false
}
