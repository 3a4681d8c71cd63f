// Copyright (C) 2025 AI Widget Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/pbkdf2"

	"github.com/aiwidget/server/services/widgetd/middleware"
	"github.com/aiwidget/server/services/widgetd/store"
)

// =============================================================================
// Password Hashing
// =============================================================================

// Stored hashes have the form "salt:hash", both hex encoded.
const (
	pbkdf2Iterations = 10000
	pbkdf2KeyLength  = 64
	saltBytes        = 16
)

// HashPassword derives a salted PBKDF2-SHA512 hash for storage.
func HashPassword(password string) (string, error) {
	salt := make([]byte, saltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	saltHex := hex.EncodeToString(salt)
	key := pbkdf2.Key([]byte(password), []byte(saltHex), pbkdf2Iterations, pbkdf2KeyLength, sha512.New)
	return saltHex + ":" + hex.EncodeToString(key), nil
}

// VerifyPassword checks a password against a stored "salt:hash" value.
func VerifyPassword(password, stored string) bool {
	salt, want, ok := strings.Cut(stored, ":")
	if !ok || salt == "" || want == "" {
		return false
	}
	key := pbkdf2.Key([]byte(password), []byte(salt), pbkdf2Iterations, pbkdf2KeyLength, sha512.New)
	return subtle.ConstantTimeCompare([]byte(hex.EncodeToString(key)), []byte(want)) == 1
}

// =============================================================================
// Session Handlers
// =============================================================================

// AuthDeps configures the session handlers. The admin credential comes
// from the environment, not the store; regular operator accounts live in
// the users table.
type AuthDeps struct {
	Store         store.Store
	Authority     *middleware.TokenAuthority
	AdminLogin    string
	AdminPassword string

	// SecureCookies marks session cookies Secure; enabled in production.
	SecureCookies bool
}

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

func setSessionCookie(c *gin.Context, deps AuthDeps, token string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.SessionCookie, token, maxAge, "/", "", deps.SecureCookies, true)
}

// LoginHandler authenticates the environment admin credential or a stored
// user account and sets the session cookie.
func LoginHandler(deps AuthDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		_ = c.ShouldBindJSON(&req)
		login := strings.ToLower(strings.TrimSpace(req.Login))

		adminMatch := login != "" && login == strings.ToLower(deps.AdminLogin) &&
			subtle.ConstantTimeCompare([]byte(req.Password), []byte(deps.AdminPassword)) == 1
		if adminMatch {
			token, err := deps.Authority.Issue(middleware.Identity{Login: login, Role: middleware.RoleAdmin})
			if err != nil {
				slog.Error("Issuing admin session failed", "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
				return
			}
			setSessionCookie(c, deps, token, int(middleware.TokenTTL.Seconds()))
			c.JSON(http.StatusOK, gin.H{"ok": true, "role": middleware.RoleAdmin})
			return
		}

		user, err := deps.Store.GetUserByEmail(c.Request.Context(), login)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				slog.Error("Loading user failed", "login", login, "error", err)
			}
			c.JSON(http.StatusUnauthorized, gin.H{"error": "bad_credentials"})
			return
		}
		if !VerifyPassword(req.Password, user.PasswordHash) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "bad_credentials"})
			return
		}

		role := user.Role
		if role == "" {
			role = middleware.RoleUser
		}
		token, err := deps.Authority.Issue(middleware.Identity{Login: user.Email, Role: role, UserID: user.ID})
		if err != nil {
			slog.Error("Issuing user session failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			return
		}
		setSessionCookie(c, deps, token, int(middleware.TokenTTL.Seconds()))
		c.JSON(http.StatusOK, gin.H{
			"ok":   true,
			"role": role,
			"user": gin.H{"id": user.ID, "email": user.Email},
		})
	}
}

// LogoutHandler clears the session cookie.
func LogoutHandler(deps AuthDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		setSessionCookie(c, deps, "", -1)
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

// SessionHandler reports the current session's identity. Mounted behind
// RequireAuth.
func SessionHandler(deps AuthDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := middleware.GetIdentity(c)
		if id == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if id.Role == middleware.RoleAdmin {
			c.JSON(http.StatusOK, gin.H{"ok": true, "role": middleware.RoleAdmin})
			return
		}

		user, err := deps.Store.GetUserByEmail(c.Request.Context(), id.Login)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"ok":   true,
			"role": user.Role,
			"user": gin.H{"id": user.ID, "email": user.Email},
		})
	}
}
